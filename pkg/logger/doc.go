// Package logger provides the structured logging interface used across
// igautomate.
//
// It wraps zerolog. Output is JSON by default, or a colored console
// format for local runs, optionally teed to a file.
//
//	log, err := logger.New(&cfg.Logging)
//	log = logger.Component(log, "tracker")
//	log.WithFields(map[string]interface{}{
//	    "tenant_id":  "t1",
//	    "account_id": "a1",
//	}).Warn("engagement not recorded")
//
// Tests use NewTestLogger to capture messages, or NewNopLogger to
// discard them.
package logger
