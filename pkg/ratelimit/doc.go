// Package ratelimit decides whether an outbound Instagram call may be made
// now.
//
// Every call type (Conversations, Send text, Send media, Private Replies
// live and post) has a fixed quota over its own sliding window, keyed by
// tenant and business account. On top of that sits a platform-wide
// hourly window whose limit is recomputed on every check:
//
//	limit = calls_per_user_per_hour * max(1, users engaged in the last 24h)
//
// A call is admitted only when both the per-API and the platform window
// have room, and only then is it recorded in both. Calls with an end user
// mark that user engaged, which may raise the account's platform limit
// for the next call.
//
// The Tracker keeps all of this in memory. Engagements are written to an
// engagement.Store on a per-user debounce timer and by a periodic bulk
// sync; neither is on the admission path. Start hydrates the index from
// the store, Close performs a final sync.
//
//	tracker, err := ratelimit.New(cfg, store, ratelimit.WithLogger(log))
//	if err := tracker.Start(ctx); err != nil { ... }
//	defer tracker.Close(ctx)
//
//	if tracker.CanMakeSendAPITextCall(tenantID, accountID, recipientID) {
//	    // send
//	}
package ratelimit
