// Package instagram sends direct messages and private replies through the
// Instagram Graph API.
//
// Every call asks a Gate for admission before anything goes on the wire.
// In a running service the Gate is the shared *ratelimit.Tracker, so the
// per-API windows, the platform-wide window and the engagement index all
// see the call. A refused call comes back as an *Error with Type
// ErrorTypeRateLimit and Admitted false.
//
// Example usage:
//
//	client := instagram.NewClient(tracker, instagram.SecretTokens(secretsManager))
//
//	acct := instagram.Account{TenantID: "acme", AccountID: "17841400000000000"}
//	if _, err := client.SendText(ctx, acct, "9876543210", "thanks for reaching out"); err != nil {
//		var igErr *instagram.Error
//		if errors.As(err, &igErr) && igErr.Type == instagram.ErrorTypeRateLimit && !igErr.Admitted {
//			// try again later
//		}
//	}
package instagram
