// Package engagement defines engaged-user records, the store contract the
// tracker persists them through, and the in-memory engagement index.
package engagement

import (
	"context"
	"time"

	errs "igautomate/pkg/errors"
)

// AccountKey identifies an Instagram business account under a tenant
type AccountKey struct {
	TenantID  string `json:"tenant_id"`
	AccountID string `json:"account_id"`
}

func (a AccountKey) String() string {
	return a.TenantID + "/" + a.AccountID
}

// Validate reports a missing tenant or account id
func (a AccountKey) Validate() error {
	if a.TenantID == "" {
		return errs.Validation("account key", "tenant id is required")
	}
	if a.AccountID == "" {
		return errs.Validation("account key", "account id is required")
	}
	return nil
}

// Key identifies one end user engaged with one account
type Key struct {
	TenantID  string `json:"tenant_id"`
	AccountID string `json:"account_id"`
	UserID    string `json:"user_id"`
}

// Account returns the tenant/account part of k
func (k Key) Account() AccountKey {
	return AccountKey{TenantID: k.TenantID, AccountID: k.AccountID}
}

func (k Key) String() string {
	return k.TenantID + "/" + k.AccountID + "/" + k.UserID
}

// Validate reports a missing component of the triple
func (k Key) Validate() error {
	if err := k.Account().Validate(); err != nil {
		return err
	}
	if k.UserID == "" {
		return errs.Validation("engagement key", "user id is required")
	}
	return nil
}

// Record is a persisted engaged user
type Record struct {
	Key
	LastActivity time.Time `json:"last_activity"`
	Count        int64     `json:"count"`
}

// Upsert is one row of a batched upsert-with-increment
type Upsert struct {
	Key
	LastActivity time.Time
	IncrementBy  int64
}

// Store persists engaged-user records. Upserts create the record when it
// is absent, add IncrementBy to its counter and keep the later of the
// stored and written last activity.
type Store interface {
	UpsertEngagement(ctx context.Context, key Key, lastActivity time.Time, incrementBy int64) error
	FindRecentEngagements(ctx context.Context, since time.Time) ([]Record, error)
	BulkUpsertEngagements(ctx context.Context, upserts []Upsert) error
	Close() error
}
