package engagement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "igautomate/pkg/errors"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func key(user string) Key {
	return Key{TenantID: "t1", AccountID: "a1", UserID: user}
}

func TestKeyValidate(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		ok   bool
	}{
		{"complete", key("u1"), true},
		{"missing tenant", Key{AccountID: "a1", UserID: "u1"}, false},
		{"missing account", Key{TenantID: "t1", UserID: "u1"}, false},
		{"missing user", Key{TenantID: "t1", AccountID: "a1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errs.Is(err, errs.ErrorTypeValidation))
		})
	}
}

func TestTouchOverwrites(t *testing.T) {
	ix := NewIndex()
	ix.Touch(key("u1"), t0.Add(time.Minute))
	ix.Touch(key("u1"), t0)

	at, ok := ix.LastActivity(key("u1"))
	require.True(t, ok)
	assert.Equal(t, t0, at, "last write wins even when older")
	assert.Equal(t, 1, ix.Len())
}

func TestActiveCountBoundary(t *testing.T) {
	ix := NewIndex()
	acct := AccountKey{TenantID: "t1", AccountID: "a1"}
	ix.Touch(key("old"), t0.Add(-time.Second))
	ix.Touch(key("edge"), t0)
	ix.Touch(key("new"), t0.Add(time.Hour))

	assert.Equal(t, 2, ix.ActiveCount(acct, t0))
	assert.Equal(t, 0, ix.ActiveCount(AccountKey{TenantID: "t1", AccountID: "other"}, t0))
}

func TestPruneDropsEmptyAccounts(t *testing.T) {
	ix := NewIndex()
	ix.Touch(key("u1"), t0)
	ix.Touch(Key{TenantID: "t2", AccountID: "a2", UserID: "u2"}, t0.Add(2*time.Hour))

	removed := ix.Prune(t0.Add(time.Hour))
	assert.Equal(t, 1, removed)
	assert.Equal(t, []AccountKey{{TenantID: "t2", AccountID: "a2"}}, ix.Accounts())

	assert.Zero(t, ix.Prune(t0.Add(time.Hour)), "second prune is a no-op")
}

func TestMergeKeepsLatest(t *testing.T) {
	ix := NewIndex()
	ix.Touch(key("u1"), t0.Add(time.Hour))

	merged := ix.Merge([]Record{
		{Key: key("u1"), LastActivity: t0},
		{Key: key("u2"), LastActivity: t0},
		{Key: Key{TenantID: "t1"}, LastActivity: t0},
	})

	assert.Equal(t, 1, merged)
	at, _ := ix.LastActivity(key("u1"))
	assert.Equal(t, t0.Add(time.Hour), at)
	assert.Len(t, ix.All(), 2)
}
