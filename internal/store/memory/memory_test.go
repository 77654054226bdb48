package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"igautomate/pkg/engagement"
	errs "igautomate/pkg/errors"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func key(user string) engagement.Key {
	return engagement.Key{TenantID: "t1", AccountID: "a1", UserID: user}
}

func TestUpsertCreatesThenIncrements(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.UpsertEngagement(ctx, key("u1"), t0, 1))
	require.NoError(t, s.UpsertEngagement(ctx, key("u1"), t0.Add(time.Minute), 1))

	rec, ok := s.Get(key("u1"))
	require.True(t, ok)
	assert.Equal(t, int64(2), rec.Count)
	assert.Equal(t, t0.Add(time.Minute), rec.LastActivity)
}

func TestUpsertKeepsLatestActivity(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.UpsertEngagement(ctx, key("u1"), t0.Add(time.Hour), 1))
	require.NoError(t, s.BulkUpsertEngagements(ctx, []engagement.Upsert{
		{Key: key("u1"), LastActivity: t0, IncrementBy: 0},
	}))

	rec, _ := s.Get(key("u1"))
	assert.Equal(t, t0.Add(time.Hour), rec.LastActivity)
	assert.Equal(t, int64(1), rec.Count)
}

func TestFindRecent(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.BulkUpsertEngagements(ctx, []engagement.Upsert{
		{Key: key("old"), LastActivity: t0.Add(-25 * time.Hour), IncrementBy: 1},
		{Key: key("edge"), LastActivity: t0.Add(-24 * time.Hour), IncrementBy: 1},
		{Key: key("new"), LastActivity: t0, IncrementBy: 1},
	}))

	recs, err := s.FindRecentEngagements(ctx, t0.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "edge", recs[0].UserID)
	assert.Equal(t, "new", recs[1].UserID)
}

func TestBulkRejectsInvalidAtomically(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.BulkUpsertEngagements(ctx, []engagement.Upsert{
		{Key: key("u1"), LastActivity: t0, IncrementBy: 1},
		{Key: engagement.Key{TenantID: "t1"}, LastActivity: t0, IncrementBy: 1},
	})
	assert.True(t, errs.Is(err, errs.ErrorTypeValidation))
	_, ok := s.Get(key("u1"))
	assert.False(t, ok)
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Close())

	err := s.UpsertEngagement(ctx, key("u1"), t0, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, errs.Is(err, errs.ErrorTypeStore))

	_, err = s.FindRecentEngagements(ctx, t0)
	assert.ErrorIs(t, err, ErrClosed)
}
