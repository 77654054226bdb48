package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igautomate/pkg/engagement"
	errs "igautomate/pkg/errors"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func key(user string) engagement.Key {
	return engagement.Key{TenantID: "t1", AccountID: "a1", UserID: user}
}

func setupMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	s := New(db)
	t.Cleanup(func() {
		mock.ExpectClose()
		assert.NoError(t, s.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return s, mock
}

func TestMigrate(t *testing.T) {
	s, mock := setupMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS engaged_users").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
}

func TestUpsertEngagement(t *testing.T) {
	s, mock := setupMock(t)

	mock.ExpectExec(`INSERT INTO engaged_users .* ON CONFLICT \(tenant_id, account_id, user_id\) DO UPDATE`).
		WithArgs(sqlmock.AnyArg(), "t1", "a1", "u1", t0, int64(1)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.UpsertEngagement(context.Background(), key("u1"), t0, 1))
}

func TestUpsertEngagementRejectsInvalidKey(t *testing.T) {
	s, _ := setupMock(t)

	err := s.UpsertEngagement(context.Background(), engagement.Key{TenantID: "t1"}, t0, 1)
	assert.True(t, errs.Is(err, errs.ErrorTypeValidation))
}

func TestUpsertEngagementWrapsDriverError(t *testing.T) {
	s, mock := setupMock(t)

	mock.ExpectExec("INSERT INTO engaged_users").
		WillReturnError(errors.New("connection reset"))

	err := s.UpsertEngagement(context.Background(), key("u1"), t0, 1)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeStore))
}

func TestBulkUpsertEngagements(t *testing.T) {
	s, mock := setupMock(t)

	mock.ExpectExec(`INSERT INTO engaged_users .* FROM UNNEST`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := s.BulkUpsertEngagements(context.Background(), []engagement.Upsert{
		{Key: key("u1"), LastActivity: t0, IncrementBy: 1},
		{Key: key("u2"), LastActivity: t0, IncrementBy: 0},
	})
	require.NoError(t, err)
}

func TestBulkUpsertEmptyIsNoop(t *testing.T) {
	s, _ := setupMock(t)
	require.NoError(t, s.BulkUpsertEngagements(context.Background(), nil))
}

func TestFold(t *testing.T) {
	rows := fold([]engagement.Upsert{
		{Key: key("u1"), LastActivity: t0, IncrementBy: 1},
		{Key: key("u2"), LastActivity: t0, IncrementBy: 1},
		{Key: key("u1"), LastActivity: t0.Add(time.Minute), IncrementBy: 2},
		{Key: key("u1"), LastActivity: t0.Add(-time.Minute), IncrementBy: 0},
	})

	require.Len(t, rows, 2)
	assert.Equal(t, "u1", rows[0].UserID)
	assert.Equal(t, t0.Add(time.Minute), rows[0].LastActivity)
	assert.Equal(t, int64(3), rows[0].IncrementBy)
	assert.Equal(t, "u2", rows[1].UserID)
}

func TestFindRecentEngagements(t *testing.T) {
	s, mock := setupMock(t)
	since := t0.Add(-24 * time.Hour)

	rows := sqlmock.NewRows([]string{"tenant_id", "account_id", "user_id", "last_activity", "engagement_count"}).
		AddRow("t1", "a1", "u1", t0, int64(3)).
		AddRow("t1", "a2", "u9", t0.Add(-time.Hour), int64(1))
	mock.ExpectQuery("SELECT (.+) FROM engaged_users WHERE last_activity >= ").
		WithArgs(since).
		WillReturnRows(rows)

	recs, err := s.FindRecentEngagements(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, key("u1"), recs[0].Key)
	assert.Equal(t, int64(3), recs[0].Count)
	assert.Equal(t, "a2", recs[1].AccountID)
	assert.Equal(t, t0.Add(-time.Hour), recs[1].LastActivity)
}

func TestFindRecentEngagementsQueryError(t *testing.T) {
	s, mock := setupMock(t)

	mock.ExpectQuery("SELECT").WillReturnError(context.DeadlineExceeded)

	_, err := s.FindRecentEngagements(context.Background(), t0)
	assert.True(t, errs.Is(err, errs.ErrorTypeTimeout))
}
