// Package postgres stores engaged users in a PostgreSQL table keyed by
// (tenant_id, account_id, user_id).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"igautomate/pkg/engagement"
	errs "igautomate/pkg/errors"
)

const migration = `
CREATE TABLE IF NOT EXISTS engaged_users (
	id               UUID PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	account_id       TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	last_activity    TIMESTAMPTZ NOT NULL,
	engagement_count BIGINT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (tenant_id, account_id, user_id)
);
CREATE INDEX IF NOT EXISTS engaged_users_last_activity_idx ON engaged_users (last_activity);
`

const onConflict = `
ON CONFLICT (tenant_id, account_id, user_id) DO UPDATE SET
	last_activity    = GREATEST(engaged_users.last_activity, EXCLUDED.last_activity),
	engagement_count = engaged_users.engagement_count + EXCLUDED.engagement_count,
	updated_at       = NOW()`

const upsertSQL = `
INSERT INTO engaged_users (id, tenant_id, account_id, user_id, last_activity, engagement_count)
VALUES ($1, $2, $3, $4, $5, $6)` + onConflict

// last_activity travels as epoch milliseconds so the array parameter stays
// a plain bigint[]
const bulkUpsertSQL = `
INSERT INTO engaged_users (id, tenant_id, account_id, user_id, last_activity, engagement_count)
SELECT id, tenant_id, account_id, user_id, to_timestamp(activity_ms / 1000.0), increment_by
FROM UNNEST($1::uuid[], $2::text[], $3::text[], $4::text[], $5::bigint[], $6::bigint[])
	AS data(id, tenant_id, account_id, user_id, activity_ms, increment_by)` + onConflict

const findRecentSQL = `
SELECT tenant_id, account_id, user_id, last_activity, engagement_count
FROM engaged_users
WHERE last_activity >= $1
ORDER BY tenant_id, account_id, user_id`

// Options tune the connection pool opened by Open
type Options struct {
	ConnectTimeout time.Duration
	MaxOpenConns   int
}

type Store struct {
	db *sql.DB
}

var _ engagement.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeConfig, "open postgres", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns)
	}

	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.Store("ping postgres", err)
	}
	return New(db), nil
}

// New wraps an existing handle. The store owns db and closes it.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the engaged_users table and its index if missing
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return errs.Store("migrate", err)
	}
	return nil
}

func (s *Store) UpsertEngagement(ctx context.Context, key engagement.Key, lastActivity time.Time, incrementBy int64) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, upsertSQL,
		uuid.NewString(), key.TenantID, key.AccountID, key.UserID, lastActivity.UTC(), incrementBy)
	return errs.Store("upsert engagement", err)
}

// BulkUpsertEngagements writes all rows in one statement. Rows sharing a
// key are folded first since ON CONFLICT cannot touch a row twice.
func (s *Store) BulkUpsertEngagements(ctx context.Context, upserts []engagement.Upsert) error {
	for _, u := range upserts {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	rows := fold(upserts)
	if len(rows) == 0 {
		return nil
	}

	var (
		ids        = make([]string, len(rows))
		tenants    = make([]string, len(rows))
		accounts   = make([]string, len(rows))
		users      = make([]string, len(rows))
		activity   = make([]int64, len(rows))
		increments = make([]int64, len(rows))
	)
	for i, u := range rows {
		ids[i] = uuid.NewString()
		tenants[i] = u.TenantID
		accounts[i] = u.AccountID
		users[i] = u.UserID
		activity[i] = u.LastActivity.UnixMilli()
		increments[i] = u.IncrementBy
	}

	_, err := s.db.ExecContext(ctx, bulkUpsertSQL,
		pq.Array(ids), pq.Array(tenants), pq.Array(accounts), pq.Array(users),
		pq.Int64Array(activity), pq.Int64Array(increments))
	return errs.Store("bulk upsert engagements", err)
}

func (s *Store) FindRecentEngagements(ctx context.Context, since time.Time) ([]engagement.Record, error) {
	rows, err := s.db.QueryContext(ctx, findRecentSQL, since.UTC())
	if err != nil {
		return nil, errs.Store("find recent engagements", err)
	}
	defer rows.Close()

	var out []engagement.Record
	for rows.Next() {
		var rec engagement.Record
		if err := rows.Scan(&rec.TenantID, &rec.AccountID, &rec.UserID, &rec.LastActivity, &rec.Count); err != nil {
			return nil, errs.Store("find recent engagements", fmt.Errorf("scan: %w", err))
		}
		rec.LastActivity = rec.LastActivity.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Store("find recent engagements", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// fold merges rows with the same key, keeping the later activity and
// summing increments. Order of first appearance is kept.
func fold(upserts []engagement.Upsert) []engagement.Upsert {
	pos := make(map[engagement.Key]int, len(upserts))
	out := make([]engagement.Upsert, 0, len(upserts))
	for _, u := range upserts {
		i, ok := pos[u.Key]
		if !ok {
			pos[u.Key] = len(out)
			out = append(out, u)
			continue
		}
		if u.LastActivity.After(out[i].LastActivity) {
			out[i].LastActivity = u.LastActivity
		}
		out[i].IncrementBy += u.IncrementBy
	}
	return out
}
