// Package redis stores engaged users in Redis. Each tenant/account owns a
// sorted set of user ids scored by last activity in epoch milliseconds and
// a hash of engagement counters. A set indexes the known accounts.
package redis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"igautomate/pkg/engagement"
	errs "igautomate/pkg/errors"
)

// KEYS: activity zset, count hash, accounts set
// ARGV: user id, activity ms, increment, account member
const upsertLua = `
local cur = redis.call("ZSCORE", KEYS[1], ARGV[1])
if not cur or tonumber(cur) < tonumber(ARGV[2]) then
	redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
end
redis.call("HINCRBY", KEYS[2], ARGV[1], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[4])
return 1
`

var upsertScript = redis.NewScript(upsertLua)

type Store struct {
	client *redis.Client
	prefix string
}

var _ engagement.Store = (*Store)(nil)

// Open parses a redis:// URL, connects and pings the server
func Open(ctx context.Context, rawURL, prefix string, connectTimeout time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeConfig, "parse redis url", err)
	}
	if connectTimeout > 0 {
		opts.DialTimeout = connectTimeout
	}
	client := redis.NewClient(opts)

	if connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errs.Store("ping redis", err)
	}
	return New(client, prefix), nil
}

// New wraps client. The store owns it and closes it.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "igautomate"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) activityKey(a engagement.AccountKey) string {
	return s.prefix + ":activity:" + accountMember(a)
}

func (s *Store) countKey(a engagement.AccountKey) string {
	return s.prefix + ":count:" + accountMember(a)
}

func (s *Store) accountsKey() string {
	return s.prefix + ":accounts"
}

// accountMember escapes both ids so the separator cannot be forged
func accountMember(a engagement.AccountKey) string {
	return url.PathEscape(a.TenantID) + "/" + url.PathEscape(a.AccountID)
}

func parseAccountMember(m string) (engagement.AccountKey, error) {
	tenant, account, ok := strings.Cut(m, "/")
	if !ok {
		return engagement.AccountKey{}, fmt.Errorf("malformed account member %q", m)
	}
	t, err := url.PathUnescape(tenant)
	if err != nil {
		return engagement.AccountKey{}, err
	}
	acc, err := url.PathUnescape(account)
	if err != nil {
		return engagement.AccountKey{}, err
	}
	return engagement.AccountKey{TenantID: t, AccountID: acc}, nil
}

func (s *Store) scriptArgs(key engagement.Key, lastActivity time.Time, incrementBy int64) ([]string, []interface{}) {
	acct := key.Account()
	keys := []string{s.activityKey(acct), s.countKey(acct), s.accountsKey()}
	args := []interface{}{key.UserID, lastActivity.UnixMilli(), incrementBy, accountMember(acct)}
	return keys, args
}

func (s *Store) UpsertEngagement(ctx context.Context, key engagement.Key, lastActivity time.Time, incrementBy int64) error {
	if err := key.Validate(); err != nil {
		return err
	}
	keys, args := s.scriptArgs(key, lastActivity, incrementBy)
	return errs.Store("upsert engagement", upsertScript.Run(ctx, s.client, keys, args...).Err())
}

// BulkUpsertEngagements applies every row inside one MULTI/EXEC
func (s *Store) BulkUpsertEngagements(ctx context.Context, upserts []engagement.Upsert) error {
	for _, u := range upserts {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	if len(upserts) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range upserts {
			keys, args := s.scriptArgs(u.Key, u.LastActivity, u.IncrementBy)
			pipe.Eval(ctx, upsertLua, keys, args...)
		}
		return nil
	})
	return errs.Store("bulk upsert engagements", err)
}

func (s *Store) FindRecentEngagements(ctx context.Context, since time.Time) ([]engagement.Record, error) {
	const op = "find recent engagements"

	members, err := s.client.SMembers(ctx, s.accountsKey()).Result()
	if err != nil {
		return nil, errs.Store(op, err)
	}

	accounts := make([]engagement.AccountKey, 0, len(members))
	for _, m := range members {
		a, err := parseAccountMember(m)
		if err != nil {
			return nil, errs.Store(op, err)
		}
		accounts = append(accounts, a)
	}

	minScore := strconv.FormatInt(since.UnixMilli(), 10)
	pipe := s.client.Pipeline()
	ranges := make([]*redis.ZSliceCmd, len(accounts))
	for i, a := range accounts {
		ranges[i] = pipe.ZRangeByScoreWithScores(ctx, s.activityKey(a), &redis.ZRangeBy{Min: minScore, Max: "+inf"})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errs.Store(op, err)
	}

	var out []engagement.Record
	for i, a := range accounts {
		zs := ranges[i].Val()
		if len(zs) == 0 {
			continue
		}

		users := make([]string, len(zs))
		for j, z := range zs {
			users[j] = z.Member.(string)
		}
		counts, err := s.client.HMGet(ctx, s.countKey(a), users...).Result()
		if err != nil {
			return nil, errs.Store(op, err)
		}

		for j, z := range zs {
			rec := engagement.Record{
				Key:          engagement.Key{TenantID: a.TenantID, AccountID: a.AccountID, UserID: users[j]},
				LastActivity: time.UnixMilli(int64(z.Score)).UTC(),
			}
			if c, ok := counts[j].(string); ok {
				rec.Count, _ = strconv.ParseInt(c, 10, 64)
			}
			out = append(out, rec)
		}
	}

	sortRecords(out)
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
