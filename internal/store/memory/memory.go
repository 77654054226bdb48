// Package memory is an in-process engagement store for development and
// single-instance deployments. Its contents do not survive a restart.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"igautomate/pkg/engagement"
	errs "igautomate/pkg/errors"
)

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("memory store closed")

type Store struct {
	mu      sync.RWMutex
	records map[engagement.Key]engagement.Record
	closed  bool
}

var _ engagement.Store = (*Store)(nil)

func New() *Store {
	return &Store{records: make(map[engagement.Key]engagement.Record)}
}

func (s *Store) UpsertEngagement(ctx context.Context, key engagement.Key, lastActivity time.Time, incrementBy int64) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errs.Store("upsert engagement", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.Store("upsert engagement", ErrClosed)
	}
	s.upsertLocked(key, lastActivity, incrementBy)
	return nil
}

func (s *Store) BulkUpsertEngagements(ctx context.Context, upserts []engagement.Upsert) error {
	for _, u := range upserts {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return errs.Store("bulk upsert engagements", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.Store("bulk upsert engagements", ErrClosed)
	}
	for _, u := range upserts {
		s.upsertLocked(u.Key, u.LastActivity, u.IncrementBy)
	}
	return nil
}

func (s *Store) upsertLocked(key engagement.Key, lastActivity time.Time, incrementBy int64) {
	rec, ok := s.records[key]
	if !ok {
		rec = engagement.Record{Key: key}
	}
	if lastActivity.After(rec.LastActivity) {
		rec.LastActivity = lastActivity
	}
	rec.Count += incrementBy
	s.records[key] = rec
}

func (s *Store) FindRecentEngagements(ctx context.Context, since time.Time) ([]engagement.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Store("find recent engagements", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.Store("find recent engagements", ErrClosed)
	}

	var out []engagement.Record
	for _, rec := range s.records {
		if !rec.LastActivity.Before(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

// Get returns the stored record for key
func (s *Store) Get(key engagement.Key) (engagement.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
