package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"
	"igautomate/pkg/engagement"
	"igautomate/pkg/logger"
	"igautomate/pkg/retry"
)

// CleanupResult reports what a cleanup pass removed
type CleanupResult struct {
	UsersPruned int
	KeysDropped int
}

// Start hydrates the engagement index, restores a leftover snapshot and
// starts the cleanup, stats and sync tickers. Hydration failure is logged
// and the tracker starts with an empty index.
func (t *Tracker) Start(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.closed {
		return errors.New("tracker is closed")
	}
	if t.started {
		return errors.New("tracker already started")
	}

	n, err := t.Hydrate(ctx)
	if err != nil {
		t.log.WithError(err).Error("Hydration failed, starting with an empty engagement index")
	} else {
		t.log.InfoWithFields("Engagement index hydrated", map[string]interface{}{
			"records": n,
			"window":  t.engageCfg.Window,
		})
	}
	t.restoreSnapshot()

	tickCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.waiters = []quartz.Waiter{
		t.clock.TickerFunc(tickCtx, t.maintainCfg.CleanupInterval, func() error {
			t.Cleanup()
			return nil
		}, "tracker", "cleanup"),
		t.clock.TickerFunc(tickCtx, t.maintainCfg.StatsInterval, func() error {
			t.LogStats()
			return nil
		}, "tracker", "stats"),
		t.clock.TickerFunc(tickCtx, t.maintainCfg.SyncInterval, func() error {
			if err := t.SyncAll(tickCtx); err != nil {
				t.log.WithError(err).Warn("Periodic sync incomplete")
			}
			return nil
		}, "tracker", "sync"),
	}
	t.started = true

	logger.LogComponentStart(t.log, "tracker", map[string]interface{}{
		"cleanup_interval": t.maintainCfg.CleanupInterval,
		"stats_interval":   t.maintainCfg.StatsInterval,
		"sync_interval":    t.maintainCfg.SyncInterval,
		"debounce_delay":   t.engageCfg.DebounceDelay,
	})
	return nil
}

// Close stops the tickers, syncs the whole index (taking over pending
// debounced writes) and stops the debouncer. If the final sync fails and
// a snapshot path is configured, the index is written there instead.
func (t *Tracker) Close(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.cancel != nil {
		t.cancel()
		for _, w := range t.waiters {
			_ = w.Wait()
		}
	}

	err := t.SyncAll(ctx)
	t.pending.Stop()
	t.metrics.PendingWrites(0)

	if err != nil && t.snapshots != nil {
		t.mu.Lock()
		records := t.index.All()
		t.mu.Unlock()

		if serr := t.snapshots.Save(records, t.clock.Now()); serr != nil {
			err = errors.Join(err, serr)
		} else {
			t.log.WithError(err).WarnWithFields("Final sync failed, engagement index kept in snapshot", map[string]interface{}{
				"path":    t.snapshots.Path(),
				"records": len(records),
			})
		}
	}

	reason := "shutdown"
	if err != nil {
		reason = "shutdown with unsynced engagements"
	}
	logger.LogComponentStop(t.log, "tracker", reason)
	return err
}

// Hydrate loads engagements inside the window from the store and merges
// them into the index, retrying transient store failures.
func (t *Tracker) Hydrate(ctx context.Context) (int, error) {
	since := t.clock.Now().Add(-t.engageCfg.Window)

	records, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]engagement.Record, error) {
		return t.store.FindRecentEngagements(ctx, since)
	}, &retry.Config{
		Name:        "hydrate",
		MaxAttempts: max(t.maintainCfg.HydrateAttempts, 1),
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    t.maintainCfg.RetryBackoff,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			JitterFactor: 0.1,
		},
		Clock:  t.clock,
		Logger: t.log,
	})
	if err != nil {
		t.metrics.StoreError("find_recent")
		return 0, err
	}

	t.mu.Lock()
	n := t.index.Merge(records)
	t.mu.Unlock()
	return n, nil
}

func (t *Tracker) restoreSnapshot() {
	if t.snapshots == nil {
		return
	}

	records, err := t.snapshots.Load()
	if err != nil {
		t.log.WithError(err).Warn("Ignoring unreadable engagement snapshot")
		return
	}
	if len(records) > 0 {
		t.mu.Lock()
		merged := t.index.Merge(records)
		t.mu.Unlock()
		t.log.InfoWithFields("Engagement snapshot restored", map[string]interface{}{
			"records": len(records),
			"merged":  merged,
		})
	}
	if err := t.snapshots.Delete(); err != nil {
		t.log.WithError(err).Warn("Could not delete restored snapshot")
	}
}

// Cleanup prunes users outside the engagement window and call histories
// outside their windows, dropping keys left empty
func (t *Tracker) Cleanup() CleanupResult {
	now := t.clock.Now()
	var res CleanupResult

	t.mu.Lock()
	res.UsersPruned = t.index.Prune(now.Add(-t.engageCfg.Window))
	for _, w := range t.windows {
		res.KeysDropped += w.Cleanup(now)
	}
	res.KeysDropped += t.platform.Cleanup(now)
	t.mu.Unlock()

	if res.UsersPruned > 0 || res.KeysDropped > 0 {
		t.log.DebugWithFields("Cleanup pass", map[string]interface{}{
			"users_pruned": res.UsersPruned,
			"keys_dropped": res.KeysDropped,
		})
	}
	return res
}

// SyncAll writes the whole index to the store. It sends one batch per
// account rather than a single batch for everything, so that a store
// error for one tenant's account cannot abort the writes of the others.
// Users with a pending debounced write are taken over and carry an
// increment of one; the rest only refresh last activity. A failed
// account's taken-over increments are rescheduled.
func (t *Tracker) SyncAll(ctx context.Context) error {
	t.mu.Lock()
	accounts := t.index.Accounts()
	batches := make(map[engagement.AccountKey][]engagement.Upsert, len(accounts))
	for _, acct := range accounts {
		records := t.index.Records(acct)
		upserts := make([]engagement.Upsert, 0, len(records))
		for _, r := range records {
			var inc int64
			if t.pending.Take(r.Key) {
				inc = 1
			}
			upserts = append(upserts, engagement.Upsert{Key: r.Key, LastActivity: r.LastActivity, IncrementBy: inc})
		}
		batches[acct] = upserts
	}
	t.mu.Unlock()
	t.metrics.PendingWrites(t.pending.Pending())

	if len(accounts) == 0 {
		return nil
	}

	var (
		failMu   sync.Mutex
		failures []error
		written  int
	)
	g := new(errgroup.Group)
	g.SetLimit(max(t.maintainCfg.SyncConcurrency, 1))
	for _, acct := range accounts {
		upserts := batches[acct]
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(ctx, t.writeTimeout)
			defer cancel()

			if err := t.store.BulkUpsertEngagements(wctx, upserts); err != nil {
				t.metrics.StoreError("bulk_upsert")
				t.log.WithError(err).ErrorWithFields("Bulk sync failed for account", map[string]interface{}{
					"tenant_id":  acct.TenantID,
					"account_id": acct.AccountID,
					"records":    len(upserts),
				})
				t.requeue(upserts)

				failMu.Lock()
				failures = append(failures, fmt.Errorf("sync %s: %w", acct, err))
				failMu.Unlock()
				return nil
			}

			t.metrics.StoreWrites("bulk_upsert", len(upserts))
			failMu.Lock()
			written += len(upserts)
			failMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	t.log.InfoWithFields("Bulk sync completed", map[string]interface{}{
		"accounts":        len(accounts),
		"records_written": written,
		"accounts_failed": len(failures),
	})
	return errors.Join(failures...)
}

func (t *Tracker) requeue(upserts []engagement.Upsert) {
	for _, u := range upserts {
		if u.IncrementBy > 0 {
			t.pending.Trigger(u.Key)
		}
	}
	t.metrics.PendingWrites(t.pending.Pending())
}
