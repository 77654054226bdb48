package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"igautomate/pkg/config"
	"igautomate/pkg/debounce"
	"igautomate/pkg/engagement"
	"igautomate/pkg/logger"
	"igautomate/pkg/metrics"
	"igautomate/pkg/snapshot"
)

// Reasons reported in a Decision when a call is not admitted
const (
	ReasonInvalid       = "invalid_request"
	ReasonAPILimit      = "api_limit"
	ReasonPlatformLimit = "platform_limit"
)

// Decision is the outcome of an admission check
type Decision struct {
	Allowed       bool    `json:"allowed"`
	API           APIType `json:"api"`
	Reason        string  `json:"reason,omitempty"`
	PlatformLimit int     `json:"platform_limit"`
}

// Tracker owns the per-API call windows, the platform-wide window and the
// engagement index. Admission checks are in-memory only and never wait on
// the store; persistence happens on debounce timers and periodic syncs.
type Tracker struct {
	rateCfg      config.RateLimitConfig
	engageCfg    config.EngagementConfig
	maintainCfg  config.MaintenanceConfig
	writeTimeout time.Duration

	store     engagement.Store
	clock     quartz.Clock
	log       logger.Logger
	metrics   *metrics.Metrics
	snapshots *snapshot.Manager

	mu       sync.Mutex
	quotas   map[APIType]config.Quota
	windows  map[APIType]*SlidingWindow
	platform *SlidingWindow
	index    *engagement.Index

	pending  *debounce.Keyed[engagement.Key]
	reported map[engagement.AccountKey]struct{}

	lifecycle sync.Mutex
	started   bool
	closed    bool
	cancel    context.CancelFunc
	waiters   []quartz.Waiter
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces the real clock, for tests
func WithClock(clock quartz.Clock) Option {
	return func(t *Tracker) { t.clock = clock }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// WithMetrics records admissions and store activity
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// New builds a tracker over store. Start must be called to hydrate and to
// run the maintenance tasks.
func New(cfg *config.Config, store engagement.Store, opts ...Option) (*Tracker, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if store == nil {
		return nil, errors.New("engagement store is required")
	}

	t := &Tracker{
		rateCfg:      cfg.RateLimit,
		engageCfg:    cfg.Engagement,
		maintainCfg:  cfg.Maintenance,
		writeTimeout: cfg.Store.WriteTimeout,
		store:        store,
		clock:        quartz.NewReal(),
		log:          logger.GetLogger(),
		quotas:       quotasFrom(cfg.RateLimit),
		windows:      make(map[APIType]*SlidingWindow),
		platform:     NewSlidingWindow(cfg.RateLimit.PlatformWindow),
		index:        engagement.NewIndex(),
		reported:     make(map[engagement.AccountKey]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = logger.Component(t.log, "tracker")

	if t.writeTimeout <= 0 {
		t.writeTimeout = 10 * time.Second
	}
	for api, q := range t.quotas {
		if q.Limit <= 0 || q.Window <= 0 {
			return nil, fmt.Errorf("invalid quota for %s: %d per %s", api, q.Limit, q.Window)
		}
		t.windows[api] = NewSlidingWindow(q.Window)
	}
	if t.rateCfg.CallsPerUserPerHour <= 0 || t.rateCfg.PlatformWindow <= 0 {
		return nil, errors.New("platform limit requires positive calls per user and window")
	}
	if t.engageCfg.Window <= 0 || t.engageCfg.DebounceDelay <= 0 {
		return nil, errors.New("engagement window and debounce delay must be positive")
	}
	if t.maintainCfg.CleanupInterval <= 0 || t.maintainCfg.StatsInterval <= 0 || t.maintainCfg.SyncInterval <= 0 {
		return nil, errors.New("maintenance intervals must be positive")
	}
	if cfg.Maintenance.SnapshotPath != "" {
		t.snapshots = snapshot.NewManager(cfg.Maintenance.SnapshotPath, t.log)
	}

	t.pending = debounce.New(t.clock, t.engageCfg.DebounceDelay, t.persist)
	return t, nil
}

// Allow runs the admission check for one outbound call. The per-API window
// is checked first, then the platform-wide window under the account's
// current dynamic limit. The call is recorded in both only when both pass,
// and a non-empty user is then marked engaged.
func (t *Tracker) Allow(api APIType, tenantID, accountID, userID string) Decision {
	d := Decision{API: api}
	acct := engagement.AccountKey{TenantID: tenantID, AccountID: accountID}

	quota, known := t.quotas[api]
	var invalid error
	if !known {
		invalid = fmt.Errorf("unknown api %q", api)
	} else if err := acct.Validate(); err != nil {
		invalid = err
	} else if api.RequiresUser() && userID == "" {
		invalid = errors.New("recipient user id is required")
	}
	if invalid != nil {
		t.log.WithError(invalid).ErrorWithFields("Admission check rejected: invalid request", map[string]interface{}{
			"api":        string(api),
			"tenant_id":  tenantID,
			"account_id": accountID,
		})
		t.metrics.Admission(string(api), metrics.ResultInvalid)
		d.Reason = ReasonInvalid
		return d
	}

	now := t.clock.Now()

	t.mu.Lock()
	window := t.windows[api]
	d.PlatformLimit = t.platformLimitLocked(acct, now)
	switch {
	case !window.admits(acct, now, quota.Limit):
		d.Reason = ReasonAPILimit
	case !t.platform.admits(acct, now, d.PlatformLimit):
		d.Reason = ReasonPlatformLimit
	default:
		window.record(acct, now, quota.Limit)
		t.platform.record(acct, now, d.PlatformLimit)
		d.Allowed = true
		if userID != "" {
			t.index.Touch(engagement.Key{TenantID: tenantID, AccountID: accountID, UserID: userID}, now)
		}
	}
	t.mu.Unlock()

	if !d.Allowed {
		limit := quota.Limit
		if d.Reason == ReasonPlatformLimit {
			limit = d.PlatformLimit
		}
		logger.LogAdmissionDenied(t.log, string(api), tenantID, accountID, d.Reason, limit)
		t.metrics.Admission(string(api), d.Reason)
		return d
	}

	t.metrics.Admission(string(api), metrics.ResultAllowed)
	if userID != "" {
		t.schedulePersist(engagement.Key{TenantID: tenantID, AccountID: accountID, UserID: userID})
	}
	return d
}

// CanMakeConversationsAPICall admits a Conversations API call; userID is optional
func (t *Tracker) CanMakeConversationsAPICall(tenantID, accountID, userID string) bool {
	return t.Allow(APIConversations, tenantID, accountID, userID).Allowed
}

// CanMakeSendAPITextCall admits a text send to recipientID
func (t *Tracker) CanMakeSendAPITextCall(tenantID, accountID, recipientID string) bool {
	return t.Allow(APISendText, tenantID, accountID, recipientID).Allowed
}

// CanMakeSendAPIMediaCall admits a media send to recipientID
func (t *Tracker) CanMakeSendAPIMediaCall(tenantID, accountID, recipientID string) bool {
	return t.Allow(APISendMedia, tenantID, accountID, recipientID).Allowed
}

// CanMakePrivateReplyLiveCall admits a private reply to a live comment
func (t *Tracker) CanMakePrivateReplyLiveCall(tenantID, accountID, userID string) bool {
	return t.Allow(APIPrivateRepliesLive, tenantID, accountID, userID).Allowed
}

// CanMakePrivateReplyPostCall admits a private reply to a post comment
func (t *Tracker) CanMakePrivateReplyPostCall(tenantID, accountID, userID string) bool {
	return t.Allow(APIPrivateRepliesPost, tenantID, accountID, userID).Allowed
}

// AllowPlatformCall checks and records against the platform-wide window only
func (t *Tracker) AllowPlatformCall(tenantID, accountID string) bool {
	acct := engagement.AccountKey{TenantID: tenantID, AccountID: accountID}
	if err := acct.Validate(); err != nil {
		t.log.WithError(err).Error("Platform check rejected: invalid request")
		return false
	}

	now := t.clock.Now()
	t.mu.Lock()
	limit := t.platformLimitLocked(acct, now)
	ok := t.platform.Allow(acct, now, limit)
	t.mu.Unlock()

	if !ok {
		logger.LogAdmissionDenied(t.log, "platform", tenantID, accountID, ReasonPlatformLimit, limit)
	}
	return ok
}

// RecordEngagement marks userID as engaged with the account now and
// schedules a debounced write to the store. Missing ids are logged and
// the call is a no-op.
func (t *Tracker) RecordEngagement(tenantID, accountID, userID string) error {
	key := engagement.Key{TenantID: tenantID, AccountID: accountID, UserID: userID}
	if err := key.Validate(); err != nil {
		t.log.WithError(err).ErrorWithFields("Engagement not recorded", map[string]interface{}{
			"tenant_id":  tenantID,
			"account_id": accountID,
		})
		return err
	}

	now := t.clock.Now()
	t.mu.Lock()
	t.index.Touch(key, now)
	t.mu.Unlock()

	t.schedulePersist(key)
	return nil
}

// GetPlatformRateLimit returns the account's current hourly budget:
// calls per user times the number of users active within the engagement
// window, with at least one user assumed.
func (t *Tracker) GetPlatformRateLimit(tenantID, accountID string) int {
	acct := engagement.AccountKey{TenantID: tenantID, AccountID: accountID}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.platformLimitLocked(acct, now)
}

// EngagedUserCount returns the number of users active within the window
func (t *Tracker) EngagedUserCount(tenantID, accountID string) int {
	acct := engagement.AccountKey{TenantID: tenantID, AccountID: accountID}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index.ActiveCount(acct, now.Add(-t.engageCfg.Window))
}

func (t *Tracker) platformLimitLocked(acct engagement.AccountKey, now time.Time) int {
	active := t.index.ActiveCount(acct, now.Add(-t.engageCfg.Window))
	return t.rateCfg.CallsPerUserPerHour * max(active, 1)
}

func (t *Tracker) schedulePersist(key engagement.Key) {
	t.pending.Trigger(key)
	t.metrics.PendingWrites(t.pending.Pending())
}

// persist is the debounce callback. The written last activity is the
// flush time, and each flush counts as one engagement.
func (t *Tracker) persist(key engagement.Key) {
	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()

	err := t.store.UpsertEngagement(ctx, key, t.clock.Now(), 1)
	if err != nil {
		t.metrics.StoreError("upsert")
		t.log.WithError(err).ErrorWithFields("Debounced engagement write failed", map[string]interface{}{
			"tenant_id":  key.TenantID,
			"account_id": key.AccountID,
			"user_id":    key.UserID,
		})
		// The increment stays owed: keep the key pending so the next
		// debounce fire or bulk sync writes it.
		t.pending.Trigger(key)
		t.metrics.PendingWrites(t.pending.Pending())
		return
	}
	t.metrics.PendingWrites(t.pending.Pending())
	t.metrics.StoreWrites("upsert", 1)
}
