package ratelimit

import (
	"sort"
	"time"

	"igautomate/pkg/engagement"
	"igautomate/pkg/logger"
)

// Usage is the number of calls in a window against the limit that applies
type Usage struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// AccountStats is the observable state of one account
type AccountStats struct {
	TenantID      string            `json:"tenant_id"`
	AccountID     string            `json:"account_id"`
	EngagedUsers  int               `json:"engaged_users"`
	PlatformLimit int               `json:"platform_limit"`
	PlatformUsage int               `json:"platform_usage"`
	APIUsage      map[APIType]Usage `json:"api_usage"`
}

// Stats is a point-in-time snapshot of the tracker
type Stats struct {
	At            time.Time      `json:"at"`
	Accounts      []AccountStats `json:"accounts"`
	IndexedUsers  int            `json:"indexed_users"`
	PendingWrites int            `json:"pending_writes"`
}

// Stats snapshots every account that has engaged users or call history.
// It does not mutate decision state.
func (t *Tracker) Stats() Stats {
	now := t.clock.Now()
	since := now.Add(-t.engageCfg.Window)

	t.mu.Lock()
	seen := make(map[engagement.AccountKey]struct{})
	for _, acct := range t.index.Accounts() {
		seen[acct] = struct{}{}
	}
	for _, acct := range t.platform.Keys() {
		seen[acct] = struct{}{}
	}
	for _, w := range t.windows {
		for _, acct := range w.Keys() {
			seen[acct] = struct{}{}
		}
	}

	s := Stats{At: now, IndexedUsers: t.index.Len()}
	for acct := range seen {
		as := AccountStats{
			TenantID:      acct.TenantID,
			AccountID:     acct.AccountID,
			EngagedUsers:  t.index.ActiveCount(acct, since),
			PlatformLimit: t.platformLimitLocked(acct, now),
			PlatformUsage: t.platform.Usage(acct, now),
			APIUsage:      make(map[APIType]Usage, len(t.windows)),
		}
		for api, w := range t.windows {
			as.APIUsage[api] = Usage{Used: w.Usage(acct, now), Limit: t.quotas[api].Limit}
		}
		s.Accounts = append(s.Accounts, as)
	}
	t.mu.Unlock()

	sort.Slice(s.Accounts, func(i, j int) bool {
		if s.Accounts[i].TenantID != s.Accounts[j].TenantID {
			return s.Accounts[i].TenantID < s.Accounts[j].TenantID
		}
		return s.Accounts[i].AccountID < s.Accounts[j].AccountID
	})
	s.PendingWrites = t.pending.Pending()
	return s
}

// LogStats logs the current stats and refreshes the per-account gauges
func (t *Tracker) LogStats() Stats {
	s := t.Stats()

	current := make(map[engagement.AccountKey]struct{}, len(s.Accounts))
	for _, as := range s.Accounts {
		fields := map[string]interface{}{
			"tenant_id":      as.TenantID,
			"account_id":     as.AccountID,
			"engaged_users":  as.EngagedUsers,
			"platform_limit": as.PlatformLimit,
			"platform_usage": as.PlatformUsage,
		}
		if as.PlatformLimit > 0 {
			fields["platform_utilization"] = float64(as.PlatformUsage) / float64(as.PlatformLimit)
		}
		for api, u := range as.APIUsage {
			if u.Used > 0 {
				fields[string(api)+"_usage"] = u.Used
			}
		}
		logger.LogMetrics(t.log, "account_stats", fields)

		t.metrics.Account(as.TenantID, as.AccountID, as.EngagedUsers, as.PlatformLimit)
		current[engagement.AccountKey{TenantID: as.TenantID, AccountID: as.AccountID}] = struct{}{}
	}

	t.mu.Lock()
	for acct := range t.reported {
		if _, ok := current[acct]; !ok {
			t.metrics.ForgetAccount(acct.TenantID, acct.AccountID)
		}
	}
	t.reported = current
	t.mu.Unlock()

	t.metrics.PendingWrites(s.PendingWrites)
	logger.LogMetrics(t.log, "tracker_stats", map[string]interface{}{
		"accounts":       len(s.Accounts),
		"indexed_users":  s.IndexedUsers,
		"pending_writes": s.PendingWrites,
	})
	return s
}
