package redis

import (
	"sort"

	"igautomate/pkg/engagement"
)

func sortRecords(recs []engagement.Record) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		return a.UserID < b.UserID
	})
}
