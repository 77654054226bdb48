package engagement

import (
	"sort"
	"time"
)

// Index maps each account to the last activity of its engaged users.
// It is a cache of the store and is not safe for concurrent use; the
// tracker guards it with its own lock.
type Index struct {
	accounts map[AccountKey]map[string]time.Time
}

// NewIndex returns an empty index
func NewIndex() *Index {
	return &Index{accounts: make(map[AccountKey]map[string]time.Time)}
}

// Touch sets the user's last activity to at, overwriting any prior value
func (ix *Index) Touch(key Key, at time.Time) {
	acct := key.Account()
	users, ok := ix.accounts[acct]
	if !ok {
		users = make(map[string]time.Time)
		ix.accounts[acct] = users
	}
	users[key.UserID] = at
}

// Merge adds records, keeping the later last activity when a user is
// already present
func (ix *Index) Merge(records []Record) int {
	merged := 0
	for _, r := range records {
		if r.Validate() != nil {
			continue
		}
		if cur, ok := ix.LastActivity(r.Key); ok && !r.LastActivity.After(cur) {
			continue
		}
		ix.Touch(r.Key, r.LastActivity)
		merged++
	}
	return merged
}

// LastActivity returns the user's recorded last activity
func (ix *Index) LastActivity(key Key) (time.Time, bool) {
	at, ok := ix.accounts[key.Account()][key.UserID]
	return at, ok
}

// ActiveCount counts users of acct active at or after since
func (ix *Index) ActiveCount(acct AccountKey, since time.Time) int {
	n := 0
	for _, at := range ix.accounts[acct] {
		if !at.Before(since) {
			n++
		}
	}
	return n
}

// Prune drops users whose last activity is before cutoff and accounts
// left empty. It returns the number of users removed.
func (ix *Index) Prune(cutoff time.Time) int {
	removed := 0
	for acct, users := range ix.accounts {
		for user, at := range users {
			if at.Before(cutoff) {
				delete(users, user)
				removed++
			}
		}
		if len(users) == 0 {
			delete(ix.accounts, acct)
		}
	}
	return removed
}

// Accounts returns the indexed accounts in a stable order
func (ix *Index) Accounts() []AccountKey {
	out := make([]AccountKey, 0, len(ix.accounts))
	for acct := range ix.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// Records copies the users of acct out of the index
func (ix *Index) Records(acct AccountKey) []Record {
	users := ix.accounts[acct]
	out := make([]Record, 0, len(users))
	for user, at := range users {
		out = append(out, Record{
			Key:          Key{TenantID: acct.TenantID, AccountID: acct.AccountID, UserID: user},
			LastActivity: at,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// All copies every record out of the index
func (ix *Index) All() []Record {
	var out []Record
	for _, acct := range ix.Accounts() {
		out = append(out, ix.Records(acct)...)
	}
	return out
}

// Len returns the number of indexed users across all accounts
func (ix *Index) Len() int {
	n := 0
	for _, users := range ix.accounts {
		n += len(users)
	}
	return n
}
