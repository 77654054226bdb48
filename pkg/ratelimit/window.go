package ratelimit

import (
	"time"

	"igautomate/pkg/engagement"
)

// series is the call history of one account within a window
type series struct {
	calls []time.Time
	limit int
}

// SlidingWindow counts calls per account over a moving window. Calls at
// exactly now-size have left the window. Not safe for concurrent use;
// the tracker serializes access.
type SlidingWindow struct {
	size   time.Duration
	series map[engagement.AccountKey]*series
}

// NewSlidingWindow creates an empty window of the given length
func NewSlidingWindow(size time.Duration) *SlidingWindow {
	return &SlidingWindow{
		size:   size,
		series: make(map[engagement.AccountKey]*series),
	}
}

// Size returns the window length
func (sw *SlidingWindow) Size() time.Duration {
	return sw.size
}

// Allow filters key's history to the window and, if fewer than limit
// calls remain, records a call at now.
func (sw *SlidingWindow) Allow(key engagement.AccountKey, now time.Time, limit int) bool {
	if !sw.admits(key, now, limit) {
		return false
	}
	sw.record(key, now, limit)
	return true
}

// admits filters key's history and reports whether another call fits
// under limit without recording it
func (sw *SlidingWindow) admits(key engagement.AccountKey, now time.Time, limit int) bool {
	s, ok := sw.series[key]
	if !ok {
		return limit > 0
	}
	sw.clean(s, now)
	return len(s.calls) < limit
}

// record appends a call at now and remembers the limit it was admitted under
func (sw *SlidingWindow) record(key engagement.AccountKey, now time.Time, limit int) {
	s, ok := sw.series[key]
	if !ok {
		s = &series{}
		sw.series[key] = s
	}
	s.calls = append(s.calls, now)
	s.limit = limit
}

// Usage counts key's calls inside the window without mutating state
func (sw *SlidingWindow) Usage(key engagement.AccountKey, now time.Time) int {
	s, ok := sw.series[key]
	if !ok {
		return 0
	}
	n := 0
	for _, ts := range s.calls {
		if sw.inside(ts, now) {
			n++
		}
	}
	return n
}

// LastLimit returns the limit the most recent admitted call saw
func (sw *SlidingWindow) LastLimit(key engagement.AccountKey) int {
	if s, ok := sw.series[key]; ok {
		return s.limit
	}
	return 0
}

// Cleanup filters every history to the window and drops empty keys. It
// returns the number of keys dropped.
func (sw *SlidingWindow) Cleanup(now time.Time) int {
	dropped := 0
	for key, s := range sw.series {
		sw.clean(s, now)
		if len(s.calls) == 0 {
			delete(sw.series, key)
			dropped++
		}
	}
	return dropped
}

// Keys returns the accounts that currently hold history
func (sw *SlidingWindow) Keys() []engagement.AccountKey {
	keys := make([]engagement.AccountKey, 0, len(sw.series))
	for k := range sw.series {
		keys = append(keys, k)
	}
	return keys
}

func (sw *SlidingWindow) inside(ts, now time.Time) bool {
	return now.Sub(ts) < sw.size
}

// clean keeps only calls inside the window. Histories are short, so a
// filtering pass is used rather than assuming sorted order.
func (sw *SlidingWindow) clean(s *series, now time.Time) {
	kept := s.calls[:0]
	for _, ts := range s.calls {
		if sw.inside(ts, now) {
			kept = append(kept, ts)
		}
	}
	clear(s.calls[len(kept):])
	s.calls = kept
}
