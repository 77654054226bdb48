// Package debounce coalesces bursts of triggers per key into a single
// call made after a quiet period.
package debounce

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Func is invoked once per key after the key has been quiet for the delay
type Func[K comparable] func(key K)

type pending struct {
	timer *quartz.Timer
}

// Keyed holds one pending timer per key. Triggering a key that already
// has a timer cancels it and starts a new one.
type Keyed[K comparable] struct {
	clock quartz.Clock
	delay time.Duration
	fn    Func[K]

	mu       sync.Mutex
	timers   map[K]*pending
	closed   bool
	inflight sync.WaitGroup
}

// New creates a keyed debouncer that runs fn on clock after delay
func New[K comparable](clock quartz.Clock, delay time.Duration, fn Func[K]) *Keyed[K] {
	return &Keyed[K]{
		clock:  clock,
		delay:  delay,
		fn:     fn,
		timers: make(map[K]*pending),
	}
}

// Trigger schedules fn for key, replacing any timer already pending for it.
// It reports false once the debouncer is stopped.
func (d *Keyed[K]) Trigger(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}

	if p, ok := d.timers[key]; ok {
		p.timer.Stop()
	}
	p := &pending{}
	p.timer = d.clock.AfterFunc(d.delay, func() { d.fire(key, p) }, "debounce", "fire")
	d.timers[key] = p
	return true
}

func (d *Keyed[K]) fire(key K, p *pending) {
	d.mu.Lock()
	// A timer that lost a race with Trigger, Take or Flush is stale.
	if d.timers[key] != p || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.timers, key)
	d.inflight.Add(1)
	d.mu.Unlock()

	defer d.inflight.Done()
	d.fn(key)
}

// Take cancels the pending timer for key and reports whether one existed.
// The caller becomes responsible for the work the timer would have done.
func (d *Keyed[K]) Take(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.timers[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.timers, key)
	return true
}

// Pending returns the number of keys waiting to fire
func (d *Keyed[K]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Keys returns the keys waiting to fire
func (d *Keyed[K]) Keys() []K {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]K, 0, len(d.timers))
	for k := range d.timers {
		keys = append(keys, k)
	}
	return keys
}

// Stop drops pending timers without running them and waits for calls
// already in progress. Later triggers are ignored.
func (d *Keyed[K]) Stop() {
	d.mu.Lock()
	d.closed = true
	for _, p := range d.timers {
		p.timer.Stop()
	}
	clear(d.timers)
	d.mu.Unlock()

	d.inflight.Wait()
}
