package browser

import (
	"context"
	"sync"
	"time"
)

// DefaultIdleQuiet is how long the network must stay below the in-flight
// allowance before it counts as idle.
const DefaultIdleQuiet = 500 * time.Millisecond

// IdlePolicy says when the network counts as settled: at most MaxInflight
// requests pending for Quiet.
type IdlePolicy struct {
	MaxInflight int
	Quiet       time.Duration
}

var (
	NetworkIdle0 = IdlePolicy{MaxInflight: 0, Quiet: DefaultIdleQuiet}
	NetworkIdle2 = IdlePolicy{MaxInflight: 2, Quiet: DefaultIdleQuiet}
)

// IdleTracker follows in-flight requests reported by an engine's network
// events and closes Done once the policy held for the quiet period.
//
// Requests are counted as soon as the tracker exists, but the quiet timer
// only runs after Arm, so a navigation that has not yet issued its first
// request cannot be mistaken for an idle network.
type IdleTracker struct {
	policy IdlePolicy

	mu       sync.Mutex
	inflight map[string]struct{}
	armed    bool
	timer    *time.Timer
	gen      uint64
	done     chan struct{}
	finished bool
}

func NewIdleTracker(p IdlePolicy) *IdleTracker {
	if p.Quiet <= 0 {
		p.Quiet = DefaultIdleQuiet
	}
	if p.MaxInflight < 0 {
		p.MaxInflight = 0
	}
	return &IdleTracker{
		policy:   p,
		inflight: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

func (t *IdleTracker) RequestStarted(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inflight[id] = struct{}{}
	t.recalculate()
}

func (t *IdleTracker) RequestFinished(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	t.recalculate()
}

// Inflight returns the number of requests currently pending.
func (t *IdleTracker) Inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// Arm starts evaluating the policy.
func (t *IdleTracker) Arm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.armed = true
	t.recalculate()
}

func (t *IdleTracker) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the network is idle or ctx ends.
func (t *IdleTracker) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the pending timer, if any.
func (t *IdleTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimer()
}

// recalculate restarts the quiet period on every change while the number of
// pending requests is within the allowance and cancels it otherwise.
// Must be called with mu held.
func (t *IdleTracker) recalculate() {
	if !t.armed || t.finished {
		return
	}
	t.stopTimer()
	if len(t.inflight) > t.policy.MaxInflight {
		return
	}

	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.policy.Quiet, func() {
		t.fire(gen)
	})
}

func (t *IdleTracker) fire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A newer timer replaced this one, or the policy no longer holds.
	if gen != t.gen || t.finished || len(t.inflight) > t.policy.MaxInflight {
		return
	}
	t.finished = true
	t.timer = nil
	close(t.done)
}

func (t *IdleTracker) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}
