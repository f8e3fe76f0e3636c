package clock

import (
	"sync"
	"time"
)

// Manual is a Clock whose time only moves when Advance is called.
// It exists so that registry sweep and session timeout tests can
// assert exact behavior at exact instants without sleeping.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*manualWaiter
}

type manualWaiter struct {
	deadline time.Time
	ch       chan time.Time
	periodic time.Duration // zero for a one-shot timer
	fired    bool
}

// NewManual returns a Manual clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d, firing any tickers/timers
// whose deadline has passed (possibly more than once for tickers).
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.now.Add(d)
	for {
		next := m.nextDeadlineLocked(target)
		if next.IsZero() {
			break
		}
		m.now = next
		m.fireDueLocked()
	}
	m.now = target
}

func (m *Manual) nextDeadlineLocked(limit time.Time) time.Time {
	var best time.Time
	for _, w := range m.waiters {
		if w.fired && w.periodic == 0 {
			continue
		}
		if w.deadline.After(limit) {
			continue
		}
		if best.IsZero() || w.deadline.Before(best) {
			best = w.deadline
		}
	}
	return best
}

func (m *Manual) fireDueLocked() {
	for _, w := range m.waiters {
		if w.deadline.After(m.now) {
			continue
		}
		if w.fired && w.periodic == 0 {
			continue
		}
		select {
		case w.ch <- m.now:
		default:
		}
		if w.periodic > 0 {
			w.deadline = w.deadline.Add(w.periodic)
		} else {
			w.fired = true
		}
	}
}

func (m *Manual) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &manualWaiter{deadline: m.now.Add(d), ch: make(chan time.Time, 1), periodic: d}
	m.waiters = append(m.waiters, w)
	return &manualTicker{clock: m, waiter: w}
}

func (m *Manual) NewTimer(d time.Duration) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &manualWaiter{deadline: m.now.Add(d), ch: make(chan time.Time, 1)}
	m.waiters = append(m.waiters, w)
	return &manualTimer{clock: m, waiter: w}
}

func (m *Manual) remove(w *manualWaiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.waiters {
		if other == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// pending reports the number of outstanding (unfired) waiters, handy
// for tests that want to assert all timers were cleaned up.
func (m *Manual) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.waiters {
		if !w.fired || w.periodic > 0 {
			n++
		}
	}
	return n
}

type manualTicker struct {
	clock  *Manual
	waiter *manualWaiter
}

func (t *manualTicker) C() <-chan time.Time { return t.waiter.ch }
func (t *manualTicker) Stop()               { t.clock.remove(t.waiter) }

type manualTimer struct {
	clock  *Manual
	waiter *manualWaiter
}

func (t *manualTimer) C() <-chan time.Time { return t.waiter.ch }

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	fired := t.waiter.fired
	t.clock.mu.Unlock()
	t.clock.remove(t.waiter)
	return !fired
}
