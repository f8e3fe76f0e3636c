package session

import (
	"sync"

	"github.com/tunnelforge/tunneld/internal/frame"
)

// pendingTable is the per-session correlation-id → waiter map.
// Insertion, removal, and completion all hold the same short-lived
// lock; completing a waiter never invokes caller code while the lock
// is held, since it only ever sends on a buffered channel.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan *frameOrErr
}

type frameOrErr struct {
	f   *frame.Frame
	err error
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]chan *frameOrErr)}
}

// insert registers a new waiter for id. It panics if id is already
// live: a correlation id must never be reused while its entry is
// still pending, so a collision is a programmer error in the caller,
// not a runtime condition to handle gracefully.
func (p *pendingTable) insert(id string) chan *frameOrErr {
	ch := make(chan *frameOrErr, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.waiters[id]; exists {
		panic("session: pending correlation id reused while live: " + id)
	}
	p.waiters[id] = ch
	return ch
}

// complete delivers f to the waiter for id, if still live, and
// removes it. Reports whether a waiter was present; the caller uses
// this to distinguish a normal completion from a late arrival that
// must be dropped and counted.
func (p *pendingTable) complete(id string, f *frame.Frame) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- &frameOrErr{f: f}
	return true
}

// remove deletes the waiter for id without completing it, used when a
// deadline fires or the caller otherwise gives up. Returns false if
// the id was already removed (e.g. the response raced the deadline).
func (p *pendingTable) remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.waiters[id]; !ok {
		return false
	}
	delete(p.waiters, id)
	return true
}

// failAll completes every live waiter with err, used on session
// termination so that no caller of sendRequest blocks forever.
func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan *frameOrErr)
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- &frameOrErr{err: err}
	}
}
