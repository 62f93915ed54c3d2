package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// maxConcurrentLoads bounds how many goroutines may be inside a Loader's
// LoadData call at once, across every CoalescedLoad in the process. A
// batch fetch can be large (many pages of I/O); without a cap, a burst of
// unrelated coalesced fills could all start their physical load at the
// same instant and saturate the backing store all at once instead of
// queuing behind a bounded number of in-flight fetches.
const maxConcurrentLoads = 64

var loadDataSem = semaphore.NewWeighted(maxConcurrentLoads)

// loadState is the CoalescedLoad lifecycle.
type loadState int

const (
	loadPlanned loadState = iota
	loadLoading
	loadLoaded
	loadCancelled
)

// Loader fills a batch of previously-created exclusive Pins with data and
// returns the filled, still-exclusive Pins (or a subset, on partial
// failure); LoadOrFuture then publishes them as Shared.
// immediate reports whether the caller needs the result synchronously
// (no waiter was registered) versus is willing to wait on a Future.
type Loader interface {
	LoadData(ctx context.Context, immediate bool) ([]Pin, error)
}

// CoalescedLoad lets many readers wait on a single in-flight fetch that
// fills multiple entries at once. Exactly one goroutine actually performs
// the load; everyone else waits on the shared Future.
type CoalescedLoad struct {
	mu      sync.Mutex
	state   loadState
	loader  Loader
	promise *sharedPromise
	err     error
}

// NewCoalescedLoad wraps loader in a fresh, PLANNED CoalescedLoad.
func NewCoalescedLoad(loader Loader) *CoalescedLoad {
	return &CoalescedLoad{state: loadPlanned, loader: loader}
}

// LoadOrFuture drives the state machine. If wait is
// non-nil, a waiter can obtain a Future to await completion instead of
// blocking; LoadOrFuture itself never blocks the caller beyond actually
// performing the load when this goroutine is the one to do it.
func (c *CoalescedLoad) LoadOrFuture(ctx context.Context, wait **Future) (bool, error) {
	c.mu.Lock()
	switch c.state {
	case loadCancelled, loadLoaded:
		c.mu.Unlock()
		return true, c.err

	case loadLoading:
		if wait == nil {
			c.mu.Unlock()
			return false, nil
		}
		if c.promise == nil {
			c.promise = &sharedPromise{future: newFuture()}
		}
		*wait = c.promise.future
		c.mu.Unlock()
		return false, nil

	case loadPlanned:
		c.state = loadLoading
		c.mu.Unlock()
		return c.runLoad(ctx, wait == nil)

	default:
		c.mu.Unlock()
		return false, nil
	}
}

func (c *CoalescedLoad) runLoad(ctx context.Context, immediate bool) (bool, error) {
	if err := loadDataSem.Acquire(ctx, 1); err != nil {
		c.setEndState(loadCancelled, err)
		return false, err
	}
	pins, err := c.loader.LoadData(ctx, immediate)
	loadDataSem.Release(1)
	if err != nil {
		c.setEndState(loadCancelled, err)
		return false, err
	}
	for i := range pins {
		p := &pins[i]
		if !p.Valid() {
			continue
		}
		p.shard.publishShared(p.e)
	}
	c.setEndState(loadLoaded, nil)
	return true, nil
}

// setEndState publishes the final state and wakes every waiter. A no-op if
// Close already forced CANCELLED while the load was still running.
func (c *CoalescedLoad) setEndState(s loadState, err error) {
	c.mu.Lock()
	if c.state == loadCancelled {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.err = err
	p := c.promise
	c.promise = nil
	c.mu.Unlock()

	if p != nil {
		p.future.Fulfil(true)
	}
}

// Close forces the load to CANCELLED if it is still in flight, waking any
// leaked waiters so they re-probe rather than block forever. Mirrors the
// C++ destructor behavior this state machine is modeled on.
func (c *CoalescedLoad) Close() {
	c.mu.Lock()
	if c.state == loadPlanned || c.state == loadLoading {
		c.state = loadCancelled
		p := c.promise
		c.promise = nil
		c.mu.Unlock()
		if p != nil {
			p.future.Fulfil(true)
		}
		return
	}
	c.mu.Unlock()
}
