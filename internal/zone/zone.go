package zone

import (
	"context"
	"sync"
	"time"

	"github.com/vk/cellsync/internal/fault"
)

// Observer is a named notification callback with a stable identity. The Zone
// de-duplicates queued observers and suppresses at most one of them by this
// identity, so the same Observer value must be reused across registrations
// rather than recreated per call.
type Observer struct {
	name string
	fn   func()
}

// NewObserver creates an observer around the given callback. The name is used
// only in fault messages.
func NewObserver(name string, fn func()) *Observer {
	return &Observer{name: name, fn: fn}
}

// Name returns the observer's diagnostic name.
func (o *Observer) Name() string {
	return o.name
}

// Zone is a single-threaded cooperative executor: an ordered observer queue
// with set-based duplicate suppression, a FIFO action queue, and a single
// suppressed-observer slot used by the sync engine to apply pulled state
// without re-triggering its own change observer.
type Zone struct {
	mu         sync.Mutex
	observers  []*Observer
	queued     map[*Observer]struct{}
	actions    []func()
	suppressed *Observer
	scheduled  bool
	wake       chan struct{}

	// drainMu serializes drain passes; enqueueing remains concurrent.
	drainMu sync.Mutex

	forever *Lifespan
}

// New creates an idle Zone with its root Lifespan.
func New() *Zone {
	z := &Zone{
		queued: make(map[*Observer]struct{}),
		wake:   make(chan struct{}, 1),
	}
	z.forever = &Lifespan{zone: z, forever: true}
	return z
}

// Forever returns the root Lifespan, representing the lifetime of the whole
// process. It can never be finished.
func (z *Zone) Forever() *Lifespan {
	return z.forever
}

// NewLifespan creates a free-standing Lifespan owned by this Zone.
func (z *Zone) NewLifespan() *Lifespan {
	return &Lifespan{zone: z}
}

// ScheduleObserver enqueues an observer for the next drain. If the observer
// is already queued the call collapses into the existing entry; if it is the
// currently suppressed observer the call is dropped.
func (z *Zone) ScheduleObserver(o *Observer) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.suppressed == o {
		return
	}
	if _, ok := z.queued[o]; ok {
		return
	}
	z.queued[o] = struct{}{}
	z.observers = append(z.observers, o)
	z.signalLocked()
}

// ScheduleAction enqueues a deferred action. Actions run in FIFO order, but
// only once the observer queue is empty.
func (z *Zone) ScheduleAction(fn func()) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.actions = append(z.actions, fn)
	z.signalLocked()
}

// ScheduleDelayedAction arranges for fn to be enqueued as an action after the
// given delay. The returned timer may be stopped to cancel a not-yet-elapsed
// delay; once the action is enqueued it will run.
func (z *Zone) ScheduleDelayedAction(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		z.ScheduleAction(fn)
	})
}

// SuppressObserver marks o as suppressed: schedule requests for it are
// dropped until UnsuppressObserver. Only one observer may be suppressed at a
// time; a second suppression is a fault.
func (z *Zone) SuppressObserver(o *Observer) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.suppressed != nil {
		fault.Failf("zone: cannot suppress observer %q: observer %q is already suppressed", o.name, z.suppressed.name)
	}
	z.suppressed = o
}

// UnsuppressObserver clears the suppression slot. Passing any observer other
// than the currently suppressed one is a fault.
func (z *Zone) UnsuppressObserver(o *Observer) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.suppressed != o {
		name := "<none>"
		if z.suppressed != nil {
			name = z.suppressed.name
		}
		fault.Failf("zone: cannot unsuppress observer %q: suppressed observer is %q", o.name, name)
	}
	z.suppressed = nil
}

// Run drives the Zone until the context is cancelled, draining whenever work
// is scheduled. It returns the context's error.
func (z *Zone) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-z.wake:
			z.Drain()
		}
	}
}

// Drain runs scheduled work until both queues are empty: the observer queue
// is emptied completely, then one action runs, then the observer queue is
// re-checked, and so on. Callbacks run outside the Zone's lock.
func (z *Zone) Drain() {
	z.drainMu.Lock()
	defer z.drainMu.Unlock()
	for {
		// Snapshot the observer queue before invoking anything, so observers
		// that register or unregister themselves cannot perturb this pass.
		observers := z.takeObservers()
		for _, o := range observers {
			o.fn()
		}
		if len(observers) > 0 {
			continue
		}
		action, ok := z.takeAction()
		if !ok {
			return
		}
		if action != nil {
			action()
		}
	}
}

func (z *Zone) takeObservers() []*Observer {
	z.mu.Lock()
	defer z.mu.Unlock()
	observers := z.observers
	z.observers = nil
	for _, o := range observers {
		delete(z.queued, o)
	}
	return observers
}

// takeAction pops the oldest action. When both queues are empty it clears the
// processing-scheduled flag, returning the Zone to idle.
func (z *Zone) takeAction() (func(), bool) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if len(z.observers) > 0 {
		return nil, true
	}
	if len(z.actions) == 0 {
		z.scheduled = false
		return nil, false
	}
	fn := z.actions[0]
	z.actions = z.actions[1:]
	return fn, true
}

func (z *Zone) signalLocked() {
	if z.scheduled {
		return
	}
	z.scheduled = true
	select {
	case z.wake <- struct{}{}:
	default:
	}
}
