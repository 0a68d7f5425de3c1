package zone

import (
	"sync"

	"github.com/vk/cellsync/internal/fault"
)

// Lifespan is a resource scope: an ordered list of release callbacks plus a
// back-reference to the owning Zone. Observer registrations hang their
// removal off a Lifespan, so finishing the span releases them together.
type Lifespan struct {
	zone    *Zone
	forever bool

	mu       sync.Mutex
	onFinish []func()
}

// Zone returns the Zone that owns this Lifespan.
func (l *Lifespan) Zone() *Zone {
	return l.zone
}

// OnFinish registers a release callback. On the root Lifespan this is a
// no-op: the root never ends, so nothing registered against it is ever
// released.
func (l *Lifespan) OnFinish(release func()) {
	if l.forever {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFinish = append(l.onFinish, release)
}

// Finish schedules every registered release callback as a Zone action, in
// registration order, and clears the list. Scheduling rather than invoking
// directly keeps releases out of whatever observer iteration triggered the
// finish. Finishing an already-finished span is safe; finishing the root
// Lifespan is a fault.
func (l *Lifespan) Finish() {
	if l.forever {
		fault.Failf("lifespan: the root lifespan spans the whole process and cannot be finished")
	}
	l.mu.Lock()
	callbacks := l.onFinish
	l.onFinish = nil
	l.mu.Unlock()
	for _, release := range callbacks {
		l.zone.ScheduleAction(release)
	}
}

// MakeSubSpan creates a child Lifespan whose Finish is registered as a
// release callback on this span, so finishing a parent transitively finishes
// all descendants.
func (l *Lifespan) MakeSubSpan() *Lifespan {
	child := &Lifespan{zone: l.zone}
	l.OnFinish(child.Finish)
	return child
}
