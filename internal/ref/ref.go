// Package ref implements the reference graph: typed value cells that can be
// read, observed, and, depending on the variant, written or derived.
//
// Three variants exist behind the Ref interface. Constant holds an immutable
// value and never notifies. Boxed holds a settable value and notifies its
// observers when the value actually changes. Computed derives its value from
// a compute function, caches it, and invalidates the cache when any declared
// dependency changes. The dependency edges between Computed cells form a DAG
// by construction: DependsOn rejects, fatally, any edge that would close a
// cycle, so cycles can never enter the live graph.
//
// Every cell carries a cty.Type and validates values against it on every
// write path. A mismatch is a wiring defect and raises a fault.
package ref

import (
	"sync"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/cellsync/internal/fault"
	"github.com/vk/cellsync/internal/zone"
)

// Ref is the capability shared by all cell variants: read the current value,
// observe changes for the duration of a lifespan, and report the declared
// type.
type Ref interface {
	Name() string
	Type() cty.Type
	Value() cty.Value
	Observe(ls *zone.Lifespan, obs *zone.Observer)
}

// checkType validates v against the cell's declared type. Mismatches are
// never coerced.
func checkType(name string, typ cty.Type, v cty.Value) {
	if !v.Type().Equals(typ) {
		fault.Failf("ref: cell %q holds %s but was given a value of type %s",
			name, typ.FriendlyName(), v.Type().FriendlyName())
	}
}

// observerList is the shared registration bookkeeping for Boxed and Computed
// cells. Notification schedules a snapshot of the current observers, so
// observers that register or unregister themselves mid-notification cannot
// cause missed or duplicated callbacks.
type observerList struct {
	mu        sync.Mutex
	observers []*zone.Observer
}

func (ol *observerList) add(ls *zone.Lifespan, obs *zone.Observer) {
	ol.mu.Lock()
	ol.observers = append(ol.observers, obs)
	ol.mu.Unlock()
	ls.OnFinish(func() { ol.remove(obs) })
}

func (ol *observerList) remove(obs *zone.Observer) {
	ol.mu.Lock()
	defer ol.mu.Unlock()
	for i, o := range ol.observers {
		if o == obs {
			ol.observers = append(ol.observers[:i], ol.observers[i+1:]...)
			return
		}
	}
}

func (ol *observerList) notify(z *zone.Zone) {
	ol.mu.Lock()
	snapshot := make([]*zone.Observer, len(ol.observers))
	copy(snapshot, ol.observers)
	ol.mu.Unlock()
	for _, obs := range snapshot {
		z.ScheduleObserver(obs)
	}
}

// Constant is an immutable cell. Observing it is a no-op: the value never
// changes, so the observer would never fire.
type Constant struct {
	name string
	typ  cty.Type
	val  cty.Value
}

// NewConstant creates an immutable cell. The value is type-checked once, at
// construction.
func NewConstant(name string, typ cty.Type, val cty.Value) *Constant {
	checkType(name, typ, val)
	return &Constant{name: name, typ: typ, val: val}
}

// Name returns the cell's diagnostic name.
func (c *Constant) Name() string { return c.name }

// Type returns the declared type.
func (c *Constant) Type() cty.Type { return c.typ }

// Value returns the immutable value.
func (c *Constant) Value() cty.Value { return c.val }

// Observe is a no-op on a Constant.
func (c *Constant) Observe(ls *zone.Lifespan, obs *zone.Observer) {}
