package ref

import (
	"sync"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/cellsync/internal/zone"
)

// Boxed is a settable cell. Writes notify observers only when the new value
// differs from the current one, so idempotent writes (re-applying identical
// server state, for instance) never cause notification storms.
type Boxed struct {
	name string
	zone *zone.Zone
	typ  cty.Type

	mu  sync.Mutex
	val cty.Value

	observers observerList
}

// NewBoxed creates a settable cell with the given initial value.
func NewBoxed(z *zone.Zone, name string, typ cty.Type, initial cty.Value) *Boxed {
	checkType(name, typ, initial)
	return &Boxed{name: name, zone: z, typ: typ, val: initial}
}

// Name returns the cell's diagnostic name.
func (b *Boxed) Name() string { return b.name }

// Type returns the declared type.
func (b *Boxed) Type() cty.Type { return b.typ }

// Value returns the current value.
func (b *Boxed) Value() cty.Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.val
}

// Set updates the cell and schedules its observers on the Zone. When the new
// value RawEquals the current one the call is a no-op: no notification, no
// type check beyond the equality test. A value failing the declared type is
// a fault.
func (b *Boxed) Set(v cty.Value) {
	b.mu.Lock()
	if v.RawEquals(b.val) {
		b.mu.Unlock()
		return
	}
	checkType(b.name, b.typ, v)
	b.val = v
	b.mu.Unlock()
	b.observers.notify(b.zone)
}

// Observe registers obs to be scheduled on every value change, for the
// duration of ls.
func (b *Boxed) Observe(ls *zone.Lifespan, obs *zone.Observer) {
	b.observers.add(ls, obs)
}
