package ref

import (
	"sync"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/cellsync/internal/fault"
	"github.com/vk/cellsync/internal/zone"
)

// Computed is a derived cell: its value comes from a compute function and is
// cached until a dependency invalidates it. Reads are lazy; invalidation only
// discards the cache and notifies observers, leaving recomputation to the
// next read.
type Computed struct {
	name    string
	zone    *zone.Zone
	typ     cty.Type
	compute func() cty.Value

	mu    sync.Mutex
	cache cty.Value
	valid bool
	deps  []Ref

	observers observerList

	// invalidateObs is this cell's own invalidation callback; observing a
	// dependency with it is what keeps the derived value live.
	invalidateObs *zone.Observer
}

// NewComputed creates a derived cell around the given compute function. The
// cell starts invalid; the first read computes.
func NewComputed(z *zone.Zone, name string, typ cty.Type, compute func() cty.Value) *Computed {
	c := &Computed{name: name, zone: z, typ: typ, compute: compute}
	c.invalidateObs = zone.NewObserver(name+":invalidate", c.Invalidate)
	return c
}

// Name returns the cell's diagnostic name.
func (c *Computed) Name() string { return c.name }

// Type returns the declared type.
func (c *Computed) Type() cty.Type { return c.typ }

// Value returns the cached value, recomputing it first when the cache was
// invalidated. The computed result is type-checked before it is cached.
func (c *Computed) Value() cty.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		v := c.compute()
		checkType(c.name, c.typ, v)
		c.cache = v
		c.valid = true
	}
	return c.cache
}

// Invalidate discards the cached value and notifies observers. It is
// idempotent: invalidating an already-invalid cell does nothing.
func (c *Computed) Invalidate() {
	c.mu.Lock()
	if !c.valid {
		c.mu.Unlock()
		return
	}
	c.valid = false
	c.cache = cty.NilVal
	c.mu.Unlock()
	c.observers.notify(c.zone)
}

// Observe registers obs to be scheduled on every invalidation, for the
// duration of ls.
func (c *Computed) Observe(ls *zone.Lifespan, obs *zone.Observer) {
	c.observers.add(ls, obs)
}

// DependsOn records a dependency edge on other and observes it with this
// cell's invalidation callback, so changes to other invalidate this cell.
// The edge is checked eagerly: if other can already reach this cell through
// transitive Computed dependencies (a cell always reaches itself), the edge
// would close a cycle and the call is a fault. The graph is therefore a DAG
// at all times by construction.
func (c *Computed) DependsOn(ls *zone.Lifespan, other Ref) {
	if reaches(other, c) {
		fault.Failf("ref: cell %q cannot depend on %q: the dependency would create a cycle", c.name, other.Name())
	}
	c.mu.Lock()
	c.deps = append(c.deps, other)
	c.mu.Unlock()
	other.Observe(ls, c.invalidateObs)
}

// reaches reports whether target is reachable from start through transitive
// Computed dependency edges, using a worklist and a seen set. Reachability
// is reflexive: start == target reaches immediately.
func reaches(start Ref, target *Computed) bool {
	seen := make(map[Ref]struct{})
	work := []Ref{start}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if cur == Ref(target) {
			return true
		}
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		if cc, ok := cur.(*Computed); ok {
			cc.mu.Lock()
			work = append(work, cc.deps...)
			cc.mu.Unlock()
		}
	}
	return false
}
