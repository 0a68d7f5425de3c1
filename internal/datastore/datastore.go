// Package datastore groups reactive cells into a named, serializable
// collection — the unit of state the sync protocol replicates. Every store
// carries a connectivity cell describing sync health, and every settable
// field is wired so that a local change requests a sync at immediate
// priority.
package datastore

import (
	"reflect"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/cellsync/internal/fault"
	"github.com/vk/cellsync/internal/ref"
	"github.com/vk/cellsync/internal/zone"
)

// ConnState is the connectivity/state domain of a Datastore's built-in
// connectivity cell.
type ConnState string

const (
	ConnNotInitialized   ConnState = "NOT_INITIALIZED"
	ConnNotAuthenticated ConnState = "NOT_AUTHENTICATED"
	ConnOffline          ConnState = "OFFLINE"
	ConnOnline           ConnState = "ONLINE"
)

// Priority ranks sync requests. The store's threshold filters requests
// before the engine's trigger is invoked.
type Priority int

const (
	PriorityIdle Priority = iota
	PriorityBackground
	PriorityImmediate
)

// SyncTrigger is the callback a sync engine registers to be told that a sync
// is wanted.
type SyncTrigger func(ls *zone.Lifespan)

// Action is a callable member of a Datastore. Actions are registered
// alongside fields but are never serialized.
type Action func(ls *zone.Lifespan)

// actionType is the capsule type wrapping Action values, so callable members
// live in the same cell table as data fields while falling outside the
// serializable type set.
var actionType = cty.Capsule("action", reflect.TypeOf(Action(nil)))

// Datastore is a named collection of cells over a single Zone.
type Datastore struct {
	name string
	zone *zone.Zone

	order []string
	cells map[string]ref.Ref

	conn      *ref.Boxed
	threshold Priority
	trigger   SyncTrigger

	// changed is the single observer wired to every settable field; the sync
	// engine suppresses it while applying pulled state.
	changed *zone.Observer
}

// New creates an empty Datastore with its connectivity cell set to
// NOT_INITIALIZED.
func New(z *zone.Zone, name string) *Datastore {
	d := &Datastore{
		name:      name,
		zone:      z,
		cells:     make(map[string]ref.Ref),
		threshold: PriorityBackground,
	}
	d.conn = ref.NewBoxed(z, name+".connState", cty.String, cty.StringVal(string(ConnNotInitialized)))
	d.changed = zone.NewObserver(name+":changed", d.onFieldChanged)
	return d
}

// Name returns the store's name.
func (d *Datastore) Name() string { return d.name }

// Zone returns the Zone the store's cells schedule on.
func (d *Datastore) Zone() *zone.Zone { return d.zone }

// ChangedObserver exposes the store's field-change observer so the sync
// engine can suppress it while applying a pulled snapshot.
func (d *Datastore) ChangedObserver() *zone.Observer { return d.changed }

// AddField registers a settable cell. Registering the same name twice is a
// fault. The cell is observed for the process lifetime with the store's
// change observer, so local writes request a sync.
func (d *Datastore) AddField(name string, typ cty.Type, initial cty.Value) *ref.Boxed {
	if _, ok := d.cells[name]; ok {
		fault.Failf("datastore %q: field %q is already registered", d.name, name)
	}
	b := ref.NewBoxed(d.zone, d.name+"."+name, typ, initial)
	b.Observe(d.zone.Forever(), d.changed)
	d.order = append(d.order, name)
	d.cells[name] = b
	return b
}

// AddAction registers a callable member. Actions share the cell namespace
// with fields but are excluded from serialization in both directions.
func (d *Datastore) AddAction(name string, fn Action) {
	if _, ok := d.cells[name]; ok {
		fault.Failf("datastore %q: member %q is already registered", d.name, name)
	}
	cell := ref.NewConstant(d.name+"."+name, actionType, cty.CapsuleVal(actionType, &fn))
	d.order = append(d.order, name)
	d.cells[name] = cell
}

// Field returns the settable cell registered under name.
func (d *Datastore) Field(name string) (*ref.Boxed, bool) {
	b, ok := d.cells[name].(*ref.Boxed)
	return b, ok
}

// Invoke calls the action registered under name. Invoking a name that is not
// a registered action is a fault.
func (d *Datastore) Invoke(name string, ls *zone.Lifespan) {
	cell, ok := d.cells[name]
	if !ok || !cell.Type().Equals(actionType) {
		fault.Failf("datastore %q: %q is not a registered action", d.name, name)
	}
	fn := cell.Value().EncapsulatedValue().(*Action)
	(*fn)(ls)
}

// ConnCell returns the connectivity cell for observation.
func (d *Datastore) ConnCell() *ref.Boxed { return d.conn }

// ConnState returns the current connectivity state.
func (d *Datastore) ConnState() ConnState {
	return ConnState(d.conn.Value().AsString())
}

// SetConnState updates the connectivity cell.
func (d *Datastore) SetConnState(s ConnState) {
	d.conn.Set(cty.StringVal(string(s)))
}

// SetSyncThreshold sets the minimum priority at which RequestSync fires the
// registered trigger.
func (d *Datastore) SetSyncThreshold(p Priority) { d.threshold = p }

// OnRequestSync registers the sync engine's trigger.
func (d *Datastore) OnRequestSync(trigger SyncTrigger) { d.trigger = trigger }

// RequestSync asks for a sync at the given priority. Requests below the
// configured threshold are dropped; at or above it the registered trigger
// fires exactly once per call.
func (d *Datastore) RequestSync(p Priority, ls *zone.Lifespan) {
	if p < d.threshold {
		return
	}
	if d.trigger != nil {
		d.trigger(ls)
	}
}

func (d *Datastore) onFieldChanged() {
	d.RequestSync(PriorityImmediate, d.zone.Forever())
}

// serializableType reports whether cells of this type take part in the JSON
// round-trip: booleans, strings, and numbers only.
func serializableType(t cty.Type) bool {
	return t.Equals(cty.Bool) || t.Equals(cty.String) || t.Equals(cty.Number)
}
