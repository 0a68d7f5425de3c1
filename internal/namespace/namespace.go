// Package namespace implements the reflection layer consumed by the
// (external) expression interpreter: a registry of namespaces holding
// type, field, and method descriptors.
//
// The registry is an explicitly constructed object, never ambient global
// state, so tests build independent instances. Name uniqueness is the
// package's core invariant: namespaces are unique per registry and member
// names unique per namespace; a violation is a configuration defect detected
// at registration time and raised as a fault.
package namespace

import (
	"reflect"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/cellsync/internal/fault"
)

// Registry is the root table of namespaces.
type Registry struct {
	order      []string
	namespaces map[string]*Namespace
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{namespaces: make(map[string]*Namespace)}
}

// AddNamespace registers a namespace. A duplicate name is a fault.
func (r *Registry) AddNamespace(name string) *Namespace {
	if _, ok := r.namespaces[name]; ok {
		fault.Failf("namespace: %q is already registered", name)
	}
	ns := &Namespace{name: name, types: make(map[string]*TypeDescriptor)}
	r.order = append(r.order, name)
	r.namespaces[name] = ns
	return ns
}

// Namespace looks up a registered namespace.
func (r *Registry) Namespace(name string) (*Namespace, bool) {
	ns, ok := r.namespaces[name]
	return ns, ok
}

// Names returns the registered namespace names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Namespace groups type descriptors under one name.
type Namespace struct {
	name  string
	order []string
	types map[string]*TypeDescriptor
}

// Name returns the namespace's name.
func (n *Namespace) Name() string { return n.name }

// AddType registers a type descriptor, optionally bound to a Go struct type
// for validation. A duplicate name is a fault.
func (n *Namespace) AddType(name string, goType reflect.Type) *TypeDescriptor {
	if _, ok := n.types[name]; ok {
		fault.Failf("namespace %q: type %q is already registered", n.name, name)
	}
	td := &TypeDescriptor{
		name:    name,
		goType:  goType,
		fields:  make(map[string]*FieldDescriptor),
		methods: make(map[string]*MethodDescriptor),
	}
	n.order = append(n.order, name)
	n.types[name] = td
	return td
}

// Type looks up a registered type descriptor.
func (n *Namespace) Type(name string) (*TypeDescriptor, bool) {
	td, ok := n.types[name]
	return td, ok
}

// TypeDescriptor describes one reflectable type: its fields (with cell
// types) and methods (with arity).
type TypeDescriptor struct {
	name   string
	goType reflect.Type

	fieldOrder  []string
	fields      map[string]*FieldDescriptor
	methodOrder []string
	methods     map[string]*MethodDescriptor
}

// Name returns the descriptor's name.
func (t *TypeDescriptor) Name() string { return t.name }

// AddField registers a field descriptor. Field and method names share one
// member namespace; a duplicate is a fault.
func (t *TypeDescriptor) AddField(name string, typ cty.Type) *FieldDescriptor {
	t.checkMember(name)
	fd := &FieldDescriptor{name: name, typ: typ}
	t.fieldOrder = append(t.fieldOrder, name)
	t.fields[name] = fd
	return fd
}

// AddMethod registers a method descriptor. A duplicate member name is a
// fault.
func (t *TypeDescriptor) AddMethod(name string, arity int) *MethodDescriptor {
	t.checkMember(name)
	md := &MethodDescriptor{name: name, arity: arity}
	t.methodOrder = append(t.methodOrder, name)
	t.methods[name] = md
	return md
}

// Field looks up a registered field descriptor.
func (t *TypeDescriptor) Field(name string) (*FieldDescriptor, bool) {
	fd, ok := t.fields[name]
	return fd, ok
}

// Method looks up a registered method descriptor.
func (t *TypeDescriptor) Method(name string) (*MethodDescriptor, bool) {
	md, ok := t.methods[name]
	return md, ok
}

func (t *TypeDescriptor) checkMember(name string) {
	if _, ok := t.fields[name]; ok {
		fault.Failf("type %q: member %q is already registered as a field", t.name, name)
	}
	if _, ok := t.methods[name]; ok {
		fault.Failf("type %q: member %q is already registered as a method", t.name, name)
	}
}

// FieldDescriptor is a named, cell-typed field.
type FieldDescriptor struct {
	name string
	typ  cty.Type
}

// Name returns the field's name.
func (f *FieldDescriptor) Name() string { return f.name }

// Type returns the field's declared cell type.
func (f *FieldDescriptor) Type() cty.Type { return f.typ }

// MethodDescriptor is a named method with a fixed parameter count.
type MethodDescriptor struct {
	name  string
	arity int
}

// Name returns the method's name.
func (m *MethodDescriptor) Name() string { return m.name }

// Arity returns the method's parameter count.
func (m *MethodDescriptor) Arity() int { return m.arity }
