package datastore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/vk/cellsync/internal/ctxlog"
	"github.com/vk/cellsync/internal/ref"
)

// ToJSON serializes the store's serializable fields as a flat JSON object.
// Action members, cells of other types, and the connectivity cell are
// excluded: connectivity is local truth, never the server's.
func (d *Datastore) ToJSON() ([]byte, error) {
	attrs := make(map[string]cty.Value)
	types := make(map[string]cty.Type)
	for _, name := range d.order {
		cell := d.cells[name]
		if !serializableType(cell.Type()) {
			continue
		}
		attrs[name] = cell.Value()
		types[name] = cell.Type()
	}
	data, err := ctyjson.Marshal(cty.ObjectVal(attrs), cty.Object(types))
	if err != nil {
		return nil, fmt.Errorf("datastore %q: serializing: %w", d.name, err)
	}
	return data, nil
}

// ApplyJSON writes a pulled snapshot into the store's fields. Each value is
// decoded against the field's declared type; the Boxed equality check then
// suppresses notifications for fields the snapshot did not actually change.
// Unknown payload fields are logged and skipped rather than treated as
// errors, so an older client tolerates a newer server.
func (d *Datastore) ApplyJSON(ctx context.Context, data []byte) error {
	logger := ctxlog.FromContext(ctx)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("datastore %q: decoding snapshot: %w", d.name, err)
	}

	// Apply in registration order for deterministic notification order.
	for _, name := range d.order {
		rawVal, ok := raw[name]
		if !ok {
			continue
		}
		delete(raw, name)
		cell, isBoxed := d.cells[name].(*ref.Boxed)
		if !isBoxed || !serializableType(cell.Type()) {
			logger.Warn("Snapshot carries a non-serializable member; ignoring.", "store", d.name, "field", name)
			continue
		}
		val, err := ctyjson.Unmarshal(rawVal, cell.Type())
		if err != nil {
			return fmt.Errorf("datastore %q: field %q: %w", d.name, name, err)
		}
		cell.Set(val)
	}

	for name := range raw {
		logger.Warn("Snapshot carries an unknown field; ignoring.", "store", d.name, "field", name)
	}
	return nil
}
