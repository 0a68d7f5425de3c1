package namespace

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/vk/cellsync/internal/ctxlog"
)

// Validate performs a strict parity check between descriptors and the Go
// struct types they are bound to: every declared field must exist as an
// exported struct field with a compatible cell type, and every exported
// struct field must be declared. Descriptors without a bound Go type are
// skipped.
func (r *Registry) Validate(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, nsName := range r.order {
		ns := r.namespaces[nsName]
		for _, typeName := range ns.order {
			td := ns.types[typeName]
			if td.goType == nil {
				continue
			}
			if td.goType.Kind() != reflect.Struct {
				errs = append(errs, fmt.Sprintf("type '%s.%s': bound Go type %s is not a struct", nsName, typeName, td.goType))
				continue
			}

			goFields := make(map[string]reflect.StructField)
			for i := 0; i < td.goType.NumField(); i++ {
				field := td.goType.Field(i)
				if !field.IsExported() {
					continue
				}
				tag := strings.Split(field.Tag.Get("cell"), ",")[0]
				if tag == "-" {
					continue
				}
				if tag == "" {
					tag = strings.ToLower(field.Name[:1]) + field.Name[1:]
				}
				goFields[tag] = field
			}

			for name := range goFields {
				if _, ok := td.fields[name]; !ok {
					errs = append(errs, fmt.Sprintf("type '%s.%s': Go struct has field %q which is not declared", nsName, typeName, name))
				}
			}
			for _, name := range td.fieldOrder {
				goField, ok := goFields[name]
				if !ok {
					errs = append(errs, fmt.Sprintf("type '%s.%s': declares field %q which is not found in the Go struct", nsName, typeName, name))
					continue
				}

				declared := td.fields[name].typ
				if declared.Equals(cty.DynamicPseudoType) {
					logger.Warn("Field declared with type 'any', which disables static type checking.", "type", nsName+"."+typeName, "field", name)
					continue
				}
				implied, err := gocty.ImpliedType(reflect.Zero(goField.Type).Interface())
				if err != nil {
					errs = append(errs, fmt.Sprintf("type '%s.%s', field %q: could not imply cell type from Go type %s: %v", nsName, typeName, name, goField.Type, err))
					continue
				}
				if !declared.Equals(implied) {
					errs = append(errs, fmt.Sprintf("type '%s.%s', field %q: declared %s but Go struct provides %s",
						nsName, typeName, name, declared.FriendlyName(), implied.FriendlyName()))
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("namespace validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
