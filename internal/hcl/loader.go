// Package hcl is the HCL implementation of the config.Loader interface.
package hcl

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/cellsync/internal/config"
	"github.com/vk/cellsync/internal/ctxlog"
)

const (
	defaultPollInterval   = 30 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// fileHCL mirrors the top-level structure of a configuration file.
type fileHCL struct {
	Client *clientHCL  `hcl:"client,block"`
	Server *serverHCL  `hcl:"server,block"`
	Stores []*storeHCL `hcl:"store,block"`
}

type clientHCL struct {
	Endpoint       string `hcl:"endpoint"`
	PollInterval   string `hcl:"poll_interval,optional"`
	RequestTimeout string `hcl:"request_timeout,optional"`
	TokenFile      string `hcl:"token_file,optional"`
	Store          string `hcl:"store,optional"`
}

type serverHCL struct {
	Listen       string `hcl:"listen"`
	SnapshotPath string `hcl:"snapshot_path,optional"`
	StaticDir    string `hcl:"static_dir,optional"`
	TokenFile    string `hcl:"token_file,optional"`
}

type storeHCL struct {
	Name   string      `hcl:"name,label"`
	Fields []*fieldHCL `hcl:"field,block"`
}

type fieldHCL struct {
	Name    string    `hcl:"name,label"`
	Type    string    `hcl:"type"`
	Default cty.Value `hcl:"default,optional"`
}

// Loader loads configuration from a single HCL file.
type Loader struct{}

// NewLoader creates a new HCL loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load implements config.Loader.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading configuration.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", path, diags)
	}

	var raw fileHCL
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", path, diags)
	}

	model := &config.Model{}
	if raw.Client != nil {
		client, err := translateClient(raw.Client)
		if err != nil {
			return nil, fmt.Errorf("%s: client block: %w", path, err)
		}
		model.Client = client
	}
	if raw.Server != nil {
		model.Server = &config.Server{
			Listen:       raw.Server.Listen,
			SnapshotPath: raw.Server.SnapshotPath,
			StaticDir:    raw.Server.StaticDir,
			TokenFile:    raw.Server.TokenFile,
		}
	}

	seen := make(map[string]struct{})
	for _, rawStore := range raw.Stores {
		if _, dup := seen[rawStore.Name]; dup {
			return nil, fmt.Errorf("%s: store %q is declared twice", path, rawStore.Name)
		}
		seen[rawStore.Name] = struct{}{}
		store, err := translateStore(rawStore)
		if err != nil {
			return nil, fmt.Errorf("%s: store %q: %w", path, rawStore.Name, err)
		}
		model.Stores = append(model.Stores, store)
	}

	logger.Debug("Configuration loaded.", "stores", len(model.Stores))
	return model, nil
}

func translateClient(raw *clientHCL) (*config.Client, error) {
	client := &config.Client{
		Endpoint:       raw.Endpoint,
		PollInterval:   defaultPollInterval,
		RequestTimeout: defaultRequestTimeout,
		TokenFile:      raw.TokenFile,
		Store:          raw.Store,
	}
	if raw.PollInterval != "" {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("poll_interval: %w", err)
		}
		client.PollInterval = d
	}
	if raw.RequestTimeout != "" {
		d, err := time.ParseDuration(raw.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("request_timeout: %w", err)
		}
		client.RequestTimeout = d
	}
	return client, nil
}

func translateStore(raw *storeHCL) (*config.Store, error) {
	store := &config.Store{Name: raw.Name}
	seen := make(map[string]struct{})
	for _, rawField := range raw.Fields {
		if _, dup := seen[rawField.Name]; dup {
			return nil, fmt.Errorf("field %q is declared twice", rawField.Name)
		}
		seen[rawField.Name] = struct{}{}

		typ, err := fieldType(rawField.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", rawField.Name, err)
		}

		def := zeroFor(typ)
		if rawField.Default != cty.NilVal {
			converted, err := convert.Convert(rawField.Default, typ)
			if err != nil {
				return nil, fmt.Errorf("field %q: default: %w", rawField.Name, err)
			}
			def = converted
		}

		store.Fields = append(store.Fields, &config.Field{
			Name:    rawField.Name,
			Type:    typ,
			Default: def,
		})
	}
	return store, nil
}

// fieldType maps the declared type name to a cell type. Only the
// serializable primitives are accepted.
func fieldType(name string) (cty.Type, error) {
	switch name {
	case "bool":
		return cty.Bool, nil
	case "string":
		return cty.String, nil
	case "number":
		return cty.Number, nil
	default:
		return cty.NilType, fmt.Errorf("unsupported field type %q (want bool, string, or number)", name)
	}
}

func zeroFor(typ cty.Type) cty.Value {
	switch {
	case typ.Equals(cty.Bool):
		return cty.False
	case typ.Equals(cty.String):
		return cty.StringVal("")
	default:
		return cty.Zero
	}
}
