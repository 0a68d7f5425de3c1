package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/vk/cellsync/internal/config"
	"github.com/vk/cellsync/internal/ctxlog"
	"github.com/vk/cellsync/internal/fault"
	"github.com/vk/cellsync/internal/namespace"
)

// defaultToken is used when no token file is configured or readable. It
// exists so a development setup works out of the box; any deployment is
// expected to provide a secrets file.
const defaultToken = "cellsync-dev-token"

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	model    *config.Model
	registry *namespace.Registry
}

// New is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger. A configuration
// that cannot be loaded is a fatal startup error.
func New(outW io.Writer, appConfig *Config, loader config.Loader) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		fault.Failf("failed to load configuration: %v", err)
	}
	logger.Debug("Configuration loaded and translated into unified model.")

	switch appConfig.Mode {
	case ModeServer:
		if model.Server == nil {
			fault.Failf("mode %q selected but %s has no server block", ModeServer, appConfig.ConfigPath)
		}
	case ModeClient:
		if model.Client == nil {
			fault.Failf("mode %q selected but %s has no client block", ModeClient, appConfig.ConfigPath)
		}
		if len(model.Stores) == 0 {
			fault.Failf("mode %q selected but %s declares no store", ModeClient, appConfig.ConfigPath)
		}
	}

	registry := buildRegistry(model)
	if err := registry.Validate(ctx); err != nil {
		fault.Failf("%v", err)
	}
	logger.Debug("Namespace registry built and validated.", "stores", len(model.Stores))

	return &App{
		outW:     outW,
		logger:   logger,
		config:   appConfig,
		model:    model,
		registry: registry,
	}
}

// buildRegistry exposes every declared store as a reflectable type: one
// namespace per store, one type descriptor carrying the store's fields. The
// registry is what an embedded expression layer would resolve member accesses
// against; building it at startup means duplicate or colliding member names
// fail before any sync traffic starts.
func buildRegistry(model *config.Model) *namespace.Registry {
	registry := namespace.NewRegistry()
	for _, store := range model.Stores {
		ns := registry.AddNamespace(store.Name)
		td := ns.AddType("store", nil)
		for _, field := range store.Fields {
			td.AddField(field.Name, field.Type)
		}
	}
	return registry
}

// Registry returns the namespace registry built from the loaded model.
func (a *App) Registry() *namespace.Registry {
	return a.registry
}

// Model returns the loaded configuration model. This is primarily for
// testing.
func (a *App) Model() *config.Model {
	return a.model
}

// loadToken reads the shared sync token from the configured secrets file.
// A missing or empty file is logged and falls back to the development
// default; it is a data load problem, not a fatal one.
func (a *App) loadToken(path string) string {
	if path == "" {
		a.logger.Warn("No token file configured; using the development default token.")
		return defaultToken
	}
	data, err := os.ReadFile(path)
	if err != nil {
		a.logger.Warn("Token file not readable; using the development default token.", "path", path, "error", err)
		return defaultToken
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		a.logger.Warn("Token file is empty; using the development default token.", "path", path)
		return defaultToken
	}
	return token
}
