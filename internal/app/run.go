package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vk/cellsync/internal/config"
	"github.com/vk/cellsync/internal/ctxlog"
	"github.com/vk/cellsync/internal/datastore"
	"github.com/vk/cellsync/internal/fault"
	"github.com/vk/cellsync/internal/ref"
	"github.com/vk/cellsync/internal/server"
	"github.com/vk/cellsync/internal/syncer"
	"github.com/vk/cellsync/internal/transport"
	"github.com/vk/cellsync/internal/zone"

	"github.com/zclconf/go-cty/cty"
)

// Run executes the selected mode until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "mode", a.config.Mode)

	switch a.config.Mode {
	case ModeServer:
		return a.runServer(ctx)
	default:
		return a.runClient(ctx)
	}
}

func (a *App) runServer(ctx context.Context) error {
	cfg := a.model.Server
	token := a.loadToken(cfg.TokenFile)

	srv := server.New(ctx, token, cfg.SnapshotPath, cfg.StaticDir)
	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.Handler(ctx),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Sync server starting.", "address", cfg.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("sync server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("sync server shutdown: %w", err)
	}
	a.logger.Info("Sync server stopped.")
	return ctx.Err()
}

func (a *App) runClient(ctx context.Context) error {
	cfg := a.model.Client
	token := a.loadToken(cfg.TokenFile)

	z := zone.New()
	store := a.buildStore(z, a.clientStoreDef())

	// Connectivity is the only user-facing signal of sync health.
	store.ConnCell().Observe(z.Forever(), zone.NewObserver("connLog", func() {
		a.logger.Info("Connectivity changed.", "store", store.Name(), "state", string(store.ConnState()))
	}))

	tr := transport.NewClient(cfg.Endpoint, token, cfg.RequestTimeout)
	defer tr.Close()

	active := ref.NewBoxed(z, "syncActive", cty.Bool, cty.True)
	engine := syncer.New(ctx, z, store, tr, active, cfg.PollInterval)
	engine.Start(z.Forever())

	a.logger.Info("Sync client starting.", "endpoint", cfg.Endpoint, "store", store.Name(), "poll_interval", cfg.PollInterval)
	if err := z.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// clientStoreDef resolves which declared store the client syncs: the one the
// client block names, or the only declared store when unnamed.
func (a *App) clientStoreDef() *config.Store {
	if a.model.Client.Store == "" {
		return a.model.Stores[0]
	}
	for _, def := range a.model.Stores {
		if def.Name == a.model.Client.Store {
			return def
		}
	}
	fault.Failf("client block names store %q which is not declared", a.model.Client.Store)
	return nil
}

func (a *App) buildStore(z *zone.Zone, def *config.Store) *datastore.Datastore {
	store := datastore.New(z, def.Name)
	for _, field := range def.Fields {
		store.AddField(field.Name, field.Type, field.Default)
	}
	a.logger.Debug("Datastore built.", "store", def.Name, "fields", len(def.Fields))
	return store
}
