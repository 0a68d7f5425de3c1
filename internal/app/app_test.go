package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/cellsync/internal/config"
	"github.com/vk/cellsync/internal/fault"
)

// stubLoader returns a fixed model, or an error, regardless of path.
type stubLoader struct {
	model *config.Model
	err   error
}

func (l *stubLoader) Load(ctx context.Context, path string) (*config.Model, error) {
	return l.model, l.err
}

func clientModel() *config.Model {
	return &config.Model{
		Client: &config.Client{Endpoint: "http://localhost:8080/sync"},
		Stores: []*config.Store{
			{
				Name: "mail",
				Fields: []*config.Field{
					{Name: "unread", Type: cty.Number, Default: cty.Zero},
					{Name: "subject", Type: cty.String, Default: cty.StringVal("")},
				},
			},
		},
	}
}

func testConfig(mode string) *Config {
	return &Config{ConfigPath: "test.hcl", Mode: mode, LogFormat: "text", LogLevel: "error"}
}

// requireFault asserts that fn raises an invariant-violation panic.
func requireFault(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a fault")
		_, ok := fault.AsInvariant(r)
		require.True(t, ok, "panic value is not an invariant violation: %v", r)
	}()
	fn()
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("valid client config builds app and registry", func(t *testing.T) {
		t.Parallel()
		out := &bytes.Buffer{}

		a := New(out, testConfig(ModeClient), &stubLoader{model: clientModel()})

		require.NotNil(t, a.Model().Client)
		ns, ok := a.Registry().Namespace("mail")
		require.True(t, ok, "expected a namespace per declared store")
		td, ok := ns.Type("store")
		require.True(t, ok)
		fd, ok := td.Field("unread")
		require.True(t, ok)
		assert.True(t, fd.Type().Equals(cty.Number))
	})

	t.Run("loader error is fatal", func(t *testing.T) {
		t.Parallel()
		requireFault(t, func() {
			New(&bytes.Buffer{}, testConfig(ModeClient), &stubLoader{err: os.ErrNotExist})
		})
	})

	t.Run("server mode without server block is fatal", func(t *testing.T) {
		t.Parallel()
		requireFault(t, func() {
			New(&bytes.Buffer{}, testConfig(ModeServer), &stubLoader{model: clientModel()})
		})
	})

	t.Run("client mode without stores is fatal", func(t *testing.T) {
		t.Parallel()
		model := clientModel()
		model.Stores = nil
		requireFault(t, func() {
			New(&bytes.Buffer{}, testConfig(ModeClient), &stubLoader{model: model})
		})
	})

	t.Run("colliding member names in a store are fatal", func(t *testing.T) {
		t.Parallel()
		model := clientModel()
		model.Stores[0].Fields = append(model.Stores[0].Fields,
			&config.Field{Name: "unread", Type: cty.Bool, Default: cty.False})
		requireFault(t, func() {
			New(&bytes.Buffer{}, testConfig(ModeClient), &stubLoader{model: model})
		})
	})
}

func TestLoadToken(t *testing.T) {
	t.Parallel()

	newApp := func() *App {
		return New(&bytes.Buffer{}, testConfig(ModeClient), &stubLoader{model: clientModel()})
	}

	t.Run("reads and trims the token file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("  s3cret\n"), 0600))

		assert.Equal(t, "s3cret", newApp().loadToken(path))
	})

	t.Run("falls back to the development default", func(t *testing.T) {
		t.Parallel()
		a := newApp()
		assert.Equal(t, defaultToken, a.loadToken(""))
		assert.Equal(t, defaultToken, a.loadToken(filepath.Join(t.TempDir(), "missing")))
	})

	t.Run("empty file falls back to the development default", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("\n"), 0600))

		assert.Equal(t, defaultToken, newApp().loadToken(path))
	})
}
