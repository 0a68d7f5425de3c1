// Package server implements the remote side of the sync protocol: a single
// POST endpoint accepting form-encoded PULL/PUSH requests guarded by a shared
// token, a JSON snapshot persisted whole to disk on every push, and static
// asset serving for the client chrome.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/vk/cellsync/internal/ctxlog"
)

// Server holds the canonical snapshot and serves the sync endpoint.
type Server struct {
	token        string
	snapshotPath string
	staticDir    string

	mu       sync.Mutex
	snapshot []byte
}

// New creates a Server. A readable snapshot file seeds the state; a missing
// or corrupt one is logged and the server starts from an empty snapshot —
// a data load problem is never fatal.
func New(ctx context.Context, token, snapshotPath, staticDir string) *Server {
	logger := ctxlog.FromContext(ctx)
	s := &Server{
		token:        token,
		snapshotPath: snapshotPath,
		staticDir:    staticDir,
		snapshot:     []byte("{}"),
	}

	if snapshotPath == "" {
		return s
	}
	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		logger.Warn("Snapshot file not readable; starting from defaults.", "path", snapshotPath, "error", err)
		return s
	}
	if !isJSONObject(data) {
		logger.Warn("Snapshot file is corrupt; starting from defaults.", "path", snapshotPath)
		return s
	}
	s.snapshot = data
	logger.Info("Snapshot loaded.", "path", snapshotPath, "bytes", len(data))
	return s
}

// Handler returns the server's routing.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		s.handleSync(ctx, w, r)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.handleStatic(ctx, w, r)
	})
	return mux
}

// Snapshot returns the current canonical state.
func (s *Server) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *Server) handleSync(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(ctx).With("request_id", uuid.NewString(), "remote_addr", r.RemoteAddr)

	if r.Method != http.MethodPost {
		logger.Debug("Sync endpoint hit with wrong method.", "method", r.Method)
		http.Error(w, "sync endpoint accepts POST only", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	if r.PostFormValue("token") != s.token {
		logger.Warn("Sync request rejected: bad token.")
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	switch kind := r.PostFormValue("request"); kind {
	case "PULL":
		s.handlePull(logger, w)
	case "PUSH":
		s.handlePush(logger, w, r.PostFormValue("payload"))
	default:
		logger.Warn("Sync request rejected: unknown kind.", "kind", kind)
		http.Error(w, fmt.Sprintf("unknown request kind %q", kind), http.StatusBadRequest)
	}
}

func (s *Server) handlePull(logger *slog.Logger, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, must-revalidate")
	w.Write(s.Snapshot())
	logger.Debug("Pull served.")
}

func (s *Server) handlePush(logger *slog.Logger, w http.ResponseWriter, payload string) {
	if !isJSONObject([]byte(payload)) {
		logger.Warn("Push rejected: payload is not a JSON object.")
		http.Error(w, "payload must be a JSON object", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.snapshot = []byte(payload)
	s.mu.Unlock()

	// The snapshot file is rewritten in full on every push.
	if s.snapshotPath != "" {
		if err := writeFileAtomic(s.snapshotPath, []byte(payload)); err != nil {
			// The in-memory state is already updated; persistence failure is
			// logged, not surfaced to the client.
			logger.Error("Snapshot could not be persisted.", "path", s.snapshotPath, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
	logger.Debug("Push accepted.", "bytes", len(payload))
}

// isJSONObject reports whether data parses as a JSON object.
func isJSONObject(data []byte) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(data, &obj) == nil
}

// writeFileAtomic writes via a temp file and rename so a crash mid-write
// cannot leave a truncated snapshot.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
