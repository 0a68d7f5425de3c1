package server

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/vk/cellsync/internal/ctxlog"
)

// handleStatic serves the client chrome out of the configured static
// directory: the root redirects to index.html, a missing file is 404, an
// empty file is 204, and a readable-but-failing file is 500.
func (s *Server) handleStatic(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(ctx)

	if s.staticDir == "" {
		http.NotFound(w, r)
		return
	}
	if r.URL.Path == "/" {
		http.Redirect(w, r, "/index.html", http.StatusFound)
		return
	}

	// Resolve inside the static dir only; path.Clean plus the prefix check
	// keeps traversal out.
	clean := path.Clean(r.URL.Path)
	if strings.Contains(clean, "..") {
		http.NotFound(w, r)
		return
	}
	name := filepath.Join(s.staticDir, filepath.FromSlash(clean))

	info, err := os.Stat(name)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	if info.Size() == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	data, err := os.ReadFile(name)
	if err != nil {
		logger.Error("Static asset could not be read.", "path", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if ct := contentTypeFor(name); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Write(data)
}

func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".js":
		return "application/javascript"
	case ".css":
		return "text/css"
	case ".json":
		return "application/json"
	default:
		return ""
	}
}
