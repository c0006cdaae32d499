package server

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// handleStatic serves a file from the output directory. No caching headers
// are set: a development server always serves fresh content.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rel, ok := sanitizeRequestPath(r.URL.Path)
	if !ok {
		http.Error(w, "File not found: "+r.URL.Path, http.StatusNotFound)
		return
	}

	target := filepath.Join(s.cfg.Build.OutDir, filepath.FromSlash(rel))

	info, err := os.Stat(target)
	if err == nil && info.IsDir() {
		target = filepath.Join(target, "index.html")
		_, err = os.Stat(target)
	}
	if err != nil {
		http.Error(w, "File not found: "+r.URL.Path, http.StatusNotFound)
		return
	}

	data, err := os.ReadFile(target)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error reading %s: %v", r.URL.Path, err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(target))
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		return
	}
	if _, err := w.Write(data); err != nil {
		s.logger.Debug(r.Context(), "writing response", "path", r.URL.Path, "error", err.Error())
	}
}

// sanitizeRequestPath normalizes the path component of a request URL into a
// relative path that cannot escape the output directory. It returns false
// for paths that should be treated as not found.
func sanitizeRequestPath(urlPath string) (string, bool) {
	// NUL can sneak in via %00; backslashes are platform-dependent
	// separators with no legitimate use in a URL path.
	if strings.IndexByte(urlPath, 0) != -1 || strings.Contains(urlPath, "\\") {
		return "", false
	}

	// Cleaning the path rooted at "/" resolves every "." and ".." segment;
	// traversal sequences that would climb above the root are stripped.
	clean := path.Clean("/" + urlPath)
	rel := strings.TrimPrefix(clean, "/")

	if rel == "" {
		// Root request: the directory branch appends index.html.
		return ".", true
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}
