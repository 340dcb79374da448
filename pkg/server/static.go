package server

import (
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// StaticHandler serves files from a directory tree, preferring a
// precompressed "<file>.gz" sibling when the client accepts gzip.
type StaticHandler struct {
	fsys fs.FS
}

// NewStaticHandler serves the directory at root.
func NewStaticHandler(root string) *StaticHandler {
	return &StaticHandler{fsys: os.DirFS(root)}
}

// NewStaticHandlerFS serves fsys.
func NewStaticHandlerFS(fsys fs.FS) *StaticHandler {
	return &StaticHandler{fsys: fsys}
}

// ServeHTTP implements http.Handler.
func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	rel, ok := staticRelPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Add("Vary", "Accept-Encoding")
	if acceptsGzip(r) && h.serveFile(w, r, rel+".gz", rel) {
		return
	}
	if !h.serveFile(w, r, rel, rel) {
		http.NotFound(w, r)
	}
}

// serveFile serves name with the content type of typeName. It reports
// false when name is missing or a directory.
func (h *StaticHandler) serveFile(w http.ResponseWriter, r *http.Request, name, typeName string) bool {
	f, err := h.fsys.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	if ctype := mime.TypeByExtension(path.Ext(typeName)); ctype != "" {
		w.Header().Set("Content-Type", ctype)
	}
	if name != typeName {
		w.Header().Set("Content-Encoding", "gzip")
	}

	if rs, ok := f.(io.ReadSeeker); ok {
		http.ServeContent(w, r, typeName, info.ModTime(), rs)
		return true
	}
	if r.Method != http.MethodHead {
		io.Copy(w, f)
	}
	return true
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc := strings.TrimSpace(part)
		if i := strings.IndexByte(enc, ';'); i != -1 {
			if strings.TrimSpace(enc[i+1:]) == "q=0" {
				continue
			}
			enc = strings.TrimSpace(enc[:i])
		}
		if strings.EqualFold(enc, "gzip") {
			return true
		}
	}
	return false
}

// staticRelPath returns a sanitized relative path for a static file request.
// It rejects traversal and absolute-path tricks so serving cannot escape the
// root. The empty path maps to index.html.
func staticRelPath(urlPath string) (string, bool) {
	rel := strings.TrimPrefix(urlPath, "/")
	if rel == "" {
		return "index.html", true
	}

	// Reject NUL early (can appear via %00).
	if strings.IndexByte(rel, 0) != -1 {
		return "", false
	}

	// Reject platform-dependent separators.
	if strings.Contains(rel, "\\") {
		return "", false
	}

	// A second leading slash is an absolute-path attempt ("//etc/passwd").
	if strings.HasPrefix(rel, "/") {
		return "", false
	}

	for _, seg := range strings.Split(rel, "/") {
		if seg == "." || seg == ".." {
			return "", false
		}
	}

	clean := path.Clean(rel)
	if clean == "." || clean == "" || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", false
	}

	osPath := filepath.FromSlash(clean)
	if filepath.IsAbs(osPath) || filepath.VolumeName(osPath) != "" {
		return "", false
	}

	return clean, true
}
