package server

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"
)

// handleSPA serves the built web client from dir. Unknown paths get
// index.html so client routes such as /play or /host survive a reload;
// unknown /api/ paths stay JSON 404s.
func handleSPA(dir string) http.HandlerFunc {
	root := http.Dir(dir)
	files := http.FileServer(root)

	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		if isFile(root, path.Clean(r.URL.Path)) {
			// Bundled assets carry a content hash in their names.
			if strings.HasPrefix(r.URL.Path, "/assets/") {
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			}
			files.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	}
}

func isFile(root http.FileSystem, name string) bool {
	f, err := root.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && !info.IsDir()
}
