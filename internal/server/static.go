package server

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// taskFileServer serves task documents from assets. Directories are served
// through their index.html; directories without one are not listed.
func taskFileServer(assets fs.FS) http.Handler {
	fileServer := http.FileServerFS(assets)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = "."
		}

		info, err := fs.Stat(assets, name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if info.IsDir() {
			if _, err := fs.Stat(assets, path.Join(name, "index.html")); err != nil {
				http.NotFound(w, r)
				return
			}
		}

		fileServer.ServeHTTP(w, r)
	})
}
