package panel

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
)

//go:embed web/*
var embedded embed.FS

// Assets returns the page's files: dir when it is an existing directory,
// the copy compiled into the binary otherwise.
func Assets(dir string) fs.FS {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir)
		}
	}
	web, err := fs.Sub(embedded, "web")
	if err != nil {
		// Only reachable if the embed directive above is broken.
		panic("panel: embedded assets: " + err.Error())
	}
	return web
}

// Handler serves the pick-station page from Assets(dir). Only GET and
// HEAD are allowed, and nothing is cached since file names carry no
// content hash.
func Handler(dir string) http.Handler {
	files := http.FileServerFS(Assets(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
		default:
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")
		files.ServeHTTP(w, r)
	})
}
