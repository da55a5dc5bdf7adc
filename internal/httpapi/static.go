package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var webUI embed.FS

// newStaticHandler serves the web chat page. The page is small and changes with each
// release, so browsers are told to revalidate it.
func newStaticHandler() http.Handler {
	root, err := fs.Sub(webUI, "static")
	if err != nil {
		panic(err)
	}
	files := http.FileServerFS(root)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		files.ServeHTTP(w, r)
	})
}
