// Package webui serves the browser log viewer for the admin log feed.
package webui

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
)

//go:embed static/index.html
var staticFS embed.FS

var index = template.Must(template.ParseFS(staticFS, "static/index.html"))

// Handler serves the viewer wired to the log feed mounted at feedPath. The
// page is rendered once.
func Handler(feedPath string) (http.Handler, error) {
	var buf bytes.Buffer
	if err := index.Execute(&buf, struct{ FeedPath string }{feedPath}); err != nil {
		return nil, fmt.Errorf("render viewer: %w", err)
	}
	page := buf.Bytes()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(page)
	}), nil
}
