// Package console serves the embedded browser console for trying the
// analyze and anonymize endpoints interactively.
package console

import (
	_ "embed"
	"net/http"
)

// The console is an operator tool, keep it out of search indexes.
const (
	RobotsTagHeader = "X-Robots-Tag"
	RobotsTagValue  = "noindex, nofollow"
)

//go:embed console.html
var consoleHTML []byte

func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set(RobotsTagHeader, RobotsTagValue)
		_, _ = w.Write(consoleHTML)
	})
}
