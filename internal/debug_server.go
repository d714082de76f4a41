// Package internal provides operator tooling that is not part of the wire
// protocol, currently an HTTP page inspecting the live registry.
package internal

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed inspect.html
var templatesFS embed.FS

// SessionRow is one line of the inspector table.
type SessionRow struct {
	UID   string
	Name  string
	State string
}

type RowsProvider func() []SessionRow
type StatsProvider func() map[string]any

type pageData struct {
	Items []SessionRow
	Stats map[string]any
}

// StartDebugServer serves the inspect page on the given port. It is best
// effort operator tooling: serve errors are logged, never fatal.
func StartDebugServer(log *slog.Logger, port int, endpoint string, rows RowsProvider, stats StatsProvider) {
	mux := http.NewServeMux()
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		data := pageData{Stats: map[string]any{}}
		if rows != nil {
			data.Items = rows()
		}
		if stats != nil {
			data.Stats = stats()
		}
		if err := tmpl.Execute(w, data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	addr := fmt.Sprintf(":%d", port)
	go func() {
		log.Info("debug inspector started", "addr", addr, "endpoint", endpoint)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("debug inspector stopped", "err", err)
		}
	}()
}
