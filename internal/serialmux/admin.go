package serialmux

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

//go:embed templates/*
var adminFS embed.FS

var consoleTemplate = template.Must(template.ParseFS(adminFS, "templates/console.html.tmpl"))

// AttachAdminRoutesFor mounts the receiver console for any mux-like target:
//
//	/debug/gps-console    command form with a live sentence tail
//	/debug/gps-command    POST command=<body>
//	/debug/gps-state      sentence counters (only when state is non-nil)
//	/debug/gps-tail       server-sent events, one per sentence
//	/debug/gps-tail.js
func AttachAdminRoutesFor(mux *http.ServeMux, s SerialMuxInterface, state func() ReceiverSnapshot) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("gps-console", "GPS receiver console", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := consoleTemplate.Execute(w, nil); err != nil {
			http.Error(w, "Failed to render console", http.StatusInternalServerError)
		}
	})
	debug.HandleSilentFunc("gps-command", commandHandler(s))
	if state != nil {
		debug.HandleFunc("gps-state", "sentence counters and latest sentence per type", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(state()); err != nil {
				http.Error(w, "Failed to encode state", http.StatusInternalServerError)
			}
		})
	}
	debug.HandleSilentFunc("gps-tail", tailHandler(s))
	debug.HandleSilentFunc("gps-tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFileFS(w, r, adminFS, "templates/tail.js")
	})
}

func commandHandler(s SerialMuxInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Sent %q to receiver", command)
	}
}

// tailHandler streams sentences as server-sent events until the client goes
// away or the subscription is closed.
func tailHandler(s SerialMuxInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")

		id, lines := s.Subscribe()
		defer s.Unsubscribe(id)

		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}
