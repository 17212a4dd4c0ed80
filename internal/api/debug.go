package api

import (
	"fmt"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/VishwanathaRgitgit/DeepAir/internal/version"
)

// attachDebugRoutes mounts the pipeline pages on the tsweb /debug/ index.
func (s *Server) attachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("live", "Latest snapshot as JSON", func(w http.ResponseWriter, r *http.Request) {
		snap := s.live.Snapshot()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"seq":      snap.Seq,
			"capacity": s.live.Capacity(),
			"live":     s.liveResponse(snap),
		})
	})
	debug.HandleFunc("ingest", "Ingestion and frame decoder counters", func(w http.ResponseWriter, r *http.Request) {
		stats, ok := s.stats()
		if !ok {
			writeJSONError(w, http.StatusServiceUnavailable, "no sensor connection yet")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})
	debug.HandleSilentFunc("version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, version.String())
	})
}
