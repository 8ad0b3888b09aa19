package supervisor

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/tickergate/internal/health"
)

// Handler exposes supervisor state over HTTP.
//
//	GET  /health                        overall status, 503 when a critical service is down
//	GET  /api/services                  every service's state
//	POST /api/services/{name}/restart   manual restart, clears give-up state
func (s *Supervisor) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		states := s.Snapshot()

		status := "healthy"
		components := make(map[string]string, len(states))
		for _, st := range states {
			components[st.Name] = string(st.Status)
			if st.Status.OK() || st.Status == health.StatusUnknown {
				continue
			}
			if st.Critical {
				status = "unhealthy"
			} else if status == "healthy" {
				status = "degraded"
			}
		}

		code := http.StatusOK
		if status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status":     status,
			"uptime":     time.Since(s.StartedAt()).Round(time.Second).String(),
			"components": components,
		})
	})

	mux.HandleFunc("GET /api/services", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Snapshot())
	})

	mux.HandleFunc("POST /api/services/{name}/restart", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		err := s.Restart(r.Context(), name)
		switch {
		case errors.Is(err, ErrUnknownService):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrNotRunning):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarted", "service": name})
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
