package api

import (
	"net/http"
)

// HealthHandler handles GET /v1/sys/health. 503 until the directory has been
// bootstrapped tells deploy tooling the instance still needs first-run setup.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	initialized, err := s.directory.OwnerExists(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	code := http.StatusOK
	if !initialized {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"initialized": initialized,
		"version":     version,
	})
}
