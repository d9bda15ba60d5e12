// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
)

// handleHealthz reports readiness of both backing stores. Any failing
// check turns the whole response 503.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"sqlite": "ok",
		"redis":  "ok",
	}
	healthy := true

	if err := s.store.Ping(); err != nil {
		checks["sqlite"] = err.Error()
		healthy = false
	}
	if err := s.redis.Ping(r.Context()).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}
