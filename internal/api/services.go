// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/johnolamide/echo-mcp-server/internal/service"
	"github.com/johnolamide/echo-mcp-server/internal/store"
)

func parsePagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// sanitize strips secret material from a descriptor before it leaves the
// server. The vault blob is opaque but still never exposed.
func sanitize(d *service.Descriptor) *service.Descriptor {
	out := *d
	out.EncryptedAPIKey = ""
	return &out
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 50, 200)
	descs, err := s.store.ListServices(r.Context(), false, limit, offset)
	if err != nil {
		writeInternal(w)
		return
	}
	out := make([]*service.Descriptor, 0, len(descs))
	for _, d := range descs {
		out = append(out, sanitize(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

func (s *Server) getActiveService(w http.ResponseWriter, r *http.Request) *service.Descriptor {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid service id")
		return nil
	}
	desc, err := s.store.GetService(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w)
		} else {
			writeInternal(w)
		}
		return nil
	}
	if !desc.IsActive {
		writeNotFound(w)
		return nil
	}
	return desc
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	desc := s.getActiveService(w, r)
	if desc == nil {
		return
	}
	writeJSON(w, http.StatusOK, sanitize(desc))
}

func (s *Server) handleServiceSchema(w http.ResponseWriter, r *http.Request) {
	desc := s.getActiveService(w, r)
	if desc == nil {
		return
	}
	writeJSON(w, http.StatusOK, desc.Schema())
}

type executeRequest struct {
	Parameters map[string]any `json:"parameters"`
}

// handleExecuteService runs one proxied call. The executor never fails as
// a Go error; every outcome is a structured result.
func (s *Server) handleExecuteService(w http.ResponseWriter, r *http.Request) {
	desc := s.getActiveService(w, r)
	if desc == nil {
		return
	}
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	result := s.executor.Execute(r.Context(), desc, req.Parameters)
	writeJSON(w, http.StatusOK, result)
}
