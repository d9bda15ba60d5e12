// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"

	xlog "github.com/johnolamide/echo-mcp-server/internal/log"
	"github.com/johnolamide/echo-mcp-server/internal/service"
	"github.com/johnolamide/echo-mcp-server/internal/store"
)

// serviceRequest is the admin-facing write shape. The API key arrives in
// plaintext exactly once and is encrypted before it touches storage.
type serviceRequest struct {
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	Description     string         `json:"description"`
	APIBaseURL      string         `json:"api_base_url"`
	APIEndpoint     string         `json:"api_endpoint"`
	HTTPMethod      string         `json:"http_method"`
	RequestTemplate map[string]any `json:"request_template"`
	ResponseMapping map[string]any `json:"response_mapping"`
	HeadersTemplate map[string]any `json:"headers_template"`
	APIKey          string         `json:"api_key"`
	APIKeyHeader    string         `json:"api_key_header"`
	TimeoutSeconds  *int           `json:"timeout_seconds"`
	RetryAttempts   *int           `json:"retry_attempts"`
	IsActive        *bool          `json:"is_active"`
}

// apply copies request fields onto a descriptor, encrypting the API key
// when one was supplied.
func (s *Server) apply(req *serviceRequest, d *service.Descriptor) error {
	d.Name = req.Name
	d.Type = req.Type
	d.Description = req.Description
	d.APIBaseURL = req.APIBaseURL
	d.APIEndpoint = req.APIEndpoint
	d.HTTPMethod = req.HTTPMethod
	d.RequestTemplate = req.RequestTemplate
	d.ResponseMapping = req.ResponseMapping
	d.HeadersTemplate = req.HeadersTemplate
	d.APIKeyHeader = req.APIKeyHeader
	if req.TimeoutSeconds != nil {
		d.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.RetryAttempts != nil {
		d.RetryAttempts = *req.RetryAttempts
	}
	if req.IsActive != nil {
		d.IsActive = *req.IsActive
	}
	if req.APIKey != "" {
		blob, err := s.vault.Encrypt(req.APIKey)
		if err != nil {
			return err
		}
		d.EncryptedAPIKey = blob
	}
	return nil
}

func (s *Server) handleAdminListServices(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 50, 200)
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	descs, err := s.store.ListServices(r.Context(), includeInactive, limit, offset)
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

func (s *Server) handleAdminCreateService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	desc := &service.Descriptor{
		TimeoutSeconds: 30,
		RetryAttempts:  3,
		IsActive:       true,
		CreatedBy:      userFrom(r.Context()).ID,
	}
	if err := s.apply(&req, desc); err != nil {
		writeInternal(w)
		return
	}
	if err := desc.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	created, err := s.store.CreateService(r.Context(), desc)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateService) {
			writeError(w, http.StatusConflict, "a service with this name and type already exists")
			return
		}
		logger := xlog.WithContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("create service failed")
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusCreated, sanitize(created))
}

func (s *Server) handleAdminUpdateService(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid service id")
		return
	}
	desc, err := s.store.GetService(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w)
		} else {
			writeInternal(w)
		}
		return
	}

	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if err := s.apply(&req, desc); err != nil {
		writeInternal(w)
		return
	}
	if err := desc.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	updated, err := s.store.UpdateService(r.Context(), desc)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateService):
			writeError(w, http.StatusConflict, "a service with this name and type already exists")
		case errors.Is(err, store.ErrNotFound):
			writeNotFound(w)
		default:
			writeInternal(w)
		}
		return
	}
	writeJSON(w, http.StatusOK, sanitize(updated))
}

// handleAdminDeleteService soft-deletes by default so execution history
// stays interpretable; ?hard=true removes the row.
func (s *Server) handleAdminDeleteService(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid service id")
		return
	}

	if r.URL.Query().Get("hard") == "true" {
		err = s.store.DeleteService(r.Context(), id)
	} else {
		err = s.store.DeactivateService(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w)
		} else {
			writeInternal(w)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "service deleted"})
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 50, 200)
	activeOnly := r.URL.Query().Get("active_only") == "true"
	users, err := s.store.ListUsers(r.Context(), activeOnly, limit, offset)
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleAdminSetUserActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid user id")
			return
		}
		if err := s.store.SetUserActive(r.Context(), id, active); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeNotFound(w)
			} else {
				writeInternal(w)
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": active})
	}
}
