// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/johnolamide/echo-mcp-server/internal/bolt"
)

// writeBoltError maps a platform failure onto our response shape. Upstream
// rejections keep their status so operators see what the platform said.
func writeBoltError(w http.ResponseWriter, err error) {
	var apiErr *bolt.APIError
	if errors.As(err, &apiErr) {
		writeJSON(w, apiErr.StatusCode, map[string]string{"error": apiErr.Body})
		return
	}
	writeError(w, http.StatusBadGateway, "delivery platform unreachable")
}

type pushMenuRequest struct {
	ProviderID string         `json:"provider_id"`
	Menu       map[string]any `json:"menu"`
}

func (s *Server) handleBoltPushMenu(w http.ResponseWriter, r *http.Request) {
	var req pushMenuRequest
	if err := decodeJSON(r, &req); err != nil || req.ProviderID == "" || req.Menu == nil {
		writeError(w, http.StatusUnprocessableEntity, "provider_id and menu are required")
		return
	}
	out, err := s.bolt.PushMenu(r.Context(), req.ProviderID, req.Menu)
	if err != nil {
		writeBoltError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBoltGetMenu(w http.ResponseWriter, r *http.Request) {
	providerID := r.URL.Query().Get("provider_id")
	if providerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "provider_id is required")
		return
	}
	out, err := s.bolt.GetMenu(r.Context(), providerID)
	if err != nil {
		writeBoltError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type availabilityRequest struct {
	ProviderID string           `json:"provider_id"`
	Items      []map[string]any `json:"items"`
}

func (s *Server) handleBoltUpdateAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := decodeJSON(r, &req); err != nil || req.ProviderID == "" || len(req.Items) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "provider_id and items are required")
		return
	}
	out, err := s.bolt.UpdateItemAvailability(r.Context(), req.ProviderID, req.Items)
	if err != nil {
		writeBoltError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type orderActionRequest struct {
	ProviderID string `json:"provider_id"`
	Reason     string `json:"reason"`
}

func (s *Server) handleBoltAcceptOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var req orderActionRequest
	if err := decodeJSON(r, &req); err != nil || req.ProviderID == "" {
		writeError(w, http.StatusUnprocessableEntity, "provider_id is required")
		return
	}
	out, err := s.bolt.AcceptOrder(r.Context(), orderID, req.ProviderID)
	if err != nil {
		writeBoltError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBoltRejectOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var req orderActionRequest
	if err := decodeJSON(r, &req); err != nil || req.ProviderID == "" || req.Reason == "" {
		writeError(w, http.StatusUnprocessableEntity, "provider_id and reason are required")
		return
	}
	out, err := s.bolt.RejectOrder(r.Context(), orderID, req.ProviderID, req.Reason)
	if err != nil {
		writeBoltError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBoltMarkOrderReady(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var req orderActionRequest
	if err := decodeJSON(r, &req); err != nil || req.ProviderID == "" {
		writeError(w, http.StatusUnprocessableEntity, "provider_id is required")
		return
	}
	out, err := s.bolt.MarkOrderReady(r.Context(), orderID, req.ProviderID)
	if err != nil {
		writeBoltError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
