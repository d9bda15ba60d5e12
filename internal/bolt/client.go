// SPDX-License-Identifier: MIT

// Package bolt talks to the Bolt Food delivery platform. Every call is a
// signed JSON POST against the platform's generic client API.
package bolt

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	headerIntegratorID = "x-external-integrator-id"
	headerSignature    = "x-server-authorization-hmac-sha256"

	defaultTimeout   = 60 * time.Second
	maxResponseBytes = 4 << 20
)

// Client is the delivery-platform surface the rest of the server uses.
type Client interface {
	PushMenu(ctx context.Context, providerID string, menu map[string]any) (map[string]any, error)
	GetMenu(ctx context.Context, providerID string) (map[string]any, error)
	UpdateItemAvailability(ctx context.Context, providerID string, items []map[string]any) (map[string]any, error)
	AcceptOrder(ctx context.Context, orderID, providerID string) (map[string]any, error)
	RejectOrder(ctx context.Context, orderID, providerID, reason string) (map[string]any, error)
	MarkOrderReady(ctx context.Context, orderID, providerID string) (map[string]any, error)
}

// APIError carries the upstream status and body when the platform rejects
// a call.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bolt api: status %d: %s", e.StatusCode, e.Body)
}

// HTTPClient implements Client over HTTP with HMAC request signing.
type HTTPClient struct {
	baseURL      string
	integratorID string
	secretKey    []byte
	client       *http.Client
	logger       zerolog.Logger
}

// NewHTTPClient builds a signed client. All three credentials are
// required.
func NewHTTPClient(baseURL, integratorID, secretKey string, logger zerolog.Logger) (*HTTPClient, error) {
	if baseURL == "" || integratorID == "" || secretKey == "" {
		return nil, errors.New("bolt: api url, integrator id and secret key are required")
	}
	return &HTTPClient{
		baseURL:      baseURL,
		integratorID: integratorID,
		secretKey:    []byte(secretKey),
		client:       &http.Client{Timeout: defaultTimeout},
		logger:       logger.With().Str("component", "bolt").Logger(),
	}, nil
}

// sign returns the base64 HMAC-SHA256 of the exact request body.
func (c *HTTPClient) sign(body []byte) string {
	mac := hmac.New(sha256.New, c.secretKey)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *HTTPClient) call(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("bolt: encode payload: %w", err)
	}

	url := c.baseURL + "/genericClient/" + operation
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("bolt: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerIntegratorID, c.integratorID)
	req.Header.Set(headerSignature, c.sign(body))

	c.logger.Info().Str("operation", operation).Msg("calling bolt api")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bolt: %s: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("bolt: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error().Str("operation", operation).Int("status", resp.StatusCode).Msg("bolt api error")
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("bolt: decode response: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) PushMenu(ctx context.Context, providerID string, menu map[string]any) (map[string]any, error) {
	return c.call(ctx, "pushMenu", map[string]any{
		"provider_id": providerID,
		"menu":        menu,
	})
}

func (c *HTTPClient) GetMenu(ctx context.Context, providerID string) (map[string]any, error) {
	return c.call(ctx, "getMenu", map[string]any{
		"provider_id": providerID,
	})
}

func (c *HTTPClient) UpdateItemAvailability(ctx context.Context, providerID string, items []map[string]any) (map[string]any, error) {
	return c.call(ctx, "updateMenuItemAvailability", map[string]any{
		"provider_id": providerID,
		"items":       items,
	})
}

func (c *HTTPClient) AcceptOrder(ctx context.Context, orderID, providerID string) (map[string]any, error) {
	return c.call(ctx, "acceptOrder", map[string]any{
		"order_id":    orderID,
		"provider_id": providerID,
	})
}

func (c *HTTPClient) RejectOrder(ctx context.Context, orderID, providerID, reason string) (map[string]any, error) {
	return c.call(ctx, "rejectOrder", map[string]any{
		"order_id":    orderID,
		"provider_id": providerID,
		"reason":      reason,
	})
}

func (c *HTTPClient) MarkOrderReady(ctx context.Context, orderID, providerID string) (map[string]any, error) {
	return c.call(ctx, "markOrderAsReadyForPickup", map[string]any{
		"order_id":    orderID,
		"provider_id": providerID,
	})
}
