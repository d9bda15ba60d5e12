// SPDX-License-Identifier: MIT

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/johnolamide/echo-mcp-server/internal/metrics"
	"github.com/johnolamide/echo-mcp-server/internal/template"
	"github.com/johnolamide/echo-mcp-server/internal/vault"
)

const maxResponseBytes = 4 << 20 // upstream bodies are capped at 4 MiB

// Executor runs proxy calls against service descriptors. Concurrent
// executions share no mutable state; the descriptor is read-only input.
type Executor struct {
	client      *http.Client
	vault       *vault.Vault
	logger      zerolog.Logger
	backoffBase time.Duration
}

// NewExecutor creates an Executor. The per-call timeout comes from each
// descriptor, so the shared client carries none.
func NewExecutor(v *vault.Vault, logger zerolog.Logger) *Executor {
	return &Executor{
		client:      &http.Client{},
		vault:       v,
		logger:      logger,
		backoffBase: time.Second,
	}
}

// Execute validates parameters, renders and dispatches the call, and
// reshapes the response. It never returns an error: every failure mode is
// folded into the Result as a classified CallError.
func (e *Executor) Execute(ctx context.Context, desc *Descriptor, params map[string]any) Result {
	start := time.Now()
	logger := e.logger.With().
		Str("service_name", desc.Name).
		Str("service_type", desc.Type).
		Logger()

	finish := func(res Result) Result {
		res.ExecutionTimeMS = time.Since(start).Milliseconds()
		outcome := "success"
		if !res.Success {
			outcome = string(res.Error.Kind)
		}
		metrics.ObserveServiceCall(desc.Type, outcome, time.Since(start))
		return res
	}

	// 1. Validate: every root placeholder in the request template must be
	// supplied. Fail fast, zero network calls.
	var missing []string
	for _, name := range desc.RequiredParameters() {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return finish(Result{
			StatusCode: http.StatusUnprocessableEntity,
			Error: &CallError{
				Kind:              ErrorKindValidation,
				Message:           fmt.Sprintf("missing required parameters: %s", strings.Join(missing, ", ")),
				MissingParameters: missing,
			},
		})
	}

	// 2. Render request body.
	body, _ := template.Render(desc.RequestTemplate, params, logger).(map[string]any)

	// 3. Render headers. The decrypted key is bound only under api_key and
	// must never reach a log line or error payload.
	headers := e.renderHeaders(desc, logger)

	// 4. Dispatch with retry.
	resp, err := e.dispatch(ctx, desc, body, headers, logger)
	if err != nil {
		kind := ErrorKindTransport
		status := http.StatusBadGateway
		msg := "upstream request failed"
		if isTimeout(err) {
			kind = ErrorKindTimeout
			status = http.StatusRequestTimeout
			msg = fmt.Sprintf("upstream call timed out after %d seconds", desc.TimeoutSeconds)
		}
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("service call failed")
		return finish(Result{
			StatusCode: status,
			Error:      &CallError{Kind: kind, Message: msg},
		})
	}

	// 5. Reshape response.
	payload := e.reshape(desc, resp.body, logger)

	if resp.status >= 400 {
		kind := ErrorKindRemoteClient
		if resp.status >= 500 {
			kind = ErrorKindRemoteServer
		}
		return finish(Result{
			StatusCode: resp.status,
			Error: &CallError{
				Kind:         kind,
				Message:      fmt.Sprintf("upstream returned status %d", resp.status),
				UpstreamBody: payload,
			},
		})
	}

	return finish(Result{
		Success:    true,
		Data:       payload,
		StatusCode: resp.status,
	})
}

// renderHeaders builds the outbound header map from the headers template,
// binding the decrypted API key under api_key when one is configured.
func (e *Executor) renderHeaders(desc *Descriptor, logger zerolog.Logger) map[string]string {
	rendered := make(map[string]string)
	tmpl := desc.HeadersTemplate
	if tmpl == nil {
		tmpl = map[string]any{}
	}

	vars := map[string]any{}
	if desc.EncryptedAPIKey != "" && desc.APIKeyHeader != "" {
		if key := e.vault.Decrypt(desc.EncryptedAPIKey); key != "" {
			vars["api_key"] = key
			if _, templated := tmpl[desc.APIKeyHeader]; !templated {
				rendered[desc.APIKeyHeader] = key
			}
		} else {
			// Treated as "no secret available": the call proceeds and
			// typically surfaces as a missing-auth remote error.
			logger.Warn().Str("header", desc.APIKeyHeader).Msg("configured api key could not be decrypted")
		}
	}

	out, _ := template.Render(tmpl, vars, logger).(map[string]any)
	for name, value := range out {
		if s, ok := value.(string); ok {
			rendered[name] = s
		}
	}
	return rendered
}

type upstreamResponse struct {
	status int
	body   []byte
}

// dispatch performs the HTTP call with bounded retry. Server-side (5xx) and
// transport errors retry with exponential backoff; 4xx returns immediately.
func (e *Executor) dispatch(ctx context.Context, desc *Descriptor, body map[string]any, headers map[string]string, logger zerolog.Logger) (*upstreamResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= desc.RetryAttempts; attempt++ {
		if attempt > 0 {
			metrics.ServiceCallRetries.WithLabelValues(desc.Type).Inc()
			// Base delay doubles per attempt: 1s, 2s, 4s, ...
			delay := e.backoffBase << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := e.attempt(ctx, desc, body, headers)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				// Caller went away; no point retrying.
				return nil, err
			}
			logger.Debug().Err(err).Int("attempt", attempt).Msg("upstream attempt failed")
			continue
		}
		if resp.status >= 500 && attempt < desc.RetryAttempts {
			logger.Debug().Int("status", resp.status).Int("attempt", attempt).Msg("upstream server error, retrying")
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// attempt performs one upstream call under the descriptor's timeout.
func (e *Executor) attempt(ctx context.Context, desc *Descriptor, body map[string]any, headers map[string]string) (*upstreamResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(desc.TimeoutSeconds)*time.Second)
	defer cancel()

	method := strings.ToUpper(desc.HTTPMethod)
	target := desc.URL()

	var reqBody io.Reader
	if method == http.MethodGet {
		// GET carries the rendered parameters in the query string.
		if len(body) > 0 {
			q := url.Values{}
			for k, v := range body {
				q.Set(k, queryValue(v))
			}
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + q.Encode()
		}
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(callCtx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &upstreamResponse{status: resp.StatusCode, body: data}, nil
}

// reshape parses the upstream body as JSON (raw text fallback) and applies
// the response mapping when one is configured.
func (e *Executor) reshape(desc *Descriptor, body []byte, logger zerolog.Logger) any {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = map[string]any{"raw_response": string(body)}
	}

	if desc.ResponseMapping == nil {
		return parsed
	}
	return template.Render(desc.ResponseMapping, map[string]any{"response": parsed}, logger)
}

func queryValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
		return fmt.Sprintf("%g", value)
	case bool:
		return fmt.Sprintf("%t", value)
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(encoded)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
