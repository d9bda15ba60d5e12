// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnolamide/echo-mcp-server/internal/vault"
)

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	v, err := vault.New(key, zerolog.Nop())
	require.NoError(t, err)
	return v
}

func testExecutor(t *testing.T) *Executor {
	t.Helper()
	e := NewExecutor(testVault(t), zerolog.Nop())
	e.backoffBase = time.Millisecond
	return e
}

func testDescriptor(baseURL string) *Descriptor {
	return &Descriptor{
		Name:        "rides",
		Type:        "delivery",
		APIBaseURL:  baseURL,
		APIEndpoint: "/v1/estimate",
		HTTPMethod:  "POST",
		RequestTemplate: map[string]any{
			"pickup": map[string]any{
				"lat": "{{pickup_lat}}",
				"lng": "{{pickup_lng}}",
			},
		},
		TimeoutSeconds: 5,
		RetryAttempts:  0,
		IsActive:       true,
	}
}

func TestExecuteMissingParametersNoCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	e := testExecutor(t)
	res := e.Execute(context.Background(), testDescriptor(srv.URL), map[string]any{"pickup_lat": 40.7})

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrorKindValidation, res.Error.Kind)
	assert.Equal(t, []string{"pickup_lng"}, res.Error.MissingParameters)
	assert.Equal(t, int32(0), calls.Load(), "no network call on validation failure")
}

func TestExecuteSuccessWithResponseMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"driver":{"name":"Alice"},"eta_minutes":12}`))
	}))
	defer srv.Close()

	desc := testDescriptor(srv.URL)
	desc.ResponseMapping = map[string]any{
		"driver_name": "{{response.driver.name}}",
		"eta":         "{{response.eta_minutes}}",
	}

	e := testExecutor(t)
	res := e.Execute(context.Background(), desc, map[string]any{"pickup_lat": 40.7, "pickup_lng": -74.0})

	require.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	data := res.Data.(map[string]any)
	assert.Equal(t, "Alice", data["driver_name"])
	assert.Equal(t, "12", data["eta"])
	assert.GreaterOrEqual(t, res.ExecutionTimeMS, int64(0))
}

func TestExecuteRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	desc := testDescriptor(srv.URL)
	desc.RetryAttempts = 2

	e := testExecutor(t)
	res := e.Execute(context.Background(), desc, map[string]any{"pickup_lat": 1, "pickup_lng": 2})

	assert.True(t, res.Success)
	assert.Equal(t, int32(3), calls.Load(), "500, 500, then 200")
}

func TestExecuteClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"no such thing"}`))
	}))
	defer srv.Close()

	desc := testDescriptor(srv.URL)
	desc.RetryAttempts = 3

	e := testExecutor(t)
	res := e.Execute(context.Background(), desc, map[string]any{"pickup_lat": 1, "pickup_lng": 2})

	assert.False(t, res.Success)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrorKindRemoteClient, res.Error.Kind)
}

func TestExecuteServerErrorRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	desc := testDescriptor(srv.URL)
	desc.RetryAttempts = 2

	e := testExecutor(t)
	res := e.Execute(context.Background(), desc, map[string]any{"pickup_lat": 1, "pickup_lng": 2})

	assert.False(t, res.Success)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, ErrorKindRemoteServer, res.Error.Kind)
}

func TestExecuteTransportErrorKind(t *testing.T) {
	// Nothing listens here.
	desc := testDescriptor("http://127.0.0.1:1")

	e := testExecutor(t)
	res := e.Execute(context.Background(), desc, map[string]any{"pickup_lat": 1, "pickup_lng": 2})

	assert.False(t, res.Success)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, ErrorKindTransport, res.Error.Kind)
}

func TestExecuteGETSendsQueryParameters(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	desc := testDescriptor(srv.URL)
	desc.HTTPMethod = "GET"
	desc.RequestTemplate = map[string]any{"q": "{{query}}", "limit": "{{limit}}"}

	e := testExecutor(t)
	res := e.Execute(context.Background(), desc, map[string]any{"query": "pizza", "limit": 5})

	assert.True(t, res.Success)
	assert.Contains(t, gotQuery, "q=pizza")
	assert.Contains(t, gotQuery, "limit=5")
}

func TestExecuteAPIKeyHeaderRendered(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	v := testVault(t)
	encrypted, err := v.Encrypt("sk-live-42")
	require.NoError(t, err)

	desc := testDescriptor(srv.URL)
	desc.EncryptedAPIKey = encrypted
	desc.APIKeyHeader = "Authorization"
	desc.HeadersTemplate = map[string]any{"Authorization": "Bearer {{api_key}}"}

	e := NewExecutor(v, zerolog.Nop())
	e.backoffBase = time.Millisecond
	res := e.Execute(context.Background(), desc, map[string]any{"pickup_lat": 1, "pickup_lng": 2})

	assert.True(t, res.Success)
	assert.Equal(t, "Bearer sk-live-42", gotAuth)
}

func TestExecuteUndecryptableKeyProceedsWithoutHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Api-Key")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	desc := testDescriptor(srv.URL)
	desc.EncryptedAPIKey = "stale-blob-from-previous-key"
	desc.APIKeyHeader = "X-Api-Key"

	e := testExecutor(t)
	res := e.Execute(context.Background(), desc, map[string]any{"pickup_lat": 1, "pickup_lng": 2})

	assert.True(t, res.Success, "decryption failure is not a call failure")
	assert.Empty(t, gotAuth)
}

func TestExecuteNonJSONBodyWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text, not json"))
	}))
	defer srv.Close()

	e := testExecutor(t)
	res := e.Execute(context.Background(), testDescriptor(srv.URL), map[string]any{"pickup_lat": 1, "pickup_lng": 2})

	require.True(t, res.Success)
	data := res.Data.(map[string]any)
	assert.Equal(t, "plain text, not json", data["raw_response"])
}

func TestExecuteTimeoutKind(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	desc := testDescriptor(srv.URL)
	desc.TimeoutSeconds = MinTimeoutSeconds

	e := testExecutor(t)
	// Parent deadline far below the descriptor timeout keeps the test fast;
	// the cancellation still surfaces as a timeout kind.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := e.Execute(ctx, desc, map[string]any{"pickup_lat": 1, "pickup_lng": 2})

	assert.False(t, res.Success)
	assert.Equal(t, http.StatusRequestTimeout, res.StatusCode)
	assert.Equal(t, ErrorKindTimeout, res.Error.Kind)
}
