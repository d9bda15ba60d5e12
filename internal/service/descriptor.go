// SPDX-License-Identifier: MIT

// Package service implements admin-configurable external-API proxying: the
// descriptor model an operator authors and the executor that runs calls
// against it.
package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/johnolamide/echo-mcp-server/internal/template"
)

// Operational policy bounds for a descriptor.
const (
	MinTimeoutSeconds = 5
	MaxTimeoutSeconds = 300
	MinRetryAttempts  = 0
	MaxRetryAttempts  = 10
)

var allowedMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {},
}

// Descriptor is an operator-authored specification of one external
// integration. (Name, Type) is unique among active descriptors.
type Descriptor struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	APIBaseURL  string         `json:"api_base_url"`
	APIEndpoint string         `json:"api_endpoint"`
	HTTPMethod  string         `json:"http_method"`

	// RequestTemplate must decode to a JSON object; its {{placeholders}}
	// define the required user-supplied parameters.
	RequestTemplate map[string]any `json:"request_template"`

	// ResponseMapping, when set, is rendered against {"response": body}
	// to reshape the vendor response into a stable contract.
	ResponseMapping map[string]any `json:"response_mapping,omitempty"`

	// HeadersTemplate maps header names to templated values; values may
	// reference {{api_key}}.
	HeadersTemplate map[string]any `json:"headers_template,omitempty"`

	// EncryptedAPIKey is an opaque vault blob, never the plaintext key.
	EncryptedAPIKey string `json:"encrypted_api_key,omitempty"`
	APIKeyHeader    string `json:"api_key_header,omitempty"`

	TimeoutSeconds int  `json:"timeout_seconds"`
	RetryAttempts  int  `json:"retry_attempts"`
	IsActive       bool `json:"is_active"`

	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// URL joins base URL and endpoint. The endpoint is always interpreted as
// rooted at "/".
func (d *Descriptor) URL() string {
	base := strings.TrimRight(d.APIBaseURL, "/")
	endpoint := d.APIEndpoint
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return base + endpoint
}

// RequiredParameters returns the sorted root variable names a caller must
// supply. Only the request template is scanned: a placeholder that appears
// solely in the headers template (other than api_key, which the executor
// synthesizes) is deliberately never validated as required.
func (d *Descriptor) RequiredParameters() []string {
	return template.ExtractVariableNames(d.RequestTemplate)
}

// Validate checks a descriptor's shape before it is stored.
func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("descriptor: name is required")
	}
	if strings.TrimSpace(d.Type) == "" {
		return fmt.Errorf("descriptor: type is required")
	}
	if d.APIBaseURL == "" {
		return fmt.Errorf("descriptor: api_base_url is required")
	}
	if !strings.HasPrefix(d.APIBaseURL, "http://") && !strings.HasPrefix(d.APIBaseURL, "https://") {
		return fmt.Errorf("descriptor: api_base_url must be an absolute http(s) URL")
	}
	method := strings.ToUpper(d.HTTPMethod)
	if _, ok := allowedMethods[method]; !ok {
		return fmt.Errorf("descriptor: http_method %q not allowed", d.HTTPMethod)
	}
	if d.RequestTemplate == nil {
		return fmt.Errorf("descriptor: request_template must be a JSON object")
	}
	if d.TimeoutSeconds < MinTimeoutSeconds || d.TimeoutSeconds > MaxTimeoutSeconds {
		return fmt.Errorf("descriptor: timeout_seconds must be in [%d, %d]", MinTimeoutSeconds, MaxTimeoutSeconds)
	}
	if d.RetryAttempts < MinRetryAttempts || d.RetryAttempts > MaxRetryAttempts {
		return fmt.Errorf("descriptor: retry_attempts must be in [%d, %d]", MinRetryAttempts, MaxRetryAttempts)
	}
	if d.EncryptedAPIKey != "" && d.APIKeyHeader == "" {
		return fmt.Errorf("descriptor: api_key_header is required when an api key is set")
	}
	return nil
}

// Schema describes the parameters a caller must supply, with example values
// for the operator preview.
type Schema struct {
	ServiceName        string            `json:"service_name"`
	ServiceType        string            `json:"service_type"`
	RequiredParameters []string          `json:"required_parameters"`
	ExampleRequest     map[string]any    `json:"example_request"`
	Descriptions       map[string]string `json:"parameter_descriptions"`
}

// Schema derives the caller-facing parameter schema. Example values come
// from naive name sniffing (*lat* gets a latitude float, and so on).
func (d *Descriptor) Schema() Schema {
	required := d.RequiredParameters()
	examples := make(map[string]any, len(required))
	descriptions := make(map[string]string, len(required))
	for _, name := range required {
		examples[name] = exampleValue(name)
		descriptions[name] = fmt.Sprintf("Parameter for %s", name)
	}
	return Schema{
		ServiceName:        d.Name,
		ServiceType:        d.Type,
		RequiredParameters: required,
		ExampleRequest:     examples,
		Descriptions:       descriptions,
	}
}

func exampleValue(name string) any {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "lat"):
		return 40.7128
	case strings.Contains(lower, "lng"), strings.Contains(lower, "lon"):
		return -74.0060
	case strings.Contains(lower, "id"):
		return "example_id_123"
	case strings.Contains(lower, "phone"):
		return "+1234567890"
	case strings.Contains(lower, "email"):
		return "user@example.com"
	default:
		return "example_" + name
	}
}
