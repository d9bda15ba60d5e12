// SPDX-License-Identifier: MIT

package service

// ErrorKind classifies an execution failure. Callers branch on the kind
// instead of parsing messages.
type ErrorKind string

const (
	// ErrorKindValidation: required parameters missing or malformed
	// descriptor; no network call was made.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindTimeout: the upstream did not answer within the
	// descriptor's timeout, after all retries.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindTransport: connection refused, DNS failure and friends,
	// after all retries.
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindRemoteClient: upstream answered 4xx; never retried.
	ErrorKindRemoteClient ErrorKind = "remote_client"
	// ErrorKindRemoteServer: upstream answered 5xx; retries exhausted.
	ErrorKindRemoteServer ErrorKind = "remote_server"
	// ErrorKindInternal: unexpected failure inside the executor.
	ErrorKindInternal ErrorKind = "internal"
)

// CallError is the structured failure payload of an execution.
type CallError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// MissingParameters is set for validation errors.
	MissingParameters []string `json:"missing_parameters,omitempty"`
	// UpstreamBody carries the (possibly reshaped) upstream response for
	// remote errors.
	UpstreamBody any `json:"upstream_body,omitempty"`
}

// Result is the outcome of one proxy call.
type Result struct {
	Success         bool       `json:"success"`
	Data            any        `json:"data,omitempty"`
	Error           *CallError `json:"error,omitempty"`
	StatusCode      int        `json:"status_code"`
	ExecutionTimeMS int64      `json:"execution_time_ms"`
}
