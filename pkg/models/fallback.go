package models

import (
	"encoding/json"
	"net/http"
)

// FallbackRequest describes one logical outbound call. Transports must not
// mutate it.
type FallbackRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// TransportResponse is the raw reply of a single transport attempt.
type TransportResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// FallbackResponse is the normalized result handed back to callers,
// regardless of which transport served the request.
type FallbackResponse struct {
	Success   bool            `json:"success"`
	Status    int             `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Transport string          `json:"transport,omitempty"`
}

// SendResult is the outcome of a retried send.
type SendResult struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Err      error           `json:"-"`
	Attempts int             `json:"attempts"`
}
