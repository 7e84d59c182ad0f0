// Package forward performs the gateway's outbound backend calls.
//
// One inbound request maps to exactly one outbound attempt — no retry, no
// failover. Every transport-level failure (refused connection, DNS, timeout,
// TLS) collapses into a single *TransportError; distinguishing the subtypes
// is deliberately left to the diagnostic string.
//
// The HTTP client is injected so the dispatch layer can be tested with a
// substitute transport, and so the process-wide connection pool is
// constructed exactly once at startup.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/nodegrid/inference-gateway/internal/registry"
)

// TransportError reports a failure to deliver a request to, or read a status
// line from, a backend target. Backend-reported HTTP errors (4xx/5xx) are not
// transport errors — they come back as a normal BackendReply.
type TransportError struct {
	// Backend is the operator-facing target name, e.g. "llm-node".
	Backend string
	// Err is the underlying transport failure.
	Err error
}

// Error formats the diagnostic exactly as it appears in the client-facing
// 502 payload: "<backend> unreachable: <detail>".
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendReply is a successful relay outcome: whatever status, content type
// and body the backend produced, untouched.
type BackendReply struct {
	// StatusCode is the backend's HTTP status, passed through verbatim.
	StatusCode int

	// ContentType is the backend's Content-Type header, "" when absent.
	// The call site supplies the type-specific default.
	ContentType string

	// ContentLength is the advertised body length, -1 when unknown.
	ContentLength int64

	// Body streams the backend payload. It is consumed once and must be
	// closed on every exit path; handing it to fasthttp's body stream writer
	// counts, since fasthttp closes io.Closer streams after writing.
	Body io.ReadCloser
}

// Forwarder issues one outbound call per inbound request.
type Forwarder interface {
	Forward(ctx context.Context, target registry.Target, body []byte) (*BackendReply, error)
}

// HTTPForwarder is the production Forwarder backed by a shared *http.Client.
// The client (and its connection pool) is safe for arbitrary concurrent use.
type HTTPForwarder struct {
	client *http.Client
}

// NewHTTPForwarder wraps the given client. A nil client falls back to a
// client with default transport settings and no timeout.
func NewHTTPForwarder(client *http.Client) *HTTPForwarder {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPForwarder{client: client}
}

// Forward POSTs body as JSON to the target and returns the backend's reply.
// Any error surfaces as a *TransportError named after the target; cancelling
// ctx abandons the in-flight call and releases its connection.
func (f *HTTPForwarder) Forward(ctx context.Context, target registry.Target, body []byte) (*BackendReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Backend: target.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{Backend: target.Name, Err: err}
	}

	return &BackendReply{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}
