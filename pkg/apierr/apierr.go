// Package apierr provides the gateway's client-facing JSON error envelope.
//
// The wire format is a flat {"error": "<message>"} object — intentionally
// simpler than the OpenAI nested envelope, matching what the rest of the
// inference stack expects from the gateway.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorResponse is the structured error payload returned to clients.
// Constructed only on gateway-side failures; backend errors pass through
// verbatim and never take this shape.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Body returns the serialized envelope for message.
func Body(message string) []byte {
	data, _ := json.Marshal(ErrorResponse{Error: message})
	return data
}

// Write writes the error envelope to the fasthttp response with the given
// HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(Body(message))
}

// WriteBadRequest writes a 400 with the given diagnostic. Used by the HTTP
// surface for malformed inbound JSON.
func WriteBadRequest(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadRequest, message)
}

// WriteBadGateway writes a 502 with the given diagnostic. Used by the
// response translator when a backend is unreachable.
func WriteBadGateway(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadGateway, message)
}
