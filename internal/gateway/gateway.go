// Package gateway is the core request dispatcher.
//
// The Gateway receives an OpenAI-compatible request, resolves the backend
// target from the routing key (model name for chat, fixed for speech),
// forwards the JSON body in a single attempt, and translates the outcome
// back to the client — backend replies pass through verbatim, transport
// failures become a 502 with a structured diagnostic.
//
// Key design constraints:
//   - One outbound attempt per request. No retry, no failover, no caching.
//   - Requests are independent units of work; nothing blocks across requests.
//   - The registry and the outbound connection pool are immutable after
//     startup and shared read-only by all in-flight requests.
//   - Backend payloads are streamed through, never fully buffered — the
//     speech path can carry large audio bodies.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nodegrid/inference-gateway/internal/api"
	"github.com/nodegrid/inference-gateway/internal/forward"
	"github.com/nodegrid/inference-gateway/internal/metrics"
	"github.com/nodegrid/inference-gateway/internal/registry"
	"github.com/nodegrid/inference-gateway/internal/reqlog"
	"github.com/nodegrid/inference-gateway/pkg/apierr"
	"github.com/valyala/fasthttp"
)

const (
	routeChat   = "chat"
	routeSpeech = "speech"
)

// Options holds optional tuning parameters for a Gateway. All fields have
// sensible defaults and can be omitted.
type Options struct {
	// Logger is the structured logger for routing decisions and failures.
	// Defaults to slog.Default when nil.
	Logger *slog.Logger

	// ForwardTimeout bounds each outbound backend call. Zero means no
	// gateway-imposed timeout — the transport's own limits apply.
	ForwardTimeout time.Duration

	// Metrics enables Prometheus metrics collection. Nil disables metrics.
	Metrics *metrics.Registry

	// ReqLog is the async per-request log sink. Nil disables request logging
	// (routing decisions are still written via Logger).
	ReqLog *reqlog.Logger

	// ProbeClient enables the background backend health checker. The client
	// should be the same shared outbound pool used for forwarding.
	ProbeClient *http.Client
}

// Gateway dispatches inbound requests to backend inference services.
// All dependencies are injected so they can be replaced with test doubles.
type Gateway struct {
	registry *registry.Registry
	fwd      forward.Forwarder
	health   *HealthChecker
	baseCtx  context.Context
	log      *slog.Logger
	metrics  *metrics.Registry
	reqLog   *reqlog.Logger

	forwardTimeout time.Duration

	// CORS allowed origins. Empty or ["*"] means allow all.
	corsOrigins []string
}

// New creates a Gateway with default settings.
func New(ctx context.Context, reg *registry.Registry, fwd forward.Forwarder) *Gateway {
	return NewWithOptions(ctx, reg, fwd, Options{})
}

// NewWithOptions creates a fully configured Gateway.
func NewWithOptions(ctx context.Context, reg *registry.Registry, fwd forward.Forwarder, opts Options) *Gateway {
	if ctx == nil {
		panic("gateway: context must not be nil")
	}
	if reg == nil {
		panic("gateway: registry must not be nil")
	}
	if fwd == nil {
		panic("gateway: forwarder must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	gw := &Gateway{
		registry:       reg,
		fwd:            fwd,
		baseCtx:        ctx,
		log:            log,
		metrics:        opts.Metrics,
		reqLog:         opts.ReqLog,
		forwardTimeout: opts.ForwardTimeout,
	}

	if opts.ProbeClient != nil {
		gw.health = NewHealthChecker(ctx, reg.Targets(), opts.ProbeClient, opts.Metrics)
	}

	return gw
}

// SetCORSOrigins configures the allowed CORS origins for the gateway.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// Close stops background workers. Safe to call on a gateway without them.
func (g *Gateway) Close() {
	if g.health != nil {
		g.health.Close()
	}
}

// dispatchChat handles POST /v1/chat/completions.
func (g *Gateway) dispatchChat(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	reqBytes := len(ctx.PostBody())

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics == nil {
			return
		}
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP(routeChat, ctx.Response.StatusCode(), time.Since(start), reqBytes)
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	var req api.ChatCompletionRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteBadRequest(ctx, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}

	// The model name is the routing key. No rule match degrades to the
	// default target; resolution never fails. Message content is not
	// validated — empty conversations forward as-is.
	target := g.registry.ResolveChat(req.Model)

	g.log.InfoContext(ctx, "chat_request",
		slog.String("request_id", reqID),
		slog.String("model", req.Model),
		slog.Int("messages", len(req.Messages)),
		slog.String("target", target.URL),
	)

	body, err := json.Marshal(req)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "failed to serialize request")
		return
	}

	g.relay(ctx, routeChat, target, body, "application/json", reqID, req.Model, start)
}

// dispatchSpeech handles POST /v1/audio/speech.
func (g *Gateway) dispatchSpeech(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	reqBytes := len(ctx.PostBody())

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics == nil {
			return
		}
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP(routeSpeech, ctx.Response.StatusCode(), time.Since(start), reqBytes)
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	var req api.SpeechRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteBadRequest(ctx, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}

	target := g.registry.ResolveSpeech()

	g.log.InfoContext(ctx, "speech_request",
		slog.String("request_id", reqID),
		slog.Int("input_chars", len(req.Input)),
		slog.String("voice", strOr(req.Voice)),
		slog.String("format", strOr(req.Format)),
		slog.String("target", target.URL),
	)

	body, err := json.Marshal(req)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "failed to serialize request")
		return
	}

	// Speech replies are audio; the backend's content type wins when present.
	g.relay(ctx, routeSpeech, target, body, "application/octet-stream", reqID, "", start)
}

// relay performs the forward + translate half of a dispatch: one outbound
// attempt, then the outcome written back to the client.
func (g *Gateway) relay(
	ctx *fasthttp.RequestCtx,
	route string,
	target registry.Target,
	body []byte,
	defaultContentType string,
	reqID, model string,
	start time.Time,
) {
	// fasthttp.RequestCtx implements context.Context, so a client disconnect
	// propagates into the outbound call and abandons it.
	fwdCtx := context.Context(ctx)
	var cancel context.CancelFunc
	if g.forwardTimeout > 0 {
		fwdCtx, cancel = context.WithTimeout(fwdCtx, g.forwardTimeout)
	}

	upStart := time.Now()
	reply, err := g.fwd.Forward(fwdCtx, target, body)
	upDur := time.Since(upStart)

	if g.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "transport_error"
		}
		g.metrics.ObserveUpstreamAttempt(target.Name, route, outcome, upDur)
	}

	if err != nil {
		if cancel != nil {
			cancel()
		}
		g.log.ErrorContext(ctx, "backend_unreachable",
			slog.String("request_id", reqID),
			slog.String("route", route),
			slog.String("target", target.URL),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		out := translate(nil, err, defaultContentType)
		writeOutbound(ctx, out)
		g.logRequest(reqID, route, target.Name, model, out.Status, start)
		return
	}

	if cancel != nil {
		// The body is drained by fasthttp after this handler returns, so the
		// timeout context must outlive the handler; tie its release to the
		// stream instead. fasthttp closes the stream on every exit path.
		reply.Body = cancelOnClose{ReadCloser: reply.Body, cancel: cancel}
	}

	out := translate(reply, nil, defaultContentType)
	writeOutbound(ctx, out)

	g.log.DebugContext(ctx, "relay_ok",
		slog.String("request_id", reqID),
		slog.String("route", route),
		slog.String("target", target.URL),
		slog.Int("status", out.Status),
		slog.Duration("elapsed", time.Since(start)),
	)
	g.logRequest(reqID, route, target.Name, model, out.Status, start)
}

// logRequest enqueues a RequestLog entry to the async logger. Never blocks.
func (g *Gateway) logRequest(requestID, route, backend, model string, status int, start time.Time) {
	if g.reqLog == nil {
		return
	}

	reqUUID, _ := uuid.Parse(requestID)

	// Clamp to uint16 max so we don't overflow the field.
	latency := time.Since(start)
	latencyMs := uint16(latency.Milliseconds())
	if latency.Milliseconds() > 65535 {
		latencyMs = 65535
	}

	g.reqLog.Log(reqlog.RequestLog{
		ID:        reqUUID,
		Route:     route,
		Backend:   backend,
		Model:     model,
		Status:    uint16(status),
		LatencyMs: latencyMs,
		CreatedAt: time.Now(),
	})
}

// cancelOnClose releases a context.CancelFunc when the wrapped stream closes.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func strOr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
