package gateway

import (
	"io"

	"github.com/nodegrid/inference-gateway/internal/forward"
	"github.com/nodegrid/inference-gateway/pkg/apierr"
	"github.com/valyala/fasthttp"
)

// Outbound is the gateway's reply to the client, independent of the HTTP
// transport. Exactly one of Body and Stream is set.
type Outbound struct {
	Status      int
	ContentType string

	// Body holds a synthesized payload (transport-failure diagnostics).
	Body []byte

	// Stream passes a backend payload through without buffering it.
	// Consumed once, not restartable. StreamSize is -1 when unknown.
	Stream     io.ReadCloser
	StreamSize int64
}

// translate maps a forwarding outcome to the outbound response. It is a pure
// function of its inputs:
//
//	reply present → backend status verbatim (out-of-range values fall back
//	                to 200), backend content type or the call-site default,
//	                body passed through untouched
//	err present   → 502 with {"error": "<backend> unreachable: <detail>"}
func translate(reply *forward.BackendReply, err error, defaultContentType string) Outbound {
	if err != nil {
		return Outbound{
			Status:      fasthttp.StatusBadGateway,
			ContentType: "application/json",
			Body:        apierr.Body(err.Error()),
		}
	}

	status := reply.StatusCode
	if status < 100 || status > 599 {
		status = fasthttp.StatusOK
	}

	contentType := reply.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	return Outbound{
		Status:      status,
		ContentType: contentType,
		Stream:      reply.Body,
		StreamSize:  reply.ContentLength,
	}
}

// writeOutbound applies an Outbound to the fasthttp response. Streams are
// handed to fasthttp's body stream writer, which closes them after the last
// byte — or on client disconnect.
func writeOutbound(ctx *fasthttp.RequestCtx, out Outbound) {
	ctx.SetStatusCode(out.Status)
	ctx.SetContentType(out.ContentType)

	if out.Stream != nil {
		size := -1
		if out.StreamSize >= 0 {
			size = int(out.StreamSize)
		}
		ctx.SetBodyStream(out.Stream, size)
		return
	}

	ctx.SetBody(out.Body)
}
