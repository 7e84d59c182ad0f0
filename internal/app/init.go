package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nodegrid/inference-gateway/internal/forward"
	"github.com/nodegrid/inference-gateway/internal/gateway"
	"github.com/nodegrid/inference-gateway/internal/metrics"
	"github.com/nodegrid/inference-gateway/internal/registry"
	"github.com/nodegrid/inference-gateway/internal/reqlog"
)

// Canonical operator-facing backend names. They appear verbatim in the 502
// diagnostic ("llm-node unreachable: …") so operators can tell the two
// request types apart from responses alone.
const (
	chatBackendName   = "llm-node"
	speechBackendName = "TTS node"
)

// initInfra builds the shared outbound HTTP client.
//
// No client-level timeout is set: http.Client.Timeout covers the full body
// read and would cut off long audio streams. Per-call bounds come from
// FORWARD_TIMEOUT via the forwarding context instead.
func (a *App) initInfra(_ context.Context) error {
	a.httpClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return nil
}

// initRegistry builds the immutable routing tables from configuration.
func (a *App) initRegistry(_ context.Context) error {
	rules := make([]registry.Rule, 0, len(a.cfg.ChatRoutes))
	for _, r := range a.cfg.ChatRoutes {
		rules = append(rules, registry.Rule{
			Prefix: r.Prefix,
			Target: registry.Target{Name: chatBackendName, URL: r.URL},
		})
	}

	a.reg = registry.New(
		registry.Target{Name: chatBackendName, URL: a.cfg.LLMTarget},
		registry.Target{Name: speechBackendName, URL: a.cfg.TTSTarget},
		rules...,
	)

	for _, r := range rules {
		a.log.Info("chat route", slog.String("prefix", r.Prefix), slog.String("target", r.Target.URL))
	}

	return nil
}

// initServices creates the Prometheus registry and the async request logger.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	rl, err := reqlog.New(ctx, a.log)
	if err != nil {
		return err
	}
	a.reqLogger = rl

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	fwd := forward.NewHTTPForwarder(a.httpClient)

	gw := gateway.NewWithOptions(a.baseCtx, a.reg, fwd, gateway.Options{
		Logger:         a.log,
		ForwardTimeout: a.cfg.ForwardTimeout,
		Metrics:        a.prom,
		ReqLog:         a.reqLogger,
		ProbeClient:    a.httpClient,
	})
	gw.SetCORSOrigins(a.cfg.CORSOrigins)

	a.mgmt = &gateway.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}
	a.gw = gw

	return nil
}
