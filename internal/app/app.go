// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra    — the shared outbound HTTP client (connection pool)
//  2. initRegistry — backend routing tables
//  3. initServices — metrics registry, async request logger
//  4. initGateway  — dispatcher + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/nodegrid/inference-gateway/internal/config"
	"github.com/nodegrid/inference-gateway/internal/gateway"
	"github.com/nodegrid/inference-gateway/internal/metrics"
	"github.com/nodegrid/inference-gateway/internal/registry"
	"github.com/nodegrid/inference-gateway/internal/reqlog"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// httpClient is the process-wide outbound pool, built once before the
	// server accepts connections and shared read-only by all requests.
	httpClient *http.Client

	reg       *registry.Registry
	prom      *metrics.Registry
	reqLogger *reqlog.Logger

	mgmt *gateway.ManagementRoutes
	gw   *gateway.Gateway
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"registry", a.initRegistry},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("llm_target", a.cfg.LLMTarget),
		slog.String("tts_target", a.cfg.TTSTarget),
		slog.Int("chat_routes", len(a.cfg.ChatRoutes)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.StartWithRoutes(addr, a.mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times.
func (a *App) Close() {
	if a.gw != nil {
		a.gw.Close()
		a.gw = nil
	}
	if a.reqLogger != nil {
		if err := a.reqLogger.Close(); err != nil {
			a.log.Error("request logger close error", slog.String("error", err.Error()))
		}
		a.reqLogger = nil
	}
	if a.httpClient != nil {
		a.httpClient.CloseIdleConnections()
		a.httpClient = nil
	}
}
