package gateway

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/nodegrid/inference-gateway/internal/metrics"
	"github.com/nodegrid/inference-gateway/internal/registry"
)

const healthProbeInterval = 30 * time.Second
const healthProbeTimeout = 5 * time.Second

// componentStatus holds the last known probe result for one backend.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthChecker probes the registered backend targets in the background and
// exposes the latest results via /health. A backend counts as reachable when
// its host answers HTTP at all — any status code, even a 404, proves the
// transport path; only a transport error marks it down.
type HealthChecker struct {
	targets []registry.Target
	client  *http.Client
	baseCtx context.Context
	metrics *metrics.Registry

	statuses map[string]*componentStatus // keyed by target URL

	startTime time.Time
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and immediately starts background
// probes. The client should be the shared outbound pool.
func NewHealthChecker(
	ctx context.Context,
	targets []registry.Target,
	client *http.Client,
	met *metrics.Registry,
) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		targets:   targets,
		client:    client,
		baseCtx:   ctx,
		metrics:   met,
		statuses:  make(map[string]*componentStatus, len(targets)),
		startTime: time.Now(),
		done:      make(chan struct{}),
	}

	for _, t := range targets {
		hc.statuses[t.URL] = &componentStatus{status: "unknown"}
	}

	// Run the first probe synchronously so health is not "unknown" immediately.
	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// HealthSnapshot is the JSON shape served by GET /health.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Backends      map[string]string `json:"backends"`
}

// Snapshot builds a snapshot from the latest probe results.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	overall := "ok"

	backends := make(map[string]string, len(hc.statuses))
	for u, s := range hc.statuses {
		st := s.get()
		backends[u] = st
		if st != "ok" {
			overall = "degraded"
		}
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Backends:      backends,
	}
}

// Close stops the background probe goroutine.
func (hc *HealthChecker) Close() {
	close(hc.done)
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, t := range hc.targets {
		t := t
		s := hc.statuses[t.URL]
		wg.Add(1)
		go func() {
			defer wg.Done()
			up := hc.reachable(ctx, t.URL)
			if up {
				s.set("ok")
			} else {
				s.set("down")
			}
			if hc.metrics != nil {
				hc.metrics.SetBackendUp(t.URL, up)
			}
		}()
	}
	wg.Wait()
}

// reachable GETs the root of the target's host. The relay endpoints are
// POST-only, so the probe deliberately avoids them — a 404/405 from the
// server still proves the backend process is up.
func (hc *HealthChecker) reachable(ctx context.Context, rawURL string) bool {
	base, err := probeURL(rawURL)
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return false
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// probeURL strips a target URL down to "scheme://host/".
func probeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Path = "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
