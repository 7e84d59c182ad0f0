// Command backends runs the stand-in inference nodes the gateway fronts.
// They prove the wiring end-to-end without any model weights: the chat node
// echoes the last user message, the TTS node returns a fixed 440 Hz tone.
//
// Each node listens on its own port:
//
//	llm-node (chat completions)  :9000
//	tts-node (speech synthesis)  :9001
//
// Environment overrides:
//
//	PORT_LLM, PORT_TTS — listen ports
//	MOCK_LATENCY_MS    — artificial latency added to every response (default 0)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
)

func envPort(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envLatency() time.Duration {
	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return 0
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	latency := envLatency()

	nodes := []struct {
		name    string
		port    int
		handler http.Handler
	}{
		{"llm-node", envPort("PORT_LLM", 9000), chatMux(latency)},
		{"tts-node", envPort("PORT_TTS", 9001), speechMux(latency)},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	servers := make([]*http.Server, 0, len(nodes))

	for _, n := range nodes {
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", n.port),
			Handler: n.handler,
		}
		servers = append(servers, srv)

		slog.Info("node listening", slog.String("node", n.name), slog.Int("port", n.port))

		wg.Add(1)
		go func(name string, srv *http.Server) {
			defer wg.Done()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("node stopped", slog.String("node", name), slog.String("error", err.Error()))
			}
		}(n.name, srv)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	wg.Wait()
}
