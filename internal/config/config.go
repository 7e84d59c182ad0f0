// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file, and a .env file is loaded first when
// present.
//
// The gateway runs with zero configuration: the defaults point at the local
// inference stack (llm-node on :9000, tts-node on :9001) and listen on :8080.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Default backend endpoints for a single-host deployment.
const (
	DefaultLLMTarget = "http://localhost:9000/v1/chat/completions"
	DefaultTTSTarget = "http://localhost:9001/v1/audio/speech"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// LLMTarget is the default chat-completion backend endpoint — the target
	// every model resolves to unless a ChatRoutes rule matches first.
	LLMTarget string

	// TTSTarget is the speech-synthesis backend endpoint.
	TTSTarget string

	// ChatRoutes are ordered model-prefix routing rules, each "prefix=url".
	// First match wins; an unmatched model falls back to LLMTarget.
	// Example: CHAT_ROUTES="qwen3-=http://gpu0:9000/v1/chat/completions"
	ChatRoutes []ChatRoute

	// ForwardTimeout bounds each outbound backend call. Zero (the default)
	// imposes no gateway-side timeout beyond the transport's own limits.
	ForwardTimeout time.Duration

	// CORSOrigins is the list of allowed CORS origins.
	// Default ["*"] — the gateway fronts a browser UI on another origin.
	CORSOrigins []string
}

// ChatRoute maps a model-name prefix to a chat backend endpoint.
type ChatRoute struct {
	Prefix string
	URL    string
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LLM_TARGET", DefaultLLMTarget)
	v.SetDefault("TTS_TARGET", DefaultTTSTarget)
	v.SetDefault("CHAT_ROUTES", []string{})
	v.SetDefault("FORWARD_TIMEOUT", "0s")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	routes, err := parseChatRoutes(v.GetStringSlice("CHAT_ROUTES"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:           v.GetInt("PORT"),
		LogLevel:       strings.ToLower(v.GetString("LOG_LEVEL")),
		LLMTarget:      v.GetString("LLM_TARGET"),
		TTSTarget:      v.GetString("TTS_TARGET"),
		ChatRoutes:     routes,
		ForwardTimeout: v.GetDuration("FORWARD_TIMEOUT"),
		CORSOrigins:    v.GetStringSlice("CORS_ORIGINS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT must be in 1..65535, got %d", c.Port)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if err := validateTargetURL("LLM_TARGET", c.LLMTarget); err != nil {
		return err
	}
	if err := validateTargetURL("TTS_TARGET", c.TTSTarget); err != nil {
		return err
	}
	for _, r := range c.ChatRoutes {
		if err := validateTargetURL("CHAT_ROUTES", r.URL); err != nil {
			return err
		}
	}

	if c.ForwardTimeout < 0 {
		return fmt.Errorf("config: FORWARD_TIMEOUT must not be negative")
	}

	return nil
}

// parseChatRoutes parses "prefix=url" entries, preserving order.
func parseChatRoutes(entries []string) ([]ChatRoute, error) {
	routes := make([]ChatRoute, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		prefix, url, ok := strings.Cut(e, "=")
		if !ok || prefix == "" || url == "" {
			return nil, fmt.Errorf(
				"config: invalid CHAT_ROUTES entry %q; expected \"prefix=url\"", e,
			)
		}
		routes = append(routes, ChatRoute{Prefix: prefix, URL: url})
	}
	return routes, nil
}

func validateTargetURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: %s is not a valid URL: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: %s must be an http(s) URL, got %q", key, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("config: %s is missing a host: %q", key, raw)
	}
	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
