package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/longregen/relay/internal/config"
	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/registry"
	"github.com/longregen/relay/pkg/otel"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared global variables
var cfg *config.Config

// newLogger builds the process logger. With an OTLP endpoint configured the
// logger also exports to the collector; otherwise it pretty-prints to
// stderr. The returned shutdown func flushes the exporters and is nil when
// nothing needs flushing.
func newLogger() (*slog.Logger, func(context.Context) error) {
	if cfg.Otel.Endpoint == "" {
		return slog.New(otel.NewPrettyHandler()), nil
	}

	result, err := otel.Init(otel.Config{
		ServiceName:  "relay",
		Environment:  cfg.Otel.Environment,
		OTLPEndpoint: cfg.Otel.Endpoint,
	})
	if err != nil {
		logger := slog.New(otel.NewPrettyHandler())
		logger.Warn("failed to initialize OpenTelemetry, continuing without export", "error", err)
		return logger, nil
	}
	return result.Logger, result.Shutdown
}

// seedDownstream registers the configured downstream servers. A failed
// probe is logged and skipped so one unreachable server cannot block
// startup; it can be re-registered later via the admin endpoint.
func seedDownstream(ctx context.Context, reg *registry.Registry, logger *slog.Logger) {
	for _, seed := range cfg.Downstream {
		kinds := make([]domain.Capability, 0, len(seed.Kind))
		for _, k := range seed.Kind {
			kind, ok := domain.ParseCapability(k)
			if !ok {
				logger.Warn("ignoring unknown capability", "server", seed.ID, "kind", k)
				continue
			}
			kinds = append(kinds, kind)
		}
		if len(kinds) == 0 {
			logger.Warn("skipping downstream server without usable capabilities", "server", seed.ID)
			continue
		}

		server := &domain.RegisteredServer{
			ID:     seed.ID,
			URL:    strings.TrimSuffix(seed.URL, "/"),
			APIKey: seed.APIKey,
			Kind:   kinds,
		}
		if err := reg.Register(ctx, server, ""); err != nil {
			logger.Warn("downstream server registration failed",
				"server", seed.ID, "url", seed.URL, "error", err)
		}
	}
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
