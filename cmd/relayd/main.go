package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/thought_relay/internal/api"
	"github.com/austindbirch/thought_relay/internal/archive"
	"github.com/austindbirch/thought_relay/internal/auth"
	"github.com/austindbirch/thought_relay/internal/category"
	"github.com/austindbirch/thought_relay/internal/config"
	"github.com/austindbirch/thought_relay/internal/delivery"
	"github.com/austindbirch/thought_relay/internal/dlq"
	"github.com/austindbirch/thought_relay/internal/health"
	"github.com/austindbirch/thought_relay/internal/logging"
	"github.com/austindbirch/thought_relay/internal/metrics"
	"github.com/austindbirch/thought_relay/internal/relay"
	"github.com/austindbirch/thought_relay/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	// Initialize structured logging
	logger := logging.New("thought-relay")

	// Initialize OpenTelemetry tracing
	shutdown, err := tracing.InitTracing(ctx, "thought-relay")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	// Archive store (nil when driver is "none")
	store, err := archive.Open(ctx, archiveConfig(cfg))
	if err != nil {
		logger.Plain().WithError(err).Fatal("archive open failed")
	}
	if store != nil {
		defer store.Close()
	}

	// Terminal-outcome sinks: the archive takes both results and dead
	// letters; NSQ publishing is opt-in on top.
	var sinks relay.Sinks
	if store != nil {
		writer := archive.NewWriter(store)
		sinks.Recorder = writer
		sinks.DeadLetter = append(sinks.DeadLetter, writer)
	}
	if cfg.DLQ.Publish {
		nsqSink, err := dlq.NewNSQSink(cfg.DLQ.NsqdTCPAddr, cfg.DLQ.Topic, logger)
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq dlq sink creation failed")
		}
		defer nsqSink.Stop()
		sinks.DeadLetter = append(sinks.DeadLetter, nsqSink)
	}

	svc := relay.New(newRelayConfig(cfg), sinks, logger)

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// HTTP: producer API, health, metrics
	mux := http.NewServeMux()
	api.NewServer(svc, logger).Routes(mux)
	mux.HandleFunc("/healthz", health.HTTPHandler(store, svc.SigningMode))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	handler := http.Handler(mux)
	if cfg.Auth.PublicKeyPEM != "" {
		validator, err := auth.NewJWTValidator(cfg.Auth.PublicKeyPEM, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("jwt validator creation failed")
		}
		handler = validator.HTTPMiddleware(mux)
		logger.Plain().WithField("issuer", cfg.Auth.Issuer).Info("bearer auth enabled")
	}

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: handler}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("relay HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("relay HTTP server failed")
		}
	}()

	svc.Start(ctx)
	logger.Plain().WithFields(map[string]any{
		"workers": cfg.Pipeline.MaxConcurrency,
		"signing": svc.SigningMode(),
		"archive": cfg.Archive.Driver,
	}).Info("relay service started")

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down relay service")
	svc.Stop()
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("relay service stopped")
}

// newRelayConfig maps the flat environment surface onto the pipeline config.
func newRelayConfig(cfg config.Config) relay.Config {
	dests := make(map[category.Category]delivery.Destination, len(cfg.Destinations))
	for cat, d := range cfg.Destinations {
		dests[cat] = delivery.Destination{URL: d.URL, Token: d.Token}
	}
	return relay.Config{
		Destinations: dests,
		Secrets:      cfg.Secrets,
		Profiles:     cfg.Profiles,

		Workers:       cfg.Pipeline.MaxConcurrency,
		QueueCapacity: cfg.Pipeline.QueueCapacity,
		Retry: delivery.RetryPolicy{
			Base:      cfg.Pipeline.BaseBackoff,
			Max:       cfg.Pipeline.MaxBackoff,
			JitterPct: cfg.Pipeline.JitterPct,
		},

		RateWindow:    cfg.RateLimit.Window,
		RateMax:       cfg.RateLimit.Max,
		SweepInterval: cfg.RateLimit.SweepInterval,

		BreakerThreshold: cfg.Breaker.Threshold,
		BreakerCooldown:  cfg.Breaker.Cooldown,

		MetricsWindow: cfg.MetricsWindow,
		GlobalRate:    cfg.Pipeline.GlobalRate,

		Executor: delivery.ExecutorConfig{
			SignatureHeader: cfg.Webhook.SignatureHeader,
			TimestampHeader: cfg.Webhook.TimestampHeader,
			NonceHeader:     cfg.Webhook.NonceHeader,
			UserAgent:       cfg.UserAgent(),
			Profiles:        cfg.Profiles,
		},
	}
}

// archiveConfig selects the store driver; the postgres DSN is only built when
// that driver is chosen so memory/sqlite deployments need no DB env at all.
func archiveConfig(cfg config.Config) archive.Config {
	ac := archive.Config{
		Driver: cfg.Archive.Driver,
		Path:   cfg.Archive.SQLitePath,
	}
	if strings.EqualFold(strings.TrimSpace(ac.Driver), "postgres") {
		ac.DSN = cfg.DSN()
	}
	return ac
}
