package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kroma-labs/apisdk-go/example/dispatch/internal/config"
	"github.com/kroma-labs/apisdk-go/example/dispatch/internal/telemetry"
	"github.com/kroma-labs/apisdk-go/example/dispatch/internal/upstream"
	"github.com/kroma-labs/apisdk-go/example/dispatch/internal/users"
	"github.com/kroma-labs/apisdk-go/httpclient"
	"github.com/kroma-labs/apisdk-go/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Setup OpenTelemetry (Tracing + Metrics)
	shutdownTelemetry, err := telemetry.Setup(ctx, config.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup otel")
	}
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdown); err != nil {
			log.Error().Err(err).Msg("telemetry shutdown error")
		}
	}()

	// 2. Start Prometheus Metrics Server
	metrics, err := resilience.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register resilience metrics")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: config.MetricsPort, Handler: mux}
	go func() {
		log.Info().Str("addr", config.MetricsPort).Msg("starting prometheus metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	// 3. Start two upstream instances
	for name, addr := range map[string]string{"a": config.UpstreamAddrA, "b": config.UpstreamAddrB} {
		go func() {
			if err := upstream.New(name).ListenAndServe(ctx, addr); err != nil {
				log.Fatal().Err(err).Str("upstream", name).Msg("upstream failed")
			}
		}()
	}

	// 4. Build the client
	client, err := users.New([]string{
		"http://" + config.UpstreamAddrA,
		"http://" + config.UpstreamAddrB,
	}, metrics, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build client")
	}
	defer client.Close()

	stats := client.PoolStats()
	log.Info().
		Int("max_idle", stats.MaxIdleConns).
		Int("max_idle_per_host", stats.MaxIdleConnsPerHost).
		Int("max_per_host", stats.MaxConnsPerHost).
		Dur("idle_timeout", stats.IdleConnTimeout).
		Msg("connection pool")

	// 5. Call the upstream in a loop
	tracer := otel.Tracer("example-app")
	ticker := time.NewTicker(config.OperationInterval)
	defer ticker.Stop()

	fmt.Println("Dispatch example started")
	fmt.Println("Prometheus metrics: http://localhost:2112/metrics")
	fmt.Println("Press Ctrl+C to stop...")

	for {
		select {
		case <-ticker.C:
			ctx, span := tracer.Start(ctx, "user-operations")
			runOnce(ctx, client)
			span.End()

		case <-ctx.Done():
			fmt.Println("\nShutting down gracefully...")
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdown); err != nil {
				log.Error().Err(err).Msg("metrics server shutdown error")
			}
			return
		}
	}
}

func runOnce(ctx context.Context, client *users.Client) {
	created, err := client.Create(ctx, "Carol", "carol@example.com")
	if err != nil {
		log.Error().Err(err).Msg("create user failed")
	} else {
		log.Info().Int("id", created.ID).Msg("created user")
	}

	if user, err := client.Get(ctx, 1); err != nil {
		log.Error().Err(err).Msg("get user failed")
	} else {
		log.Info().Str("name", user.Name).Msg("fetched user")
	}

	if _, err := client.Get(ctx, 999); err != nil {
		if code, msg, ok := httpclient.IsBusinessError(err); ok {
			log.Info().Int64("code", code).Str("message", msg).Msg("expected business error")
		} else {
			log.Error().Err(err).Msg("get missing user failed")
		}
	}

	env, err := client.Flaky(ctx)
	if err != nil {
		log.Warn().Err(err).Str("kind", httpclient.KindOf(err).String()).Msg("flaky call failed")
		return
	}
	answeredBy, _ := env.Header("X-Upstream")
	log.Info().Str("upstream", answeredBy).Str("request_id", env.RequestID()).Msg("flaky call succeeded")
}
