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

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-gateway/auth"
	"chat-gateway/gateway"
	"chat-gateway/internal"
	"chat-gateway/observability"
	"chat-gateway/runtime"
	"chat-gateway/runtime/workers"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Gateway terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting so every defer executes before exit.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	// 2. Core components: registry, resolver, metrics, gateway.
	registry := runtime.NewRegistry()
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	tokens := auth.NewTokenManager(config.JWTSecret, config.JWTIssuer, config.AuthTokenDuration)
	resolver, err := auth.NewCachingResolver(
		auth.NewTokenResolver(tokens, logger),
		config.TokenCacheSize,
		config.AuthTokenDuration,
	)
	if err != nil {
		return exitConfig, err
	}

	gw := gateway.New(logger, registry, resolver, metrics, gateway.SessionConfig{
		OutboundBufferSize: config.OutboundBufferSize,
		HandshakeTimeout:   config.HandshakeTimeout,
		WriteTimeout:       config.WriteTimeout,
		PongTimeout:        config.PongTimeout,
		PingInterval:       config.PingInterval,
		MaxFrameSize:       config.MaxFrameSize,
	})

	// 3. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Error (HTTP server & supervisor)
	errChan := make(chan error, 1)

	// 4. Background workers under supervision.
	supervisor := workers.NewSupervisor(logger).
		Add(workers.NewStatsWorker(logger, registry, gw, metrics, config.MetricInterval))
	go supervisor.Run(ctx)

	// 5. HTTP server: realtime endpoint, metrics, health.
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{Addr: address, Handler: mux}

	go func() {
		logger.Info("Starting gateway", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 7. Final Cleanup (Graceful Shutdown)
	// Stop accepting connections, then close live sessions and workers.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown interrupted", "error", err)
	}
	gw.Shutdown(shutdownCtx)
	supervisor.Stop()
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}
