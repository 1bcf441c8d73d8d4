package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sglre6355/gatebot/internal/bot"
	"github.com/sglre6355/gatebot/internal/metrics"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Discord and serve interactions",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	slog.Info("starting gatebot", "version", version)

	m := metrics.New(prometheus.DefaultRegisterer)

	b, err := bot.NewBot(cfg, m)
	if err != nil {
		return err
	}
	b.LoadModules()

	// A panic past this point is a process fault: report it, tear down and exit.
	defer b.Reporter().Guard(func() {
		if err := b.Stop(); err != nil {
			slog.Error("failed to shutdown", "error", err)
		}
	})

	server := startMetricsServer(cfg.MetricsAddr)

	if err := b.Start(); err != nil {
		_ = b.Stop()
		stopMetricsServer(server)
		return fmt.Errorf("failed to start bot: %w", err)
	}

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("received termination signal, shutting down")
	if err := b.Stop(); err != nil {
		slog.Error("failed to shutdown", "error", err)
	}
	stopMetricsServer(server)

	slog.Info("completed bot shutdown")
	return nil
}

func startMetricsServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	return server
}

func stopMetricsServer(server *http.Server) {
	if server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("failed to stop metrics server", "error", err)
	}
}
