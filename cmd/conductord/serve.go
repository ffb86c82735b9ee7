package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker pools until interrupted",
	Example: `  # Run against a local Redis
  CONDUCTOR_REDIS_URL=redis://localhost:6379/0 conductord serve

  # Run with a config file
  conductord serve --config conductor.yaml`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	a, err := openApp(ctx, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	if err := a.eng.Start(ctx); err != nil {
		a.close(context.Background())
		return err
	}

	var srv *http.Server
	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			snap := a.eng.Status(r.Context())
			w.Header().Set("Content-Type", "application/json")
			if !snap.Healthy() {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(snap)
		})
		srv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
		a.logger.Info("metrics listening", slog.String("addr", a.cfg.Metrics.Addr))
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Conductor.ShutdownTimeout)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	a.close(shutdownCtx)
	return nil
}
