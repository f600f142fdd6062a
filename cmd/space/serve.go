package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-space/config"
	"github.com/wippyai/wasm-space/errors"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics, health and resource reports over HTTP",
		Long: `Keep the host open and serve the admin endpoint.

Endpoints:
  /healthz            liveness and resource count
  /metrics            Prometheus metrics
  /resources          reports of every resource
  /resources/<addr>   report of one resource

Edits to the config file are picked up while serving; log.level applies
immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return g.withHost(cmd, func(h *host) error {
				if addr == "" {
					addr = h.cfg.Telemetry.MetricsAddr
				}
				h.watchConfig()
				return serve(ctx, h, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default telemetry.metrics_addr)")
	return cmd
}

// watchConfig applies config file edits that are safe to change live.
func (h *host) watchConfig() {
	if h.v.ConfigFileUsed() == "" {
		return
	}
	config.Watch(h.v, h.reload, func(err error) {
		h.logger.Warn("config reload rejected", zap.Error(err))
	})
}

func (h *host) reload(cfg config.Config) {
	h.metrics.ConfigReloads.Inc()
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return
	}
	if level != h.level.Level() {
		h.logger.Info("log level changed",
			zap.Stringer("from", h.level.Level()),
			zap.Stringer("to", level))
		h.level.SetLevel(level)
	}
}

func serve(ctx context.Context, h *host, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           adminRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		h.logger.Info("admin endpoint listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.logger.Info("admin endpoint shutting down")
	return srv.Shutdown(shutdownCtx)
}

func adminRouter(h *host) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"resources": h.rt.Registry().Len(),
		})
	})
	r.Handle("/metrics", h.metrics.Handler())
	r.Get("/resources", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, h.rt.Snapshot())
	})
	r.Get("/resources/*", func(w http.ResponseWriter, req *http.Request) {
		rep, err := h.rt.Inspect(chi.URLParam(req, "*"))
		if err != nil {
			writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})
	return r
}

func statusOf(err error) int {
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindMalformedAddress:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
