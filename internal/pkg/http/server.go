package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cloudqueues-driver/internal/pkg/logger"
)

// InfoFunc reports the driver configuration served on /info.
type InfoFunc func() map[string]any

// NewRouter serves /healthz, /metrics and, when info is non-nil, /info.
func NewRouter(info InfoFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	if info != nil {
		r.Get("/info", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(info()); err != nil {
				logger.Error("Failed to encode info: %s", err)
			}
		})
	}
	return r
}

// StartHTTPServer serves NewRouter(info) on addr until ctx is cancelled.
func StartHTTPServer(ctx context.Context, addr string, info InfoFunc) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(info),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed, error: %s", err.Error())
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down HTTP server...")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			logger.Error("HTTP server shutdown failed, error: %s", err.Error())
		} else {
			logger.Info("HTTP server shut down gracefully")
		}
	}()

	return srv
}
