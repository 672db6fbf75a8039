// Package server exposes the stored events over a JSON HTTP API.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sambandhq/samband/internal/backup"
	"github.com/sambandhq/samband/internal/ingest"
	"github.com/sambandhq/samband/internal/ops"
	"github.com/sambandhq/samband/internal/stats"
	"github.com/sambandhq/samband/internal/store"
)

// Options configures the HTTP API.
type Options struct {
	Port int

	// APIKey guards the /api routes via the X-API-Key header. Empty
	// disables authentication.
	APIKey string

	CORSOrigins []string
}

// Server wires the query, stats, ops, refresh, and backup surfaces into
// one router. Handlers never trigger an implicit refresh; POST /api/fetch
// is the only ingestion entry point.
type Server struct {
	store     store.Store
	stats     *stats.Aggregator
	reporter  *ops.Reporter
	refresher *ingest.Refresher

	// backups is nil on the Postgres backend; the endpoint then rejects.
	backups *backup.Manager

	opts Options
}

// New creates a Server. backups may be nil.
func New(st store.Store, agg *stats.Aggregator, rep *ops.Reporter, ref *ingest.Refresher, backups *backup.Manager, opts Options) *Server {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{
		store:     st,
		stats:     agg,
		reporter:  rep,
		refresher: ref,
		backups:   backups,
		opts:      opts,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Get("/events", s.handleListEvents)
		r.Get("/events/raw", s.handleListRawEvents)
		r.Get("/locations", s.handleListLocations)
		r.Get("/types", s.handleListTypes)
		r.Get("/stats", s.handleStats)
		r.Get("/database", s.handleDatabase)
		r.Get("/fetchlog", s.handleFetchLog)
		r.Post("/fetch", s.handleFetch)
		r.Post("/backup", s.handleBackup)
	})

	return r
}

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("http server listening", zap.Int("port", s.opts.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	zap.L().Info("http server stopped")
	return nil
}

// requireAPIKey rejects requests whose X-API-Key header does not match the
// configured key. Comparison is constant-time. An empty configured key
// disables the check.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" {
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.APIKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
