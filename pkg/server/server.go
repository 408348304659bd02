// Package server exposes the kabunote API over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/kotori-note/kabunote/pkg/app"
	"github.com/kotori-note/kabunote/pkg/metrics"
)

// UserHeader carries the caller's user ID.
const UserHeader = "X-User-ID"

// Config holds server configuration.
type Config struct {
	Listen         string
	AllowedOrigins []string
	// RequestTimeout bounds each request, provider calls included.
	RequestTimeout time.Duration
}

// Server is the kabunote HTTP API.
type Server struct {
	app    *app.App
	cfg    Config
	router *chi.Mux
	log    zerolog.Logger
}

// New creates a Server with all routes registered.
func New(a *app.App, cfg Config, log zerolog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		app:    a,
		cfg:    cfg,
		router: chi.NewRouter(),
		log:    log.With().Str("component", "server").Logger(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(s.cfg.RequestTimeout))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", UserHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/ai", func(r chi.Router) {
		r.With(s.requireUser).Post("/explain", s.handleExplain)
		r.Get("/explain/{code}/{period}", s.handleCachedExplanation)
		r.With(s.requireUser).Get("/usage", s.handleUsage)
		r.Get("/usage/history", s.handleUsageHistory)
	})

	s.router.Route("/stocks", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/popular", s.handlePopular)
		r.Get("/sectors/{sector}", s.handleSector)
		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Post("/search-history", s.handleAddSearch)
			r.Get("/search-history", s.handleSearchHistory)
			r.Post("/bookmarks", s.handleAddBookmark)
			r.Get("/bookmarks", s.handleBookmarks)
			r.Delete("/bookmarks/{code}", s.handleRemoveBookmark)
		})
		r.Get("/{code}/price", s.handlePrice)
		r.Get("/{code}/indicators", s.handleIndicators)
	})

	s.router.Route("/cache", func(r chi.Router) {
		r.Get("/stats", s.handleCacheStats)
		r.Post("/cleanup", s.handleCacheCleanup)
		r.Delete("/{code}", s.handleInvalidate)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", s.cfg.Listen).Msg("kabunote api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Observe(elapsed.Seconds())

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
