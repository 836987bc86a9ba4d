package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hannes/role-anonymizer/src/backend/config"
	"github.com/hannes/role-anonymizer/src/backend/pii"
)

const (
	shutdownTimeout = 30 * time.Second
	cleanupInterval = time.Hour
)

// ModelController is the part of pii.ModelManager the server needs
type ModelController interface {
	pii.DetectorProvider
	IsHealthy() bool
	Info() pii.ModelInfo
	ReloadModel(directory string) error
}

// Server represents the HTTP server
type Server struct {
	config    *config.Config
	masking   *pii.MaskingService
	models    ModelController
	audit     pii.AuditDB
	limiter   *RateLimiter
	sentry    bool
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new server instance. audit may be nil.
func NewServer(cfg *config.Config, masking *pii.MaskingService, models ModelController, audit pii.AuditDB) *Server {
	return &Server{
		config:    cfg,
		masking:   masking,
		models:    models,
		audit:     audit,
		limiter:   NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		sentry:    cfg.Sentry.DSN != "",
		logger:    log.With().Str("component", "server").Logger(),
		startTime: time.Now(),
	}
}

// Routes returns the chi router with all middleware and routes
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.sentry {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}
	if s.config.Logging.LogRequests {
		r.Use(RequestLogger(s.logger))
	}
	r.Use(CORSMiddleware(s.config.Server.CORSOrigins))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.With(RateLimitMiddleware(s.limiter)).Post("/anonymize", s.handleAnonymize)

		r.Get("/model/info", s.handleModelInfo)
		r.Post("/model/reload", s.handleModelReload)

		r.Get("/audit", s.handleAuditList)
		r.Delete("/audit", s.handleAuditClear)
	})

	return r
}

// Run listens on the configured address until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      s.config.Server.RequestTimeout() + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if s.audit != nil && s.config.Database.RetentionHours > 0 {
		go s.cleanupLoop(ctx, time.Duration(s.config.Database.RetentionHours)*time.Hour)
	}

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("detector", s.config.DetectorName).
		Str("audit", s.config.Database.Driver).
		Bool("sentry", s.sentry).
		Msg("server started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

// cleanupLoop removes expired audit entries until ctx is cancelled
func (s *Server) cleanupLoop(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		removed, err := s.audit.CleanupOlderThan(ctx, retention)
		if err != nil {
			s.logger.Warn().Err(err).Msg("audit cleanup failed")
		} else if removed > 0 {
			s.logger.Info().Int64("removed", removed).Msg("audit entries expired")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
