package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"evidencia/internal/config"
	"evidencia/internal/domain"
	"evidencia/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	rateLimitScopeAPI = "api"

	shutdownTimeout = 15 * time.Second
)

type Server struct {
	cfg    config.Config
	r      *gin.Engine
	logger zerolog.Logger

	certify *usecase.Certifier
	verify  *usecase.Verifier
	history *usecase.History

	mediaDir string
	ready    func(ctx context.Context) error
	anchored bool

	rateLimiter       domain.RateLimiter
	rateLimitRequests int
	rateLimitWindow   time.Duration
}

type ServerDeps struct {
	Certify *usecase.Certifier
	Verify  *usecase.Verifier
	History *usecase.History

	// MediaDir is served under /uploads.
	MediaDir string
	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
	// LedgerConfigured is reported by /health.
	LedgerConfigured bool

	RateLimiter domain.RateLimiter
	Logger      zerolog.Logger
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	s := &Server{
		cfg:               cfg,
		r:                 r,
		logger:            deps.Logger.With().Str("component", "http").Logger(),
		certify:           deps.Certify,
		verify:            deps.Verify,
		history:           deps.History,
		mediaDir:          deps.MediaDir,
		ready:             deps.Ready,
		anchored:          deps.LedgerConfigured,
		rateLimiter:       deps.RateLimiter,
		rateLimitRequests: cfg.RateLimitRequests,
		rateLimitWindow:   cfg.RateLimitWindow(),
	}
	r.Use(gin.Recovery(), s.requestLogger(), metricsMiddleware(), corsMiddleware())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/health", s.handleHealth)
	s.r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.mediaDir != "" {
		s.r.GET("/uploads/*filepath", s.handleMedia)
		s.r.HEAD("/uploads/*filepath", s.handleMedia)
	}
	if s.cfg.PublicDir != "" {
		s.r.Static("/public", s.cfg.PublicDir)
	}

	api := s.r.Group("/api", s.rateLimit(rateLimitScopeAPI))
	{
		api.POST("/certify", s.requireAPIKey(), s.handleCertify)
		api.POST("/partner/certify", s.requireAPIKey(), s.handleCertify)
		api.GET("/verify/:id", s.handleVerify)
		api.GET("/history", s.requireAPIKey(), s.handleHistory)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.HTTPAddr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
