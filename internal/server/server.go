package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prepbolt/apiserver/config"
	"github.com/prepbolt/apiserver/internal/handlers"
	"github.com/prepbolt/apiserver/internal/live"
	"github.com/prepbolt/apiserver/internal/sweeper"
	"github.com/prepbolt/apiserver/types"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server, router and background sweeper.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	deps       *Deps
	sweeper    *sweeper.Sweeper
	logger     *slog.Logger
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	jwtSecret := strings.TrimSpace(cfg.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	deps, err := OpenDeps(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	hub := live.NewHub(logger.With("component", "live"))
	svcs := deps.Services(cfg, hub, logger)
	hub.SetLeaderboardSource(func(ctx context.Context, id int) (types.Leaderboard, error) {
		return svcs.Challenges.GetLeaderboard(ctx, types.Actor{}, id)
	})

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
			MaxAge:         300,
		}),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		handlers.AuthRouter(r, svcs.Users, jwtSecret)
	})
	router.Route("/questions", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		handlers.QuestionRouter(r, svcs.Questions, svcs.Users, handlers.RequireAuth(jwtSecret))
	})
	router.Route("/challenges", func(r chi.Router) {
		handlers.ChallengeRouter(r, svcs.Challenges, hub, jwtSecret)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		deps:       deps,
		sweeper:    sweeper.New(svcs.Challenges, cfg.Challenge.SweepInterval, cfg.Challenge.SweepAutoStart, logger),
		logger:     logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP and runs the sweeper until ctx is done or either fails,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if closeErr := s.deps.Close(); closeErr != nil {
		s.logger.Warn("closing backends failed", "error", closeErr)
	}
	s.logger.Info("server stopped")
	return err
}

// Start runs the server until the process is stopped.
func (s *Server) Start() error {
	return s.Run(context.Background())
}

// Shutdown stops the HTTP server immediately and releases backends.
func (s *Server) Shutdown() error {
	err := s.httpServer.Close()
	return errors.Join(err, s.deps.Close())
}
