// Package server wires services, handlers, middleware and routes, and owns
// the HTTP lifecycle.
//
// COMPOSITION ROOT:
// main.go opens the store and builds the logger; New builds everything else
// from them:
//
//	Store → Recorder, Notifier → PointsEngine → services → handlers → routes
//
// Each layer only receives what it needs. Handlers never see the store and
// services never see HTTP.
package server

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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/waste-rewards/internal/auth"
	"github.com/sakif/waste-rewards/internal/config"
	"github.com/sakif/waste-rewards/internal/handler"
	"github.com/sakif/waste-rewards/internal/jobs"
	"github.com/sakif/waste-rewards/internal/middleware"
	"github.com/sakif/waste-rewards/internal/repository"
	"github.com/sakif/waste-rewards/internal/service"
)

// Server is the HTTP front of the ledger. It does not own the store;
// whoever opened it closes it.
type Server struct {
	router    *chi.Mux
	config    *config.Config
	logger    *slog.Logger
	tokens    *auth.TokenService // nil when auth is disabled
	limiter   *middleware.RateLimiter
	scheduler *jobs.ReconcileScheduler
}

// New builds the router and the reconcile scheduler. Nothing is started.
func New(cfg *config.Config, logger *slog.Logger, store repository.Store) (*Server, error) {
	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		limiter: middleware.NewRateLimiter(cfg.RateLimitPerMinute),
	}

	if cfg.JWTSecret != "" {
		tokens, err := auth.NewTokenService(cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("creating token service: %w", err)
		}
		s.tokens = tokens
	}

	recorder := service.NewRecorder(store, logger)
	notifier := service.NewNotifier(store, logger)
	engine := service.NewPointsEngine(store, recorder, notifier, logger, service.EngineOptions{
		TxTimeout:   cfg.TxTimeout,
		MaxAttempts: cfg.TxMaxAttempts,
	})

	if cfg.ReconcileSchedule != "" {
		scheduler, err := jobs.NewReconcileScheduler(cfg.ReconcileSchedule, recorder, logger)
		if err != nil {
			return nil, err
		}
		s.scheduler = scheduler
	}

	s.setupRoutes(routeHandlers{
		ledger:        handler.NewLedgerHandler(engine, recorder, logger),
		reports:       handler.NewReportHandler(service.NewReportService(engine, store, logger), logger),
		notifications: handler.NewNotificationHandler(notifier, logger),
		rewards:       handler.NewRewardHandler(service.NewCatalogService(store, logger), logger),
		users:         handler.NewUserHandler(service.NewUserService(store, logger), logger),
	})
	return s, nil
}

type routeHandlers struct {
	ledger        *handler.LedgerHandler
	reports       *handler.ReportHandler
	notifications *handler.NotificationHandler
	rewards       *handler.RewardHandler
	users         *handler.UserHandler
}

// setupRoutes configures middleware and routes.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz
//	GET    /api/rewards                          catalog (public)
//	GET    /api/rewards/{rewardID}
//	POST   /api/users                            register            [service]
//	GET    /api/users?email=                     lookup              [service]
//	GET    /api/users/{userID}                                       [owner]
//	GET    /api/users/{userID}/balance                               [owner]
//	POST   /api/users/{userID}/awards            grant points        [service]
//	POST   /api/users/{userID}/redemptions                           [owner]
//	GET    /api/users/{userID}/transactions      oldest first        [owner]
//	GET    /api/users/{userID}/transactions/audit                    [owner]
//	POST   /api/users/{userID}/reports           report + 10 points  [owner]
//	GET    /api/users/{userID}/reports                               [owner]
//	GET    /api/users/{userID}/notifications?unread=true             [owner]
//	PATCH  /api/users/{userID}/notifications/{notificationID}/read   [owner]
//
// [owner] means the token subject is {userID}, or the token has the service
// role. Every POST and PATCH is rate limited per client.
//
// MIDDLEWARE ORDER MATTERS:
// RequestID first so the logger sees it; RealIP before the rate limiter so
// it keys on the client, not the proxy; Recoverer outermost of ours so a
// panic in any handler still produces a logged 500.
func (s *Server) setupRoutes(h routeHandlers) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", chimiddleware.RequestIDHeader},
		ExposedHeaders:   []string{"Retry-After", chimiddleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/rewards", h.rewards.HandleList)
		r.Get("/rewards/{rewardID}", h.rewards.HandleGet)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(auth.RoleService))
				r.With(s.limiter.Middleware).Post("/users", h.users.HandleRegister)
				r.Get("/users", h.users.HandleLookup)
			})

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Use(s.requireOwner)

				r.Get("/", h.users.HandleGet)
				r.Get("/balance", h.ledger.HandleBalance)
				r.Get("/transactions", h.ledger.HandleHistory)
				r.Get("/transactions/audit", h.ledger.HandleAudit)
				r.Get("/reports", h.reports.HandleList)
				r.Get("/notifications", h.notifications.HandleList)

				r.Group(func(r chi.Router) {
					r.Use(s.limiter.Middleware)
					r.With(s.requireRole(auth.RoleService)).Post("/awards", h.ledger.HandleAward)
					r.Post("/redemptions", h.ledger.HandleRedeem)
					r.Post("/reports", h.reports.HandleSubmit)
					r.Patch("/notifications/{notificationID}/read", h.notifications.HandleMarkRead)
				})
			})
		})
	})
}

// The auth wrappers are pass-throughs when no JWT secret is configured.

func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.tokens == nil {
		return next
	}
	return auth.RequireAuth(s.tokens)(next)
}

func (s *Server) requireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s.tokens == nil {
			return next
		}
		return auth.RequireRole(role)(next)
	}
}

func (s *Server) requireOwner(next http.Handler) http.Handler {
	if s.tokens == nil {
		return next
	}
	return auth.RequireUserParam("userID")(next)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections.
//  2. Let in-flight requests finish, up to ShutdownTimeout. An atomic unit
//     cut off here rolls back in full.
//  3. Stop the reconcile scheduler, waiting for a running audit.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if s.scheduler != nil {
		s.scheduler.Start()
		defer s.scheduler.Stop()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("driver", s.config.DBDriver),
			slog.Bool("auth", s.tokens != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
