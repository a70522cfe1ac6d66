package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/accounts-svc/apiserver/config"
	"github.com/accounts-svc/apiserver/internal/auth"
	"github.com/accounts-svc/apiserver/internal/db"
	"github.com/accounts-svc/apiserver/internal/handlers"
	"github.com/accounts-svc/apiserver/internal/logging"
	"github.com/accounts-svc/apiserver/internal/mail"
	"github.com/accounts-svc/apiserver/internal/mq"
	"github.com/accounts-svc/apiserver/internal/services"
	"github.com/accounts-svc/apiserver/internal/storage"
	"github.com/accounts-svc/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// requestTimeout must stay below writeTimeout.
	requestTimeout = 25 * time.Second
	readTimeout    = 15 * time.Second
	writeTimeout   = 30 * time.Second
	idleTimeout    = 60 * time.Second
)

// Server wraps the HTTP server, its router and the long-lived collaborators
// it has to release on shutdown.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mq         *mq.MQ
	logger     *slog.Logger

	notifier     *services.RecommendationNotifier
	stopNotifier context.CancelFunc
}

// New opens every backend named in cfg and builds the router.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	logger := logging.New(os.Stdout, cfg.LogLevel)

	tokens, err := auth.NewTokenIssuer(cfg.JWT)
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	objects, err := storage.Open(ctx, cfg.Storage, cfg.Timeouts.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	broker, err := mq.Open(ctx, cfg.MQ, cfg.Timeouts.Publish)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("open mq: %w", err)
	}

	userRepo := store.NewUserRepository(dbConn)
	recoveryRepo := store.NewRecoveryRepository(dbConn)
	hasher := auth.NewPasswordHasher(cfg.Password.BcryptCost)
	mailer := mail.NewSMTPMailer(cfg.SMTP, cfg.Timeouts.Email)

	notifier := services.NewRecommendationNotifier(broker, cfg.MQ.Topic, 0, logger)
	notifierCtx, stopNotifier := context.WithCancel(context.Background())
	go notifier.Run(notifierCtx)

	sessionService := services.NewSessionService(userRepo, hasher, tokens, logger)
	profileService := services.NewProfileService(userRepo, hasher, objects, notifier, logger)
	recoveryService := services.NewRecoveryService(userRepo, recoveryRepo, hasher, mailer, cfg.Recovery, logger)

	authHandler := handlers.NewAuthHandler(sessionService, logger)
	userHandler := handlers.NewUserHandler(profileService, logger)
	passwordHandler := handlers.NewPasswordHandler(recoveryService, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logging.RequestLogger(logger),
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/users", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
		handlers.UserRouter(r, userHandler, authHandler.RequireAuth)
		handlers.PasswordRouter(r, passwordHandler, authHandler.RequireAuth)
	})

	return &Server{
		httpServer:   newHTTPServer(cfg.ServerPort, router),
		router:       router,
		db:           dbConn,
		mq:           broker,
		logger:       logger,
		notifier:     notifier,
		stopNotifier: stopNotifier,
	}, nil
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	if port == 0 {
		port = 8080
	}
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, drains pending recommendation events
// and closes the broker and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.stopNotifier()
	select {
	case <-s.notifier.Done():
	case <-ctx.Done():
		s.logger.Warn("notifier did not drain before shutdown deadline")
	}

	if s.mq != nil {
		err = errors.Join(err, s.mq.Close())
	}
	if s.db != nil {
		err = errors.Join(err, s.db.Close())
	}
	return err
}
