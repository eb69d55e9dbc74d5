package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gorillahandlers "github.com/gorilla/handlers"
	"github.com/medreq/apiserver/config"
	"github.com/medreq/apiserver/internal/db"
	"github.com/medreq/apiserver/internal/handlers"
	"github.com/medreq/apiserver/internal/mq"
	"github.com/medreq/apiserver/internal/services"
	"github.com/medreq/apiserver/internal/storage"
	"github.com/medreq/apiserver/internal/store"
)

// Server wraps the HTTP server and the resources behind it.
type Server struct {
	httpServer *http.Server
	resources  closers
}

// closers releases opened resources, newest first.
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dependencies are the services the router exposes.
type Dependencies struct {
	Sessions       *services.SessionManager
	Codec          *handlers.SessionCodec
	Requests       *services.RequestService
	Stager         *services.DocumentStager
	MaxUploadBytes int64
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	codec, err := handlers.NewSessionCodec(cfg.Session)
	if err != nil {
		return nil, err
	}

	var opened closers
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opened.add(dbConn.Close)

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = opened.close()
		return nil, err
	}
	opened.add(objects.Close)

	broker, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = opened.close()
		return nil, err
	}
	var events services.EventPublisher
	if broker != nil {
		opened.add(broker.Close)
		events = mq.NewEventPublisher(broker, cfg.MQ.Channel)
	}

	userRepo := store.NewUserRepository(dbConn)
	requestRepo := store.NewRequestRepository(dbConn)

	sessions := services.NewSessionManager(userRepo)
	stager := services.NewDocumentStager(objects, cfg.Storage.MaxBytes)
	requests := services.NewRequestService(requestRepo, stager, events)

	router := NewRouter(Dependencies{
		Sessions:       sessions,
		Codec:          codec,
		Requests:       requests,
		Stager:         stager,
		MaxUploadBytes: cfg.Storage.MaxBytes,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      cors(cfg.CORS.AllowedOrigins)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server configured",
		"port", port,
		"storage", cfg.Storage.Backend,
		"bucket", objects.Bucket(),
		"mq", cfg.MQ.Backend,
	)

	return &Server{
		httpServer: httpServer,
		resources:  opened,
	}, nil
}

// NewRouter builds the chi router for deps.
func NewRouter(deps Dependencies) *chi.Mux {
	requireSession := handlers.RequireSession(deps.Sessions, deps.Codec)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, deps.Sessions, deps.Codec, requireSession)
	})
	router.Route("/documents", func(r chi.Router) {
		handlers.DocumentRouter(r, deps.Stager, deps.MaxUploadBytes, requireSession)
	})
	router.Route("/requests", func(r chi.Router) {
		handlers.RequestRouter(r, deps.Requests, deps.Stager, deps.MaxUploadBytes, requireSession)
	})
	return router
}

func cors(origins []string) func(http.Handler) http.Handler {
	return gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(origins),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		gorillahandlers.AllowCredentials(),
	)
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	slog.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the broker, the
// storage client and the database pool.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if cerr := s.resources.close(); cerr != nil {
		slog.Warn("failed to release resources", "error", cerr)
	}
	return err
}
