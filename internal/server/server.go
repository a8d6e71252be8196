// Package server implements Argus's HTTP API boundary: the small
// surface mobile clients use to authenticate and manage topic
// subscriptions. It is deliberately thin - the pipeline's real work
// happens in the ingester, the decision pool, and the analysis pool;
// this package only exposes the device-facing slice of it.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"argus/internal/core"
)

// DeviceStore is the storage slice the HTTP API needs: device
// registration and topic subscription management.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, token string) (int64, error)
	Subscribe(ctx context.Context, deviceID int64, topic string, priority core.SubscriptionPriority) error
	Unsubscribe(ctx context.Context, deviceID int64, topic string) error
}

// Config bundles the server's construction-time settings.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	JWTSigningKey  []byte
	Topics         []string // configured topic names, excluding the implicit Alert/Test pair
	CORSEnabled    bool
	CORSOrigins    []string
	RateLimitEnabled bool
}

// Server is the chi-routed HTTP API.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      DeviceStore
	cfg        Config
	log        zerolog.Logger
	validTopics map[string]struct{}
}

// New builds a Server, wiring its middleware and routes but not yet
// listening.
func New(store DeviceStore, cfg Config, log zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		store:  store,
		cfg:    cfg,
		log:    log,
	}

	s.validTopics = map[string]struct{}{
		"Alert": {},
		"Test":  {},
	}
	for _, t := range cfg.Topics {
		s.validTopics[t] = struct{}{}
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.cfg.CORSEnabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	if s.cfg.RateLimitEnabled {
		s.router.Use(middleware.Throttle(100))
	}
}

// requestLogger logs each request at Info with its method, path, status,
// and duration, the way the rest of Argus logs every unit of work through
// zerolog rather than the standard logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("req_id", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/authenticate", s.handleAuthenticate)
	s.router.Post("/status", s.handleStatus)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/subscribe", s.handleSubscribe)
		r.Post("/unsubscribe", s.handleUnsubscribe)
	})
}

// Start blocks serving HTTP until the listener fails or is closed.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
