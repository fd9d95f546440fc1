package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/memory-hub/internal/auth"
	"github.com/capitalize-ai/memory-hub/internal/middleware"
	natsclient "github.com/capitalize-ai/memory-hub/internal/nats"
	"github.com/capitalize-ai/memory-hub/internal/service"
	"github.com/capitalize-ai/memory-hub/pkg/logger"
)

// RouterConfig wires the bridge.
type RouterConfig struct {
	BaseContext  context.Context
	Conversation *service.Conversation
	Auth         *auth.Session
	Logger       *logger.Logger

	// Optional
	NATS              *natsclient.Client
	Activity          service.ActivityReader
	BridgeToken       string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Heartbeat         time.Duration
}

// NewRouter builds the bridge routes.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}

	healthHandler := NewHealthHandler(cfg.Auth, cfg.NATS)
	chatHandler := NewChatHandler(cfg.BaseContext, cfg.Conversation, cfg.Logger)
	sessionHandler := NewSessionHandler(cfg.Conversation, cfg.Logger)
	stateHandler := NewStateHandler(cfg.Conversation, cfg.Heartbeat, cfg.Logger)
	authHandler := NewAuthHandler(cfg.Conversation, cfg.Auth)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Identity(cfg.Auth))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BridgeToken(cfg.BridgeToken))
		if cfg.RateLimitRequests > 0 && cfg.RateLimitWindow > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Get("/state", stateHandler.Get)
		r.Get("/state/stream", stateHandler.Stream)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/messages", chatHandler.Send)
			r.Post("/new", chatHandler.New)
			r.Post("/cancel", chatHandler.Cancel)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", sessionHandler.Delete)
				r.Post("/open", sessionHandler.Open)
				r.Get("/messages", sessionHandler.Messages)
			})
		})

		r.Post("/auth/signout", authHandler.SignOut)

		if cfg.Activity != nil {
			r.Get("/activity", NewActivityHandler(cfg.Activity, cfg.Logger).List)
		}
	})

	return r
}
