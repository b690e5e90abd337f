package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/locolive/notify/internal/auth"
	"github.com/locolive/notify/internal/middleware"
)

// Router holds all handlers and creates the chi router
type Router struct {
	notificationHandler *NotificationHandler
	channelHandler      *ChannelHandler
	internalHandler     *InternalHandler
	healthHandler       *HealthHandler
	hub                 *Hub
	jwtManager          *auth.JWTManager
	rateLimiter         *middleware.RateLimiter
	internalKey         string
	corsOrigins         []string
	logger              *zap.Logger
}

// RouterDeps lists what the router mounts. RateLimiter may be nil.
type RouterDeps struct {
	Notifications *NotificationHandler
	Channels      *ChannelHandler
	Internal      *InternalHandler
	Health        *HealthHandler
	Hub           *Hub
	JWTManager    *auth.JWTManager
	RateLimiter   *middleware.RateLimiter
	InternalKey   string
	CORSOrigins   []string
	Logger        *zap.Logger
}

// NewRouter creates a new router
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		notificationHandler: deps.Notifications,
		channelHandler:      deps.Channels,
		internalHandler:     deps.Internal,
		healthHandler:       deps.Health,
		hub:                 deps.Hub,
		jwtManager:          deps.JWTManager,
		rateLimiter:         deps.RateLimiter,
		internalKey:         deps.InternalKey,
		corsOrigins:         deps.CORSOrigins,
		logger:              deps.Logger,
	}
}

// Setup configures and returns the chi router
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.logger))
	r.Use(middleware.LoggingMiddleware(rt.logger))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.healthHandler.Health)
		r.Get("/ready", rt.healthHandler.Ready)
		r.Get("/live", rt.healthHandler.Live)
	})

	// Websocket upgrades stay outside compression.
	r.Get("/app/{key}", rt.hub.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORSMiddleware(rt.corsOrigins))
		r.Use(chimiddleware.Compress(5))

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(rt.jwtManager))
			if rt.rateLimiter != nil {
				r.Use(rt.rateLimiter.Limit)
			}

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", rt.notificationHandler.List)
				r.Delete("/", rt.notificationHandler.Clear)
				r.Get("/stats", rt.notificationHandler.Stats)
				r.Post("/read-all", rt.notificationHandler.MarkAllRead)
				r.Put("/device-token", rt.notificationHandler.RegisterDeviceToken)
				r.Post("/{id}/read", rt.notificationHandler.MarkRead)
				r.Delete("/{id}", rt.notificationHandler.Delete)
			})
			r.Post("/broadcasting/auth", rt.channelHandler.Auth)
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.InternalKeyMiddleware(rt.internalKey))
		r.Post("/notifications", rt.internalHandler.Publish)
		r.Post("/tokens", rt.internalHandler.IssueToken)
	})

	return r
}
