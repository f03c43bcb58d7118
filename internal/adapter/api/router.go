package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/V4T54L/schoolpulse/internal/adapter/api/handler"
	"github.com/V4T54L/schoolpulse/internal/adapter/api/middleware"
	"github.com/V4T54L/schoolpulse/internal/domain"
	"github.com/V4T54L/schoolpulse/internal/pkg/config"
	"github.com/V4T54L/schoolpulse/internal/usecase"
)

// Dependencies are the collaborators wired into the public router.
type Dependencies struct {
	Verifier  domain.IdentityVerifier
	Resolver  handler.TenantResolver
	Registry  handler.TenantHealthChecker
	Hub       *usecase.SessionHub
	Publisher handler.EventPublisher
}

// NewRouter creates and configures the main HTTP router.
func NewRouter(cfg *config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)
	r.Use(corsHandler(cfg.CORSOrigins))

	// Handlers
	health := handler.NewHealthHandler(deps.Registry)
	ws := handler.NewWSHandler(deps.Hub, deps.Resolver, logger, handler.WSConfig{
		WriteTimeout: cfg.WSWriteTimeout,
		PongTimeout:  cfg.WSPongTimeout,
		MaxMessage:   cfg.WSMaxMessage,
		InboundRate:  cfg.InboundRate,
		InboundBurst: cfg.InboundBurst,
		DevMode:      cfg.DevMode,
	})
	sse := handler.NewSSEHandler(deps.Hub, deps.Resolver, logger, cfg.DevMode)
	publish := handler.NewPublishHandler(deps.Publisher, logger, cfg.MaxPublishSize)
	tenant := handler.NewTenantHandler(logger, cfg.DevMode)

	// Health check
	r.Get("/health", health.Liveness)
	r.Get("/health/tenants", health.Tenants)

	// Live sessions; anonymous clients land in the shared topic scope
	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(deps.Verifier, logger))
		r.Method(http.MethodGet, "/ws", ws)
		r.Method(http.MethodGet, "/events", sse)
	})

	// Tenant-scoped API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Verifier, logger))
		r.Use(middleware.Tenant(deps.Resolver, logger, cfg.DevMode))
		r.Method(http.MethodGet, "/tenant", tenant)
	})

	// Service-to-service fan-out
	r.With(middleware.ServiceToken(cfg.ServiceToken, logger)).Method(http.MethodPost, "/internal/events", publish)

	return r
}

func corsHandler(origins string) func(http.Handler) http.Handler {
	allowed := strings.Split(origins, ",")
	for i := range allowed {
		allowed[i] = strings.TrimSpace(allowed[i])
	}
	return cors.New(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", middleware.ServiceTokenHeader},
		MaxAge:         300,
	}).Handler
}
