// Package api exposes the experimentation engine over HTTP: the
// API-key-authenticated library surface, the JWT-authenticated admin
// surface, and the WebSocket mount for the realtime channel.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/goflagship/experiments/internal/apierr"
	"github.com/goflagship/experiments/internal/audit"
	"github.com/goflagship/experiments/internal/auth"
	"github.com/goflagship/experiments/internal/cache"
	"github.com/goflagship/experiments/internal/config"
	"github.com/goflagship/experiments/internal/distribution"
	"github.com/goflagship/experiments/internal/identity"
	"github.com/goflagship/experiments/internal/notify"
	"github.com/goflagship/experiments/internal/realtime"
	"github.com/goflagship/experiments/internal/store"
	"github.com/goflagship/experiments/internal/telemetry"
	"github.com/goflagship/experiments/internal/webhook"
)

// auditQueueSize is the size of the buffered channel for audit log entries.
const auditQueueSize = 100

// maxAuditExportLimit caps how many audit rows one export request returns.
const maxAuditExportLimit = 10000

type Server struct {
	store    store.Store
	cfg      *config.Config
	auth     *auth.Authenticator
	resolver *identity.Resolver
	dist     *distribution.Service
	hub      *notify.Hub
	realtime *realtime.Manager
	audit    *audit.Service
	webhooks *webhook.Dispatcher
	log      zerolog.Logger
}

// NewServer wires the engine's components around the given Store. The
// webhook dispatcher is started; call Close on shutdown to drain it and
// the audit queue.
func NewServer(s store.Store, cfg *config.Config, log zerolog.Logger) *Server {
	hub := notify.NewHub()
	resolver := identity.New(s)
	dist := distribution.New(s, hub)
	if cfg.CacheEnabled {
		dist.UseCache(cache.NewAssignments(cfg.RedisAddr, log))
	}

	auditSvc := audit.NewService(
		audit.NewStoreSink(s),
		audit.SystemClock{},
		audit.UUIDGenerator{},
		audit.NewDefaultRedactor(),
		auditQueueSize,
		log,
	)
	dispatcher := webhook.NewDispatcher(s, log)
	dispatcher.Start()

	return &Server{
		store:    s,
		cfg:      cfg,
		auth:     auth.NewAuthenticator(cfg.JWTSecret),
		resolver: resolver,
		dist:     dist,
		hub:      hub,
		realtime: realtime.New(s, resolver, dist, hub, log),
		audit:    auditSvc,
		webhooks: dispatcher,
		log:      log.With().Str("component", "api").Logger(),
	}
}

// Close signals the audit worker to flush its queue and stop (without
// waiting for it) and stops the webhook dispatcher.
func (s *Server) Close() error {
	_ = s.audit.Close()
	return s.webhooks.Close()
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(telemetry.Middleware)

	// CORS for browser clients (adjust origins as needed)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Normal routes with timeout + rate limit
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Use(httprate.LimitByIP(s.cfg.RateLimitPerIP, time.Minute))

		r.Get("/healthz", s.handleHealth)

		// Library surface: project API key in X-API-Key or api_key query.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitPerKey, time.Minute))
			r.Use(auth.ProjectKeyMiddleware(s.store, apierr.InvalidAPIKey))
			r.Get("/experiments", s.handleListAssignments)
			r.Get("/experiments/{key}/variant", s.handleGetVariant)
			r.Post("/users/identify", s.handleIdentify)
		})

		// Admin surface: JWT bearer tokens.
		r.Post("/admin/login", s.handleLogin)
		r.Route("/admin", func(r chi.Router) {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitAdminPerKey, time.Minute))
			r.Use(s.auth.Middleware(func(w http.ResponseWriter, req *http.Request) {
				apierr.Unauthorized(w, req, "missing or invalid admin token")
			}))

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", s.handleListProjects)
				r.Post("/", s.handleCreateProject)
				r.Get("/{id}", s.handleGetProject)
				r.Put("/{id}", s.handleUpdateProject)
				r.Delete("/{id}", s.handleDeleteProject)
				r.Post("/{id}/regenerate_api_key", s.handleRegenerateAPIKey)
			})

			r.Route("/experiments", func(r chi.Router) {
				r.Get("/", s.handleListExperiments)
				r.Post("/", s.handleCreateExperiment)
				r.Get("/{id}", s.handleGetExperiment)
				r.Put("/{id}", s.handleUpdateExperiment)
				r.Delete("/{id}", s.handleDeleteExperiment)
				r.Get("/{id}/stats", s.handleExperimentStats)
				r.Post("/{id}/recalculate", s.handleRecalculate)
				r.Post("/{id}/bulk_update_variants", s.handleBulkUpdateVariants)
			})

			r.Route("/variants", func(r chi.Router) {
				r.Get("/", s.handleListVariants)
				r.Post("/", s.handleCreateVariant)
				r.Get("/{id}", s.handleGetVariantAdmin)
				r.Put("/{id}", s.handleUpdateVariant)
				r.Delete("/{id}", s.handleDeleteVariant)
			})

			r.Get("/users", s.handleListUsers)
			r.Get("/distributions", s.handleListDistributions)

			r.Route("/webhooks", func(r chi.Router) {
				r.Get("/", s.handleListWebhooks)
				r.Post("/", s.handleCreateWebhook)
				r.Get("/{id}", s.handleGetWebhook)
				r.Put("/{id}", s.handleUpdateWebhook)
				r.Delete("/{id}", s.handleDeleteWebhook)
				r.Get("/{id}/deliveries", s.handleListWebhookDeliveries)
				r.Post("/{id}/test", s.handleTestWebhook)
			})

			r.Get("/audit-logs", s.handleListAuditLogs)
			r.Get("/audit-logs/export", s.handleExportAuditLogs)
		})
	})

	// Realtime route: no timeout, gentle rate limit on connects.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Get("/ws/experiments/", s.realtime.ServeHTTP)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
