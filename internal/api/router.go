package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/api/handler"
	apimw "github.com/heraldhq/herald/internal/api/middleware"
	"github.com/heraldhq/herald/internal/bus"
	"github.com/heraldhq/herald/internal/credentials"
	"github.com/heraldhq/herald/internal/repository"
	"github.com/heraldhq/herald/internal/service"
	"github.com/heraldhq/herald/internal/tenant"
)

// Deps carries everything the router needs; main assembles it once.
type Deps struct {
	Service  *service.NotificationService
	Sites    repository.SiteRepository
	Resolver *credentials.Resolver
	Bus      *bus.Bus
	Pool     *pgxpool.Pool
	Registry prometheus.Gatherer
	AdminKey string
	Signer   *tenant.SessionSigner
	Logger   *zap.Logger
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RealIP)               // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(4 << 20)) // 4 MB max body, sized for bulk intake
	r.Use(apimw.CorrelationID)        // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(d.Logger))

	// --- handler instances ---
	nh := handler.NewNotificationHandler(d.Service, d.Logger)
	ah := handler.NewAdminHandler(d.Sites, d.Service, d.Resolver, d.Bus, d.Signer, d.Logger)
	hh := handler.NewHealthHandler(d.Pool)

	// --- probes and scrape ---
	r.Get("/healthz", hh.Healthz)
	r.Get("/readyz", hh.Readyz)
	r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))

	// --- tenant surface, API-key authenticated ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(tenant.Authenticate(d.Sites, handler.RespondError, d.Logger))

		// Literal segments must be registered before /{message_id} so chi
		// does not treat "bulk" or "scheduled" as an ID.
		r.Post("/notifications/scheduled/bulk", nh.SubmitScheduledBulk)
		r.Post("/notifications/scheduled", nh.SubmitScheduled)
		r.Post("/notifications/bulk", nh.SubmitBulk)
		r.Post("/notifications", nh.Submit)
		r.Get("/notifications", nh.List)
		r.Get("/notifications/{message_id}", nh.Get)
		r.Get("/notifications/{message_id}/history", nh.History)
		r.Delete("/notifications/{message_id}", nh.Cancel)
	})

	// --- operator surface, admin-key or session authenticated ---
	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(tenant.AuthenticateAdmin(d.AdminKey, d.Signer, handler.RespondError))

		r.Post("/session", ah.CreateSession)

		r.Get("/sites/{site_id}/channels", ah.ListChannelConfigs)
		r.Put("/sites/{site_id}/channels/{channel}", ah.UpsertChannelConfig)
		r.Delete("/sites/{site_id}/channels/{channel}", ah.DeleteChannelConfig)

		r.Get("/sites/{site_id}/notifications/{message_id}", ah.GetNotification)
		r.Get("/sites/{site_id}/notifications/{message_id}/history", ah.GetNotificationHistory)

		r.Get("/dlq/{channel}", ah.DLQ)
		r.Get("/bus", ah.BusSnapshot)
	})

	return r
}
