package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tukangworks/tukang/internal/config"
	"github.com/tukangworks/tukang/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Handlers     *Handlers
	Metrics      *observability.Metrics
	Ready        observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes — bypass authentication.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Ready))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, observability.Handler())
	}

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	h := deps.Handlers
	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/ui/screens", h.ListScreens)
		r.Get("/ui/screens/{screenId}", h.GetScreen)
		r.Post("/ui/screens/{screenId}/sessions", h.CreateSession)

		r.Route("/ui/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Put("/fields/{fieldKey}", h.SetField)
			r.Put("/selectors/{selectorId}/levels/{level}", h.SelectLevel)
			r.Post("/rows/{sectionId}", h.AddRow)
			r.Delete("/rows/{sectionId}/{index}", h.RemoveRow)
			r.Put("/rows/{sectionId}/{index}/levels/{level}", h.SelectRowLevel)
			r.Put("/rows/{sectionId}/{index}/fields/{fieldKey}", h.SetRowField)
			r.Post("/validate", h.Validate)
			r.Post("/submit", h.Submit)
		})

		r.Get("/ui/lookups/postcode", h.PostcodeLookup)
	})

	return r
}
