package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/calibermed/clinic-crm/internal/http/handlers"
	httpmiddleware "github.com/calibermed/clinic-crm/internal/http/middleware"
	"github.com/calibermed/clinic-crm/internal/leads"
	"github.com/calibermed/clinic-crm/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	RoutingHandler *handlers.RoutingHandler
	LeadsHandler   *leads.Handler
	MetricsHandler http.Handler

	AdminAuthSecret    string
	CORSAllowedOrigins []string

	// Lead intake rate limiting. Zero disables the limiter.
	IntakeRatePerSecond float64
	IntakeBurst         int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}

		if cfg.LeadsHandler != nil {
			public.Route("/leads", func(r chi.Router) {
				if cfg.IntakeRatePerSecond > 0 {
					r.Use(httpmiddleware.RateLimit(cfg.IntakeRatePerSecond, cfg.IntakeBurst))
				}
				r.Post("/", cfg.LeadsHandler.CreateLead)
				r.Get("/{leadID}", cfg.LeadsHandler.GetLead)
			})
		}

		if cfg.RoutingHandler != nil {
			public.Route("/routing", func(r chi.Router) {
				r.Post("/route", cfg.RoutingHandler.Route)
				r.Get("/agents", cfg.RoutingHandler.ListAgents)
				r.Get("/agents/{agentID}", cfg.RoutingHandler.GetAgent)
				r.Get("/queues", cfg.RoutingHandler.ListQueues)
				r.Get("/queues/{queueID}", cfg.RoutingHandler.GetQueue)
				r.Get("/tasks/{taskID}/position", cfg.RoutingHandler.GetTaskPosition)
				r.Post("/triage/preview", cfg.RoutingHandler.PreviewTriage)
			})
		}
	})

	// Admin routes (protected by JWT)
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

			if cfg.LeadsHandler != nil {
				admin.Get("/leads", cfg.LeadsHandler.ListLeads)
			}

			if cfg.RoutingHandler != nil {
				admin.Route("/routing", func(r chi.Router) {
					r.Put("/agents", cfg.RoutingHandler.UpsertAgent)
					r.Delete("/agents/{agentID}", cfg.RoutingHandler.RemoveAgent)
					r.Patch("/agents/{agentID}/availability", cfg.RoutingHandler.SetAvailability)
					r.Post("/agents/{agentID}/release", cfg.RoutingHandler.ReleaseAgent)
					r.Get("/rules", cfg.RoutingHandler.ListRules)
					r.Put("/rules", cfg.RoutingHandler.UpsertRule)
					r.Delete("/rules/{ruleID}", cfg.RoutingHandler.RemoveRule)
					r.Delete("/tasks/{taskID}", cfg.RoutingHandler.RemoveTask)
					r.Post("/queues/{queueID}/drain", cfg.RoutingHandler.DrainQueue)
					r.Put("/procedures/{procedure}", cfg.RoutingHandler.UpdateProcedureMapping)
				})
			}
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
