package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/licentra/licentra/internal/api/handlers"
	apimiddleware "github.com/licentra/licentra/internal/api/middleware"
	"github.com/licentra/licentra/internal/config"
	"github.com/licentra/licentra/internal/metrics"
	"github.com/licentra/licentra/internal/models"
	"github.com/licentra/licentra/internal/services"
)

// Dependencies holds all the dependencies needed for the API
type Dependencies struct {
	Config          *config.AppConfig
	LicenseStore    *models.LicenseStore
	ActivationStore *models.ActivationStore
	ResellerStore   *models.ResellerStore
	UserStore       *models.UserStore
	BindingService  *services.BindingService
	QuotaService    *services.QuotaService
	ActivityService *services.ActivityService
	MetricsManager  *metrics.Manager
}

// NewRouter creates and configures the main application router
func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimiddleware.HTTPLogger)
	r.Use(middleware.Compress(5))

	// Create handlers
	bindingsHandler := handlers.NewBindingsHandler(deps.BindingService, deps.MetricsManager)
	licensesHandler := handlers.NewLicensesHandler(
		deps.Config,
		deps.LicenseStore,
		deps.ActivationStore,
		deps.ResellerStore,
		deps.BindingService,
		deps.QuotaService,
		deps.ActivityService,
	)
	resellersHandler := handlers.NewResellersHandler(deps.ResellerStore, deps.UserStore, deps.QuotaService)
	usersHandler := handlers.NewUsersHandler(deps.UserStore, deps.QuotaService)

	// API routes
	r.Route("/api", func(r chi.Router) {
		bindingsHandler.RegisterRoutes(r)
		licensesHandler.RegisterRoutes(r)
		resellersHandler.RegisterRoutes(r)
		usersHandler.RegisterRoutes(r)
	})

	if deps.MetricsManager != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(
			deps.MetricsManager.GetRegistry(),
			promhttp.HandlerOpts{},
		))
	}

	return r
}
