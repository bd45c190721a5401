package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quota-admission-service/internal/config"
	"github.com/quota-admission-service/internal/handler"
	"github.com/quota-admission-service/internal/handler/admin"
	"github.com/quota-admission-service/internal/metrics"
	"github.com/quota-admission-service/internal/middleware"
	"github.com/quota-admission-service/internal/service"
	"github.com/quota-admission-service/internal/store"
)

// Deps collects everything the router needs.
type Deps struct {
	Config    *config.Config
	Store     store.Store
	Admission *service.AdmissionService
	Registry  *service.KeyRegistryService
	AdminAuth *middleware.GoogleAuth
	Backend   string
}

// NewRouter wires middleware and handlers into the HTTP surface.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireJSON)
	r.Use(observe)

	if len(d.Config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.Config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Method(http.MethodGet, "/health", handler.NewHealthHandler(d.Store, d.Backend))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	serviceLimiter := middleware.NewAuthAttemptLimiter(10, 5*time.Minute, 15*time.Minute)
	adminLimiter := middleware.NewAuthAttemptLimiter(5, 5*time.Minute, 15*time.Minute)

	r.Route("/quota", func(r chi.Router) {
		r.Use(middleware.ServiceAuth(d.Config.ServiceAuthToken, serviceLimiter))
		r.Method(http.MethodPost, "/consume", handler.NewConsumeHandler(d.Admission))
		r.Method(http.MethodPost, "/refund", handler.NewRefundHandler(d.Admission))
		r.Method(http.MethodGet, "/status", handler.NewStatusHandler(d.Admission))
	})

	r.Route("/api-keys", func(r chi.Router) {
		r.Use(d.AdminAuth.Middleware(adminLimiter))
		r.Method(http.MethodPost, "/", admin.NewCreateAPIKeyHandler(d.Registry))
		r.Method(http.MethodGet, "/", admin.NewListAPIKeysHandler(d.Registry))
		r.Method(http.MethodGet, "/{id}", admin.NewGetAPIKeyHandler(d.Registry))
		r.Method(http.MethodPatch, "/{id}", admin.NewUpdateAPIKeyHandler(d.Registry))
		r.Method(http.MethodPatch, "/{id}/status", admin.NewSetAPIKeyStatusHandler(d.Registry))
		r.Method(http.MethodPost, "/{id}/rotate", admin.NewRotateAPIKeyHandler(d.Registry))
	})

	return r
}

// observe records request latency per route pattern and status.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestDuration.
			WithLabelValues(route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
