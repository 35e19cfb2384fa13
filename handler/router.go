package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phbpx/leadtrack"
	"github.com/phbpx/leadtrack/auth"
	"github.com/phbpx/leadtrack/service"
	"github.com/riandyrn/otelchi"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

// Config holds what the router needs to serve the API.
type Config struct {
	ServerName     string
	AllowedOrigins []string
	Leads          *service.LeadService
	Reports        *service.ReportService
	Users          leadtrack.UserStore
	Auth           *auth.Authenticator
	// Health reports whether dependencies are reachable.
	Health func(ctx context.Context) error
	Log    *otelzap.SugaredLogger
}

func NewRouter(cfg Config) http.Handler {
	leadHandler := NewLeadHandler(cfg.Leads, cfg.Log)
	reportHandler := NewReportHandler(cfg.Reports, cfg.Log)
	authHandler := NewAuthHandler(cfg.Auth, cfg.Users, cfg.Log)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logRequests(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(otelchi.Middleware(cfg.ServerName, otelchi.WithChiRoutes(r)))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: credentialed(cfg.AllowedOrigins),
		MaxAge:           300,
	}))

	r.Get("/health", health(cfg.Health, cfg.Log))
	r.Post("/auth/login", authHandler.Login)
	r.Post("/leads/link/{userId}", leadHandler.CreateFromLink)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Auth, cfg.Users, cfg.Log))
		r.Use(RequireRole(cfg.Log, leadtrack.RoleAdmin, leadtrack.RoleSuperAdmin))

		r.Get("/auth/me", authHandler.Me)

		r.Route("/leads", func(r chi.Router) {
			r.Post("/", leadHandler.Create)
			r.Get("/", leadHandler.List)
			r.Get("/{id}", leadHandler.GetByID)
			r.Put("/{id}", leadHandler.Update)
			r.Delete("/{id}", leadHandler.Delete)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/dashboard", reportHandler.Dashboard)
			r.Post("/download", reportHandler.Download)
		})
	})

	return r
}

// credentialed reports whether browsers may send credentials to origins.
// A wildcard, or no list at all, never allows them.
func credentialed(origins []string) bool {
	if len(origins) == 0 {
		return false
	}
	for _, o := range origins {
		if strings.Contains(o, "*") {
			return false
		}
	}
	return true
}

func health(check func(ctx context.Context) error, log *otelzap.SugaredLogger) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if check != nil {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				log.ErrorwContext(ctx, "health", "error", err.Error())
				respond(ctx, rw, http.StatusServiceUnavailable, envelope{Success: false, Message: "database unavailable"})
				return
			}
		}
		respond(ctx, rw, http.StatusOK, envelope{Success: true, Message: "ok"})
	}
}

func logRequests(log *otelzap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.InfowContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
