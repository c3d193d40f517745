// Package router assembles the HTTP routes and middleware stack.
package router

import (
	"net/http"
	"time"

	"github.com/civicpulse/civicpulse-server/internal/handlers"
	"github.com/civicpulse/civicpulse-server/internal/middleware"
	"github.com/civicpulse/civicpulse-server/internal/services"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Deps is everything the router needs to build handlers.
type Deps struct {
	Reports  services.ReportRepository
	Activity *services.ActivityLogService
	Sessions *services.SessionService
	Photos   *services.PhotoStore
	State    handlers.Pinger

	Version        string
	AllowedOrigins []string
	RateLimitRPM   int
	Report         handlers.ReportOptions
	AuthLatency    time.Duration

	Logger *zap.Logger
}

// New builds the API router.
func New(d Deps) http.Handler {
	sugar := d.Logger.Sugar()

	// Initialize handlers
	reportHandler := handlers.NewReportHandler(d.Reports, d.Activity, d.Photos, d.Report, sugar)
	activityHandler := handlers.NewActivityHandler(d.Activity, d.Reports, sugar)
	analyticsHandler := handlers.NewAnalyticsHandler(d.Reports, sugar)
	authHandler := handlers.NewAuthHandler(d.Sessions, d.AuthLatency, sugar)
	healthHandler := handlers.NewHealthHandler(d.State, d.Version, sugar)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if d.RateLimitRPM > 0 {
		r.Use(middleware.RateLimit(d.RateLimitRPM))
	}
	r.Use(middleware.Authenticate(d.Sessions))

	// API Routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)
		r.Get("/health/ready", healthHandler.Ready)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/send-otp", authHandler.SendOTP)
			r.Post("/verify-otp", authHandler.VerifyOTP)
			r.With(middleware.RequireSession).Post("/logout", authHandler.Logout)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", reportHandler.List)
			r.Post("/", reportHandler.Create)
			r.Get("/{id}", reportHandler.Get)
			r.Put("/{id}/status", reportHandler.UpdateStatus)
			r.Get("/{id}/activity", activityHandler.ByReport)
		})

		r.Get("/activity/recent", activityHandler.Recent)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/summary", analyticsHandler.Summary)
			r.Get("/categories", analyticsHandler.Categories)
			r.Get("/trends", analyticsHandler.Trends)
		})
	})

	// Uploaded photos
	r.Handle(services.PhotoURLPrefix+"*",
		http.StripPrefix(services.PhotoURLPrefix, handlers.PhotoFiles(d.Photos.Dir())))

	return r
}
