package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/caresync-appointments/internal/auth"
	"github.com/hackgods/caresync-appointments/internal/metrics"
)

type RouterConfig struct {
	Appointments  AppointmentService
	Profiles      ProfileStore
	PasswordReset PasswordResetService
	Verifier      *auth.Verifier
	Health        *HealthHandler
	Logger        *zap.Logger
	Metrics       *metrics.Scheduling
	Gatherer      prometheus.Gatherer

	CORSAllowedOrigins     []string
	AvailabilityWindowDays int
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.AvailabilityWindowDays
	if window <= 0 {
		window = 90
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger, cfg.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(cfg.CORSAllowedOrigins))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.PasswordReset != nil {
			r.Post("/send-otp", sendOTPHandler(cfg.PasswordReset, logger))
			r.Post("/verify-otp", verifyOTPHandler(cfg.PasswordReset, logger))
		}

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(cfg.Verifier))

			r.Post("/book-appointment", bookAppointmentHandler(cfg.Appointments, logger))
			r.Get("/my-appointments", myAppointmentsHandler(cfg.Appointments, logger))
			r.Delete("/cancel-appointments", cancelAllHandler(cfg.Appointments, logger))
			r.Delete("/cancel-appointment/{id}", cancelOneHandler(cfg.Appointments, logger))
			r.Post("/reschedule", rescheduleHandler(cfg.Appointments, logger))
			r.Get("/availability", availabilityHandler(cfg.Appointments, window, logger))
			r.Get("/plan-preview", planPreviewHandler(cfg.Appointments, logger))

			if cfg.Profiles != nil {
				r.Get("/profile", getProfileHandler(cfg.Profiles, logger))
				r.Put("/profile", putProfileHandler(cfg.Profiles, logger))
			}
		})
	})

	return r
}
