package http

import (
	"net/http"

	"github.com/dayloop/dayloop-server/internal/application/auth"
	"github.com/dayloop/dayloop-server/internal/application/session"
	"github.com/dayloop/dayloop-server/internal/config"
	"github.com/dayloop/dayloop-server/internal/transport/http/handler"
	appmiddleware "github.com/dayloop/dayloop-server/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second with a burst of 10, per client IP on the sensitive
	// public endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	authSvc := auth.NewService(auth.ServiceDeps{
		UserRepo:  deps.UserRepo,
		OTPRepo:   deps.OTPRepo,
		Queue:     deps.Queue,
		OTPExpiry: cfg.OTPExpiry,
	})
	sessionSvc := session.NewService(session.ServiceDeps{
		CredentialRepo: deps.CredentialRepo,
		UserRepo:       deps.UserRepo,
		Tokens:         deps.JWTProvider,
		OTP:            authSvc,
		RefreshDur:     cfg.RefreshTokenExpiry,
	})

	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(authSvc, sessionSvc, deps.JWTProvider)
	reportsH := handler.NewReportsHandler(deps.ReportArchive)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check", healthH.Ping)

		r.Route("/auth", func(r chi.Router) {
			r.With(sensitiveRL.Limit).Post("/signup", authH.Signup)
			r.With(sensitiveRL.Limit).Post("/send-otp", authH.SendOTP)
			r.Post("/verify-otp", authH.VerifyOTP)
			r.With(sensitiveRL.Limit).Post("/login", authH.Login)
			r.Post("/refresh", authH.Refresh)
			r.With(sensitiveRL.Limit).Post("/forgot-password", authH.ForgotPassword)
			r.Post("/reset-password", authH.ResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.Auth(deps.JWTProvider))
				r.Post("/logout", authH.Logout)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.JWTProvider))
			r.Get("/reports/weekly/{date}", reportsH.GetWeekly)
		})
	})

	return r
}
