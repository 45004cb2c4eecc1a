package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/jmrl23/keygate/internal/api/middleware"
	"github.com/jmrl23/keygate/internal/api/response"
	"github.com/jmrl23/keygate/internal/auth"
	"github.com/jmrl23/keygate/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	RegisterHandler          http.HandlerFunc
	LoginHandler             http.HandlerFunc
	SessionHandler           http.HandlerFunc
	PasswordUpdateHandler    http.HandlerFunc
	InformationUpdateHandler http.HandlerFunc
	ToggleUserHandler        http.HandlerFunc
	LogoutHandler            http.HandlerFunc

	EmailCreateHandler    http.HandlerFunc
	EmailSendOTPHandler   http.HandlerFunc
	EmailVerifyOTPHandler http.HandlerFunc
	PrimaryEmailHandler   http.HandlerFunc
	EmailDeleteHandler    http.HandlerFunc

	AppCreateHandler  http.HandlerFunc
	AppListHandler    http.HandlerFunc
	AppOriginsHandler http.HandlerFunc
	AppDeleteHandler  http.HandlerFunc

	KeyCreateHandler http.HandlerFunc
	KeyListHandler   http.HandlerFunc
	KeyStatusHandler http.HandlerFunc
	KeyToggleHandler http.HandlerFunc
	KeyDeleteHandler http.HandlerFunc
	ProbeHandler     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware. WithUser runs first so the request log carries
	// the bound account.
	r.Use(deps.Auth.WithUser)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(deps.RateLimit.Limit)

	// Public
	r.Get("/health", orNotImplemented(deps.HealthHandler))
	r.Post("/user/register", orNotImplemented(deps.RegisterHandler))
	r.Post("/user/login", orNotImplemented(deps.LoginHandler))
	r.Get("/user/email/{email}/{otp}/verify", orNotImplemented(deps.EmailVerifyOTPHandler))
	r.Get("/api/key", orNotImplemented(deps.KeyStatusHandler))
	r.Get("/api", orNotImplemented(deps.ProbeHandler))

	// Any authenticated user
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireRole(auth.RoleAny))

		r.Get("/user/session", orNotImplemented(deps.SessionHandler))
		r.Delete("/user/logout", orNotImplemented(deps.LogoutHandler))

		r.Post("/user/email/create", orNotImplemented(deps.EmailCreateHandler))
		r.Get("/user/email/{id}/verify", orNotImplemented(deps.EmailSendOTPHandler))
		r.Patch("/user/email/primary/set", orNotImplemented(deps.PrimaryEmailHandler))
		r.Delete("/user/email/{id}/delete", orNotImplemented(deps.EmailDeleteHandler))

		r.Post("/api/application/create", orNotImplemented(deps.AppCreateHandler))
		r.Get("/api/application/list", orNotImplemented(deps.AppListHandler))
		r.Patch("/api/application/update/origins", orNotImplemented(deps.AppOriginsHandler))
		r.Delete("/api/application/delete/{id}", orNotImplemented(deps.AppDeleteHandler))

		r.Post("/api/key/create", orNotImplemented(deps.KeyCreateHandler))
		r.Get("/api/key/list", orNotImplemented(deps.KeyListHandler))
		r.Patch("/api/key/update/enable", orNotImplemented(deps.KeyToggleHandler))
		r.Delete("/api/key/delete/{id}", orNotImplemented(deps.KeyDeleteHandler))

		// Self-mutating routes are closed to the master account.
		r.Group(func(r chi.Router) {
			r.Use(mw.ForbidMaster)

			r.Patch("/user/update/password", orNotImplemented(deps.PasswordUpdateHandler))
			r.Patch("/user/update/information", orNotImplemented(deps.InformationUpdateHandler))
		})
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireRole(models.RoleAdmin))

		r.Patch("/user/toggle", orNotImplemented(deps.ToggleUserHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.ErrorStatus(w, http.StatusNotImplemented, "Endpoint not yet implemented")
	}
}
