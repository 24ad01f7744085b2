package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers all authentication routes with the Chi router.
// Public routes: /login, /register. Protected routes: /logout, /me, /csrf.
// State-changing protected routes additionally pass the CSRF guard.
func RegisterRoutes(r chi.Router, handler *Handler, requireSession, csrfProtect Middleware) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", handler.Login)
		r.Post("/register", handler.Register)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Get("/me", handler.GetMe)
			r.Get("/csrf", handler.IssueCSRF)

			r.Group(func(r chi.Router) {
				r.Use(csrfProtect)
				r.Post("/logout", handler.Logout)
			})
		})
	})
}
