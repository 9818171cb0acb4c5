package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mmeshcher/storefront-gateway/internal/gate"
	custommiddleware "github.com/mmeshcher/storefront-gateway/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware витрины.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(gate.Middleware(h.gate, h.classifier, h.logger))

	for _, page := range []string{"/", "/login", "/register", "/forgot-password"} {
		r.Get(page, h.Page)
	}
	for _, area := range []string{"/superadmin", "/admin", "/user"} {
		r.Get(area, h.Page)
		r.Get(area+"/*", h.Page)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/register", h.Register)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/logout", h.Logout)
		r.Get("/authorize", h.Authorize)
	})

	r.Route("/api/user", func(r chi.Router) {
		r.Get("/profile", h.Profile)
		r.Get("/addresses", h.Addresses)
		r.Get("/orders", h.Orders)

		r.Get("/cart", h.GetCart)
		r.Get("/cart/totals", h.GetTotals)
		r.Put("/cart/selection", h.SelectAll)
		r.Patch("/cart/{lineID}/quantity", h.UpdateQuantity)
		r.Patch("/cart/{lineID}/selection", h.UpdateSelection)
		r.Delete("/cart/{lineID}", h.DeleteLine)

		r.Post("/checkout", h.Checkout)
		r.Get("/checkouts", h.CheckoutHistory)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
