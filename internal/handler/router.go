package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/kurlovandrej9-del/teamledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса командного леджера.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth", h.Auth)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/me/stats", h.GetStats)
			r.Get("/me/clients", h.GetClients)
			r.Get("/me/profits", h.GetProfits)
			r.Get("/me/payouts", h.GetPayouts)
			r.Get("/clients/{clientID}/history", h.GetClientHistory)
			r.Post("/payouts/{payoutID}/receive", h.ReceivePayout)

			r.Route("/admin", func(r chi.Router) {
				r.Use(custommiddleware.RequireAdmin(h.service))

				r.Get("/dashboard", h.GetDashboard)
				r.Get("/top", h.GetTop)
				r.Get("/users", h.GetUsers)

				r.Post("/profit", h.StartProfitFlow)
				r.Post("/profit/{sessionID}", h.AdvanceProfitFlow)
				r.Post("/profit/{sessionID}/confirm", h.ConfirmProfitFlow)
				r.Delete("/profit/{sessionID}", h.CancelProfitFlow)

				r.Post("/payout", h.StartPayoutFlow)
				r.Post("/payout/{sessionID}", h.AdvancePayoutFlow)
				r.Post("/payout/{sessionID}/confirm", h.ConfirmPayoutFlow)
				r.Delete("/payout/{sessionID}", h.CancelPayoutFlow)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
