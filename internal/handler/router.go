package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	custommiddleware "github.com/mmeshcher/topup-store/internal/middleware"
	"github.com/mmeshcher/topup-store/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware магазина игровой валюты.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.WithClientInfo)

	r.Route("/api/user", func(r chi.Router) {
		r.With(h.blockGuard).Post("/register", h.Register)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)

			r.Get("/balance", h.GetBalance)
			r.With(h.blockGuard).Post("/balance/transfer", h.Transfer)

			r.Get("/orders", h.GetOrders)
		})
	})

	r.Route("/api/purchase", func(r chi.Router) {
		r.Use(h.authMiddleware.Optional)

		r.Post("/", h.StartPurchase)
		r.Get("/{id}", h.GetPurchase)
		r.Post("/{id}/details", h.ChoosePayment)
		r.Post("/{id}/upi", h.SubmitUPI)
		r.Post("/{id}/redeem", h.SubmitRedeem)
		r.Post("/{id}/cancel", h.CancelPurchase)
	})

	r.Route("/api/ads", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Optional)
			r.Use(custommiddleware.WithVisitorKey)

			r.Get("/random", h.RandomAd)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(h.blockGuard)

			r.Post("/{id}/reward", h.RewardAd)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(custommiddleware.AdminAuth(h.adminToken))

		r.Post("/blocks", h.AddBlock)
		r.Get("/blocks", h.ListBlocks)
		r.Delete("/blocks/{id}", h.RemoveBlock)

		r.Get("/promotions", h.ListPromotions)

		r.Get("/accounts/{id}/origins", h.AccountOrigins)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

// blockGuard сверяет изменяющий запрос с чёрным списком. Для авторизованного
// посетителя проверяется игровой идентификатор аккаунта, не внутренний номер.
// Недоступность чёрного списка запрос не останавливает.
func (h *Handler) blockGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids := model.Identifiers{}
		if info, ok := custommiddleware.GetClientInfoFromContext(r.Context()); ok {
			ids.IP = info.IP
			ids.Fingerprint = info.Fingerprint
		}
		if accountID, ok := custommiddleware.GetAccountIDFromContext(r.Context()); ok {
			if acc, err := h.service.Account(r.Context(), accountID); err == nil {
				ids.AccountID = acc.RealID
			} else {
				h.logger.Error("block guard account lookup failed",
					zap.Error(err), zap.Int64("accountID", accountID))
			}
		}

		if blocked, reason := h.service.CheckBlocked(r.Context(), ids); blocked {
			msg := http.StatusText(http.StatusForbidden)
			if reason != "" {
				msg = reason
			}
			http.Error(w, msg, http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
