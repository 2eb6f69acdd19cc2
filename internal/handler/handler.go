// Package handler содержит HTTP-обработчики API магазина игровой валюты.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/topup-store/internal/middleware"
	"github.com/mmeshcher/topup-store/internal/model"
	"github.com/mmeshcher/topup-store/internal/repository"
	"github.com/mmeshcher/topup-store/internal/service"
	"github.com/mmeshcher/topup-store/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CheckBlocked(ctx context.Context, ids model.Identifiers) (bool, string)

	RegisterAccount(ctx context.Context, realID, ip string) (*model.Account, error)
	ResolveAccount(ctx context.Context, realID, ip string) (*model.Account, error)
	Account(ctx context.Context, accountID int64) (*model.Account, error)
	Logout(ctx context.Context, accountID int64)

	Balance(ctx context.Context, accountID int64) (int64, error)
	Transfer(ctx context.Context, fromID int64, toRealID string, amount int64) error

	StartPurchase(ctx context.Context, accountID, productID int64, ids model.Identifiers) (*service.Attempt, error)
	GetAttempt(ctx context.Context, attemptID string) (*service.Attempt, error)
	ChoosePayment(ctx context.Context, attemptID string, method model.PaymentMethod) (*service.Attempt, error)
	SubmitUPIReference(ctx context.Context, attemptID, ref string) (*service.Attempt, error)
	SubmitRedeemCode(ctx context.Context, attemptID, code string) (*service.Attempt, error)
	CancelPurchase(attemptID string) error
	AccountOrders(ctx context.Context, accountID int64) ([]model.Order, error)

	RandomAd(ctx context.Context, visitorKey string) (*model.Ad, error)
	RewardAdWatch(ctx context.Context, accountID, adID int64) (int64, error)

	AddBlock(ctx context.Context, kind model.BlockKind, value, reason string) (*model.Block, error)
	RemoveBlock(ctx context.Context, id int64) error
	ListBlocks(ctx context.Context, page int, search string) (*service.BlockPage, error)
	ListPromotions(ctx context.Context, page int, search string) (*service.PromotionPage, error)
	AccountOrigins(ctx context.Context, accountID int64) ([]model.OriginRecord, error)
}

// Handler реализует HTTP-обработчики API магазина игровой валюты.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	adminToken     string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, adminToken string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		adminToken:     adminToken,
	}
}

type registerRequest struct {
	GamingID string `json:"gaming_id"`
}

type accountResponse struct {
	ID             int64  `json:"id"`
	GamingID       string `json:"gaming_id"`
	Coins          int64  `json:"coins"`
	RedeemDisabled bool   `json:"redeem_disabled"`
}

func accountToResponse(acc *model.Account) accountResponse {
	return accountResponse{
		ID:             acc.ID,
		GamingID:       acc.DisplayID(),
		Coins:          acc.Coins,
		RedeemDisabled: acc.RedeemDisabled,
	}
}

// Register создаёт аккаунт по игровому идентификатору. Пароля у аккаунтов
// нет: повторная регистрация занятого идентификатора открывает сессию
// существующего аккаунта.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidGamingID(req.GamingID) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	ip := ""
	if info, ok := middleware.GetClientInfoFromContext(r.Context()); ok {
		ip = info.IP
	}

	acc, err := h.service.RegisterAccount(r.Context(), req.GamingID, ip)
	if err != nil {
		if errors.Is(err, repository.ErrAccountExists) {
			acc, err = h.service.ResolveAccount(r.Context(), req.GamingID, ip)
		}
		if err != nil {
			h.logger.Error("register account error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}

	h.authMiddleware.SetAuthCookie(w, acc.ID)
	writeJSON(w, http.StatusOK, accountToResponse(acc))
}

// Logout завершает сессию текущего аккаунта.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.service.Logout(r.Context(), accountID)
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

// Me возвращает данные текущего аккаунта.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	acc, err := h.service.Account(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("get account error", zap.Error(err), zap.Int64("accountID", accountID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, accountToResponse(acc))
}

type balanceResponse struct {
	Coins int64 `json:"coins"`
}

// GetBalance возвращает баланс монет текущего аккаунта.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	coins, err := h.service.Balance(r.Context(), accountID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("accountID", accountID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Coins: coins})
}

type transferRequest struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// Transfer переводит монеты текущего аккаунта другому по игровому
// идентификатору.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidGamingID(req.To) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	err := h.service.Transfer(r.Context(), accountID, req.To, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount) || errors.Is(err, repository.ErrSameAccount):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrAccountNotFound):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrInsufficientCoins):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		default:
			h.logger.Error("transfer error", zap.Error(err), zap.Int64("accountID", accountID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

type orderResponse struct {
	ID         string `json:"id"`
	ProductID  int64  `json:"product_id"`
	Method     string `json:"method"`
	CoinsUsed  int64  `json:"coins_used"`
	FinalPrice int64  `json:"final_price"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

// GetOrders возвращает список заказов текущего аккаунта.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.AccountOrders(r.Context(), accountID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("accountID", accountID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderResponse{
			ID:         o.ID,
			ProductID:  o.ProductID,
			Method:     string(o.Method),
			CoinsUsed:  o.CoinsUsed,
			FinalPrice: o.FinalPrice,
			Status:     string(o.Status),
			CreatedAt:  o.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// RandomAd возвращает рекламный ролик для текущего посетителя. Пока
// действует фиксация, повторные запросы получают тот же ролик.
func (h *Handler) RandomAd(w http.ResponseWriter, r *http.Request) {
	visitorKey, ok := middleware.GetVisitorKeyFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ad, err := h.service.RandomAd(r.Context(), visitorKey)
	if err != nil {
		h.logger.Error("random ad error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if ad == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, ad)
}

type rewardResponse struct {
	RewardCoins int64 `json:"reward_coins"`
}

// RewardAd начисляет текущему аккаунту монеты за просмотр ролика.
func (h *Handler) RewardAd(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	adID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	coins, err := h.service.RewardAdWatch(r.Context(), accountID, adID)
	if err != nil {
		if errors.Is(err, repository.ErrAdNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("reward ad error", zap.Error(err), zap.Int64("adID", adID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rewardResponse{RewardCoins: coins})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
