package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/topup-store/internal/middleware"
	"github.com/mmeshcher/topup-store/internal/model"
	"github.com/mmeshcher/topup-store/internal/repository"
	"github.com/mmeshcher/topup-store/internal/service"
	"github.com/mmeshcher/topup-store/internal/validation"
)

type startPurchaseRequest struct {
	ProductID int64 `json:"product_id"`
}

type attemptResponse struct {
	ID              string `json:"id"`
	Step            string `json:"step"`
	ProductID       int64  `json:"product_id"`
	CoinsApplied    int64  `json:"coins_applied"`
	FinalPrice      int64  `json:"final_price"`
	Method          string `json:"method,omitempty"`
	OrderID         string `json:"order_id,omitempty"`
	QRExpirySeconds int64  `json:"qr_expiry_seconds,omitempty"`
}

func attemptToResponse(a *service.Attempt) attemptResponse {
	resp := attemptResponse{
		ID:           a.ID,
		Step:         string(a.Step),
		ProductID:    a.ProductID,
		CoinsApplied: a.CoinsApplied,
		FinalPrice:   a.FinalPrice,
		Method:       string(a.Method),
		OrderID:      a.OrderID,
	}
	if a.Step == service.StepAwaitingUPI {
		resp.QRExpirySeconds = service.QRExpirySeconds
	}
	return resp
}

// StartPurchase начинает попытку покупки товара. Неавторизованный посетитель
// получает попытку в шаге регистрации.
func (h *Handler) StartPurchase(w http.ResponseWriter, r *http.Request) {
	var req startPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	accountID, _ := middleware.GetAccountIDFromContext(r.Context())

	// Идентификатор аккаунта для проверки чёрного списка сервис подставляет
	// сам после разрешения аккаунта.
	ids := model.Identifiers{}
	if info, ok := middleware.GetClientInfoFromContext(r.Context()); ok {
		ids.IP = info.IP
		ids.Fingerprint = info.Fingerprint
	}

	attempt, err := h.service.StartPurchase(r.Context(), accountID, req.ProductID, ids)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBlocked):
			// Причина блокировки показывается посетителю как есть.
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, service.ErrNotEligible):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, repository.ErrProductNotFound), errors.Is(err, repository.ErrAccountNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("start purchase error", zap.Error(err), zap.Int64("productID", req.ProductID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, attemptToResponse(attempt))
}

// GetPurchase возвращает текущее состояние попытки покупки.
func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.service.GetAttempt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, service.ErrAttemptNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get purchase error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, attemptToResponse(attempt))
}

type choosePaymentRequest struct {
	Method string `json:"method"`
}

// ChoosePayment фиксирует способ оплаты выбранной попытки.
func (h *Handler) ChoosePayment(w http.ResponseWriter, r *http.Request) {
	var req choosePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	method := model.PaymentMethod(req.Method)
	if method != model.PaymentMethodUPI && method != model.PaymentMethodRedeem {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	attempt, err := h.service.ChoosePayment(r.Context(), chi.URLParam(r, "id"), method)
	if err != nil {
		h.writePurchaseError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, attemptToResponse(attempt))
}

type upiRequest struct {
	Reference string `json:"reference"`
}

// SubmitUPI принимает платёжный идентификатор UPI и передаёт заказ на
// исполнение.
func (h *Handler) SubmitUPI(w http.ResponseWriter, r *http.Request) {
	var req upiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Reference != "" && !validation.IsValidPaymentRef(req.Reference) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	attempt, err := h.service.SubmitUPIReference(r.Context(), chi.URLParam(r, "id"), req.Reference)
	if err != nil {
		h.writePurchaseError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, attemptToResponse(attempt))
}

type redeemRequest struct {
	Code string `json:"code"`
}

// SubmitRedeem принимает код погашения и передаёт заказ на исполнение.
func (h *Handler) SubmitRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Code != "" && !validation.IsValidPaymentRef(req.Code) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	attempt, err := h.service.SubmitRedeemCode(r.Context(), chi.URLParam(r, "id"), req.Code)
	if err != nil {
		h.writePurchaseError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, attemptToResponse(attempt))
}

// CancelPurchase отменяет попытку покупки, ещё не переданную на исполнение.
func (h *Handler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CancelPurchase(chi.URLParam(r, "id")); err != nil {
		h.writePurchaseError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writePurchaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidStep):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, service.ErrEmptyPaymentRef), errors.Is(err, service.ErrEmptyRedeemCode):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, service.ErrRedeemUnavailable):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, repository.ErrInsufficientCoins):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	default:
		h.logger.Error("purchase error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
