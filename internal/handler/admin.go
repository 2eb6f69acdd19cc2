package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/topup-store/internal/model"
	"github.com/mmeshcher/topup-store/internal/repository"
	"github.com/mmeshcher/topup-store/internal/service"
)

type addBlockRequest struct {
	Kind   string `json:"kind"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

type blockResponse struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	Value     string `json:"value"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

func blockToResponse(b *model.Block) blockResponse {
	return blockResponse{
		ID:        b.ID,
		Kind:      string(b.Kind),
		Value:     b.Value,
		Reason:    b.Reason,
		CreatedAt: b.CreatedAt.Format(time.RFC3339),
	}
}

// AddBlock добавляет идентификатор в чёрный список.
func (h *Handler) AddBlock(w http.ResponseWriter, r *http.Request) {
	var req addBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	block, err := h.service.AddBlock(r.Context(), model.BlockKind(req.Kind), req.Value, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidBlock):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrBlockExists):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("add block error", zap.Error(err), zap.String("kind", req.Kind))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, blockToResponse(block))
}

// RemoveBlock удаляет запись чёрного списка.
func (h *Handler) RemoveBlock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveBlock(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrBlockNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("remove block error", zap.Error(err), zap.Int64("blockID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type blockListResponse struct {
	Items   []blockResponse `json:"items"`
	Total   int64           `json:"total"`
	HasMore bool            `json:"has_more"`
}

// ListBlocks возвращает страницу чёрного списка.
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	page := pageParam(r)
	search := r.URL.Query().Get("search")

	result, err := h.service.ListBlocks(r.Context(), page, search)
	if err != nil {
		h.logger.Error("list blocks error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := blockListResponse{
		Items:   make([]blockResponse, 0, len(result.Items)),
		Total:   result.Total,
		HasMore: result.HasMore,
	}
	for i := range result.Items {
		resp.Items = append(resp.Items, blockToResponse(&result.Items[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type promotionResponse struct {
	ID         int64  `json:"id"`
	OldRealID  string `json:"old_real_id"`
	NewRealID  string `json:"new_real_id"`
	PromotedAt string `json:"promoted_at"`
}

type promotionListResponse struct {
	Items   []promotionResponse `json:"items"`
	Total   int64               `json:"total"`
	HasMore bool                `json:"has_more"`
}

// ListPromotions возвращает страницу журнала продвижений визуальных
// идентификаторов.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	page := pageParam(r)
	search := r.URL.Query().Get("search")

	result, err := h.service.ListPromotions(r.Context(), page, search)
	if err != nil {
		h.logger.Error("list promotions error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := promotionListResponse{
		Items:   make([]promotionResponse, 0, len(result.Items)),
		Total:   result.Total,
		HasMore: result.HasMore,
	}
	for _, p := range result.Items {
		resp.Items = append(resp.Items, promotionResponse{
			ID:         p.ID,
			OldRealID:  p.OldRealID,
			NewRealID:  p.NewRealID,
			PromotedAt: p.PromotedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type originResponse struct {
	IP       string `json:"ip"`
	LoggedAt string `json:"logged_at"`
}

// AccountOrigins возвращает историю сетевых адресов аккаунта.
func (h *Handler) AccountOrigins(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	origins, err := h.service.AccountOrigins(r.Context(), accountID)
	if err != nil {
		h.logger.Error("account origins error", zap.Error(err), zap.Int64("accountID", accountID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]originResponse, 0, len(origins))
	for _, o := range origins {
		resp = append(resp, originResponse{
			IP:       o.IP,
			LoggedAt: o.LoggedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
