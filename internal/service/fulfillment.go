package service

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/topup-store/internal/model"
	"github.com/mmeshcher/topup-store/internal/orders"
)

// StartFulfillmentUpdates запускает фоновый процесс опроса статусов заказов
// во внешней системе исполнения.
func (s *Service) StartFulfillmentUpdates(ctx context.Context) {
	if s.orderClient == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processFulfillmentBatch(ctx)
			}
		}
	}()
}

func (s *Service) processFulfillmentBatch(ctx context.Context) {
	pending, err := s.repo.GetOrdersForPolling(ctx, 100)
	if err != nil {
		return
	}

	for _, o := range pending {
		state, statusCode, retryAfter, err := s.orderClient.GetOrderStatus(ctx, o.ID)
		if err != nil {
			continue
		}

		if statusCode == http.StatusTooManyRequests {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if state == nil {
			continue
		}

		status, ok := orders.StatusFromResponse(state.Status)
		if !ok || status == model.OrderStatusProcessing {
			continue
		}

		if err := s.repo.UpdateOrderStatus(ctx, o.ID, status); err != nil {
			s.logger.Error("update order status failed", zap.String("orderID", o.ID), zap.Error(err))
			continue
		}

		// Отказ исполнения возвращает монеты, списанные как скидка.
		if status == model.OrderStatusFailed && o.CoinsUsed > 0 {
			if err := s.repo.AdjustCoins(ctx, o.AccountID, o.CoinsUsed); err != nil {
				s.logger.Error("refund coins for failed order",
					zap.String("orderID", o.ID), zap.Error(err))
			}
		}
	}
}

// AccountOrders возвращает заказы аккаунта.
func (s *Service) AccountOrders(ctx context.Context, accountID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByAccount(ctx, accountID)
}
