// Package service реализует бизнес-логику магазина игровой валюты.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/topup-store/internal/adlock"
	"github.com/mmeshcher/topup-store/internal/model"
	"github.com/mmeshcher/topup-store/internal/orders"
	"github.com/mmeshcher/topup-store/internal/repository"
)

// Ошибки уровня бизнес-логики, доступные обработчикам для выбора HTTP-статуса.
var (
	// ErrInvalidAmount возвращается при недопустимой сумме перевода.
	ErrInvalidAmount = errors.New("amount must be at least 1")
	// ErrAttemptNotFound возвращается, если попытка покупки не найдена или истекла.
	ErrAttemptNotFound = errors.New("purchase attempt not found")
	// ErrInvalidStep возвращается при переходе, недопустимом из текущего шага попытки.
	ErrInvalidStep = errors.New("transition not allowed from current step")
	// ErrEmptyPaymentRef возвращается при пустом платёжном идентификаторе.
	ErrEmptyPaymentRef = errors.New("payment reference is required")
	// ErrEmptyRedeemCode возвращается при пустом коде погашения.
	ErrEmptyRedeemCode = errors.New("redeem code is required")
	// ErrRedeemUnavailable возвращается, если оплата кодом недоступна товару или аккаунту.
	ErrRedeemUnavailable = errors.New("redeem payment is not available")
	// ErrNotEligible возвращается, если покупка товара недоступна аккаунту.
	ErrNotEligible = errors.New("product is not available for purchase")
	// ErrBlocked возвращается заблокированному посетителю.
	ErrBlocked = errors.New("visitor is blocked")
	// ErrInvalidBlock возвращается при некорректных параметрах блокировки.
	ErrInvalidBlock = errors.New("invalid block")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateAccount(ctx context.Context, realID string) (*model.Account, error)
	GetAccountByID(ctx context.Context, id int64) (*model.Account, error)
	GetAccountByRealID(ctx context.Context, realID string) (*model.Account, error)
	FindAccountForPromotion(ctx context.Context, candidateID string) (*model.Account, error)
	PromoteAccount(ctx context.Context, accountID int64) (*model.Promotion, error)
	ListPromotions(ctx context.Context, limit, offset int, search string) ([]model.Promotion, int64, error)
	LogAccountIP(ctx context.Context, accountID int64, ip string) error
	GetAccountOrigins(ctx context.Context, accountID int64) ([]model.OriginRecord, error)

	FindBlock(ctx context.Context, kind model.BlockKind, value string) (*model.Block, error)
	AddBlock(ctx context.Context, kind model.BlockKind, value, reason string) (*model.Block, error)
	RemoveBlock(ctx context.Context, id int64) error
	ListBlocks(ctx context.Context, limit, offset int, search string) ([]model.Block, int64, error)

	TransferCoins(ctx context.Context, fromID, toID, amount int64) error
	AdjustCoins(ctx context.Context, accountID, delta int64) error

	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	IsProductHidden(ctx context.Context, productID, accountID int64) (bool, error)
	CountAccountOrders(ctx context.Context, productID, accountID int64) (int64, error)

	GetRandomAd(ctx context.Context) (*model.Ad, error)
	GetAd(ctx context.Context, id int64) (*model.Ad, error)

	SaveOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrdersForPolling(ctx context.Context, limit int) ([]repository.OrderForPolling, error)
	UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error
	GetOrdersByAccount(ctx context.Context, accountID int64) ([]model.Order, error)
}

// OrderClient описывает контракт внешней системы исполнения заказов.
type OrderClient interface {
	CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (string, error)
	GetOrderStatus(ctx context.Context, orderID string) (*orders.OrderState, int, time.Duration, error)
}

// strictPolicy определяет режим отказа операций при недоступности хранилища:
// строгие операции завершаются ошибкой, нестрогие продолжаются как разрешённые.
// Таблица едина для всего сервиса, чтобы политику было видно целиком.
var strictPolicy = map[string]bool{
	"block.check":          false,
	"promotion.preamble":   false,
	"purchase.eligibility": false,
	"adlock.read":          false,
	"block.add":            true,
	"block.remove":         true,
	"coins.transfer":       true,
	"coins.adjust":         true,
	"order.handoff":        true,
}

// Service содержит бизнес-логику магазина игровой валюты.
type Service struct {
	repo        Repository
	orderClient OrderClient
	locker      adlock.Locker
	logger      *zap.Logger

	adLockTTL     time.Duration
	purchaseLimit int64

	attempts *attemptStore
}

// Options содержит настройки поведения сервиса.
type Options struct {
	// AdLockTTL — время фиксации рекламного ролика за посетителем.
	AdLockTTL time.Duration
	// PurchaseLimit — максимум заказов аккаунта на один товар, 0 — без лимита.
	PurchaseLimit int64
}

// NewService создаёт новый сервис с указанным репозиторием, клиентом системы
// исполнения заказов и хранилищем фиксаций рекламы.
func NewService(repo Repository, orderClient OrderClient, locker adlock.Locker, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AdLockTTL <= 0 {
		opts.AdLockTTL = 10 * time.Second
	}

	return &Service{
		repo:          repo,
		orderClient:   orderClient,
		locker:        locker,
		logger:        logger,
		adLockTTL:     opts.AdLockTTL,
		purchaseLimit: opts.PurchaseLimit,
		attempts:      newAttemptStore(),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// failOpen сообщает, продолжать ли операцию при отказе инфраструктуры.
func failOpen(op string) bool {
	return !strictPolicy[op]
}
