// Package model содержит доменные сущности магазина игровой валюты.
package model

import "time"

// Account представляет аккаунт покупателя.
// RealID — настоящий игровой идентификатор, VisualID — косметический
// идентификатор, отображаемый вместо настоящего (может отсутствовать).
type Account struct {
	ID             int64
	RealID         string
	VisualID       *string
	Coins          int64
	RedeemDisabled bool
	CreatedAt      time.Time
}

// DisplayID возвращает идентификатор, который видят другие пользователи.
func (a *Account) DisplayID() string {
	if a.VisualID != nil && *a.VisualID != "" {
		return *a.VisualID
	}
	return a.RealID
}

// BlockKind описывает вид блокируемого идентификатора.
type BlockKind string

const (
	BlockKindIP          BlockKind = "ip"
	BlockKindFingerprint BlockKind = "fingerprint"
	BlockKindAccountID   BlockKind = "id"
)

// Valid сообщает, является ли значение известным видом блокировки.
func (k BlockKind) Valid() bool {
	switch k {
	case BlockKindIP, BlockKindFingerprint, BlockKindAccountID:
		return true
	}
	return false
}

// Block описывает запись чёрного списка.
type Block struct {
	ID        int64
	Kind      BlockKind
	Value     string
	Reason    string
	CreatedAt time.Time
}

// Identifiers содержит идентификаторы посетителя, проверяемые чёрным списком.
// Любое из полей может быть пустым.
type Identifiers struct {
	IP          string
	Fingerprint string
	AccountID   string
}

// Promotion описывает одно событие продвижения визуального идентификатора.
// Записи только добавляются и никогда не изменяются.
type Promotion struct {
	ID         int64
	OldRealID  string
	NewRealID  string
	PromotedAt time.Time
}

// Product описывает товар каталога.
// Цены хранятся в минимальных денежных единицах.
type Product struct {
	ID              int64
	Name            string
	BasePrice       int64
	MaxCoinDiscount int64
	CoinOnly        bool
	PurchasePrice   *int64
	AllowRedeem     bool
	Active          bool
	CreatedAt       time.Time
}

// Ad описывает рекламный ролик, за просмотр которого начисляются монеты.
type Ad struct {
	ID            int64     `json:"id"`
	VideoURL      string    `json:"video_url"`
	CTAText       string    `json:"cta_text"`
	CTALink       string    `json:"cta_link"`
	RewardCoins   int64     `json:"reward_coins"`
	TotalDuration int64     `json:"total_duration"`
	CreatedAt     time.Time `json:"created_at"`
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodUPI    PaymentMethod = "upi"
	PaymentMethodRedeem PaymentMethod = "redeem"
)

// OrderStatus описывает статус обработки заказа во внешней системе.
type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusFailed     OrderStatus = "FAILED"
)

// Order описывает переданный на исполнение заказ.
type Order struct {
	ID         string
	ProductID  int64
	AccountID  int64
	Method     PaymentMethod
	PaymentRef string
	CoinsUsed  int64
	FinalPrice int64
	Status     OrderStatus
	CreatedAt  time.Time
}

// OriginRecord описывает один зафиксированный сетевой адрес аккаунта.
type OriginRecord struct {
	IP       string
	LoggedAt time.Time
}
