package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/topup-store/internal/model"
	"github.com/mmeshcher/topup-store/internal/orders"
)

// Step описывает шаг попытки покупки.
type Step string

const (
	StepVerifying      Step = "verifying"
	StepRegistering    Step = "registering"
	StepDetails        Step = "details"
	StepAwaitingUPI    Step = "awaiting_upi"
	StepAwaitingRedeem Step = "awaiting_redeem"
	StepProcessing     Step = "processing"
	StepCompleted      Step = "completed"
	StepAbandoned      Step = "abandoned"
)

// QRExpirySeconds — длительность видимого отсчёта на экране оплаты UPI.
// Отсчёт информационный: истечение само по себе не отменяет попытку,
// её завершают только отправка платежа или отмена пользователем.
const QRExpirySeconds = 300

// attemptTTL ограничивает жизнь брошенной попытки в памяти.
const attemptTTL = 30 * time.Minute

// Attempt описывает одну попытку покупки. Попытка живёт только в памяти
// и не сохраняется до передачи заказа на исполнение.
type Attempt struct {
	ID           string
	AccountID    int64
	ProductID    int64
	Step         Step
	CoinsApplied int64
	FinalPrice   int64
	Method       model.PaymentMethod
	PaymentRef   string
	OrderID      string
	ExpiresAt    time.Time

	inFlight bool
}

type attemptStore struct {
	mu  sync.Mutex
	m   map[string]*Attempt
	now func() time.Time
}

func newAttemptStore() *attemptStore {
	return &attemptStore{
		m:   make(map[string]*Attempt),
		now: time.Now,
	}
}

func (st *attemptStore) put(a *Attempt) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.m[a.ID] = a
}

// get возвращает копию попытки. Истёкшая попытка удаляется при чтении.
func (st *attemptStore) get(id string) (Attempt, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	a, ok := st.m[id]
	if !ok {
		return Attempt{}, false
	}
	if !st.now().Before(a.ExpiresAt) {
		delete(st.m, id)
		return Attempt{}, false
	}
	return *a, true
}

// update выполняет fn над попыткой под блокировкой хранилища и возвращает
// копию результата. При ошибке fn обязана не менять попытку.
func (st *attemptStore) update(id string, fn func(*Attempt) error) (Attempt, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	a, ok := st.m[id]
	if !ok || !st.now().Before(a.ExpiresAt) {
		delete(st.m, id)
		return Attempt{}, ErrAttemptNotFound
	}
	if err := fn(a); err != nil {
		return *a, err
	}
	return *a, nil
}

// StartPurchase начинает попытку покупки. Каждая попытка проходит через
// проверку допустимости, даже если аккаунт уже известен: доступность товара
// могла измениться между загрузкой страницы и нажатием кнопки.
// accountID равный нулю означает неавторизованного посетителя: такая попытка
// останавливается на шаге регистрации и дальше не продолжается — после
// создания аккаунта клиент начинает новую попытку, и проверка допустимости
// выполняется заново.
func (s *Service) StartPurchase(ctx context.Context, accountID, productID int64, ids model.Identifiers) (*Attempt, error) {
	var account *model.Account
	if accountID != 0 {
		var err error
		account, err = s.repo.GetAccountByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		// Чёрный список ведётся по игровым идентификаторам,
		// внутренние номера аккаунтов в нём не встречаются.
		ids.AccountID = account.RealID
	}

	if blocked, reason := s.CheckBlocked(ctx, ids); blocked {
		if reason == "" {
			return nil, ErrBlocked
		}
		return nil, fmt.Errorf("%w: %s", ErrBlocked, reason)
	}

	a := &Attempt{
		ID:        uuid.NewString(),
		AccountID: accountID,
		ProductID: productID,
		Step:      StepVerifying,
		ExpiresAt: time.Now().Add(attemptTTL),
	}

	if accountID == 0 {
		a.Step = StepRegistering
		s.attempts.put(a)
		return a, nil
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	if !product.Active {
		return nil, ErrNotEligible
	}

	hidden, err := s.repo.IsProductHidden(ctx, productID, accountID)
	if err != nil {
		if !failOpen("purchase.eligibility") {
			return nil, err
		}
		s.logger.Error("product hide check failed, allowing purchase",
			zap.Int64("productID", productID), zap.Error(err))
		hidden = false
	}
	if hidden {
		return nil, ErrNotEligible
	}

	if s.purchaseLimit > 0 {
		n, err := s.repo.CountAccountOrders(ctx, productID, accountID)
		if err != nil {
			if !failOpen("purchase.eligibility") {
				return nil, err
			}
			s.logger.Error("purchase limit check failed, allowing purchase",
				zap.Int64("productID", productID), zap.Error(err))
			n = 0
		}
		if n >= s.purchaseLimit {
			return nil, ErrNotEligible
		}
	}

	a.CoinsApplied, a.FinalPrice = computePrice(product, account)
	a.Step = StepDetails
	s.attempts.put(a)
	return a, nil
}

// computePrice вычисляет скидку монетами и итоговую цену.
// Для монетных товаров скидка не применяется, используется отдельная цена
// покупки. Итоговая цена на всякий случай ограничивается снизу нулём.
func computePrice(p *model.Product, a *model.Account) (coinsApplied, finalPrice int64) {
	if p.CoinOnly {
		if p.PurchasePrice != nil {
			return 0, *p.PurchasePrice
		}
		return 0, p.BasePrice
	}

	coinsApplied = min(a.Coins, p.MaxCoinDiscount)
	if coinsApplied < 0 {
		coinsApplied = 0
	}

	finalPrice = p.BasePrice - coinsApplied
	if finalPrice < 0 {
		finalPrice = 0
	}
	return coinsApplied, finalPrice
}

// GetAttempt возвращает текущее состояние попытки. Для попытки в обработке
// дополнительно подтягивается статус заказа: завершённый заказ переводит
// попытку в завершённое состояние.
func (s *Service) GetAttempt(ctx context.Context, attemptID string) (*Attempt, error) {
	a, ok := s.attempts.get(attemptID)
	if !ok {
		return nil, ErrAttemptNotFound
	}

	if a.Step == StepProcessing && a.OrderID != "" {
		o, err := s.repo.GetOrder(ctx, a.OrderID)
		if err == nil && o.Status == model.OrderStatusCompleted {
			a, err = s.attempts.update(attemptID, func(a *Attempt) error {
				if a.Step == StepProcessing {
					a.Step = StepCompleted
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return &a, nil
}

// ChoosePayment переводит попытку от подтверждения деталей к ожиданию оплаты.
// Оплата кодом погашения доступна, только если её разрешает товар и не
// запрещает флаг аккаунта.
func (s *Service) ChoosePayment(ctx context.Context, attemptID string, method model.PaymentMethod) (*Attempt, error) {
	a, ok := s.attempts.get(attemptID)
	if !ok {
		return nil, ErrAttemptNotFound
	}
	if a.Step != StepDetails {
		return nil, ErrInvalidStep
	}

	if method == model.PaymentMethodRedeem {
		product, err := s.repo.GetProduct(ctx, a.ProductID)
		if err != nil {
			return nil, err
		}
		account, err := s.repo.GetAccountByID(ctx, a.AccountID)
		if err != nil {
			return nil, err
		}
		if !product.AllowRedeem || account.RedeemDisabled {
			return nil, ErrRedeemUnavailable
		}
	}

	next := StepAwaitingUPI
	if method == model.PaymentMethodRedeem {
		next = StepAwaitingRedeem
	}

	updated, err := s.attempts.update(attemptID, func(a *Attempt) error {
		if a.Step != StepDetails {
			return ErrInvalidStep
		}
		a.Step = next
		a.Method = method
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// SubmitUPIReference принимает платёжный идентификатор UPI-транзакции и
// передаёт заказ на исполнение. Пустой идентификатор — локальная ошибка
// валидации: попытка остаётся в том же шаге с сохранённым вводом.
// Идентификатор не проверяется по платёжной сети, сверка выполняется
// внешней системой позже.
func (s *Service) SubmitUPIReference(ctx context.Context, attemptID, ref string) (*Attempt, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrEmptyPaymentRef
	}
	return s.submitPayment(ctx, attemptID, StepAwaitingUPI, model.PaymentMethodUPI, ref)
}

// SubmitRedeemCode принимает код погашения и передаёт заказ на исполнение.
// Действительность кода проверяет система исполнения, не конечный автомат.
func (s *Service) SubmitRedeemCode(ctx context.Context, attemptID, code string) (*Attempt, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrEmptyRedeemCode
	}
	return s.submitPayment(ctx, attemptID, StepAwaitingRedeem, model.PaymentMethodRedeem, code)
}

func (s *Service) submitPayment(ctx context.Context, attemptID string, from Step, method model.PaymentMethod, ref string) (*Attempt, error) {
	// Помечаем попытку как передаваемую, чтобы параллельная отправка
	// того же платежа не создала второй заказ.
	a, err := s.attempts.update(attemptID, func(a *Attempt) error {
		if a.Step != from || a.inFlight {
			return ErrInvalidStep
		}
		a.inFlight = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	release := func() {
		_, _ = s.attempts.update(attemptID, func(a *Attempt) error {
			a.inFlight = false
			return nil
		})
	}

	if s.orderClient == nil {
		release()
		return nil, errors.New("order service is not configured")
	}

	account, err := s.repo.GetAccountByID(ctx, a.AccountID)
	if err != nil {
		release()
		return nil, err
	}

	if a.CoinsApplied > 0 {
		if err := s.repo.AdjustCoins(ctx, a.AccountID, -a.CoinsApplied); err != nil {
			release()
			return nil, fmt.Errorf("apply coin discount: %w", err)
		}
	}

	orderID, err := s.orderClient.CreateOrder(ctx, orders.CreateOrderRequest{
		ProductRef: strconv.FormatInt(a.ProductID, 10),
		AccountRef: account.RealID,
		Method:     string(method),
		PaymentRef: ref,
		FinalPrice: a.FinalPrice,
	})
	if err != nil {
		if a.CoinsApplied > 0 {
			if refundErr := s.repo.AdjustCoins(ctx, a.AccountID, a.CoinsApplied); refundErr != nil {
				s.logger.Error("refund coin discount failed",
					zap.Int64("accountID", a.AccountID), zap.Error(refundErr))
			}
		}
		release()
		return nil, fmt.Errorf("order handoff: %w", err)
	}

	order := &model.Order{
		ID:         orderID,
		ProductID:  a.ProductID,
		AccountID:  a.AccountID,
		Method:     method,
		PaymentRef: ref,
		CoinsUsed:  a.CoinsApplied,
		FinalPrice: a.FinalPrice,
		Status:     model.OrderStatusProcessing,
	}
	if err := s.repo.SaveOrder(ctx, order); err != nil {
		// Заказ уже принят внешней системой, локальную запись не откатить.
		s.logger.Error("save order failed", zap.String("orderID", orderID), zap.Error(err))
	}

	updated, err := s.attempts.update(attemptID, func(a *Attempt) error {
		a.Step = StepProcessing
		a.PaymentRef = ref
		a.Method = method
		a.OrderID = orderID
		a.inFlight = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// CancelPurchase отменяет попытку покупки. Попытка, уже переданная или
// передаваемая на исполнение в этот момент, отмене не подлежит.
func (s *Service) CancelPurchase(attemptID string) error {
	_, err := s.attempts.update(attemptID, func(a *Attempt) error {
		switch a.Step {
		case StepProcessing, StepCompleted:
			return ErrInvalidStep
		}
		if a.inFlight {
			return ErrInvalidStep
		}
		a.Step = StepAbandoned
		return nil
	})
	return err
}
