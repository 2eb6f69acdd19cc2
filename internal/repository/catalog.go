package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mmeshcher/topup-store/internal/model"
)

// GetProduct возвращает товар по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	var p model.Product
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, base_price, max_coin_discount, coin_only, purchase_price, allow_redeem, active, created_at
		 FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.BasePrice, &p.MaxCoinDiscount, &p.CoinOnly, &p.PurchasePrice, &p.AllowRedeem, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// IsProductHidden сообщает, скрыт ли товар оператором для указанного аккаунта.
func (r *PostgresRepository) IsProductHidden(ctx context.Context, productID, accountID int64) (bool, error) {
	var hidden bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM product_hides WHERE product_id = $1 AND account_id = $2)`,
		productID, accountID,
	).Scan(&hidden)
	if err != nil {
		return false, fmt.Errorf("check product hidden: %w", err)
	}
	return hidden, nil
}

// CountAccountOrders возвращает число заказов аккаунта по товару,
// не завершившихся отказом. Используется лимитом покупок на товар.
func (r *PostgresRepository) CountAccountOrders(ctx context.Context, productID, accountID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE product_id = $1 AND account_id = $2 AND status <> $3`,
		productID, accountID, string(model.OrderStatusFailed),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count account orders: %w", err)
	}
	return n, nil
}

// GetRandomAd возвращает случайный рекламный ролик.
func (r *PostgresRepository) GetRandomAd(ctx context.Context) (*model.Ad, error) {
	return r.scanAd(r.pool.QueryRow(ctx,
		`SELECT id, video_url, cta_text, cta_link, reward_coins, total_duration, created_at
		 FROM ads ORDER BY random() LIMIT 1`))
}

// GetAd возвращает рекламный ролик по идентификатору.
func (r *PostgresRepository) GetAd(ctx context.Context, id int64) (*model.Ad, error) {
	return r.scanAd(r.pool.QueryRow(ctx,
		`SELECT id, video_url, cta_text, cta_link, reward_coins, total_duration, created_at
		 FROM ads WHERE id = $1`, id))
}

func (r *PostgresRepository) scanAd(row pgx.Row) (*model.Ad, error) {
	var a model.Ad
	err := row.Scan(&a.ID, &a.VideoURL, &a.CTAText, &a.CTALink, &a.RewardCoins, &a.TotalDuration, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAdNotFound
		}
		return nil, fmt.Errorf("get ad: %w", err)
	}
	return &a, nil
}

// SaveOrder сохраняет переданный на исполнение заказ.
func (r *PostgresRepository) SaveOrder(ctx context.Context, o *model.Order) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (id, product_id, account_id, method, payment_ref, coins_used, final_price, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.ProductID, o.AccountID, string(o.Method), o.PaymentRef, o.CoinsUsed, o.FinalPrice, string(o.Status),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	var method, status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, product_id, account_id, method, payment_ref, coins_used, final_price, status, created_at
		 FROM orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.ProductID, &o.AccountID, &method, &o.PaymentRef, &o.CoinsUsed, &o.FinalPrice, &status, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Method = model.PaymentMethod(method)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// OrderForPolling описывает заказ, ожидающий подтверждения исполнения.
type OrderForPolling struct {
	ID        string
	AccountID int64
	CoinsUsed int64
}

// GetOrdersForPolling возвращает заказы, статус которых нужно запросить у внешней системы.
func (r *PostgresRepository) GetOrdersForPolling(ctx context.Context, limit int) ([]OrderForPolling, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, account_id, coins_used
		 FROM orders
		 WHERE status = $1
		 ORDER BY created_at
		 LIMIT $2`,
		string(model.OrderStatusProcessing), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders for polling: %w", err)
	}
	defer rows.Close()

	var res []OrderForPolling
	for rows.Next() {
		var o OrderForPolling
		if err := rows.Scan(&o.ID, &o.AccountID, &o.CoinsUsed); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// UpdateOrderStatus обновляет статус заказа.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// GetOrdersByAccount возвращает заказы аккаунта, новые первыми.
func (r *PostgresRepository) GetOrdersByAccount(ctx context.Context, accountID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, product_id, account_id, method, payment_ref, coins_used, final_price, status, created_at
		 FROM orders
		 WHERE account_id = $1
		 ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		var o model.Order
		var method, status string
		if err := rows.Scan(&o.ID, &o.ProductID, &o.AccountID, &method, &o.PaymentRef, &o.CoinsUsed, &o.FinalPrice, &status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Method = model.PaymentMethod(method)
		o.Status = model.OrderStatus(status)
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
