// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/topup-store/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAccountExists возвращается при попытке создать аккаунт с уже занятым идентификатором.
var (
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound возвращается, если аккаунт не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNoVisualID возвращается при попытке продвижения аккаунта без визуального идентификатора.
	ErrNoVisualID = errors.New("account has no visual id")
	// ErrIdentifierTaken возвращается, если целевой идентификатор продвижения уже занят другим аккаунтом.
	ErrIdentifierTaken = errors.New("identifier already taken")
	// ErrBlockExists возвращается при попытке заблокировать уже заблокированное значение.
	ErrBlockExists = errors.New("value already blocked")
	// ErrBlockNotFound возвращается, если запись блокировки не найдена.
	ErrBlockNotFound = errors.New("block not found")
	// ErrInsufficientCoins возвращается при попытке списать больше монет, чем есть на балансе.
	ErrInsufficientCoins = errors.New("insufficient coins")
	// ErrSameAccount возвращается при попытке перевода монет самому себе.
	ErrSameAccount = errors.New("sender and recipient are the same account")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrAdNotFound возвращается, если рекламный ролик не найден.
	ErrAdNotFound = errors.New("ad not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Повторяем только конфликты сериализации и дедлоки.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateAccount создаёт новый аккаунт с указанным игровым идентификатором.
func (r *PostgresRepository) CreateAccount(ctx context.Context, realID string) (*model.Account, error) {
	var a model.Account
	err := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (real_id) VALUES ($1)
		 RETURNING id, real_id, visual_id, coins, redeem_disabled, created_at`,
		realID,
	).Scan(&a.ID, &a.RealID, &a.VisualID, &a.Coins, &a.RedeemDisabled, &a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrAccountExists, realID)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &a, nil
}

// GetAccountByID возвращает аккаунт по внутреннему идентификатору.
func (r *PostgresRepository) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	return r.scanAccount(r.pool.QueryRow(ctx,
		`SELECT id, real_id, visual_id, coins, redeem_disabled, created_at
		 FROM accounts WHERE id = $1`, id))
}

// GetAccountByRealID возвращает аккаунт по игровому идентификатору.
func (r *PostgresRepository) GetAccountByRealID(ctx context.Context, realID string) (*model.Account, error) {
	return r.scanAccount(r.pool.QueryRow(ctx,
		`SELECT id, real_id, visual_id, coins, redeem_disabled, created_at
		 FROM accounts WHERE real_id = $1`, realID))
}

// FindAccountForPromotion ищет аккаунт, участвующий в связке визуального
// идентификатора с указанным значением: либо его real_id совпадает с candidateID
// и при этом установлен visual_id, либо candidateID является его visual_id.
func (r *PostgresRepository) FindAccountForPromotion(ctx context.Context, candidateID string) (*model.Account, error) {
	return r.scanAccount(r.pool.QueryRow(ctx,
		`SELECT id, real_id, visual_id, coins, redeem_disabled, created_at
		 FROM accounts
		 WHERE visual_id IS NOT NULL AND visual_id <> ''
		   AND (real_id = $1 OR visual_id = $1)`, candidateID))
}

func (r *PostgresRepository) scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.RealID, &a.VisualID, &a.Coins, &a.RedeemDisabled, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// PromoteAccount атомарно заменяет настоящий идентификатор аккаунта его
// визуальным идентификатором и записывает событие в журнал продвижений.
// При занятом целевом идентификаторе возвращает ErrIdentifierTaken,
// не оставляя частичных изменений.
func (r *PostgresRepository) PromoteAccount(ctx context.Context, accountID int64) (*model.Promotion, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldRealID string
	var visualID *string
	err = tx.QueryRow(ctx,
		`SELECT real_id, visual_id FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&oldRealID, &visualID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock account for promotion: %w", err)
	}

	if visualID == nil || *visualID == "" {
		return nil, ErrNoVisualID
	}
	newRealID := *visualID

	_, err = tx.Exec(ctx,
		`UPDATE accounts SET real_id = $2, visual_id = NULL WHERE id = $1`,
		accountID, newRealID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrIdentifierTaken, newRealID)
		}
		return nil, fmt.Errorf("rename account: %w", err)
	}

	var p model.Promotion
	err = tx.QueryRow(ctx,
		`INSERT INTO promotions (old_real_id, new_real_id) VALUES ($1, $2)
		 RETURNING id, old_real_id, new_real_id, promoted_at`,
		oldRealID, newRealID,
	).Scan(&p.ID, &p.OldRealID, &p.NewRealID, &p.PromotedAt)
	if err != nil {
		return nil, fmt.Errorf("insert promotion record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &p, nil
}

// ListPromotions возвращает страницу журнала продвижений, новые записи первыми.
// Поиск выполняется по вхождению подстроки в старый или новый идентификатор.
func (r *PostgresRepository) ListPromotions(ctx context.Context, limit, offset int, search string) ([]model.Promotion, int64, error) {
	pattern := "%" + search + "%"

	rows, err := r.pool.Query(ctx,
		`SELECT id, old_real_id, new_real_id, promoted_at
		 FROM promotions
		 WHERE $1 = '' OR old_real_id ILIKE $2 OR new_real_id ILIKE $2
		 ORDER BY promoted_at DESC
		 LIMIT $3 OFFSET $4`,
		search, pattern, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select promotions: %w", err)
	}
	defer rows.Close()

	var res []model.Promotion
	for rows.Next() {
		var p model.Promotion
		if err := rows.Scan(&p.ID, &p.OldRealID, &p.NewRealID, &p.PromotedAt); err != nil {
			return nil, 0, fmt.Errorf("scan promotion: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	var total int64
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM promotions
		 WHERE $1 = '' OR old_real_id ILIKE $2 OR new_real_id ILIKE $2`,
		search, pattern,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count promotions: %w", err)
	}

	return res, total, nil
}

// TransferCoins атомарно переводит монеты между аккаунтами.
// Строки отправителя и получателя блокируются в порядке возрастания
// идентификаторов, чтобы исключить взаимные блокировки встречных переводов.
func (r *PostgresRepository) TransferCoins(ctx context.Context, fromID, toID, amount int64) error {
	if fromID == toID {
		return ErrSameAccount
	}

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		first, second := fromID, toID
		if second < first {
			first, second = second, first
		}

		balances := map[int64]int64{}
		for _, id := range []int64{first, second} {
			var coins int64
			err := tx.QueryRow(ctx, `SELECT coins FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&coins)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrAccountNotFound
				}
				return fmt.Errorf("lock account %d: %w", id, err)
			}
			balances[id] = coins
		}

		if balances[fromID] < amount {
			return ErrInsufficientCoins
		}

		if _, err := tx.Exec(ctx, `UPDATE accounts SET coins = coins - $2 WHERE id = $1`, fromID, amount); err != nil {
			return fmt.Errorf("debit sender: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE accounts SET coins = coins + $2 WHERE id = $1`, toID, amount); err != nil {
			return fmt.Errorf("credit recipient: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// AdjustCoins изменяет баланс аккаунта на delta условным обновлением:
// баланс никогда не уходит в минус.
func (r *PostgresRepository) AdjustCoins(ctx context.Context, accountID, delta int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET coins = coins + $2 WHERE id = $1 AND coins + $2 >= 0`,
		accountID, delta,
	)
	if err != nil {
		return fmt.Errorf("adjust coins: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		exists, err := r.accountExists(ctx, accountID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrInsufficientCoins
	}
	return nil
}

func (r *PostgresRepository) accountExists(ctx context.Context, accountID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account exists: %w", err)
	}
	return exists, nil
}

// LogAccountIP добавляет запись о сетевом адресе в историю аккаунта.
func (r *PostgresRepository) LogAccountIP(ctx context.Context, accountID int64, ip string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO account_ips (account_id, ip) VALUES ($1, $2)`,
		accountID, ip,
	)
	if err != nil {
		return fmt.Errorf("log account ip: %w", err)
	}
	return nil
}

// GetAccountOrigins возвращает историю сетевых адресов аккаунта, новые первыми.
func (r *PostgresRepository) GetAccountOrigins(ctx context.Context, accountID int64) ([]model.OriginRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ip, logged_at FROM account_ips WHERE account_id = $1 ORDER BY logged_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select account ips: %w", err)
	}
	defer rows.Close()

	var res []model.OriginRecord
	for rows.Next() {
		var rec model.OriginRecord
		if err := rows.Scan(&rec.IP, &rec.LoggedAt); err != nil {
			return nil, fmt.Errorf("scan account ip: %w", err)
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
