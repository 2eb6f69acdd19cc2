package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mmeshcher/topup-store/internal/model"
)

// FindBlock ищет активную блокировку по виду и значению идентификатора.
func (r *PostgresRepository) FindBlock(ctx context.Context, kind model.BlockKind, value string) (*model.Block, error) {
	var b model.Block
	err := r.pool.QueryRow(ctx,
		`SELECT id, kind, value, reason, created_at FROM blocks WHERE kind = $1 AND value = $2`,
		string(kind), value,
	).Scan(&b.ID, &b.Kind, &b.Value, &b.Reason, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("find block: %w", err)
	}
	return &b, nil
}

// AddBlock создаёт запись блокировки. Значение уникально независимо от вида.
func (r *PostgresRepository) AddBlock(ctx context.Context, kind model.BlockKind, value, reason string) (*model.Block, error) {
	var b model.Block
	err := r.pool.QueryRow(ctx,
		`INSERT INTO blocks (kind, value, reason) VALUES ($1, $2, $3)
		 RETURNING id, kind, value, reason, created_at`,
		string(kind), value, reason,
	).Scan(&b.ID, &b.Kind, &b.Value, &b.Reason, &b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrBlockExists, value)
		}
		return nil, fmt.Errorf("add block: %w", err)
	}
	return &b, nil
}

// RemoveBlock удаляет запись блокировки по идентификатору.
func (r *PostgresRepository) RemoveBlock(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM blocks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove block: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrBlockNotFound
	}
	return nil
}

// ListBlocks возвращает страницу записей блокировок, новые первыми.
// Поиск выполняется по вхождению подстроки в заблокированное значение.
func (r *PostgresRepository) ListBlocks(ctx context.Context, limit, offset int, search string) ([]model.Block, int64, error) {
	pattern := "%" + search + "%"

	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, value, reason, created_at
		 FROM blocks
		 WHERE $1 = '' OR value ILIKE $2
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		search, pattern, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select blocks: %w", err)
	}
	defer rows.Close()

	var res []model.Block
	for rows.Next() {
		var b model.Block
		if err := rows.Scan(&b.ID, &b.Kind, &b.Value, &b.Reason, &b.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan block: %w", err)
		}
		res = append(res, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	var total int64
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM blocks WHERE $1 = '' OR value ILIKE $2`,
		search, pattern,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count blocks: %w", err)
	}

	return res, total, nil
}
