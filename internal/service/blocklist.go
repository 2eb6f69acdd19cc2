package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/topup-store/internal/model"
	"github.com/mmeshcher/topup-store/internal/repository"
)

// CheckBlocked проверяет идентификаторы посетителя по чёрному списку.
// Порядок проверки фиксирован: ip, затем отпечаток устройства, затем аккаунт —
// при нескольких совпадениях причина берётся из первого.
// Недоступность хранилища не блокирует посетителя: проверка продолжается
// как разрешённая, отказ попадает только в журнал.
func (s *Service) CheckBlocked(ctx context.Context, ids model.Identifiers) (bool, string) {
	checks := []struct {
		kind  model.BlockKind
		value string
	}{
		{model.BlockKindIP, ids.IP},
		{model.BlockKindFingerprint, ids.Fingerprint},
		{model.BlockKindAccountID, ids.AccountID},
	}

	for _, c := range checks {
		if c.value == "" {
			continue
		}

		b, err := s.repo.FindBlock(ctx, c.kind, c.value)
		if err != nil {
			if errors.Is(err, repository.ErrBlockNotFound) {
				continue
			}
			if failOpen("block.check") {
				s.logger.Error("block check failed, allowing visitor",
					zap.String("kind", string(c.kind)), zap.Error(err))
				continue
			}
			return true, ""
		}

		return true, b.Reason
	}

	return false, ""
}

// AddBlock создаёт запись чёрного списка для указанного идентификатора.
func (s *Service) AddBlock(ctx context.Context, kind model.BlockKind, value, reason string) (*model.Block, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind", ErrInvalidBlock)
	}

	value = strings.TrimSpace(value)
	reason = strings.TrimSpace(reason)
	if value == "" {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidBlock)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: a reason is required", ErrInvalidBlock)
	}

	return s.repo.AddBlock(ctx, kind, value, reason)
}

// RemoveBlock удаляет запись чёрного списка по идентификатору.
func (s *Service) RemoveBlock(ctx context.Context, id int64) error {
	return s.repo.RemoveBlock(ctx, id)
}

// BlockPage содержит страницу записей чёрного списка.
type BlockPage struct {
	Items   []model.Block
	Total   int64
	HasMore bool
}

const adminPageSize = 10

// ListBlocks возвращает страницу чёрного списка с поиском по значению.
func (s *Service) ListBlocks(ctx context.Context, page int, search string) (*BlockPage, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * adminPageSize

	items, total, err := s.repo.ListBlocks(ctx, adminPageSize, offset, search)
	if err != nil {
		return nil, err
	}

	return &BlockPage{
		Items:   items,
		Total:   total,
		HasMore: int64(offset+len(items)) < total,
	}, nil
}
