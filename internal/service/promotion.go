package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mmeshcher/topup-store/internal/model"
	"github.com/mmeshcher/topup-store/internal/repository"
)

// HandlePreRegistrationPromotion выполняет продвижение визуального идентификатора
// перед регистрацией: если candidateID совпадает с настоящим идентификатором
// аккаунта, у которого установлен визуальный, либо с чьим-то визуальным
// идентификатором, этот аккаунт продвигается. Вызов никогда не возвращает
// ошибку — регистрация должна продолжиться в любом случае, неудачное
// продвижение попадает только в журнал.
func (s *Service) HandlePreRegistrationPromotion(ctx context.Context, candidateID string) {
	if candidateID == "" {
		return
	}

	acc, err := s.repo.FindAccountForPromotion(ctx, candidateID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return
		}
		if failOpen("promotion.preamble") {
			s.logger.Error("pre-registration promotion lookup failed",
				zap.String("candidateID", candidateID), zap.Error(err))
		}
		return
	}

	p, err := s.repo.PromoteAccount(ctx, acc.ID)
	if err != nil {
		s.logger.Error("pre-registration promotion failed",
			zap.String("candidateID", candidateID),
			zap.String("realID", acc.RealID),
			zap.Error(err))
		return
	}

	s.logger.Info("visual identifier promoted",
		zap.String("oldRealID", p.OldRealID),
		zap.String("newRealID", p.NewRealID))
}

// RegisterAccount регистрирует новый аккаунт с указанным игровым идентификатором.
// Перед проверкой занятости идентификатора выполняется продвижение визуальных
// идентификаторов, чтобы новый посетитель не успел занять освобождающееся значение.
// Сетевой адрес записывается в историю аккаунта по возможности.
func (s *Service) RegisterAccount(ctx context.Context, realID, ip string) (*model.Account, error) {
	s.HandlePreRegistrationPromotion(ctx, realID)

	acc, err := s.repo.CreateAccount(ctx, realID)
	if err != nil {
		return nil, err
	}

	if ip != "" {
		if err := s.repo.LogAccountIP(ctx, acc.ID, ip); err != nil {
			s.logger.Error("log account ip failed", zap.Int64("accountID", acc.ID), zap.Error(err))
		}
	}

	return acc, nil
}

// ResolveAccount возвращает аккаунт по игровому идентификатору и фиксирует
// сетевой адрес визита.
func (s *Service) ResolveAccount(ctx context.Context, realID, ip string) (*model.Account, error) {
	acc, err := s.repo.GetAccountByRealID(ctx, realID)
	if err != nil {
		return nil, err
	}

	if ip != "" {
		if err := s.repo.LogAccountIP(ctx, acc.ID, ip); err != nil {
			s.logger.Error("log account ip failed", zap.Int64("accountID", acc.ID), zap.Error(err))
		}
	}

	return acc, nil
}

// Account возвращает аккаунт по внутреннему идентификатору.
func (s *Service) Account(ctx context.Context, accountID int64) (*model.Account, error) {
	return s.repo.GetAccountByID(ctx, accountID)
}

// AccountOrigins возвращает историю сетевых адресов аккаунта.
func (s *Service) AccountOrigins(ctx context.Context, accountID int64) ([]model.OriginRecord, error) {
	return s.repo.GetAccountOrigins(ctx, accountID)
}

// Logout завершает сессию аккаунта. Если у аккаунта установлен визуальный
// идентификатор, он продвигается; неудача продвижения не мешает выходу.
func (s *Service) Logout(ctx context.Context, accountID int64) {
	acc, err := s.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		s.logger.Error("logout account lookup failed", zap.Int64("accountID", accountID), zap.Error(err))
		return
	}

	if acc.VisualID == nil || *acc.VisualID == "" {
		return
	}

	p, err := s.repo.PromoteAccount(ctx, acc.ID)
	if err != nil {
		s.logger.Error("logout promotion failed", zap.Int64("accountID", accountID), zap.Error(err))
		return
	}

	s.logger.Info("visual identifier promoted at logout",
		zap.String("oldRealID", p.OldRealID),
		zap.String("newRealID", p.NewRealID))
}

// PromotionPage содержит страницу журнала продвижений.
type PromotionPage struct {
	Items   []model.Promotion
	Total   int64
	HasMore bool
}

// ListPromotions возвращает страницу журнала продвижений с поиском
// по старому или новому идентификатору.
func (s *Service) ListPromotions(ctx context.Context, page int, search string) (*PromotionPage, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * adminPageSize

	items, total, err := s.repo.ListPromotions(ctx, adminPageSize, offset, search)
	if err != nil {
		return nil, err
	}

	return &PromotionPage{
		Items:   items,
		Total:   total,
		HasMore: int64(offset+len(items)) < total,
	}, nil
}
