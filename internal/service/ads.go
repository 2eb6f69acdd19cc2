package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mmeshcher/topup-store/internal/model"
	"github.com/mmeshcher/topup-store/internal/repository"
)

// RandomAd возвращает рекламный ролик для посетителя. Повторные запросы
// одного посетителя в пределах фиксации получают тот же ролик, поэтому
// перезагрузка страницы во время показа не меняет ролик.
// Недоступность хранилища фиксаций не ломает показ: она приравнивается
// к отсутствию фиксации.
func (s *Service) RandomAd(ctx context.Context, visitorKey string) (*model.Ad, error) {
	locked, err := s.locker.Get(ctx, visitorKey)
	if err != nil {
		if !failOpen("adlock.read") {
			return nil, err
		}
		s.logger.Error("ad lock read failed", zap.Error(err))
	}
	if locked != nil {
		return locked, nil
	}

	ad, err := s.repo.GetRandomAd(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrAdNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := s.locker.Set(ctx, visitorKey, ad, s.adLockTTL); err != nil {
		s.logger.Error("ad lock write failed", zap.Error(err))
	}

	return ad, nil
}
