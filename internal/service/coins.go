package service

import (
	"context"
	"errors"

	"github.com/mmeshcher/topup-store/internal/repository"
)

// Transfer переводит монеты текущего аккаунта получателю, указанному игровым
// идентификатором. Перевод атомарен: при любой ошибке балансы не меняются.
func (s *Service) Transfer(ctx context.Context, fromID int64, toRealID string, amount int64) error {
	if amount < 1 {
		return ErrInvalidAmount
	}

	recipient, err := s.repo.GetAccountByRealID(ctx, toRealID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return repository.ErrAccountNotFound
		}
		return err
	}

	return s.repo.TransferCoins(ctx, fromID, recipient.ID, amount)
}

// Balance возвращает текущий баланс монет аккаунта.
func (s *Service) Balance(ctx context.Context, accountID int64) (int64, error) {
	acc, err := s.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.Coins, nil
}

// RewardAdWatch начисляет аккаунту монеты за просмотр рекламного ролика.
func (s *Service) RewardAdWatch(ctx context.Context, accountID, adID int64) (int64, error) {
	ad, err := s.repo.GetAd(ctx, adID)
	if err != nil {
		return 0, err
	}

	if ad.RewardCoins > 0 {
		if err := s.repo.AdjustCoins(ctx, accountID, ad.RewardCoins); err != nil {
			return 0, err
		}
	}

	return ad.RewardCoins, nil
}
