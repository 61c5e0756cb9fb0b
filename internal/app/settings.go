package app

import (
	"context"
	"errors"
	"fmt"

	"reviewsync/internal/domain"
)

// SettingsService owns the source-URL surface. Saving a changed URL wipes
// the owner's stored reviews inside the repository transaction (they belong
// to a different organization) and evicts cached pages.
type SettingsService struct {
	settings domain.SettingsRepository
	cache    domain.Cache
}

func NewSettingsService(settings domain.SettingsRepository, cache domain.Cache) *SettingsService {
	return &SettingsService{settings: settings, cache: cache}
}

func (s *SettingsService) Get(ctx context.Context, userID int64) (domain.Settings, error) {
	st, err := s.settings.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Settings{UserID: userID, SyncStatus: domain.SyncIdle}, nil
	}
	return st, err
}

func (s *SettingsService) Save(ctx context.Context, userID int64, url string) (domain.Settings, error) {
	st, err := s.settings.SaveSourceURL(ctx, userID, url)
	if err != nil {
		return domain.Settings{}, err
	}
	if s.cache != nil {
		for _, per := range []int{5, 20, 50} {
			_ = s.cache.Del(ctx, fmt.Sprintf("reviews:%d:%d:%d", userID, 1, per))
		}
	}
	return st, nil
}
