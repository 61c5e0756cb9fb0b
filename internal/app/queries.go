package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reviewsync/internal/domain"
)

// ReviewsOverview is what the dashboard renders: one page of canonical
// reviews plus the cached aggregates.
type ReviewsOverview struct {
	Reviews      []domain.Review
	Rating       *float64
	TotalReviews int
	LastSyncedAt *time.Time
	Page         int
	LastPage     int
	PerPage      int
	Total        int
}

const (
	minPerPage = 5
	maxPerPage = 50
)

// QueryService serves the read side. When an owner has never completed a
// sync it falls back to a live static fetch of the first page, which is the
// only place the static extractor is used.
type QueryService struct {
	reviews  domain.ReviewRepository
	settings domain.SettingsRepository
	cache    domain.Cache
	cacheTTL time.Duration

	resolver domain.OrgResolver
	static   domain.ReviewExtractor
}

func NewQueryService(reviews domain.ReviewRepository, settings domain.SettingsRepository,
	cache domain.Cache, ttl time.Duration, resolver domain.OrgResolver, static domain.ReviewExtractor) *QueryService {
	return &QueryService{
		reviews:  reviews,
		settings: settings,
		cache:    cache,
		cacheTTL: ttl,
		resolver: resolver,
		static:   static,
	}
}

func (s *QueryService) ListReviews(ctx context.Context, userID int64, page, perPage int) (ReviewsOverview, error) {
	st, err := s.settings.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ReviewsOverview{}, domain.ErrNotConfigured
		}
		return ReviewsOverview{}, err
	}
	if st.SourceURL == nil || *st.SourceURL == "" {
		return ReviewsOverview{}, domain.ErrNotConfigured
	}

	if page < 1 {
		page = 1
	}
	perPage = clampPerPage(perPage)

	// Never-synced owners get a lighter-weight live read instead of an
	// empty dashboard.
	if st.LastSyncedAt == nil {
		if n, _ := s.reviews.CountReviews(ctx, userID); n == 0 {
			return s.liveOverview(ctx, st, perPage)
		}
	}

	key := fmt.Sprintf("reviews:%d:%d:%d", userID, page, perPage)
	var out ReviewsOverview
	if ok, _ := s.cache.Get(ctx, key, &out); ok {
		return out, nil
	}

	pg, err := s.reviews.ListReviews(ctx, userID, domain.PageQuery{Page: page, PerPage: perPage})
	if err != nil {
		return ReviewsOverview{}, err
	}

	out = ReviewsOverview{
		Reviews:      pg.Items,
		Rating:       st.Rating,
		TotalReviews: pg.Total,
		LastSyncedAt: st.LastSyncedAt,
		Page:         pg.Page,
		LastPage:     pg.LastPage,
		PerPage:      pg.PerPage,
		Total:        pg.Total,
	}
	if st.TotalReviews != nil {
		out.TotalReviews = *st.TotalReviews
	}

	// copy before caching to avoid aliasing the repo's backing array
	cached := out
	cached.Reviews = append([]domain.Review(nil), out.Reviews...)
	if b, _ := json.Marshal(cached); len(b) < 1_000_000 {
		_ = s.cache.Set(ctx, key, cached, int(s.cacheTTL.Seconds()))
	}
	return out, nil
}

// liveOverview fetches the first static page directly from the source site
// without persisting anything.
func (s *QueryService) liveOverview(ctx context.Context, st domain.Settings, perPage int) (ReviewsOverview, error) {
	if s.resolver == nil || s.static == nil {
		return ReviewsOverview{Page: 1, LastPage: 1, PerPage: perPage}, nil
	}
	ref, err := s.resolver.Resolve(ctx, *st.SourceURL)
	if err != nil {
		return ReviewsOverview{}, err
	}
	ext, err := s.static.Extract(ctx, ref, nil)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", st.UserID).Msg("live static read failed")
		return ReviewsOverview{Page: 1, LastPage: 1, PerPage: perPage}, nil
	}

	reviews := normalizeReviews(st.UserID, ext.Reviews)
	if len(reviews) > perPage {
		reviews = reviews[:perPage]
	}
	out := ReviewsOverview{
		Reviews:  reviews,
		Rating:   ext.Rating,
		Page:     1,
		LastPage: 1,
		PerPage:  perPage,
		Total:    len(reviews),
	}
	if ext.TotalReviews != nil {
		out.TotalReviews = *ext.TotalReviews
	} else {
		out.TotalReviews = len(reviews)
	}
	return out, nil
}

func clampPerPage(n int) int {
	if n < minPerPage {
		return minPerPage
	}
	if n > maxPerPage {
		return maxPerPage
	}
	return n
}
