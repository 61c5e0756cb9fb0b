package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reviewsync/internal/adapters/observability"
	"reviewsync/internal/domain"
)

// syncMessageMax bounds the user-facing status message; full detail goes to
// the operator log instead.
const syncMessageMax = 100

// SyncService executes one sync run end to end: resolve the configured URL,
// drive the interactive extractor, normalize, then replace the owner's
// stored set. Runs for different owners are independent; the only cross-run
// coordination is the status record claimed via TryMarkPending.
type SyncService struct {
	resolver  domain.OrgResolver
	extractor domain.ReviewExtractor
	settings  domain.SettingsRepository
	reviews   domain.ReviewRepository
	cache     domain.Cache
	log       zerolog.Logger
}

func NewSyncService(resolver domain.OrgResolver, extractor domain.ReviewExtractor,
	settings domain.SettingsRepository, reviews domain.ReviewRepository, cache domain.Cache) *SyncService {
	return &SyncService{
		resolver:  resolver,
		extractor: extractor,
		settings:  settings,
		reviews:   reviews,
		cache:     cache,
		log:       log.With().Str("component", "sync").Logger(),
	}
}

// Run performs the sync for one owner. The caller (worker) has already
// claimed the run via the pending status; Run moves it to running and then
// to completed or failed.
func (s *SyncService) Run(ctx context.Context, userID int64) error {
	start := time.Now()
	l := s.log.With().Int64("user_id", userID).Logger()

	st, err := s.settings.Get(ctx, userID)
	if err != nil || st.SourceURL == nil || *st.SourceURL == "" {
		l.Error().Err(err).Msg("sync run without configured source url")
		s.fail(ctx, userID, "Source URL is not configured")
		observability.ObserveSync("failed", time.Since(start))
		if err != nil {
			return err
		}
		return domain.ErrNotConfigured
	}

	if err := s.settings.SetSyncStatus(ctx, userID, domain.SyncRunning, "Opening Yandex Maps..."); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	ref, err := s.resolver.Resolve(ctx, *st.SourceURL)
	if err != nil {
		l.Error().Err(err).Str("url", *st.SourceURL).Msg("could not resolve organization")
		s.fail(ctx, userID, "Could not determine organization ID")
		observability.ObserveSync("failed", time.Since(start))
		return err
	}
	l.Info().Str("org_id", ref.OrgID).Str("url", ref.CanonicalURL).Msg("sync started")

	progress := func(msg string) {
		_ = s.settings.SetSyncStatus(ctx, userID, domain.SyncRunning, truncate(msg, syncMessageMax))
	}

	ext, err := s.extractor.Extract(ctx, ref, progress)
	if err != nil {
		l.Error().Err(err).Msg("interactive extraction failed")
		// Deliberately no automatic fallback to the static extractor here:
		// the static path serves only on-demand reads for owners who have
		// never completed a sync.
		s.fail(ctx, userID, "Failed to load reviews: "+err.Error())
		observability.ObserveSync("failed", time.Since(start))
		return err
	}

	reviews := normalizeReviews(userID, ext.Reviews)

	// Old rows are only destroyed now that extraction fully succeeded.
	if err := s.reviews.ReplaceReviews(ctx, userID, reviews); err != nil {
		l.Error().Err(err).Msg("storing reviews failed")
		s.fail(ctx, userID, "Failed to store reviews")
		observability.ObserveSync("failed", time.Since(start))
		return fmt.Errorf("replace reviews for %d: %w", userID, err)
	}

	total := ext.TotalReviews
	if total == nil {
		n := len(reviews)
		total = &n
	}
	msg := fmt.Sprintf("Synced %d reviews", len(reviews))
	if err := s.settings.SetSyncResult(ctx, userID, ext.Rating, total, msg); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	s.invalidateReviewPages(ctx, userID)

	l.Info().Int("reviews", len(reviews)).Dur("took", time.Since(start)).Msg("sync completed")
	observability.ObserveSync("completed", time.Since(start))
	return nil
}

func (s *SyncService) fail(ctx context.Context, userID int64, msg string) {
	if err := s.settings.SetSyncStatus(ctx, userID, domain.SyncFailed, truncate(msg, syncMessageMax)); err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("could not record failed status")
	}
}

// invalidate the most common cached page variants
func (s *SyncService) invalidateReviewPages(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	for _, per := range []int{5, 20, 50} {
		_ = s.cache.Del(ctx, fmt.Sprintf("reviews:%d:%d:%d", userID, 1, per))
	}
}

// truncate bounds s to max runes.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// SyncTrigger is the API-facing side of the orchestrator: claiming a run,
// enqueueing the job, and reading status with the staleness demotion.
type SyncTrigger struct {
	settings domain.SettingsRepository
	queue    domain.SyncQueue
	now      func() time.Time
}

func NewSyncTrigger(settings domain.SettingsRepository, queue domain.SyncQueue) *SyncTrigger {
	return &SyncTrigger{settings: settings, queue: queue, now: time.Now}
}

// Trigger flips the owner's status to pending and enqueues a job. When a run
// is already pending/running it returns the current state with
// ErrSyncInProgress so callers can answer idempotently.
func (t *SyncTrigger) Trigger(ctx context.Context, userID int64) (domain.Settings, error) {
	st, err := t.settings.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Settings{}, domain.ErrNotConfigured
		}
		return domain.Settings{}, err
	}
	if st.SourceURL == nil || *st.SourceURL == "" {
		return st, domain.ErrNotConfigured
	}

	claimed, err := t.settings.TryMarkPending(ctx, userID, "Queued...")
	if err != nil {
		return st, err
	}
	if !claimed {
		return st, domain.ErrSyncInProgress
	}

	if err := t.queue.Enqueue(ctx, domain.SyncJob{UserID: userID, EnqueuedAt: t.now()}); err != nil {
		// Roll the claim back so the owner is not wedged until staleness.
		_ = t.settings.SetSyncStatus(ctx, userID, domain.SyncFailed, "Could not queue sync job")
		return st, fmt.Errorf("enqueue sync job: %w", err)
	}

	st.SyncStatus = domain.SyncPending
	return st, nil
}

// Status returns the owner's sync state, demoting a stale pending/running
// record to failed as a side effect of the read. Absent settings read as
// idle.
func (t *SyncTrigger) Status(ctx context.Context, userID int64) (domain.Settings, error) {
	st, err := t.settings.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Settings{UserID: userID, SyncStatus: domain.SyncIdle}, nil
		}
		return domain.Settings{}, err
	}
	if st.SyncStale(t.now()) {
		msg := "Sync interrupted (timeout)"
		if err := t.settings.SetSyncStatus(ctx, userID, domain.SyncFailed, msg); err != nil {
			return st, err
		}
		st.SyncStatus = domain.SyncFailed
		st.SyncMessage = &msg
	}
	if st.SyncStatus == "" {
		st.SyncStatus = domain.SyncIdle
	}
	return st, nil
}
