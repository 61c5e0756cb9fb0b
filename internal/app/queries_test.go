package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"reviewsync/internal/app"
	"reviewsync/internal/domain"
)

// ---- fakes ----

type fakeSettings struct {
	st      map[int64]domain.Settings
	statusC []string // recorded status transitions, in order
	results int
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{st: map[int64]domain.Settings{}}
}

func (f *fakeSettings) Get(ctx context.Context, userID int64) (domain.Settings, error) {
	s, ok := f.st[userID]
	if !ok {
		return domain.Settings{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeSettings) SaveSourceURL(ctx context.Context, userID int64, url string) (domain.Settings, error) {
	s := f.st[userID]
	s.UserID = userID
	s.SourceURL = &url
	s.SyncStatus = domain.SyncIdle
	f.st[userID] = s
	return s, nil
}

func (f *fakeSettings) TryMarkPending(ctx context.Context, userID int64, message string) (bool, error) {
	s, ok := f.st[userID]
	if !ok || s.SourceURL == nil || s.SyncInProgress() {
		return false, nil
	}
	s.SyncStatus = domain.SyncPending
	s.SyncMessage = &message
	s.UpdatedAt = time.Now()
	f.st[userID] = s
	return true, nil
}

func (f *fakeSettings) SetSyncStatus(ctx context.Context, userID int64, status domain.SyncStatus, message string) error {
	s := f.st[userID]
	s.UserID = userID
	s.SyncStatus = status
	s.SyncMessage = &message
	s.UpdatedAt = time.Now()
	f.st[userID] = s
	f.statusC = append(f.statusC, string(status)+": "+message)
	return nil
}

func (f *fakeSettings) SetSyncResult(ctx context.Context, userID int64, rating *float64, total *int, message string) error {
	s := f.st[userID]
	s.SyncStatus = domain.SyncCompleted
	s.SyncMessage = &message
	s.Rating = rating
	s.TotalReviews = total
	now := time.Now()
	s.LastSyncedAt = &now
	f.st[userID] = s
	f.results++
	return nil
}

type fakeReviews struct {
	pg       domain.ReviewsPage
	count    int
	replaced [][]domain.Review
}

func (f *fakeReviews) ReplaceReviews(ctx context.Context, userID int64, rs []domain.Review) error {
	f.replaced = append(f.replaced, rs)
	f.count = len(rs)
	return nil
}
func (f *fakeReviews) DeleteReviews(ctx context.Context, userID int64) error { return nil }
func (f *fakeReviews) ListReviews(ctx context.Context, userID int64, pg domain.PageQuery) (domain.ReviewsPage, error) {
	out := f.pg
	out.Page = pg.Page
	out.PerPage = pg.PerPage
	return out, nil
}
func (f *fakeReviews) CountReviews(ctx context.Context, userID int64) (int, error) {
	return f.count, nil
}

type fakeCache struct {
	store map[string]any
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if c.store == nil {
		return false, nil
	}
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	if d, ok := dst.(*app.ReviewsOverview); ok {
		*d = v.(app.ReviewsOverview)
	}
	return true, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	if c.store == nil {
		c.store = map[string]any{}
	}
	c.store[key] = v
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error {
	delete(c.store, key)
	return nil
}

type fakeResolver struct {
	ref domain.OrganizationRef
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, rawURL string) (domain.OrganizationRef, error) {
	return f.ref, f.err
}

type fakeExtractor struct {
	ext      *domain.Extraction
	err      error
	calls    int
	progress []string
}

func (f *fakeExtractor) Extract(ctx context.Context, ref domain.OrganizationRef, progress domain.ProgressFunc) (*domain.Extraction, error) {
	f.calls++
	if progress != nil {
		for _, m := range f.progress {
			progress(m)
		}
	}
	return f.ext, f.err
}

type fakeQueue struct {
	jobs []domain.SyncJob
	err  error
}

func (f *fakeQueue) Enqueue(ctx context.Context, job domain.SyncJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}
func (f *fakeQueue) Dequeue(ctx context.Context) (domain.SyncJob, error) {
	if len(f.jobs) == 0 {
		return domain.SyncJob{}, errors.New("empty")
	}
	j := f.jobs[0]
	f.jobs = f.jobs[1:]
	return j, nil
}

func ptr[T any](v T) *T { return &v }

func configured(userID int64, url string) *fakeSettings {
	f := newFakeSettings()
	f.st[userID] = domain.Settings{UserID: userID, SourceURL: &url, SyncStatus: domain.SyncIdle, UpdatedAt: time.Now()}
	return f
}

// ---- tests ----

func TestListReviews_NotConfigured(t *testing.T) {
	q := app.NewQueryService(&fakeReviews{}, newFakeSettings(), &fakeCache{}, time.Minute, nil, nil)
	if _, err := q.ListReviews(context.Background(), 1, 1, 20); !errors.Is(err, domain.ErrNotConfigured) {
		t.Fatalf("want ErrNotConfigured, got %v", err)
	}
}

func TestListReviews_CacheMissThenHit(t *testing.T) {
	settings := configured(1, "https://yandex.ru/maps/org/org/1234567890/reviews/")
	st := settings.st[1]
	now := time.Now()
	st.LastSyncedAt = &now
	st.Rating = ptr(4.5)
	st.TotalReviews = ptr(120)
	settings.st[1] = st

	repo := &fakeReviews{
		pg:    domain.ReviewsPage{Items: []domain.Review{{ExternalID: "r-1", Author: "Ana", Rating: 5}}, Total: 120, LastPage: 6},
		count: 1,
	}
	cache := &fakeCache{}
	q := app.NewQueryService(repo, settings, cache, time.Minute, nil, nil)

	out, err := q.ListReviews(context.Background(), 1, 1, 20)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(out.Reviews) != 1 || out.Reviews[0].Author != "Ana" {
		t.Fatalf("unexpected reviews: %+v", out.Reviews)
	}
	if out.TotalReviews != 120 || out.Rating == nil || *out.Rating != 4.5 {
		t.Fatalf("aggregates: %+v", out)
	}

	// Mutate repo to prove the second read is served from cache.
	repo.pg.Items[0].Author = "SHOULD NOT SEE THIS"
	out2, err := q.ListReviews(context.Background(), 1, 1, 20)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out2.Reviews[0].Author != "Ana" {
		t.Fatalf("expected cached author Ana, got %s", out2.Reviews[0].Author)
	}
}

func TestListReviews_ClampsPerPage(t *testing.T) {
	settings := configured(1, "https://yandex.ru/maps/org/org/1234567890/reviews/")
	st := settings.st[1]
	now := time.Now()
	st.LastSyncedAt = &now
	settings.st[1] = st

	repo := &fakeReviews{count: 1}
	q := app.NewQueryService(repo, settings, &fakeCache{}, time.Minute, nil, nil)

	out, err := q.ListReviews(context.Background(), 1, 0, 1000)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out.Page != 1 || out.PerPage != 50 {
		t.Fatalf("want page 1 perPage 50, got %d %d", out.Page, out.PerPage)
	}
	out, _ = q.ListReviews(context.Background(), 1, 1, 1)
	if out.PerPage != 5 {
		t.Fatalf("want perPage floored to 5, got %d", out.PerPage)
	}
}

func TestListReviews_LiveFallbackWhenNeverSynced(t *testing.T) {
	settings := configured(1, "https://yandex.ru/short")
	resolver := &fakeResolver{ref: domain.OrganizationRef{OrgID: "1234567890"}}
	static := &fakeExtractor{ext: &domain.Extraction{
		Reviews:      []domain.RawReview{{"reviewId": "a", "author": "Ana"}, {"reviewId": "b", "author": "Bob"}},
		Rating:       ptr(4.3),
		TotalReviews: ptr(57),
	}}

	q := app.NewQueryService(&fakeReviews{}, settings, &fakeCache{}, time.Minute, resolver, static)

	out, err := q.ListReviews(context.Background(), 1, 1, 20)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if static.calls != 1 {
		t.Fatalf("static extractor calls: %d", static.calls)
	}
	if len(out.Reviews) != 2 || out.TotalReviews != 57 || *out.Rating != 4.3 {
		t.Fatalf("unexpected overview: %+v", out)
	}
	if out.LastSyncedAt != nil {
		t.Fatal("live fallback must not claim a synced timestamp")
	}
}

func TestListReviews_LiveFallbackDegradesToEmpty(t *testing.T) {
	settings := configured(1, "https://yandex.ru/short")
	resolver := &fakeResolver{ref: domain.OrganizationRef{OrgID: "1234567890"}}
	static := &fakeExtractor{err: errors.New("blocked")}

	q := app.NewQueryService(&fakeReviews{}, settings, &fakeCache{}, time.Minute, resolver, static)

	out, err := q.ListReviews(context.Background(), 1, 1, 20)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(out.Reviews) != 0 || out.Total != 0 {
		t.Fatalf("expected empty overview, got %+v", out)
	}
}
