package domain

import "context"

type ReviewRepository interface {
	// ReplaceReviews deletes the owner's stored reviews and bulk-upserts the
	// replacement set in one transaction. Called only after extraction fully
	// succeeded, so a failed run never destroys previously good data.
	ReplaceReviews(ctx context.Context, userID int64, rs []Review) error
	DeleteReviews(ctx context.Context, userID int64) error
	ListReviews(ctx context.Context, userID int64, pg PageQuery) (ReviewsPage, error)
	CountReviews(ctx context.Context, userID int64) (int, error)
}

type SettingsRepository interface {
	Get(ctx context.Context, userID int64) (Settings, error) // ErrNotFound when absent
	// SaveSourceURL upserts the owner's source URL. A changed URL wipes the
	// owner's stored reviews and cached aggregates: the old reviews belong to
	// a different organization.
	SaveSourceURL(ctx context.Context, userID int64, url string) (Settings, error)
	// TryMarkPending atomically flips status to pending unless a run is
	// already pending/running. Returns false when the claim was refused.
	TryMarkPending(ctx context.Context, userID int64, message string) (bool, error)
	SetSyncStatus(ctx context.Context, userID int64, status SyncStatus, message string) error
	// SetSyncResult records a completed run: status, aggregates and the
	// last-synced timestamp in one update.
	SetSyncResult(ctx context.Context, userID int64, rating *float64, total *int, message string) error
}

// OrgResolver turns an arbitrary user-supplied listing URL (possibly a
// shortlink) into a stable OrganizationRef.
type OrgResolver interface {
	Resolve(ctx context.Context, rawURL string) (OrganizationRef, error)
}

// ProgressFunc receives human-readable progress messages during a long
// extraction. May be nil.
type ProgressFunc func(msg string)

// ReviewExtractor obtains raw reviews plus aggregate rating for a listing.
// Implementations: the interactive (browser) extractor and the static one.
type ReviewExtractor interface {
	Extract(ctx context.Context, ref OrganizationRef, progress ProgressFunc) (*Extraction, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// SyncQueue is the job-runner contract: the API enqueues and returns
// immediately; an independent worker dequeues at some later time.
type SyncQueue interface {
	Enqueue(ctx context.Context, job SyncJob) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (SyncJob, error)
}

// Read models & queries

type PageQuery struct {
	Page    int
	PerPage int
}

type ReviewsPage struct {
	Items    []Review
	Page     int
	PerPage  int
	Total    int
	LastPage int
}
