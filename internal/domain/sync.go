package domain

import "time"

type SyncStatus string

const (
	SyncIdle      SyncStatus = "idle"
	SyncPending   SyncStatus = "pending"
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncStaleAfter is how long a pending/running sync may sit without a status
// update before any reader demotes it to failed. Guards against a crashed
// worker wedging future runs forever.
const SyncStaleAfter = 10 * time.Minute

// Settings is the per-owner record: the configured source URL plus the sync
// state machine and cached aggregates. All status transitions go through the
// sync orchestrator, except the staleness demotion applied on read.
type Settings struct {
	UserID       int64
	SourceURL    *string
	Rating       *float64
	TotalReviews *int
	LastSyncedAt *time.Time
	SyncStatus   SyncStatus
	SyncMessage  *string
	UpdatedAt    time.Time
}

// SyncInProgress reports whether a run is currently claimed.
func (s Settings) SyncInProgress() bool {
	return s.SyncStatus == SyncPending || s.SyncStatus == SyncRunning
}

// SyncStale reports whether an in-progress status has outlived SyncStaleAfter.
func (s Settings) SyncStale(now time.Time) bool {
	return s.SyncInProgress() && now.Sub(s.UpdatedAt) > SyncStaleAfter
}

// SyncJob is the fire-and-forget payload pushed onto the job queue.
type SyncJob struct {
	UserID     int64     `json:"user_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
