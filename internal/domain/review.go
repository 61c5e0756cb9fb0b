package domain

import "time"

// Review is the canonical shape every harvested review is normalized into.
// ExternalID is the source site's review id when it provides one, otherwise a
// deterministic hash so repeated syncs converge instead of duplicating rows.
// Uniqueness is scoped to (UserID, ExternalID).
type Review struct {
	ID         int64
	UserID     int64
	ExternalID string
	Author     string
	Rating     int // 0..5
	Text       string
	Branch     *string
	Phone      *string
	ReviewedAt *time.Time
}

// RawReview is the as-received payload for one review. Two producers fill it
// with different key names for the same concept (the embedded page blob vs.
// the intercepted fetchReviews responses), so lookups happen through ordered
// alias chains in the normalizer, never a single key.
type RawReview map[string]any

// Extraction is what an extractor hands back: raw review records plus
// whatever aggregate data the page disclosed.
type Extraction struct {
	Reviews      []RawReview
	Rating       *float64
	TotalReviews *int
}
