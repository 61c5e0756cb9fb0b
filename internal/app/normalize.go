package app

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"reviewsync/internal/domain"
)

/********** alias registry (single source of truth) **********/

// The embedded page blob and the intercepted fetchReviews responses name the
// same concepts differently; every lookup walks an ordered fallback chain.
var reviewAliases = map[string][]string{
	"id":     {"reviewId", "id"},
	"author": {"author.name", "author"},
	"rating": {"rating", "rate"},
	"text":   {"text"},
	"branch": {"businessName", "orgName"},
	// updatedTime wins over date: it reflects edits.
	"date":  {"updatedTime", "date"},
	"phone": {"phone"},
}

const anonymousAuthor = "Anonymous"

// normalizeReview maps one raw record into the canonical shape. Pure and
// total: a malformed record degrades to defaults, never aborts the batch.
func normalizeReview(userID int64, raw domain.RawReview) domain.Review {
	m := map[string]any(raw)

	author := lookupAliasStr(m, "author")
	if author == "" {
		author = anonymousAuthor
	}

	dateStr := lookupAliasStr(m, "date")

	externalID := lookupAliasStr(m, "id")
	if externalID == "" {
		// No stable server id: hash the pair that survives re-syncs so
		// repeated runs converge instead of duplicating.
		sum := md5.Sum([]byte(lookupAliasStr(m, "author") + dateStr))
		externalID = hex.EncodeToString(sum[:])
	}

	return domain.Review{
		UserID:     userID,
		ExternalID: externalID,
		Author:     author,
		Rating:     ratingValue(m),
		Text:       lookupAliasStr(m, "text"),
		Branch:     ptrStr(lookupAliasStr(m, "branch")),
		Phone:      ptrStr(lookupAliasStr(m, "phone")),
		ReviewedAt: parseReviewTime(dateStr),
	}
}

func normalizeReviews(userID int64, raws []domain.RawReview) []domain.Review {
	out := make([]domain.Review, 0, len(raws))
	for _, r := range raws {
		out = append(out, normalizeReview(userID, r))
	}
	return out
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

func lookupStr(m map[string]any, path string) string {
	if v := lookupAny(m, path); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// lookupAliasStr: first non-empty string across the alias chain.
func lookupAliasStr(m map[string]any, key string) string {
	for _, p := range reviewAliases[key] {
		if s := lookupStr(m, p); s != "" {
			return s
		}
	}
	return ""
}

// ratingValue coerces the rating to an int in 0..5, defaulting to 0.
func ratingValue(m map[string]any) int {
	for _, p := range reviewAliases["rating"] {
		switch v := lookupAny(m, p).(type) {
		case float64:
			return clampRating(int(v))
		case int:
			return clampRating(v)
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return clampRating(int(f))
			}
		}
	}
	return 0
}

func clampRating(n int) int {
	if n < 0 {
		return 0
	}
	if n > 5 {
		return 5
	}
	return n
}

var reviewTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseReviewTime is lenient: the site has shipped several timestamp shapes
// over time. Unparsable input yields nil, never an error.
func parseReviewTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range reviewTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	// Unix seconds (or milliseconds) as a bare number.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			n /= 1000
		}
		u := time.Unix(n, 0).UTC()
		return &u
	}
	return nil
}

func ptrStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
