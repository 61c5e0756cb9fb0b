package yandex

import (
	"math"
	"strconv"
	"strings"

	"reviewsync/internal/domain"
)

// The page bootstraps its client-side render with one huge inline JSON
// document. It is the only <script> whose text starts with {"config" and it
// is always well over 10k characters.
const (
	blobPrefix = `{"config"`
	blobMinLen = 10000
)

// firstResultItem descends stack[0].results.items[0] of the parsed blob.
// Nil when the path is absent.
func firstResultItem(data map[string]any) map[string]any {
	stack, ok := data["stack"].([]any)
	if !ok || len(stack) == 0 {
		return nil
	}
	frame, ok := stack[0].(map[string]any)
	if !ok {
		return nil
	}
	results, ok := frame["results"].(map[string]any)
	if !ok {
		return nil
	}
	items, ok := results["items"].([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	item, _ := items[0].(map[string]any)
	return item
}

// blobAggregate reads ratingData off a result item. Rating is rounded to one
// decimal; the total prefers reviewCount over ratingCount.
func blobAggregate(item map[string]any) (rating *float64, total *int) {
	rd, ok := item["ratingData"].(map[string]any)
	if !ok {
		return nil, nil
	}
	return aggregateFromRatingData(rd)
}

func aggregateFromRatingData(rd map[string]any) (rating *float64, total *int) {
	if f, ok := floatValue(rd["ratingValue"]); ok {
		r := math.Round(f*10) / 10
		rating = &r
	}
	if n, ok := intValue(rd["reviewCount"]); ok {
		total = &n
	} else if n, ok := intValue(rd["ratingCount"]); ok {
		total = &n
	}
	return rating, total
}

// blobReviews reads the first-page raw reviews off a result item
// (reviewResults.reviews).
func blobReviews(item map[string]any) []domain.RawReview {
	rr, ok := item["reviewResults"].(map[string]any)
	if !ok {
		return nil
	}
	list, ok := rr["reviews"].([]any)
	if !ok {
		return nil
	}
	out := make([]domain.RawReview, 0, len(list))
	for _, it := range list {
		if m, ok := it.(map[string]any); ok {
			out = append(out, domain.RawReview(m))
		}
	}
	return out
}

// floatValue coerces float64/int/string (incl. "4,5") into a float.
func floatValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func intValue(v any) (int, bool) {
	if f, ok := floatValue(v); ok {
		return int(f), true
	}
	return 0, false
}
