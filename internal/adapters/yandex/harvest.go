package yandex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/rs/zerolog"

	"reviewsync/internal/adapters/observability"
	"reviewsync/internal/domain"
)

const (
	// Hard cap on scroll iterations for one run.
	maxScrollAttempts = 300
	// Consecutive no-progress iterations treated as the end-of-results
	// signal; the site never announces a last page reliably.
	maxNoProgress = 8
)

// capture is one observed request to the internal reviews endpoint.
type capture struct {
	id  network.RequestID
	url string
}

// pageDriver is the slice of browser behavior the harvest loop needs. The
// production implementation drives CDP; tests substitute a fake.
type pageDriver interface {
	// Scroll performs one scroll gesture against the reviews container.
	Scroll(ctx context.Context) error
	// Captures drains every request observed since the previous call.
	Captures() []capture
	// ResponseBody retrieves the response body for a captured request.
	// Bodies can be evicted or not yet buffered; errors are non-fatal.
	ResponseBody(ctx context.Context, id network.RequestID) ([]byte, error)
}

// harvester runs the bounded scroll loop, draining the capture queue between
// iterations and accumulating raw reviews from each response body.
type harvester struct {
	drv       pageDriver
	pause     time.Duration // settle time after each scroll gesture
	bodyWait  time.Duration // delay before the first body read
	retryWait time.Duration // longer delay before the one retry
	log       zerolog.Logger
	progress  domain.ProgressFunc
}

func (h *harvester) run(ctx context.Context, seed []domain.RawReview) ([]domain.RawReview, error) {
	all := seed
	noProgress := 0

	for i := 0; i < maxScrollAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		if err := h.drv.Scroll(ctx); err != nil {
			return all, err
		}
		sleepCtx(ctx, h.pause)

		fresh := h.drv.Captures()
		if len(fresh) == 0 {
			noProgress++
			if noProgress >= maxNoProgress {
				h.log.Debug().Int("iteration", i).Msg("no new review requests, harvest done")
				break
			}
			continue
		}
		noProgress = 0

		sleepCtx(ctx, h.bodyWait)
		reviews := h.collect(ctx, fresh)
		if len(reviews) == 0 {
			// Body may not have been buffered yet; one retry after a
			// longer wait, then the page is skipped.
			sleepCtx(ctx, h.retryWait)
			reviews = h.collect(ctx, fresh)
		}
		if len(reviews) > 0 {
			all = append(all, reviews...)
			observability.ObserveHarvest(len(fresh), len(reviews))
			h.log.Debug().Int("iteration", i).Int("new", len(reviews)).Int("total", len(all)).Msg("harvested review page")
			h.report(fmt.Sprintf("Loaded %d reviews...", len(all)))
		}
	}
	return all, nil
}

func (h *harvester) collect(ctx context.Context, caps []capture) []domain.RawReview {
	var out []domain.RawReview
	for _, c := range caps {
		body, err := h.drv.ResponseBody(ctx, c.id)
		if err != nil {
			// Evicted or not ready; that page's reviews are simply skipped.
			h.log.Debug().Err(err).Str("url", c.url).Msg("response body unavailable")
			continue
		}
		out = append(out, parseReviewsBody(body)...)
	}
	return out
}

func (h *harvester) report(msg string) {
	if h.progress != nil {
		h.progress(msg)
	}
}

// parseReviewsBody accepts both response shapes the endpoint is known to
// produce: {"data":{"reviews":[...]}} and {"reviews":[...]}.
func parseReviewsBody(body []byte) []domain.RawReview {
	var payload struct {
		Data struct {
			Reviews []map[string]any `json:"reviews"`
		} `json:"data"`
		Reviews []map[string]any `json:"reviews"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	list := payload.Data.Reviews
	if len(list) == 0 {
		list = payload.Reviews
	}
	out := make([]domain.RawReview, 0, len(list))
	for _, m := range list {
		out = append(out, domain.RawReview(m))
	}
	return out
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
