package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"reviewsync/internal/adapters/observability"
	"reviewsync/internal/domain"
)

var (
	// "Rated 4.4 based on 160 ratings and 23 reviews"
	metaPatternEN = regexp.MustCompile(`(?i)Rated\s+([\d.]+)\s+based on\s+(\d+)\s+ratings?\s+and\s+(\d+)\s+reviews?`)
	// "Рейтинг 4,4 на основании 160 оценок и 23 отзыва"
	metaPatternRU = regexp.MustCompile(`Рейтинг\s+([\d.,]+)\s+.*?(\d+)\s+отзыв`)
)

// StaticExtractor pulls rating and first-page reviews out of a plain HTTP
// fetch of the reviews page. It never executes page script and never
// paginates, so it sees at most what the first static response contains.
type StaticExtractor struct {
	hc *http.Client
	rl *rate.Limiter
}

func NewStaticExtractor() *StaticExtractor {
	return &StaticExtractor{
		hc: &http.Client{Timeout: 30 * time.Second},
		rl: rate.NewLimiter(rate.Limit(1), 2),
	}
}

func (e *StaticExtractor) Extract(ctx context.Context, ref domain.OrganizationRef, _ domain.ProgressFunc) (*domain.Extraction, error) {
	html, err := e.fetch(ctx, ref.CanonicalURL)
	if err != nil {
		return nil, err
	}

	if item := embeddedResultItem(html); item != nil {
		rating, total := blobAggregate(item)
		raws := blobReviews(item)
		if len(raws) > 0 {
			if total == nil {
				n := len(raws)
				total = &n
			}
			return &domain.Extraction{Reviews: raws, Rating: rating, TotalReviews: total}, nil
		}
		// Blob present but no reviews in it: fall through to the textual
		// fallback, keeping the blob aggregate if the text yields nothing.
		mr, mt := metaAggregate(html)
		if mr != nil {
			rating, total = mr, mt
		}
		return &domain.Extraction{Rating: rating, TotalReviews: total}, nil
	}

	rating, total := metaAggregate(html)
	return &domain.Extraction{Rating: rating, TotalReviews: total}, nil
}

func (e *StaticExtractor) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if err := e.rl.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.8")

	start := time.Now()
	resp, err := e.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("yandex", "reviews_page", resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &domain.FetchError{URL: pageURL, Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// embeddedResultItem scans inline scripts for the embedded data blob and
// returns its first result item, or nil. Malformed JSON is logged and
// treated as absence, not as a failure.
func embeddedResultItem(html []byte) map[string]any {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		log.Warn().Err(err).Msg("parse reviews page html failed")
		return nil
	}

	var item map[string]any
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if len(text) <= blobMinLen || !strings.HasPrefix(text, blobPrefix) {
			return true
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			log.Warn().Err(err).Int("length", len(text)).Msg("embedded blob json parse failed")
			return true
		}
		item = firstResultItem(data)
		return item == nil
	})
	return item
}

// metaAggregate recovers rating and review count from the page's textual
// phrasing. No individual review bodies are recoverable this way.
func metaAggregate(html []byte) (*float64, *int) {
	if m := metaPatternEN.FindSubmatch(html); m != nil {
		if f, err := strconv.ParseFloat(string(m[1]), 64); err == nil {
			rating := f
			var total *int
			if n, err := strconv.Atoi(string(m[3])); err == nil {
				total = &n
			}
			return &rating, total
		}
	}
	if m := metaPatternRU.FindSubmatch(html); m != nil {
		s := strings.ReplaceAll(string(m[1]), ",", ".")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			rating := f
			var total *int
			if n, err := strconv.Atoi(string(m[2])); err == nil {
				total = &n
			}
			return &rating, total
		}
	}
	return nil, nil
}
