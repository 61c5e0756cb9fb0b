package yandex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reviewsync/internal/domain"
)

// The full review history is disclosed only through this internal endpoint,
// which the client page calls as the visitor scrolls.
const reviewsEndpointMarker = "fetchReviews"

const (
	scrollDelta   = 3000
	captureBuffer = 64
)

// In-page scripts. Selectors track the site's current markup and are the
// part most likely to rot.
const (
	ratingDataJS = `(function(){var s=document.querySelectorAll('script');for(var i=0;i<s.length;i++){var t=s[i].textContent.trim();if(t.length>10000&&t.indexOf('{"config"')===0){try{var d=JSON.parse(t);var items=d.stack&&d.stack[0]&&d.stack[0].results&&d.stack[0].results.items;if(items&&items[0]&&items[0].ratingData){return JSON.stringify(items[0].ratingData)}}catch(e){}}}return ""})()`

	sortButtonJS = `(function(){var b=document.querySelector('div.rating-ranking-view[role="button"]');if(!b)return false;b.click();return true})()`

	sortByTimeJS = `(function(){var ls=document.querySelectorAll('.rating-ranking-view__popup-line');for(var i=0;i<ls.length;i++){if(ls[i].getAttribute('aria-label')==='По новизне'){ls[i].click();return true}}return false})()`

	containerRectJS = `(function(){var c=document.querySelector('.scroll__container');if(!c)return{x:400,y:500};var r=c.getBoundingClientRect();return{x:Math.round(r.x+r.width/2),y:Math.round(r.y+r.height/2)}})()`

	// Redundant trigger: some renders only react to DOM-level events, not
	// to the synthesized wheel input.
	scrollFallbackJS = `(function(){var c=document.querySelector('.scroll__container');if(!c)return;c.scrollTop+=3000;c.dispatchEvent(new WheelEvent('wheel',{deltaY:3000,bubbles:true}));c.dispatchEvent(new Event('scroll',{bubbles:true}))})()`
)

// BrowserExtractor drives one isolated headless Chrome per run: navigate to
// the reviews page, switch sorting to recency (the only order with
// append-only pagination), then scroll while intercepting the page's own
// calls to the reviews endpoint. The browser is torn down unconditionally
// when the run ends.
type BrowserExtractor struct {
	chromePath string
	headless   bool
	log        zerolog.Logger

	// Step delays, overridable in tests.
	settleDelay time.Duration // client render needs several seconds past load
	sortDelay   time.Duration // menu open -> option click
	baselineMax time.Duration // wait for the sort-triggered baseline capture
	scrollPause time.Duration
	bodyWait    time.Duration
	retryWait   time.Duration
}

func NewBrowserExtractor(chromePath string, headless bool) *BrowserExtractor {
	return &BrowserExtractor{
		chromePath:  chromePath,
		headless:    headless,
		log:         log.With().Str("component", "browser_extractor").Logger(),
		settleDelay: 5 * time.Second,
		sortDelay:   2 * time.Second,
		baselineMax: 20 * time.Second,
		scrollPause: 2 * time.Second,
		bodyWait:    3 * time.Second,
		retryWait:   5 * time.Second,
	}
}

func (e *BrowserExtractor) Extract(ctx context.Context, ref domain.OrganizationRef, progress domain.ProgressFunc) (*domain.Extraction, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("lang", "ru-RU"),
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(1920, 1080),
	)
	if e.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(e.chromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	pageCtx, cancelPage := chromedp.NewContext(allocCtx)
	defer cancelPage()

	// Observe reviews-endpoint requests before any navigation happens. The
	// channel is drained synchronously between scroll iterations.
	captures := make(chan capture, captureBuffer)
	chromedp.ListenTarget(pageCtx, func(ev any) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok || !strings.Contains(req.Request.URL, reviewsEndpointMarker) {
			return
		}
		select {
		case captures <- capture{id: req.RequestID, url: req.Request.URL}:
		default:
			// Buffer full; later requests will still be seen.
		}
	})

	// First CDP round-trip actually launches Chrome.
	if err := chromedp.Run(pageCtx, network.Enable()); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBrowserLaunch, err)
	}

	report(progress, "Opening Yandex Maps...")
	e.log.Info().Str("url", ref.CanonicalURL).Msg("navigating to reviews page")
	if err := chromedp.Run(pageCtx,
		chromedp.Navigate(ref.CanonicalURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", ref.CanonicalURL, err)
	}
	sleepCtx(pageCtx, e.settleDelay)

	rating, total := e.pageAggregate(pageCtx)

	report(progress, "Switching sort order...")
	if err := e.sortByRecency(pageCtx); err != nil {
		return nil, err
	}

	// The sort action itself triggers the first reviews request; without
	// that baseline there is no pagination to follow.
	baseline := e.awaitBaseline(pageCtx, captures)
	if len(baseline) == 0 {
		return nil, domain.ErrNoReviewsCaptured
	}

	drv := &cdpDriver{ctx: pageCtx, captures: captures, gap: e.scrollPause}
	drv.x, drv.y = e.containerCenter(pageCtx)
	if err := chromedp.Run(pageCtx, input.DispatchMouseEvent(input.MouseMoved, drv.x, drv.y)); err != nil {
		e.log.Warn().Err(err).Msg("mouse move failed")
	}

	report(progress, "Loading reviews...")
	h := &harvester{
		drv:       drv,
		pause:     e.scrollPause,
		bodyWait:  e.bodyWait,
		retryWait: e.retryWait,
		log:       e.log,
		progress:  progress,
	}
	seed := h.collect(pageCtx, baseline)
	all, err := h.run(pageCtx, seed)
	if err != nil {
		return nil, err
	}

	e.log.Info().Int("reviews", len(all)).Msg("interactive harvest finished")
	return &domain.Extraction{Reviews: all, Rating: rating, TotalReviews: total}, nil
}

// pageAggregate reads ratingData out of the embedded blob, evaluated in-page
// since the page has already rendered it. Failure is non-fatal.
func (e *BrowserExtractor) pageAggregate(pageCtx context.Context) (*float64, *int) {
	tctx, cancel := context.WithTimeout(pageCtx, 10*time.Second)
	defer cancel()

	var raw string
	if err := chromedp.Run(tctx, chromedp.Evaluate(ratingDataJS, &raw)); err != nil {
		e.log.Warn().Err(err).Msg("could not extract rating data")
		return nil, nil
	}
	if raw == "" {
		return nil, nil
	}
	var rd map[string]any
	if err := json.Unmarshal([]byte(raw), &rd); err != nil {
		e.log.Warn().Err(err).Msg("rating data json parse failed")
		return nil, nil
	}
	return aggregateFromRatingData(rd)
}

// sortByRecency opens the sort menu and picks "По новизне". Other orderings
// reshuffle already-seen reviews across pages, breaking incremental
// collection, so a missing control fails the run.
func (e *BrowserExtractor) sortByRecency(pageCtx context.Context) error {
	tctx, cancel := context.WithTimeout(pageCtx, 15*time.Second)
	defer cancel()

	var opened bool
	if err := chromedp.Run(tctx, chromedp.Evaluate(sortButtonJS, &opened)); err != nil {
		return fmt.Errorf("click sort button: %w", err)
	}
	if !opened {
		return domain.ErrSortControlNotFound
	}
	sleepCtx(pageCtx, e.sortDelay)

	var picked bool
	if err := chromedp.Run(tctx, chromedp.Evaluate(sortByTimeJS, &picked)); err != nil {
		return fmt.Errorf("click recency option: %w", err)
	}
	if !picked {
		return domain.ErrSortControlNotFound
	}
	return nil
}

// awaitBaseline waits for the captures the sort click triggered, polling up
// to baselineMax, then once more for the same window; the page can be very
// slow to issue the first request under load.
func (e *BrowserExtractor) awaitBaseline(ctx context.Context, captures chan capture) []capture {
	for attempt := 0; attempt < 2; attempt++ {
		deadline := time.Now().Add(e.baselineMax)
		for time.Now().Before(deadline) {
			if got := drain(captures); len(got) > 0 {
				// Let the burst finish, then take the rest.
				sleepCtx(ctx, e.sortDelay)
				return append(got, drain(captures)...)
			}
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
		}
		e.log.Warn().Int("attempt", attempt+1).Msg("no reviews request captured yet")
	}
	return nil
}

func (e *BrowserExtractor) containerCenter(pageCtx context.Context) (float64, float64) {
	tctx, cancel := context.WithTimeout(pageCtx, 5*time.Second)
	defer cancel()

	var rect struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := chromedp.Run(tctx, chromedp.Evaluate(containerRectJS, &rect)); err != nil || rect.X == 0 {
		e.log.Warn().Err(err).Msg("scroll container rect unavailable, using defaults")
		return 400, 500
	}
	return rect.X, rect.Y
}

func drain(ch chan capture) []capture {
	var out []capture
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func report(progress domain.ProgressFunc, msg string) {
	if progress != nil {
		progress(msg)
	}
}

// cdpDriver adapts the live page to the pageDriver interface.
type cdpDriver struct {
	ctx      context.Context
	captures chan capture
	x, y     float64
	gap      time.Duration
}

func (d *cdpDriver) Scroll(ctx context.Context) error {
	err := chromedp.Run(d.ctx,
		input.DispatchMouseEvent(input.MouseWheel, d.x, d.y).
			WithDeltaX(0).
			WithDeltaY(scrollDelta),
	)
	if err != nil {
		return err
	}
	sleepCtx(ctx, d.gap)
	return chromedp.Run(d.ctx, chromedp.Evaluate(scrollFallbackJS, nil))
}

func (d *cdpDriver) Captures() []capture { return drain(d.captures) }

func (d *cdpDriver) ResponseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	tctx, cancel := context.WithTimeout(d.ctx, 15*time.Second)
	defer cancel()

	var body []byte
	err := chromedp.Run(tctx, chromedp.ActionFunc(func(cctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(cctx)
		return err
	}))
	return body, err
}
