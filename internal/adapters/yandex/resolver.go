package yandex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"reviewsync/internal/domain"
)

// userAgent matches a real desktop Chrome; the site serves materially
// different markup to anything that does not look like a browser.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var (
	// /org/<slug>/<digits> anywhere in the path.
	orgIDPattern = regexp.MustCompile(`/org/[^/]+/(\d+)`)
	// Last-resort: any run of >= 10 consecutive digits.
	longDigitsPattern = regexp.MustCompile(`\d{10,}`)
	// Country mirrors: yandex.ru, yandex.com, yandex.com.tr, ...
	mirrorPattern = regexp.MustCompile(`^yandex\.[a-z]{2,3}(?:\.[a-z]{2})?$`)
)

// Resolver normalizes an arbitrary listing URL (possibly a shortlink) into an
// OrganizationRef. Shortlink expansion follows HTTP redirects only; no page
// script ever runs here.
type Resolver struct {
	hc            *http.Client
	rl            *rate.Limiter
	defaultMirror string
}

func NewResolver(defaultMirror string) *Resolver {
	if defaultMirror == "" {
		defaultMirror = "yandex.ru"
	}
	return &Resolver{
		hc:            &http.Client{Timeout: 20 * time.Second},
		rl:            rate.NewLimiter(rate.Limit(2), 2),
		defaultMirror: defaultMirror,
	}
}

func (r *Resolver) Resolve(ctx context.Context, rawURL string) (domain.OrganizationRef, error) {
	rawURL = strings.TrimSpace(rawURL)
	resolved := rawURL

	// Only hit the network when the input doesn't already carry the org
	// pattern (shortlinks like yandex.com/maps/-/CPQ6zLmQ).
	if !orgIDPattern.MatchString(rawURL) {
		if final, err := r.expand(ctx, rawURL); err != nil {
			log.Warn().Err(err).Str("url", rawURL).Msg("shortlink expansion failed")
		} else if final != "" {
			resolved = final
		}
	}

	orgID := extractOrgID(resolved, rawURL)
	if orgID == "" {
		return domain.OrganizationRef{}, domain.ErrOrgIDNotFound
	}

	mirror := mirrorHost(resolved, r.defaultMirror)
	return domain.OrganizationRef{
		OrgID:  orgID,
		Domain: mirror,
		// The slug segment is irrelevant to the site's routing; a literal
		// placeholder is accepted.
		CanonicalURL: fmt.Sprintf("https://%s/maps/org/org/%s/reviews/", mirror, orgID),
	}, nil
}

// expand follows redirects and reports the final URL.
func (r *Resolver) expand(ctx context.Context, rawURL string) (string, error) {
	if err := r.rl.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return resp.Request.URL.String(), nil
}

// extractOrgID tries, in order: the org pattern against the resolved URL,
// the org pattern against the original input, then a bare long digit run in
// the resolved URL.
func extractOrgID(resolved, original string) string {
	if m := orgIDPattern.FindStringSubmatch(resolved); m != nil {
		return m[1]
	}
	if m := orgIDPattern.FindStringSubmatch(original); m != nil {
		return m[1]
	}
	return longDigitsPattern.FindString(resolved)
}

func mirrorHost(rawURL, def string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return def
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if mirrorPattern.MatchString(host) {
		return host
	}
	return def
}
