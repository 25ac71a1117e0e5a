package resolve

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RedirectResolver turns share-link indirection into a canonical post URL.
// Redirects are followed one hop at a time with redirects disabled on the
// client, so each Location header is inspected here. Hops and rate-limit
// retries draw from one shared attempt budget; the loop terminates even when
// both happen on the same URL.
type RedirectResolver struct {
	limiter *Limiter
	manual  *http.Client // redirects disabled
	auto    *http.Client // follows redirects itself
}

func NewRedirectResolver(limiter *Limiter) *RedirectResolver {
	manual := newHTTPClient(apiTimeout)
	manual.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &RedirectResolver{
		limiter: limiter,
		manual:  manual,
		auto:    newHTTPClient(apiTimeout),
	}
}

// Resolve follows redirects with a browser identity. A 429 backs off and
// retries the same URL before any redirect is followed.
func (r *RedirectResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	current := rawURL

	for attempt := 0; attempt <= r.limiter.MaxRetries(); {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return "", fmt.Errorf("building redirect request: %w", err)
		}
		req.Header.Set("User-Agent", browserUA)

		resp, err := r.manual.Do(req)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", current, err)
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if err := r.limiter.Backoff(ctx, attempt); err != nil {
				return "", err
			}
			attempt++
		case isRedirect(resp.StatusCode):
			loc := resp.Header.Get("Location")
			if loc == "" {
				return current, nil
			}
			next, err := resp.Request.URL.Parse(loc)
			if err != nil {
				return "", fmt.Errorf("parsing redirect location %q: %w", loc, err)
			}
			current = next.String()
			attempt++
		default:
			return current, nil
		}
	}

	return "", fmt.Errorf("redirect budget exhausted for %s: %w", rawURL, ErrRateLimited)
}

// ResolveShare handles simple share-link indirection: automatic redirect
// following with a minimal client identity, then the final URL normalized
// for cache and lookup purposes.
func (r *RedirectResolver) ResolveShare(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("building share request: %w", err)
	}
	req.Header.Set("User-Agent", minimalUA)

	resp, err := r.auto.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolving share link %s: %w", rawURL, err)
	}
	resp.Body.Close()

	return NormalizeURL(resp.Request.URL.String()), nil
}

// NormalizeURL strips query parameters, fragments, and the trailing slash so
// equivalent share links collapse to one canonical form.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
