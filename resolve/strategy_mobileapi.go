package resolve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// MobileAPIResolver drives the platform-internal mobile API: an oEmbed-style
// lookup turns the post URL into a media ID, then the media-info endpoint
// lists the available video versions. Requests carry a fixed mobile-client
// header set; the largest version by pixel area wins.
type MobileAPIResolver struct {
	Limiter *Limiter
	BaseURL string // default https://i.instagram.com

	client *http.Client
}

func NewMobileAPIResolver(limiter *Limiter) *MobileAPIResolver {
	return &MobileAPIResolver{
		Limiter: limiter,
		BaseURL: "https://i.instagram.com",
		client:  newHTTPClient(apiTimeout),
	}
}

func (m *MobileAPIResolver) Name() string { return "mobile-api" }

func (m *MobileAPIResolver) CanResolve(url string) bool {
	return simpleURLMatch(url, []string{
		"instagram.com/p/*",
		"instagram.com/reel/*",
		"instagram.com/reels/*",
		"instagram.com/tv/*",
	})
}

var mobileHeaders = [...][2]string{
	{"User-Agent", "Instagram 275.0.0.27.98 Android (33/13; 420dpi; 1080x2400; samsung; SM-G991B; o1s; exynos2100; en_US; 458229237)"},
	{"X-IG-App-ID", "936619743392459"},
	{"Accept", "application/json"},
}

func (m *MobileAPIResolver) Resolve(ctx context.Context, postURL string) (Resolution, error) {
	oembedURL := m.BaseURL + "/api/v1/oembed/?url=" + url.QueryEscape(postURL)
	oembed, res, err := m.getJSON(ctx, oembedURL)
	if err != nil || res != nil {
		return deref(res), err
	}

	mediaID := oembed.Get("media_id").String()
	if mediaID == "" {
		return Resolution{Status: StatusNotFound}, nil
	}

	infoURL := fmt.Sprintf("%s/api/v1/media/%s/info/", m.BaseURL, mediaID)
	info, res, err := m.getJSON(ctx, infoURL)
	if err != nil || res != nil {
		return deref(res), err
	}

	item := info.Get("items.0")
	if !item.Exists() {
		return Resolution{Status: StatusNotFound}, nil
	}

	best := bestVideoVersion(item.Get("video_versions"))
	if best == "" {
		return Resolution{Status: StatusNotFound}, nil
	}

	out := Resolution{
		Status:   StatusSuccess,
		MediaURL: best,
		Source:   "mobile-api",
		Author:   item.Get("user.username").String(),
		Title:    item.Get("caption.text").String(),
	}
	if v := item.Get("play_count"); v.Exists() {
		out.Views = i64(v.Int())
	} else if v := item.Get("view_count"); v.Exists() {
		out.Views = i64(v.Int())
	}
	if l := item.Get("like_count"); l.Exists() {
		out.Likes = i64(l.Int())
	}
	return out, nil
}

// getJSON fetches one endpoint with backoff retries on 429. A non-nil
// Resolution pointer means a definitive non-success outcome for the strategy.
func (m *MobileAPIResolver) getJSON(ctx context.Context, endpoint string) (gjson.Result, *Resolution, error) {
	for attempt := 0; ; attempt++ {
		if err := m.Limiter.Throttle(ctx, "mobile-api"); err != nil {
			return gjson.Result{}, nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return gjson.Result{}, nil, err
		}
		for _, h := range mobileHeaders {
			req.Header.Set(h[0], h[1])
		}

		resp, err := m.client.Do(req)
		if err != nil {
			return gjson.Result{}, nil, err
		}

		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			hint := retryAfterHint(resp)
			resp.Body.Close()
			if err := m.Limiter.Backoff(ctx, attempt); err != nil {
				if err == ErrRateLimited {
					return gjson.Result{}, &Resolution{Status: StatusRateLimited, RetryAfter: hint}, nil
				}
				return gjson.Result{}, nil, err
			}
			continue
		case http.StatusNotFound:
			resp.Body.Close()
			return gjson.Result{}, &Resolution{Status: StatusNotFound}, nil
		case http.StatusOK:
			body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
			resp.Body.Close()
			if err != nil {
				return gjson.Result{}, nil, fmt.Errorf("reading %s: %w", endpoint, err)
			}
			return gjson.ParseBytes(body), nil, nil
		default:
			status := resp.Status
			resp.Body.Close()
			return gjson.Result{}, nil, fmt.Errorf("mobile api: unexpected status %s", status)
		}
	}
}

// bestVideoVersion selects the version with maximum width*height.
func bestVideoVersion(versions gjson.Result) string {
	var bestURL string
	var bestArea int64
	for _, v := range versions.Array() {
		area := v.Get("width").Int() * v.Get("height").Int()
		if v.Get("url").String() != "" && (bestURL == "" || area > bestArea) {
			bestURL = v.Get("url").String()
			bestArea = area
		}
	}
	return bestURL
}

func deref(r *Resolution) Resolution {
	if r == nil {
		return Resolution{}
	}
	return *r
}
