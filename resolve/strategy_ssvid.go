package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// SsvidResolver asks a third-party conversion service to resolve the post.
// Bespoke request and response shapes; first video link wins.
type SsvidResolver struct {
	Limiter *Limiter
	BaseURL string // default https://www.ssvid.net

	client *http.Client
}

func NewSsvidResolver(limiter *Limiter) *SsvidResolver {
	return &SsvidResolver{
		Limiter: limiter,
		BaseURL: "https://www.ssvid.net",
		client:  newHTTPClient(apiTimeout),
	}
}

func (s *SsvidResolver) Name() string { return "ssvid" }

func (s *SsvidResolver) CanResolve(url string) bool {
	return simpleURLMatch(url, []string{
		"instagram.com/p/*",
		"instagram.com/reel/*",
		"tiktok.com/t/*",
		"tiktok.com/@*/video/*",
		"vm.tiktok.com/*",
	})
}

type ssvidResponse struct {
	Status string `json:"status"`
	Mess   string `json:"mess"`
	Data   struct {
		Title string `json:"title"`
		Links struct {
			Video []struct {
				QText string `json:"q_text"`
				Size  string `json:"size"`
				URL   string `json:"url"`
			} `json:"video"`
		} `json:"links"`
		Author struct {
			Username string `json:"username"`
			FullName string `json:"full_name"`
		} `json:"author"`
	} `json:"data"`
}

func (s *SsvidResolver) Resolve(ctx context.Context, postURL string) (Resolution, error) {
	if err := s.Limiter.Throttle(ctx, "ssvid"); err != nil {
		return Resolution{}, err
	}

	form := url.Values{
		"query": {postURL},
		"vt":    {"home"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.BaseURL+"/api/ajax/search", strings.NewReader(form.Encode()))
	if err != nil {
		return Resolution{}, err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", s.BaseURL)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Resolution{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Resolution{Status: StatusRateLimited, RetryAfter: retryAfterHint(resp)}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Resolution{}, fmt.Errorf("ssvid: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Resolution{}, fmt.Errorf("reading ssvid response: %w", err)
	}

	var parsed ssvidResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Resolution{}, fmt.Errorf("parsing ssvid response: %w", err)
	}

	videos := parsed.Data.Links.Video
	if len(videos) == 0 || videos[0].URL == "" {
		return Resolution{Status: StatusNotFound}, nil
	}

	return Resolution{
		Status:   StatusSuccess,
		MediaURL: videos[0].URL,
		Source:   "ssvid",
		Title:    parsed.Data.Title,
		Author:   parsed.Data.Author.Username,
	}, nil
}
