package resolve

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// Query hash for the shortcode_media GraphQL document, stable across web
// client rollouts for years.
const shortcodeMediaQueryHash = "b3055c01b4b222b8a47dc12b090e4e64"

// GraphQLResolver drives the platform's web GraphQL endpoint. The query needs
// anti-forgery tokens that only appear in the post page served to a browser
// identity, so the page is scraped first.
type GraphQLResolver struct {
	Limiter *Limiter
	BaseURL string // default https://www.instagram.com

	client *http.Client
}

func NewGraphQLResolver(limiter *Limiter) *GraphQLResolver {
	return &GraphQLResolver{
		Limiter: limiter,
		BaseURL: "https://www.instagram.com",
		client:  newHTTPClient(apiTimeout),
	}
}

func (g *GraphQLResolver) Name() string { return "graphql" }

func (g *GraphQLResolver) CanResolve(url string) bool {
	return simpleURLMatch(url, []string{
		"instagram.com/p/*",
		"instagram.com/reel/*",
		"instagram.com/reels/*",
		"instagram.com/tv/*",
	})
}

func (g *GraphQLResolver) Resolve(ctx context.Context, postURL string) (Resolution, error) {
	shortcode, ok := extractShortcode(postURL)
	if !ok {
		return Resolution{Status: StatusNotFound}, nil
	}

	if err := g.Limiter.Throttle(ctx, "graphql"); err != nil {
		return Resolution{}, err
	}

	page, res, err := g.fetchPage(ctx, shortcode)
	if err != nil || res != nil {
		return deref(res), err
	}

	if bytes.Contains(page, []byte(`"is_private":true`)) {
		return Resolution{Status: StatusFatal, Reason: "private"}, nil
	}

	tokens := scrapeTokens(page)
	if tokens.csrf == "" {
		return Resolution{Status: StatusNotFound}, nil
	}

	return g.query(ctx, shortcode, tokens)
}

func (g *GraphQLResolver) fetchPage(ctx context.Context, shortcode string) ([]byte, *Resolution, error) {
	pageURL := fmt.Sprintf("%s/p/%s/", g.BaseURL, shortcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Resolution{Status: StatusRateLimited, RetryAfter: retryAfterHint(resp)}, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Resolution{Status: StatusNotFound}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, nil, fmt.Errorf("post page: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("reading post page: %w", err)
	}
	return body, nil, nil
}

type pageTokens struct {
	csrf    string
	rollout string
}

var (
	csrfPattern    = regexp.MustCompile(`"csrf_token":"([^"]+)"`)
	rolloutPattern = regexp.MustCompile(`"rollout_hash":"([^"]+)"`)
)

// scrapeTokens pulls the anti-forgery tokens out of the inline config
// scripts. Script-tag scan first, whole-page regex as fallback since the
// config blob has moved between tags over time.
func scrapeTokens(page []byte) pageTokens {
	var t pageTokens

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page)); err == nil {
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := s.Text()
			if t.csrf == "" {
				if m := csrfPattern.FindStringSubmatch(text); m != nil {
					t.csrf = m[1]
				}
			}
			if t.rollout == "" {
				if m := rolloutPattern.FindStringSubmatch(text); m != nil {
					t.rollout = m[1]
				}
			}
			return t.csrf == "" || t.rollout == ""
		})
	}

	if t.csrf == "" {
		if m := csrfPattern.FindSubmatch(page); m != nil {
			t.csrf = string(m[1])
		}
	}
	if t.rollout == "" {
		if m := rolloutPattern.FindSubmatch(page); m != nil {
			t.rollout = string(m[1])
		}
	}
	return t
}

func (g *GraphQLResolver) query(ctx context.Context, shortcode string, tokens pageTokens) (Resolution, error) {
	variables := fmt.Sprintf(`{"shortcode":%q}`, shortcode)
	queryURL := fmt.Sprintf("%s/graphql/query/?query_hash=%s&variables=%s",
		g.BaseURL, shortcodeMediaQueryHash, url.QueryEscape(variables))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return Resolution{}, err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-CSRFToken", tokens.csrf)
	req.Header.Set("Cookie", "csrftoken="+tokens.csrf)
	if tokens.rollout != "" {
		req.Header.Set("X-Instagram-AJAX", tokens.rollout)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Resolution{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Resolution{Status: StatusRateLimited, RetryAfter: retryAfterHint(resp)}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Resolution{}, fmt.Errorf("graphql query: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Resolution{}, fmt.Errorf("reading graphql response: %w", err)
	}

	root := gjson.ParseBytes(body)
	if strings.Contains(strings.ToLower(root.Get("message").String()), "rate limited") {
		return Resolution{Status: StatusRateLimited}, nil
	}

	node := root.Get("data.shortcode_media")
	if !node.Exists() || node.Type == gjson.Null {
		return Resolution{Status: StatusNotFound}, nil
	}
	if node.Get("owner.is_private").Bool() {
		return Resolution{Status: StatusFatal, Reason: "private"}, nil
	}
	if !node.Get("is_video").Bool() {
		return Resolution{Status: StatusNotFound}, nil
	}
	videoURL := node.Get("video_url").String()
	if videoURL == "" {
		return Resolution{Status: StatusNotFound}, nil
	}

	out := Resolution{
		Status:   StatusSuccess,
		MediaURL: videoURL,
		Source:   "graphql",
		Author:   node.Get("owner.username").String(),
		Title:    node.Get("edge_media_to_caption.edges.0.node.text").String(),
	}
	if v := node.Get("video_view_count"); v.Exists() {
		out.Views = i64(v.Int())
	}
	if l := node.Get("edge_media_preview_like.count"); l.Exists() {
		out.Likes = i64(l.Int())
	}
	return out, nil
}
