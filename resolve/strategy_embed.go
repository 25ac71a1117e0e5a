package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// EmbedResolver scrapes the public captioned-embed page for a post. Several
// payload shapes have shipped over time; they are tried from most structured
// (typed JSON blob) to least (raw attribute regex), and the sub-pattern that
// finally matched is logged.
type EmbedResolver struct {
	Limiter *Limiter
	BaseURL string // default https://www.instagram.com

	client *http.Client
}

func NewEmbedResolver(limiter *Limiter) *EmbedResolver {
	return &EmbedResolver{
		Limiter: limiter,
		BaseURL: "https://www.instagram.com",
		client:  newHTTPClient(apiTimeout),
	}
}

func (e *EmbedResolver) Name() string { return "embed" }

func (e *EmbedResolver) CanResolve(url string) bool {
	return simpleURLMatch(url, []string{
		"instagram.com/p/*",
		"instagram.com/reel/*",
		"instagram.com/reels/*",
		"instagram.com/tv/*",
		"instagr.am/p/*",
		"instagr.am/reel/*",
	})
}

var shortcodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`instagram\.com/p/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`instagram\.com/reel/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`instagram\.com/reels/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`instagram\.com/tv/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`instagr\.am/(?:p|reel)/([A-Za-z0-9_-]+)`),
}

func extractShortcode(url string) (string, bool) {
	for _, p := range shortcodePatterns {
		if m := p.FindStringSubmatch(url); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func (e *EmbedResolver) Resolve(ctx context.Context, url string) (Resolution, error) {
	shortcode, ok := extractShortcode(url)
	if !ok {
		return Resolution{Status: StatusNotFound}, nil
	}

	if err := e.Limiter.Throttle(ctx, "embed"); err != nil {
		return Resolution{}, err
	}

	embedURL := fmt.Sprintf("%s/p/%s/embed/captioned/", e.BaseURL, shortcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, embedURL, nil)
	if err != nil {
		return Resolution{}, err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := e.client.Do(req)
	if err != nil {
		return Resolution{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Resolution{Status: StatusRateLimited, RetryAfter: retryAfterHint(resp)}, nil
	case resp.StatusCode == http.StatusNotFound:
		return Resolution{Status: StatusNotFound}, nil
	case resp.StatusCode != http.StatusOK:
		return Resolution{}, fmt.Errorf("embed page: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Resolution{}, fmt.Errorf("reading embed page: %w", err)
	}

	// Sub-patterns in fixed order, most structured first. Parse failures fall
	// through silently; only the match is logged.
	for _, sub := range embedSubPatterns {
		res, ok := sub.parse(body)
		if !ok {
			continue
		}
		slog.Debug("embed sub-pattern matched", "pattern", sub.name, "shortcode", shortcode)
		res.Status = StatusSuccess
		res.Source = "embed"
		return res, nil
	}

	return Resolution{Status: StatusNotFound}, nil
}

var embedSubPatterns = []struct {
	name  string
	parse func(body []byte) (Resolution, bool)
}{
	{"additional-data", parseAdditionalData},
	{"ld-json", parseLDJSON},
	{"video-url-field", parseVideoURLField},
	{"video-tag", parseVideoTag},
}

var additionalDataPattern = regexp.MustCompile(`window\.__additionalDataLoaded\([^,]+,(\{.+?\})\);</script>`)

// parseAdditionalData reads the typed JSON blob the embed page inlines for
// hydration. Richest shape: media URL plus counts and author.
func parseAdditionalData(body []byte) (Resolution, bool) {
	m := additionalDataPattern.FindSubmatch(body)
	if m == nil {
		return Resolution{}, false
	}

	node := gjson.GetBytes(m[1], "graphql.shortcode_media")
	if !node.Exists() {
		node = gjson.ParseBytes(m[1]).Get("shortcode_media")
	}
	videoURL := node.Get("video_url").String()
	if videoURL == "" {
		return Resolution{}, false
	}

	res := Resolution{MediaURL: videoURL}
	if v := node.Get("video_view_count"); v.Exists() {
		res.Views = i64(v.Int())
	}
	if l := node.Get("edge_media_preview_like.count"); l.Exists() {
		res.Likes = i64(l.Int())
	}
	res.Author = node.Get("owner.username").String()
	res.Title = node.Get("edge_media_to_caption.edges.0.node.text").String()
	return res, true
}

// parseLDJSON reads the structured-data script tag, the second most reliable
// shape on public embeds.
func parseLDJSON(body []byte) (Resolution, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Resolution{}, false
	}

	var res Resolution
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		blob := gjson.Parse(s.Text())
		if blob.Get("@type").String() != "VideoObject" {
			return true
		}
		contentURL := blob.Get("contentUrl").String()
		if contentURL == "" {
			return true
		}
		res.MediaURL = contentURL
		res.Title = blob.Get("caption").String()
		res.Author = strings.TrimPrefix(blob.Get("author.alternateName").String(), "@")
		found = true
		return false
	})

	return res, found
}

var videoURLFieldPattern = regexp.MustCompile(`"video_url":"((?:[^"\\]|\\.)*)"`)

// parseVideoURLField regexes the escaped JSON field out of whatever script
// blob carries it.
func parseVideoURLField(body []byte) (Resolution, bool) {
	m := videoURLFieldPattern.FindSubmatch(body)
	if m == nil {
		return Resolution{}, false
	}

	var videoURL string
	if err := json.Unmarshal([]byte(`"`+string(m[1])+`"`), &videoURL); err != nil {
		return Resolution{}, false
	}
	if videoURL == "" {
		return Resolution{}, false
	}
	return Resolution{MediaURL: videoURL}, true
}

var videoTagPattern = regexp.MustCompile(`<video[^>]+src="([^"]+)"`)

// parseVideoTag is the last resort: the raw src attribute of the player tag.
func parseVideoTag(body []byte) (Resolution, bool) {
	m := videoTagPattern.FindSubmatch(body)
	if m == nil {
		return Resolution{}, false
	}
	return Resolution{MediaURL: html.UnescapeString(string(m[1]))}, true
}
