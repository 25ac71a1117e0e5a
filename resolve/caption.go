package resolve

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FormatCount renders a count with a magnitude suffix: one decimal plus "M"
// from a million, one decimal plus "K" from a thousand, plain integer below.
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return strconv.FormatInt(n, 10)
	}
}

var hashtagPattern = regexp.MustCompile(`#\w+\s*`)

// Caption renders a short human-readable caption from whatever metadata the
// winning strategy happened to return. The view segment is omitted entirely
// when the count is unknown; the canonical URL is always included.
func Caption(res Resolution, canonicalURL string) string {
	var lines []string

	if title := cleanTitle(res.Title); title != "" {
		lines = append(lines, title)
	}

	var counts []string
	if res.Views != nil {
		counts = append(counts, FormatCount(*res.Views)+" views")
	}
	if res.Likes != nil {
		counts = append(counts, FormatCount(*res.Likes)+" likes")
	}
	if len(counts) > 0 {
		lines = append(lines, strings.Join(counts, " | "))
	}

	if res.Author != "" {
		lines = append(lines, "by @"+strings.TrimPrefix(res.Author, "@"))
	}

	lines = append(lines, canonicalURL)
	return strings.Join(lines, "\n")
}

// cleanTitle drops hashtag spam and caps the length.
func cleanTitle(title string) string {
	title = strings.TrimSpace(hashtagPattern.ReplaceAllString(title, ""))
	if runes := []rune(title); len(runes) > 100 {
		title = strings.TrimSpace(string(runes[:100]))
	}
	return title
}
