// Package resolve turns a social-media post URL into a downloaded media file
// by trying several independent resolution strategies in a fixed order,
// tolerating that any individual strategy may be blocked, rate-limited, or
// return stale data.
package resolve

import (
	"context"
	"log/slog"
	"strings"

	"github.com/zenload/zenload/tr"
	"go.opentelemetry.io/otel/attribute"
)

// Pipeline wires redirect resolution, the strategy chain, and the media
// downloader behind the single inbound contract. Strategies run strictly
// sequentially within one resolution; concurrent resolutions for different
// URLs share the limiter and directory, which guard their own state.
type Pipeline struct {
	Redirects *RedirectResolver
	Chain     *Chain
	Downloads *Downloader
	Generic   *GenericResolver
}

// Share-link hosts whose URLs are pure indirection to the canonical post.
var shareLinkPatterns = []string{
	"instagram.com/share/*",
	"vm.tiktok.com/*",
	"tiktok.com/t/*",
	"t.co/*",
	"pin.it/*",
	"redd.it/*",
	"b23.tv/*",
	"fb.watch/*",
}

func hasShareIndirection(url string) bool {
	return simpleURLMatch(url, shareLinkPatterns)
}

// ResolveAndDownload resolves url to a direct media asset and streams it to
// the download directory. preferredFormatID selects among deferred candidate
// formats; empty means best. Only fatal, exhausted, cancellation, and
// transfer errors reach the caller — intermediate strategy failures are
// absorbed and logged.
func (p *Pipeline) ResolveAndDownload(ctx context.Context, rawURL, preferredFormatID string, progress ProgressFunc) (Media, error) {
	var err error
	ctx, span := tracer.Start(ctx, "resolve_and_download")
	defer tr.End(span, &err)

	report := func(stage string, percent int) {
		if progress != nil {
			progress(stage, percent)
		}
	}

	report(StageResolving, 0)

	req := Request{
		OriginalURL:  rawURL,
		CanonicalURL: rawURL,
		Platform:     ServiceName(rawURL),
	}
	if hasShareIndirection(rawURL) {
		canonical, rerr := p.Redirects.ResolveShare(ctx, rawURL)
		if rerr != nil {
			// Best effort: the chain may still manage with the share URL.
			slog.Debug("share link resolution failed", "url", rawURL, "err", rerr)
		} else {
			req.CanonicalURL = canonical
			req.Platform = ServiceName(canonical)
		}
	}
	span.SetAttributes(
		attribute.String("url", req.CanonicalURL),
		attribute.String("platform", req.Platform),
	)

	res, err := p.Chain.Resolve(ctx, req.CanonicalURL)
	if err != nil {
		return Media{}, err
	}
	report(StageResolving, 100)
	span.SetAttributes(attribute.String("strategy", res.Source))

	var media Media
	report(StageDownloading, 0)
	switch res.Status {
	case StatusDeferred:
		formatID := preferredFormatID
		if formatID == "" {
			formatID = res.Formats[0].ID
		}
		media, err = p.Generic.Download(ctx, req.CanonicalURL, formatID)
	default:
		name := req.Platform + "_" + sha12(req.CanonicalURL)
		media, err = p.Downloads.Fetch(ctx, res.MediaURL, name, progress)
	}
	if err != nil {
		return Media{}, err
	}
	report(StageDownloading, 100)

	media.Caption = Caption(res, req.CanonicalURL)
	return media, nil
}

var serviceDomains = map[string][]string{
	"instagram":  {"instagram.com", "instagr.am"},
	"tiktok":     {"tiktok.com", "vm.tiktok.com"},
	"twitter":    {"twitter.com", "x.com", "t.co"},
	"youtube":    {"youtube.com", "youtu.be"},
	"reddit":     {"reddit.com", "redd.it"},
	"pinterest":  {"pinterest.com", "pin.it"},
	"twitch":     {"twitch.tv", "clips.twitch.tv"},
	"vimeo":      {"vimeo.com"},
	"soundcloud": {"soundcloud.com"},
	"facebook":   {"facebook.com", "fb.watch"},
	"bluesky":    {"bsky.app"},
}

// ServiceName reports which platform a URL belongs to, or "media" when
// unrecognized. Used as the platform hint and for derived filenames.
func ServiceName(url string) string {
	lower := strings.ToLower(url)
	for service, domains := range serviceDomains {
		for _, domain := range domains {
			if strings.Contains(lower, domain) {
				return service
			}
		}
	}
	return "media"
}
