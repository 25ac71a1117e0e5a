package resolve

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// GenericResolver shells out to yt-dlp, the extractor of last resort. Unlike
// the specialized strategies it can enumerate multiple quality variants, so
// it produces a Deferred result; the actual byte transfer happens in a second
// invocation keyed by format ID. The subprocess runs in its own goroutine's
// exec wait, so the blocking CLI never stalls concurrent resolutions.
type GenericResolver struct {
	Path string // yt-dlp binary
	Dir  string // download directory for Download
}

func (g *GenericResolver) Name() string { return "generic" }

// CanResolve always matches: last in the chain, yt-dlp decides for itself.
func (g *GenericResolver) CanResolve(url string) bool { return true }

func (g *GenericResolver) Resolve(ctx context.Context, url string) (Resolution, error) {
	cmd := exec.CommandContext(ctx, g.Path, "-J", "--no-playlist", url)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Resolution{}, ctx.Err()
		}
		return classifyExtractorFailure(stderr.String()), nil
	}

	root := gjson.ParseBytes(stdout.Bytes())

	all := make([]Format, 0, 16)
	for _, f := range root.Get("formats").Array() {
		height := int(f.Get("height").Int())
		if height == 0 {
			continue
		}
		all = append(all, Format{
			ID:      f.Get("format_id").String(),
			Quality: fmt.Sprintf("%dp", height),
			Ext:     f.Get("ext").String(),
			Height:  height,
			AV:      f.Get("vcodec").String() != "none" && f.Get("acodec").String() != "none",
		})
	}

	res := Resolution{
		Source: "generic",
		Title:  root.Get("title").String(),
		Author: root.Get("uploader").String(),
	}
	if v := root.Get("view_count"); v.Exists() && v.Type != gjson.Null {
		res.Views = i64(v.Int())
	}
	if l := root.Get("like_count"); l.Exists() && l.Type != gjson.Null {
		res.Likes = i64(l.Int())
	}

	candidates := BestFormats(all)
	if len(candidates) > 0 {
		res.Status = StatusDeferred
		res.Formats = candidates
		return res, nil
	}

	// Some extractors report a single pre-merged URL and no format list.
	if direct := root.Get("url").String(); direct != "" {
		res.Status = StatusSuccess
		res.MediaURL = direct
		return res, nil
	}

	return Resolution{Status: StatusNotFound}, nil
}

// BestFormats keeps interleaved audio+video formats, orders them by height
// descending, and deduplicates by quality label keeping the first occurrence.
func BestFormats(all []Format) []Format {
	av := make([]Format, 0, len(all))
	for _, f := range all {
		if f.AV {
			av = append(av, f)
		}
	}

	sort.SliceStable(av, func(i, j int) bool {
		return av[i].Height > av[j].Height
	})

	seen := make(map[string]bool, len(av))
	out := av[:0]
	for _, f := range av {
		if seen[f.Quality] {
			continue
		}
		seen[f.Quality] = true
		out = append(out, f)
	}
	return out
}

// Download transfers one deferred format to the download directory and
// returns the resulting file.
func (g *GenericResolver) Download(ctx context.Context, url, formatID string) (Media, error) {
	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return Media{}, &DownloadError{Kind: KindStorage, Err: err}
	}

	name := sha12(url)
	outtmpl := filepath.Join(g.Dir, name+".%(ext)s")

	args := []string{"--no-playlist", "--no-mtime", "--no-part", "-o", outtmpl}
	if formatID != "" {
		args = append(args, "-f", formatID)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, g.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Media{}, ctx.Err()
		}
		return Media{}, &DownloadError{Kind: KindNetwork,
			Err: fmt.Errorf("yt-dlp: %v: %s", err, strings.TrimSpace(stderr.String()))}
	}

	matches, err := filepath.Glob(filepath.Join(g.Dir, name+".*"))
	if err != nil || len(matches) == 0 {
		return Media{}, &DownloadError{Kind: KindStorage,
			Err: fmt.Errorf("downloaded file not found under %s", g.Dir)}
	}

	info, err := os.Stat(matches[0])
	if err != nil {
		return Media{}, &DownloadError{Kind: KindStorage, Err: err}
	}

	return Media{Path: matches[0], Size: info.Size()}, nil
}

func classifyExtractorFailure(stderr string) Resolution {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "private"),
		strings.Contains(lower, "login") && strings.Contains(lower, "required"):
		return Resolution{Status: StatusFatal, Reason: "private"}
	case strings.Contains(lower, "removed"), strings.Contains(lower, "deleted"):
		return Resolution{Status: StatusFatal, Reason: "deleted"}
	default:
		return Resolution{Status: StatusNotFound}
	}
}
