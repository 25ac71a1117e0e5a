package resolve

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// Downloader streams resolved media URLs into a single local directory.
type Downloader struct {
	Dir string

	client *http.Client
}

func NewDownloader(dir string) *Downloader {
	return &Downloader{
		Dir:    dir,
		client: newHTTPClient(mediaTimeout),
	}
}

// Fetch streams mediaURL to disk. The file is named from the upstream
// Content-Disposition filename when one is given, otherwise from name plus an
// extension derived from the response. Progress is reported as 0-100 of
// Content-Length; when the length is unknown reporting is skipped rather
// than guessed.
func (d *Downloader) Fetch(ctx context.Context, mediaURL, name string, progress ProgressFunc) (Media, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return Media{}, &DownloadError{Kind: KindStorage, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return Media{}, &DownloadError{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := d.client.Do(req)
	if err != nil {
		return Media{}, &DownloadError{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Media{}, &DownloadError{Kind: KindNetwork,
			Err: fmt.Errorf("unexpected status fetching media: %s", resp.Status)}
	}

	filename := upstreamFilename(resp)
	if filename == "" {
		ext := getResponseExtension(resp)
		if ext == "" {
			ext = ".mp4"
		}
		filename = name + ext
	}

	path := filepath.Join(d.Dir, filename)
	out, err := os.OpenFile(path, os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return Media{}, &DownloadError{Kind: KindStorage, Err: err}
	}

	var w io.Writer = out
	if resp.ContentLength > 0 && progress != nil {
		w = &progressWriter{w: out, total: resp.ContentLength, report: progress, last: -1}
	}

	written, err := io.Copy(w, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return Media{}, &DownloadError{Kind: KindNetwork, Err: err}
	}

	return Media{Path: path, Size: written}, nil
}

func upstreamFilename(resp *http.Response) string {
	cd := resp.Header.Get("Content-Disposition")
	if cd == "" {
		return ""
	}
	_, params, _ := mime.ParseMediaType(cd)
	filename := params["filename"]
	if filename == "" || validateSimpleFilename(filename) != nil {
		return ""
	}
	return filename
}

type progressWriter struct {
	w      io.Writer
	total  int64
	done   int64
	report ProgressFunc
	last   int
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	pct := int(p.done * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	if pct != p.last {
		p.last = pct
		p.report(StageDownloading, pct)
	}
	return n, err
}
