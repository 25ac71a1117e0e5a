package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestResolveAndDownloadEmbedFallback(t *testing.T) {
	payload := "not really an mp4"
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `inline; filename="clip.mp4"`)
		w.Write([]byte(payload))
	}))
	defer media.Close()

	embedBody := fmt.Sprintf(`<html><body>
<script>window.__additionalDataLoaded('/p/ABC123/',{"graphql":{"shortcode_media":{"video_url":%q,"video_view_count":1234,"owner":{"username":"someone"},"edge_media_to_caption":{"edges":[{"node":{"text":"hello"}}]}}}});</script>
</body></html>`, media.URL+"/clip")
	embedSrv := serveEmbedPage(t, embedBody)
	defer embedSrv.Close()

	// First strategy finds nothing, the embed scrape wins.
	discovery := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer discovery.Close()

	limiter := fastLimiter()
	embed := testEmbedResolver(embedSrv)
	chain := NewChain(
		NewCobaltResolver(NewDirectory(discovery.URL, nil), limiter, ""),
		embed,
	)

	dir := t.TempDir()
	pipeline := &Pipeline{
		Redirects: NewRedirectResolver(limiter),
		Chain:     chain,
		Downloads: NewDownloader(dir),
	}

	var stages []string
	progress := func(stage string, percent int) {
		stages = append(stages, fmt.Sprintf("%s:%d", stage, percent))
	}

	url := "https://www.instagram.com/reel/ABC123/"
	got, err := pipeline.ResolveAndDownload(context.Background(), url, "", progress)
	if err != nil {
		t.Fatal(err)
	}

	if got.Size != int64(len(payload)) {
		t.Errorf("Size = %d, want %d", got.Size, len(payload))
	}
	data, err := os.ReadFile(got.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != payload {
		t.Error("downloaded bytes differ from the served payload")
	}

	if !strings.Contains(got.Caption, "hello") {
		t.Errorf("caption missing title: %q", got.Caption)
	}
	if !strings.Contains(got.Caption, "1.2K views") {
		t.Errorf("caption missing view count: %q", got.Caption)
	}
	if !strings.Contains(got.Caption, "by @someone") {
		t.Errorf("caption missing author: %q", got.Caption)
	}
	if !strings.HasSuffix(got.Caption, url) {
		t.Errorf("caption does not end with the canonical url: %q", got.Caption)
	}

	joined := strings.Join(stages, " ")
	if !strings.Contains(joined, StageResolving+":100") || !strings.Contains(joined, StageDownloading+":100") {
		t.Errorf("progress stages incomplete: %v", stages)
	}
}

func TestResolveAndDownloadFatalStopsChain(t *testing.T) {
	private := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","error":{"code":"error.api.content.post.private"}}`))
	}))
	defer private.Close()

	laterCalls := 0
	later := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		laterCalls++
		w.Write([]byte(`<html></html>`))
	}))
	defer later.Close()

	limiter := fastLimiter()
	embed := testEmbedResolver(later)
	mobile := NewMobileAPIResolver(limiter)
	mobile.BaseURL = later.URL
	graphql := NewGraphQLResolver(limiter)
	graphql.BaseURL = later.URL
	ssvid := NewSsvidResolver(limiter)
	ssvid.BaseURL = later.URL

	chain := NewChain(
		NewCobaltResolver(testDirectory(private.URL), limiter, ""),
		embed, mobile, graphql, ssvid,
	)

	pipeline := &Pipeline{
		Redirects: NewRedirectResolver(limiter),
		Chain:     chain,
		Downloads: NewDownloader(t.TempDir()),
	}

	_, err := pipeline.ResolveAndDownload(context.Background(), "https://www.instagram.com/p/ABC123/", "", nil)
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FatalError", err)
	}
	if fe.Reason != "private" {
		t.Errorf("Reason = %q", fe.Reason)
	}
	if laterCalls != 0 {
		t.Errorf("strategies after the fatal result made %d requests, want 0", laterCalls)
	}
}

func TestResolveAndDownloadDeferredFormat(t *testing.T) {
	scriptDir := t.TempDir()
	script := writeScript(t, scriptDir, `if [ "$1" = "-J" ]; then
  cat <<'EOF'
{"title":"t","formats":[
  {"format_id":"137","height":1080,"ext":"mp4","vcodec":"avc1","acodec":"mp4a"},
  {"format_id":"18","height":720,"ext":"mp4","vcodec":"avc1","acodec":"mp4a"}
]}
EOF
  exit 0
fi
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then tmpl="$2"; fi
  if [ "$1" = "-f" ]; then fmt="$2"; fi
  shift
done
path=$(printf '%s' "$tmpl" | sed 's/%(ext)s/mp4/')
printf '%s' "$fmt" > "$path"
`)

	out := t.TempDir()
	generic := &GenericResolver{Path: script, Dir: out}
	limiter := fastLimiter()

	pipeline := &Pipeline{
		Redirects: NewRedirectResolver(limiter),
		Chain:     NewChain(generic),
		Downloads: NewDownloader(out),
		Generic:   generic,
	}

	// No preference: best format wins.
	media, err := pipeline.ResolveAndDownload(context.Background(), "https://example.com/watch?v=1", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(media.Path)
	if string(data) != "137" {
		t.Errorf("downloaded format = %q, want the best candidate 137", data)
	}

	// Explicit preference is forwarded.
	media, err = pipeline.ResolveAndDownload(context.Background(), "https://example.com/watch?v=2", "18", nil)
	if err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(media.Path)
	if string(data) != "18" {
		t.Errorf("downloaded format = %q, want the requested 18", data)
	}
}

func TestResolveAndDownloadExhausted(t *testing.T) {
	discovery := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer discovery.Close()

	limiter := fastLimiter()
	pipeline := &Pipeline{
		Redirects: NewRedirectResolver(limiter),
		Chain:     NewChain(NewCobaltResolver(NewDirectory(discovery.URL, nil), limiter, "")),
		Downloads: NewDownloader(t.TempDir()),
	}

	_, err := pipeline.ResolveAndDownload(context.Background(), "https://www.instagram.com/p/ABC123/", "", nil)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestServiceName(t *testing.T) {
	cases := []struct{ url, want string }{
		{"https://www.instagram.com/reel/ABC/", "instagram"},
		{"https://vm.tiktok.com/ZM123/", "tiktok"},
		{"https://x.com/user/status/1", "twitter"},
		{"https://youtu.be/abc", "youtube"},
		{"https://bsky.app/profile/a/post/b", "bluesky"},
		{"https://unknown.example/video", "media"},
	}
	for _, c := range cases {
		if got := ServiceName(c.url); got != c.want {
			t.Errorf("ServiceName(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}

func TestHasShareIndirection(t *testing.T) {
	yes := []string{
		"https://www.instagram.com/share/reel/xyz",
		"https://vm.tiktok.com/ZM123/",
		"https://t.co/abc",
		"https://pin.it/xyz",
		"https://fb.watch/abc/",
	}
	for _, u := range yes {
		if !hasShareIndirection(u) {
			t.Errorf("hasShareIndirection(%q) = false", u)
		}
	}
	no := []string{
		"https://www.instagram.com/reel/ABC/",
		"https://www.tiktok.com/@user/video/1",
	}
	for _, u := range no {
		if hasShareIndirection(u) {
			t.Errorf("hasShareIndirection(%q) = true", u)
		}
	}
}
