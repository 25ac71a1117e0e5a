package resolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCobaltTunnelSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Write([]byte(`{"status":"tunnel","url":"https://proxy.example/stream/1","filename":"clip.mp4"}`))
	}))
	defer srv.Close()

	c := NewCobaltResolver(testDirectory(srv.URL), fastLimiter(), "")
	res, err := c.Resolve(context.Background(), "https://www.tiktok.com/@user/video/123")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %v, want success", res.Status)
	}
	if res.MediaURL != "https://proxy.example/stream/1" {
		t.Errorf("MediaURL = %q", res.MediaURL)
	}
	if res.Filename != "clip.mp4" {
		t.Errorf("Filename = %q", res.Filename)
	}
	if res.Source != "cobalt" {
		t.Errorf("Source = %q", res.Source)
	}
}

func TestCobaltPickerPrefersVideo(t *testing.T) {
	picker := []cobaltPicker{
		{Type: "photo", URL: "https://proxy.example/photo.jpg"},
		{Type: "video", URL: "https://proxy.example/video.mp4"},
		{Type: "video", URL: "https://proxy.example/video2.mp4"},
	}
	if got := pickFromPicker(picker); got != "https://proxy.example/video.mp4" {
		t.Errorf("pickFromPicker = %q, want the first video", got)
	}

	photosOnly := []cobaltPicker{
		{Type: "photo", URL: "https://proxy.example/a.jpg"},
		{Type: "photo", URL: "https://proxy.example/b.jpg"},
	}
	if got := pickFromPicker(photosOnly); got != "https://proxy.example/a.jpg" {
		t.Errorf("pickFromPicker = %q, want the first entry", got)
	}

	if got := pickFromPicker(nil); got != "" {
		t.Errorf("pickFromPicker(nil) = %q, want empty", got)
	}
}

func TestCobaltPrivateContentIsFatal(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","error":{"code":"error.api.content.post.private"}}`))
	}))
	defer srv.Close()

	c := NewCobaltResolver(testDirectory(srv.URL), fastLimiter(), "")
	res, err := c.Resolve(context.Background(), "https://www.instagram.com/p/ABC/")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFatal || res.Reason != "private" {
		t.Fatalf("got %v/%q, want fatal/private", res.Status, res.Reason)
	}
	if hits != 1 {
		t.Errorf("definitive error retried across %d requests, want 1", hits)
	}
}

func TestCobaltFailsOverToNextInstance(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`upstream exploded`))
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"redirect","url":"https://cdn.example/v.mp4"}`))
	}))
	defer good.Close()

	dir := testDirectory(bad.URL, good.URL)
	c := NewCobaltResolver(dir, fastLimiter(), "")
	res, err := c.Resolve(context.Background(), "https://www.instagram.com/p/ABC/")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSuccess || res.MediaURL != "https://cdn.example/v.mp4" {
		t.Fatalf("got %v %q, want success from the healthy instance", res.Status, res.MediaURL)
	}
	if _, failed := dir.failed[normalizeBaseURL(bad.URL)]; !failed {
		t.Error("broken instance not marked failed")
	}
}

func TestCobaltReportsRateLimitAfterAllInstances(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"status":"error","error":{"code":"error.api.rate_exceeded"}}`))
	}))
	defer srv.Close()

	c := NewCobaltResolver(testDirectory(srv.URL), fastLimiter(), "")
	res, err := c.Resolve(context.Background(), "https://www.instagram.com/p/ABC/")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusRateLimited {
		t.Fatalf("Status = %v, want rate-limited", res.Status)
	}
	if hits != maxInstanceTries {
		t.Errorf("made %d attempts, want %d", hits, maxInstanceTries)
	}
}

func TestCobaltOfficialFallbackWithToken(t *testing.T) {
	discovery := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer discovery.Close()

	official := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sekret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Origin"); got != "https://cobalt.tools" {
			t.Errorf("Origin = %q", got)
		}
		w.Write([]byte(`{"status":"tunnel","url":"https://official.example/stream"}`))
	}))
	defer official.Close()

	c := NewCobaltResolver(NewDirectory(discovery.URL, nil), fastLimiter(), "sekret")
	c.OfficialURL = official.URL + "/"

	res, err := c.Resolve(context.Background(), "https://www.instagram.com/p/ABC/")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSuccess || res.MediaURL != "https://official.example/stream" {
		t.Fatalf("got %v %q, want success from the official endpoint", res.Status, res.MediaURL)
	}
}

func TestCobaltCanResolve(t *testing.T) {
	c := NewCobaltResolver(nil, nil, "")
	yes := []string{
		"https://www.instagram.com/reel/ABC/",
		"https://vm.tiktok.com/ZM1234/",
		"https://x.com/user/status/123",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.reddit.com/r/videos/comments/abc/title/",
	}
	for _, u := range yes {
		if !c.CanResolve(u) {
			t.Errorf("CanResolve(%q) = false", u)
		}
	}
	no := []string{
		"https://example.com/video.mp4",
		"https://x.com/user",
	}
	for _, u := range no {
		if c.CanResolve(u) {
			t.Errorf("CanResolve(%q) = true", u)
		}
	}
}
