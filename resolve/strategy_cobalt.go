package resolve

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"log/slog"
)

const (
	officialCobaltAPI = "https://api.cobalt.tools/"
	maxInstanceTries  = 3
)

// CobaltResolver asks community proxy instances for a direct media URL,
// rotating across the directory and falling back to the official API when a
// bearer credential is configured.
type CobaltResolver struct {
	Directory *Directory
	Limiter   *Limiter

	// Official API fallback, used only when Token is set.
	OfficialURL string
	Token       string

	// Request knobs forwarded to the proxy API.
	VideoQuality string
	AudioFormat  string
	DownloadMode string

	client *http.Client
}

func NewCobaltResolver(dir *Directory, limiter *Limiter, token string) *CobaltResolver {
	return &CobaltResolver{
		Directory:    dir,
		Limiter:      limiter,
		OfficialURL:  officialCobaltAPI,
		Token:        token,
		VideoQuality: "1080",
		AudioFormat:  "mp3",
		DownloadMode: "auto",
		client:       newHTTPClient(apiTimeout),
	}
}

func (c *CobaltResolver) Name() string { return "cobalt" }

func (c *CobaltResolver) CanResolve(url string) bool {
	return simpleURLMatch(url, []string{
		"instagram.com/*", "instagr.am/*",
		"tiktok.com/*", "vm.tiktok.com/*",
		"twitter.com/*/status/*", "x.com/*/status/*", "t.co/*",
		"youtube.com/*", "youtu.be/*",
		"reddit.com/r/*/comments/*", "old.reddit.com/r/*/comments/*", "redd.it/*", "v.redd.it/*",
		"pinterest.com/pin/*", "pin.it/*",
		"twitch.tv/*/clip/*", "clips.twitch.tv/*",
		"bsky.app/profile/*/post/*",
		"vimeo.com/*", "soundcloud.com/*", "streamable.com/*",
		"facebook.com/*", "fb.watch/*",
		"snapchat.com/*", "tumblr.com/*", "loom.com/*",
		"bilibili.com/*", "b23.tv/*", "dailymotion.com/*",
		"rutube.ru/*", "ok.ru/*", "vk.com/*",
	})
}

type cobaltRequest struct {
	URL             string `json:"url"`
	VideoQuality    string `json:"videoQuality"`
	AudioFormat     string `json:"audioFormat"`
	DownloadMode    string `json:"downloadMode"`
	TikTokFullAudio bool   `json:"tiktokFullAudio"`
	TwitterGif      bool   `json:"twitterGif"`
}

type cobaltResponse struct {
	Status   string         `json:"status"` // redirect / tunnel / picker / error
	URL      string         `json:"url"`
	Filename string         `json:"filename"`
	Picker   []cobaltPicker `json:"picker"`
	Error    struct {
		Code string `json:"code"`
	} `json:"error"`
}

type cobaltPicker struct {
	Type string `json:"type"` // photo / video / gif
	URL  string `json:"url"`
}

type cobaltError struct {
	Status string `json:"status"`
	Err    struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (ce cobaltError) Error() string {
	return "cobalt error: " + ce.Err.Code
}

func (c *CobaltResolver) Resolve(ctx context.Context, url string) (Resolution, error) {
	payload := cobaltRequest{
		URL:             url,
		VideoQuality:    c.VideoQuality,
		AudioFormat:     c.AudioFormat,
		DownloadMode:    c.DownloadMode,
		TikTokFullAudio: true,
		TwitterGif:      true,
	}

	sawRateLimit := false

	for try := 0; try < maxInstanceTries; try++ {
		inst, ok := c.Directory.PickNext(ctx)
		if !ok {
			break
		}

		if err := c.Limiter.Throttle(ctx, inst.BaseURL); err != nil {
			return Resolution{}, err
		}

		res, retryable, err := c.ask(ctx, inst.BaseURL, payload, nil)
		if err != nil {
			slog.Debug("proxy instance failed", "instance", inst.BaseURL, "err", err)
			c.Directory.MarkFailed(inst)
			continue
		}
		if !retryable {
			return res, nil
		}
		if res.Status == StatusRateLimited {
			sawRateLimit = true
		}
		c.Directory.MarkFailed(inst)
	}

	if c.Token != "" {
		headers := []string{
			"Authorization", "Bearer " + c.Token,
			"Origin", "https://cobalt.tools",
			"Referer", "https://cobalt.tools/",
		}
		res, retryable, err := c.ask(ctx, c.OfficialURL, payload, headers)
		if err == nil && !retryable {
			return res, nil
		}
		if err != nil {
			slog.Debug("official proxy API failed", "err", err)
		}
	}

	if sawRateLimit {
		return Resolution{Status: StatusRateLimited}, nil
	}
	return Resolution{Status: StatusNotFound}, nil
}

// ask performs one proxy API round trip. retryable reports whether the next
// instance should be tried; definitive results (success, fatal) are not
// retryable.
func (c *CobaltResolver) ask(ctx context.Context, endpoint string, payload cobaltRequest, extraHeaders []string) (Resolution, bool, error) {
	headers := append([]string{"User-Agent", serviceUA}, extraHeaders...)

	_, value, err := jsonRequest[cobaltResponse, cobaltError](ctx, c.client, http.MethodPost, endpoint, payload, headers...)
	if err != nil {
		var ce cobaltError
		if errors.As(err, &ce) {
			res := c.classifyError(ce.Err.Code)
			return res, retryableStatus(res), nil
		}
		return Resolution{}, true, err
	}

	switch value.Status {
	case "redirect", "tunnel":
		return Resolution{
			Status:   StatusSuccess,
			MediaURL: value.URL,
			Filename: value.Filename,
			Source:   "cobalt",
		}, false, nil
	case "picker":
		picked := pickFromPicker(value.Picker)
		if picked == "" {
			return Resolution{Status: StatusNotFound}, true, nil
		}
		return Resolution{
			Status:   StatusSuccess,
			MediaURL: picked,
			Filename: value.Filename,
			Source:   "cobalt",
		}, false, nil
	case "error":
		res := c.classifyError(value.Error.Code)
		return res, retryableStatus(res), nil
	default:
		return Resolution{Status: StatusNotFound}, true, nil
	}
}

// classifyError maps proxy error codes onto result variants. Content errors
// are not worth retrying anywhere.
func (c *CobaltResolver) classifyError(code string) Resolution {
	lower := strings.ToLower(code)
	switch {
	case strings.Contains(lower, "private"):
		return Resolution{Status: StatusFatal, Reason: "private"}
	case strings.Contains(lower, "content"), strings.Contains(lower, "unavailable"):
		return Resolution{Status: StatusFatal, Reason: "unavailable"}
	case strings.Contains(lower, "rate"):
		return Resolution{Status: StatusRateLimited}
	default:
		return Resolution{Status: StatusNotFound}
	}
}

func retryableStatus(res Resolution) bool {
	return res.Status != StatusSuccess && res.Status != StatusFatal
}

// pickFromPicker prefers the first entry of type "video", else the first
// entry unconditionally.
func pickFromPicker(picker []cobaltPicker) string {
	for _, p := range picker {
		if p.Type == "video" {
			return p.URL
		}
	}
	if len(picker) > 0 {
		return picker[0].URL
	}
	return ""
}
