package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/zenload/zenload/resolve"
	"github.com/zenload/zenload/tr"
	"github.com/zenload/zenload/web"
)

type config struct {
	Addr        string `env:"ADDR" envDefault:"localhost:8080"`
	DownloadDir string `env:"DOWNLOAD_DIR" envDefault:"downloads"`
	MaxDirGB    int    `env:"MAX_DIR_GB" envDefault:"10"`

	InstancesURL string `env:"COBALT_INSTANCES_URL" envDefault:"https://instances.cobalt.best/api/instances.json"`
	CobaltToken  string `env:"COBALT_API_TOKEN"`
	YtDlpPath    string `env:"YTDLP_PATH" envDefault:"yt-dlp"`
}

// Built-in instances used when discovery is unreachable.
var fallbackInstances = []string{
	"https://cobalt-api.kwiatekmiki.com/",
	"https://cobalt-backend.canine.tools/",
	"https://capi.3kh0.net/",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "zenload:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	if err := tr.Init("zenload"); err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer tr.Shutdown()

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("creating download dir: %w", err)
	}

	pipeline := buildPipeline(cfg)

	// Hourly download-dir sweep.
	go func() {
		maxBytes := int64(cfg.MaxDirGB) * 1_000_000_000
		for range time.Tick(1 * time.Hour) {
			if err := resolve.SweepDir(cfg.DownloadDir, maxBytes); err != nil {
				slog.Error("sweeping download dir", "err", err)
			}
		}
	}()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           web.Handler(pipeline, cfg.DownloadDir),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-sc:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func buildPipeline(cfg config) *resolve.Pipeline {
	// One limiter per upstream class: conservative spacing for
	// platform-internal APIs, relaxed for proxy instances.
	apiLimiter := resolve.NewLimiter(2 * time.Second)
	instanceLimiter := resolve.NewLimiter(1 * time.Second)

	directory := resolve.NewDirectory(cfg.InstancesURL, fallbackInstances)
	generic := &resolve.GenericResolver{Path: cfg.YtDlpPath, Dir: cfg.DownloadDir}

	chain := resolve.NewChain(
		resolve.NewCobaltResolver(directory, instanceLimiter, cfg.CobaltToken),
		resolve.NewEmbedResolver(apiLimiter),
		resolve.NewMobileAPIResolver(apiLimiter),
		resolve.NewGraphQLResolver(apiLimiter),
		resolve.NewSsvidResolver(apiLimiter),
		generic,
	)

	return &resolve.Pipeline{
		Redirects: resolve.NewRedirectResolver(apiLimiter),
		Chain:     chain,
		Downloads: resolve.NewDownloader(cfg.DownloadDir),
		Generic:   generic,
	}
}
