package resolve

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

const instancesTTL = time.Hour

// Instance is one community-operated endpoint implementing the proxy-service
// API contract.
type Instance struct {
	BaseURL string
	Trust   int
	CORS    bool
}

// Directory discovers, caches, shuffles, and rotates the pool of proxy
// instances. Snapshots are immutable once fetched and replaced wholesale on
// refresh; failures are tracked per refresh cycle only. Safe for concurrent
// use by parallel resolutions.
type Directory struct {
	DiscoveryURL string
	Fallback     []Instance

	client *http.Client

	mu        sync.Mutex
	instances []Instance
	fetchedAt time.Time
	failed    map[string]struct{}
	next      int
	ttl       time.Duration
	now       func() time.Time
}

func NewDirectory(discoveryURL string, fallback []string) *Directory {
	d := &Directory{
		DiscoveryURL: discoveryURL,
		client:       newHTTPClient(apiTimeout),
		failed:       make(map[string]struct{}),
		ttl:          instancesTTL,
		now:          time.Now,
	}
	for _, f := range fallback {
		d.Fallback = append(d.Fallback, Instance{BaseURL: normalizeBaseURL(f), Trust: 1, CORS: true})
	}
	return d
}

type instanceEntry struct {
	API    string `json:"api"`
	APIURL string `json:"api_url"`
	Trust  int    `json:"trust"`
	CORS   bool   `json:"cors"`
}

// Available returns the current snapshot minus instances marked failed this
// cycle, refreshing from the discovery endpoint when the snapshot is absent
// or stale. If every instance has failed, the failed set is cleared and the
// full set returned so the chain never starves.
func (d *Directory) Available(ctx context.Context) []Instance {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.instances) == 0 || d.now().Sub(d.fetchedAt) > d.ttl {
		d.refreshLocked(ctx)
	}

	available := make([]Instance, 0, len(d.instances))
	for _, inst := range d.instances {
		if _, bad := d.failed[inst.BaseURL]; !bad {
			available = append(available, inst)
		}
	}

	if len(available) == 0 {
		// Self-healing reset: all failures this cycle were likely transient.
		d.failed = make(map[string]struct{})
		available = append(available, d.instances...)
	}

	return available
}

// PickNext round-robins over the available subset.
func (d *Directory) PickNext(ctx context.Context) (Instance, bool) {
	available := d.Available(ctx)
	if len(available) == 0 {
		return Instance{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	inst := available[d.next%len(available)]
	d.next++
	return inst, true
}

// MarkFailed records an instance failure for the current cycle. Cleared on
// the next refresh or by the self-healing reset.
func (d *Directory) MarkFailed(inst Instance) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed[inst.BaseURL] = struct{}{}
}

func (d *Directory) FetchedAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetchedAt
}

// refreshLocked replaces the snapshot. Malformed or unreachable discovery is
// never fatal; the built-in fallback list is used instead.
func (d *Directory) refreshLocked(ctx context.Context) {
	fetched := d.fetchInstances(ctx)
	if len(fetched) == 0 {
		fetched = append(fetched, d.Fallback...)
	}

	rand.Shuffle(len(fetched), func(i, j int) {
		fetched[i], fetched[j] = fetched[j], fetched[i]
	})

	d.instances = fetched
	d.fetchedAt = d.now()
	d.failed = make(map[string]struct{})
	d.next = 0
}

func (d *Directory) fetchInstances(ctx context.Context) []Instance {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.DiscoveryURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", serviceUA)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		slog.Warn("instance discovery unreachable", "url", d.DiscoveryURL, "err", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("instance discovery failed", "url", d.DiscoveryURL, "status", resp.Status)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var entries []instanceEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		slog.Warn("instance discovery malformed", "url", d.DiscoveryURL, "err", err)
		return nil
	}

	var instances []Instance
	for _, entry := range entries {
		api := entry.API
		if api == "" {
			api = entry.APIURL
		}
		if api == "" {
			continue
		}
		// Only trusted instances with CORS enabled.
		if entry.Trust < 1 || !entry.CORS {
			continue
		}
		instances = append(instances, Instance{
			BaseURL: normalizeBaseURL(api),
			Trust:   entry.Trust,
			CORS:    entry.CORS,
		})
	}

	if len(instances) > 0 {
		slog.Info("fetched proxy instances", "count", len(instances))
	}
	return instances
}

func normalizeBaseURL(api string) string {
	if !strings.HasPrefix(api, "http") {
		api = "https://" + api
	}
	if !strings.HasSuffix(api, "/") {
		api += "/"
	}
	return api
}
