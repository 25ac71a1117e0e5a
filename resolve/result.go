package resolve

import "time"

// Status tags the outcome of one strategy attempt.
type Status int

const (
	// StatusNotFound means the strategy found nothing; the chain advances.
	StatusNotFound Status = iota
	// StatusSuccess means a direct media URL was resolved.
	StatusSuccess
	// StatusDeferred means the strategy enumerated candidate formats but
	// defers the byte transfer to the generic extractor, keyed by format ID.
	StatusDeferred
	// StatusRateLimited means the upstream throttled the strategy past its
	// retry budget; the chain advances.
	StatusRateLimited
	// StatusFatal means the content is confirmed private or deleted. Not
	// recoverable by trying a different transport, so the chain stops.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusDeferred:
		return "deferred"
	case StatusRateLimited:
		return "rate-limited"
	case StatusFatal:
		return "fatal"
	default:
		return "not-found"
	}
}

// Resolution is the normalized outcome of a strategy attempt. Only the fields
// belonging to the tagged Status are populated; Source is always set on
// success and deferred results once the chain returns.
type Resolution struct {
	Status Status

	// Success fields.
	MediaURL string
	Filename string // upstream-provided filename, may be empty
	Source   string // name of the strategy that produced the result

	// Metadata, best effort. Nil count pointers mean "unknown", which is
	// distinct from zero for caption rendering.
	Title  string
	Author string
	Views  *int64
	Likes  *int64

	// Deferred candidates, best first.
	Formats []Format

	// Rate-limit hint from the upstream, zero when it gave none.
	RetryAfter time.Duration

	// Fatal reason, e.g. "private" or "deleted".
	Reason string
}

// Format is one downloadable variant enumerated by the generic extractor.
type Format struct {
	ID      string
	Quality string // human label, e.g. "720p"
	Ext     string // container
	Height  int
	AV      bool // audio and video interleaved in one container
}

// Media is a downloaded asset. The caller owns the file once returned; the
// pipeline keeps no reference to it.
type Media struct {
	Path    string
	Size    int64
	Caption string
}

// Request tracks a URL through redirect resolution. CanonicalURL equals
// OriginalURL until share-link indirection has been peeled off.
type Request struct {
	OriginalURL  string
	CanonicalURL string
	Platform     string
}

// ProgressFunc receives coarse progress updates scaled into 0-100.
type ProgressFunc func(stage string, percent int)

const (
	StageResolving   = "resolving"
	StageDownloading = "downloading"
)
