package resolve

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted indicates every strategy was tried and none produced a
	// definitive result. This is the only failure reported generically.
	ErrExhausted = errors.New("all methods failed")
	// ErrRateLimited indicates an upstream kept throttling past the retry cap.
	ErrRateLimited = errors.New("rate limited")
)

// FatalError marks content confirmed private or removed. It short-circuits
// the whole chain.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string {
	return "content unavailable: " + e.Reason
}

// Error kinds for media transfer failures.
const (
	KindNetwork = "network"
	KindStorage = "storage"
)

// DownloadError wraps a transfer failure with its kind.
type DownloadError struct {
	Kind string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s error: %v", e.Kind, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }
