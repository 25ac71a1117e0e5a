package resolve

import (
	"context"
	"errors"
	"testing"
)

type stubResolver struct {
	name  string
	match bool
	res   Resolution
	err   error
	calls int
	fn    func(ctx context.Context) (Resolution, error)
}

func (s *stubResolver) Name() string           { return s.name }
func (s *stubResolver) CanResolve(string) bool { return s.match }

func (s *stubResolver) Resolve(ctx context.Context, _ string) (Resolution, error) {
	s.calls++
	if s.fn != nil {
		return s.fn(ctx)
	}
	return s.res, s.err
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	first := &stubResolver{name: "first", match: true, res: Resolution{Status: StatusNotFound}}
	second := &stubResolver{name: "second", match: true,
		res: Resolution{Status: StatusSuccess, MediaURL: "https://cdn.example/v.mp4"}}
	third := &stubResolver{name: "third", match: true,
		res: Resolution{Status: StatusSuccess, MediaURL: "https://cdn.example/other.mp4"}}

	chain := NewChain(first, second, third)
	res, err := chain.Resolve(context.Background(), "https://example.com/post/1")
	if err != nil {
		t.Fatal(err)
	}
	if res.MediaURL != "https://cdn.example/v.mp4" {
		t.Errorf("MediaURL = %q", res.MediaURL)
	}
	if res.Source != "second" {
		t.Errorf("Source = %q, want %q", res.Source, "second")
	}
	if third.calls != 0 {
		t.Errorf("third resolver was invoked %d times after a success", third.calls)
	}
}

func TestChainDeferredWithFormatsWins(t *testing.T) {
	deferred := &stubResolver{name: "deferred", match: true,
		res: Resolution{Status: StatusDeferred, Formats: []Format{{ID: "137", Quality: "1080p"}}}}
	next := &stubResolver{name: "next", match: true, res: Resolution{Status: StatusSuccess}}

	chain := NewChain(deferred, next)
	res, err := chain.Resolve(context.Background(), "https://example.com/post/1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusDeferred || len(res.Formats) != 1 {
		t.Errorf("got %v with %d formats, want deferred with 1", res.Status, len(res.Formats))
	}
	if next.calls != 0 {
		t.Error("chain advanced past a deferred result with candidates")
	}
}

func TestChainEmptyDeferredAdvances(t *testing.T) {
	empty := &stubResolver{name: "empty", match: true, res: Resolution{Status: StatusDeferred}}
	next := &stubResolver{name: "next", match: true, res: Resolution{Status: StatusSuccess}}

	chain := NewChain(empty, next)
	res, err := chain.Resolve(context.Background(), "https://example.com/post/1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSuccess || next.calls != 1 {
		t.Errorf("got %v with next.calls=%d, want success from the next resolver", res.Status, next.calls)
	}
}

func TestChainFatalShortCircuits(t *testing.T) {
	fatal := &stubResolver{name: "fatal", match: true,
		res: Resolution{Status: StatusFatal, Reason: "private"}}
	never := &stubResolver{name: "never", match: true, res: Resolution{Status: StatusSuccess}}

	chain := NewChain(fatal, never)
	res, err := chain.Resolve(context.Background(), "https://example.com/post/1")

	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FatalError", err)
	}
	if fe.Reason != "private" {
		t.Errorf("Reason = %q", fe.Reason)
	}
	if res.Status != StatusFatal {
		t.Errorf("Status = %v", res.Status)
	}
	if never.calls != 0 {
		t.Errorf("resolver after a fatal result was invoked %d times", never.calls)
	}
}

func TestChainAdvancesPastFailures(t *testing.T) {
	rateLimited := &stubResolver{name: "rate-limited", match: true,
		res: Resolution{Status: StatusRateLimited}}
	broken := &stubResolver{name: "broken", match: true, err: errors.New("connection reset")}
	winner := &stubResolver{name: "winner", match: true,
		res: Resolution{Status: StatusSuccess, MediaURL: "https://cdn.example/v.mp4"}}

	chain := NewChain(rateLimited, broken, winner)
	res, err := chain.Resolve(context.Background(), "https://example.com/post/1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != "winner" {
		t.Errorf("Source = %q", res.Source)
	}
}

func TestChainSkipsNonMatching(t *testing.T) {
	skipped := &stubResolver{name: "skipped", match: false, res: Resolution{Status: StatusSuccess}}
	winner := &stubResolver{name: "winner", match: true, res: Resolution{Status: StatusSuccess}}

	chain := NewChain(skipped, winner)
	if _, err := chain.Resolve(context.Background(), "https://example.com/post/1"); err != nil {
		t.Fatal(err)
	}
	if skipped.calls != 0 {
		t.Error("non-matching resolver was invoked")
	}
	if winner.calls != 1 {
		t.Errorf("winner.calls = %d", winner.calls)
	}
}

func TestChainExhausted(t *testing.T) {
	chain := NewChain(
		&stubResolver{name: "a", match: true, res: Resolution{Status: StatusNotFound}},
		&stubResolver{name: "b", match: true, res: Resolution{Status: StatusRateLimited}},
	)

	res, err := chain.Resolve(context.Background(), "https://example.com/post/1")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if res.Status != StatusNotFound {
		t.Errorf("Status = %v", res.Status)
	}
}

func TestChainStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	canceling := &stubResolver{name: "canceling", match: true, fn: func(context.Context) (Resolution, error) {
		cancel()
		return Resolution{}, context.Canceled
	}}
	never := &stubResolver{name: "never", match: true, res: Resolution{Status: StatusSuccess}}

	chain := NewChain(canceling, never)
	_, err := chain.Resolve(ctx, "https://example.com/post/1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if never.calls != 0 {
		t.Error("chain continued after cancellation")
	}
}
