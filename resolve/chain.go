package resolve

import (
	"context"
	"log/slog"

	"github.com/zenload/zenload/tr"
	"go.opentelemetry.io/otel/attribute"
)

// Resolver is one independent method of turning a canonical post URL into a
// direct media URL or a list of downloadable formats. Implementations
// normalize every failure mode into a Resolution variant; a returned error
// means transport or internal failure and is absorbed by the chain.
type Resolver interface {
	Name() string
	CanResolve(url string) bool
	Resolve(ctx context.Context, url string) (Resolution, error)
}

// Chain tries resolvers strictly in registration order, sequentially within
// one resolution. First Success or non-empty Deferred wins. NotFound,
// RateLimited, and transport errors advance to the next resolver; Fatal
// short-circuits and is surfaced unchanged.
type Chain struct {
	resolvers []Resolver
}

func NewChain(resolvers ...Resolver) *Chain {
	return &Chain{resolvers: resolvers}
}

func (c *Chain) Add(r Resolver) {
	c.resolvers = append(c.resolvers, r)
}

func (c *Chain) Resolve(ctx context.Context, url string) (Resolution, error) {
	var err error
	ctx, span := tracer.Start(ctx, "chain_resolve")
	defer tr.End(span, &err)
	span.SetAttributes(attribute.String("url", url))

	for _, r := range c.resolvers {
		if !r.CanResolve(url) {
			continue
		}
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
			return Resolution{}, err
		}

		res, rerr := c.tryOne(ctx, r, url)
		if rerr != nil {
			if ctx.Err() != nil {
				// Caller cancellation, not a strategy failure.
				err = ctx.Err()
				return Resolution{}, err
			}
			// Transport failures advance like NotFound.
			slog.Debug("strategy failed", "strategy", r.Name(), "url", url, "err", rerr)
			continue
		}

		switch res.Status {
		case StatusSuccess:
			if res.Source == "" {
				res.Source = r.Name()
			}
			return res, nil
		case StatusDeferred:
			if len(res.Formats) > 0 {
				if res.Source == "" {
					res.Source = r.Name()
				}
				return res, nil
			}
			// An empty candidate list is no result.
		case StatusFatal:
			err = &FatalError{Reason: res.Reason}
			return res, err
		case StatusRateLimited:
			slog.Debug("strategy rate limited", "strategy", r.Name(), "url", url,
				"retry_after", res.RetryAfter)
		case StatusNotFound:
		}
	}

	err = ErrExhausted
	return Resolution{Status: StatusNotFound}, err
}

func (c *Chain) tryOne(ctx context.Context, r Resolver, url string) (Resolution, error) {
	var err error
	ctx, span := tracer.Start(ctx, "strategy_"+r.Name())
	defer tr.End(span, &err)

	res, err := r.Resolve(ctx, url)
	if err == nil {
		span.SetAttributes(attribute.String("outcome", res.Status.String()))
	}
	return res, err
}
