package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedSender spaces calls to the wrapped sender so a batch never
// exceeds the provider's per-second quota.
type RateLimitedSender struct {
	next    Sender
	limiter *rate.Limiter
}

func NewRateLimitedSender(next Sender, perSecond float64, burst int) *RateLimitedSender {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedSender{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (s *RateLimitedSender) Name() string { return s.next.Name() }

// Send waits for a token first. A context that ends, or would end, before
// a token is available yields the bare context error so callers can tell it
// apart from a send error.
func (s *RateLimitedSender) Send(ctx context.Context, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := ctx.Deadline(); ok {
			return context.DeadlineExceeded
		}
		return err
	}
	return s.next.Send(ctx, msg)
}
