package connection

import (
	"context"

	"go-file-engine/internal/retry"
)

// Do runs fn on a leased session, retrying transient failures on a fresh lease.
func Do[T any](ctx context.Context, p *Pool, fn func(ctx context.Context, s Session) (T, error)) (T, error) {
	return retry.DoWithResult(ctx, p.cfg.Retry, func() (T, error) {
		var zero T
		lease, err := p.Acquire(ctx)
		if err != nil {
			return zero, err
		}

		result, err := fn(ctx, lease.Session)
		lease.Done(err)
		return result, err
	})
}

func Exec(ctx context.Context, p *Pool, fn func(ctx context.Context, s Session) error) error {
	_, err := Do(ctx, p, func(ctx context.Context, s Session) (struct{}, error) {
		return struct{}{}, fn(ctx, s)
	})
	return err
}
