package retry

import "context"

// DoTyped is a type-safe wrapper around Retryer.Do for attempts that produce a value.
//
// Usage:
//
//	path, n, err := retry.DoTyped(ctx, r, func(ctx context.Context, attempt int) (string, error) {
//	    return fetch(ctx)
//	})
func DoTyped[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var result T
	n, err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, n, err
	}
	return result, n, nil
}
