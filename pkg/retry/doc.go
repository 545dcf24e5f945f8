// Package retry runs an operation with exponential backoff and decorrelated
// jitter until it succeeds, fails permanently or runs out of attempts.
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return send(ctx)
//	})
//
// Wrap an error with Permanent to stop retrying immediately. For HTTP calls
// with status code and Retry-After awareness use internal/platform/httpclient.
package retry
