// Package pacer paces and retries outbound HTTP requests against a
// rate-limited upstream.
//
// # Shared State
//
// A [State] holds the pacing clock for one upstream. Create it once and
// share it by pointer between every client that talks to that upstream:
//
//	st, err := pacer.New(pacer.DefaultConfig())
//
// Consecutive dispatches through one State start at least
// [Config.MinInterval] apart, no matter how many goroutines are calling.
// Upstreams that must be paced independently need separate States.
//
// # Retry Policy
//
// [NewRoundTripper] wraps a transport with the pacing gate and a bounded
// retry loop:
//
//	rt, err := pacer.NewRoundTripper(st, func() *slog.Logger { return slog.Default() }, http.DefaultTransport)
//	httpClient := &http.Client{Transport: rt}
//
// Transport failures and HTTP 429 responses are retried up to
// [Config.MaxRetries] times. A numeric Retry-After header on a 429 is
// slept verbatim; otherwise the wait is [Backoff] scaled by a random
// factor in [0.5, 1.5). Every other response, including 4xx and 5xx, is
// returned untouched. Once retries run out the call fails with a
// [*TerminalError] that matches [ErrTransport] or [ErrRateLimited].
//
// # Per-Request Controls
//
// [WithoutSlot] lets a single request skip the pacing gate and
// [WithAttemptTimeout] bounds each physical attempt. A deadline on the
// request context bounds the whole logical call, retries included.
package pacer
