// Package throttle provides an [http.RoundTripper] that caps the burst of
// outbound HTTP attempts using a token bucket from [golang.org/x/time/rate].
//
// # Usage
//
// Wrap an existing transport with [NewRoundTripper]:
//
//	rt, err := throttle.NewRoundTripper(
//		throttle.Config{RPS: 10, Burst: 5},
//		func() *slog.Logger { return slog.Default() },
//		http.DefaultTransport,
//	)
//	httpClient := &http.Client{Transport: rt}
//
// When the bucket is empty, attempts block until a token becomes available
// or the request context ends. Placed beneath a [pacer] transport, every
// retry consumes a token too. Requests marked with [pacer.WithoutSlot]
// skip the bucket.
//
// [pacer]: github.com/erplink/pacedhttp/client/pacer
// [pacer.WithoutSlot]: github.com/erplink/pacedhttp/client/pacer#WithoutSlot
package throttle
