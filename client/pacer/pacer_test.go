package pacer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// sleepRecorder replaces real sleeping so backoff waits can be asserted.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.waits = append(s.waits, d)
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.waits)
}

func newTestState(t *testing.T, cfg Config) (*State, *sleepRecorder) {
	t.Helper()

	st, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create state: %v", err)
	}

	rec := &sleepRecorder{}
	st.sleep = rec.sleep
	st.jitter = func() float64 { return 1 }

	return st, rec
}

func unpacedConfig(maxRetries int) Config {
	cfg := DefaultConfig()
	cfg.MinInterval = 0
	cfg.MaxRetries = maxRetries
	return cfg
}

func newResponse(code int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}

	return &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type trackedBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackedBody) Close() error {
	b.closed.Store(true)
	return nil
}

func newRequest(t *testing.T, ctx context.Context) *http.Request {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://upstream.test/api/resource", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	return req
}

func TestBackoff(t *testing.T) {
	cfg := Config{
		BaseDelay:     time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
	}

	var got []time.Duration
	for attempt := range 7 {
		got = append(got, Backoff(cfg, attempt))
	}

	exp := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("backoff schedule mismatch (-want +got):\n%s", diff)
	}

	if d := Backoff(cfg, -2); d != time.Second {
		t.Errorf("negative attempt should use base delay; got %v", d)
	}

	if d := Backoff(cfg, 5000); d != cfg.MaxDelay {
		t.Errorf("huge attempt should cap at max delay; got %v", d)
	}
}

func TestRetryAfter(t *testing.T) {
	testCases := []struct {
		name   string
		value  string
		exp    time.Duration
		expOK  bool
		header bool
	}{
		{name: "integer seconds", value: "5", exp: 5 * time.Second, expOK: true, header: true},
		{name: "fractional seconds", value: "0.5", exp: 500 * time.Millisecond, expOK: true, header: true},
		{name: "padded", value: " 2 ", exp: 2 * time.Second, expOK: true, header: true},
		{name: "negative floors at zero", value: "-3", exp: 0, expOK: true, header: true},
		{name: "zero", value: "0", exp: 0, expOK: true, header: true},
		{name: "http date falls back", value: "Wed, 21 Oct 2015 07:28:00 GMT", header: true},
		{name: "garbage falls back", value: "soon", header: true},
		{name: "infinity falls back", value: "Inf", header: true},
		{name: "empty falls back", value: "", header: true},
		{name: "absent"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.header {
				h.Set("Retry-After", tc.value)
			}

			got, ok := RetryAfter(h)
			if ok != tc.expOK {
				t.Fatalf("exp ok %v; got %v", tc.expOK, ok)
			}
			if got != tc.exp {
				t.Errorf("exp %v; got %v", tc.exp, got)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		expErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero interval allowed", mutate: func(c *Config) { c.MinInterval = 0 }},
		{name: "zero retries allowed", mutate: func(c *Config) { c.MaxRetries = 0 }},
		{name: "negative interval", mutate: func(c *Config) { c.MinInterval = -time.Second }, expErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.MaxRetries = -1 }, expErr: true},
		{name: "shrinking factor", mutate: func(c *Config) { c.BackoffFactor = 0.5 }, expErr: true},
		{name: "max below base", mutate: func(c *Config) { c.MaxDelay = c.BaseDelay / 2 }, expErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)

			st, err := New(cfg)
			if tc.expErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("exp ErrInvalidConfig; got: %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("exp nil err, got: %v", err)
			}
			if diff := cmp.Diff(cfg, st.Config()); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestJitter_Bounds(t *testing.T) {
	for range 10_000 {
		j := jitter()
		if j < 0.5 || j >= 1.5 {
			t.Fatalf("jitter %v outside [0.5, 1.5)", j)
		}
	}
}

func TestRetryDelay_AppliesJitterAfterCap(t *testing.T) {
	st, _ := newTestState(t, DefaultConfig())

	st.jitter = func() float64 { return 1.5 }
	if d := st.retryDelay(10); d != 45*time.Second {
		t.Errorf("exp capped 30s scaled to 45s; got %v", d)
	}

	st.jitter = func() float64 { return 0.5 }
	if d := st.retryDelay(1); d != time.Second {
		t.Errorf("exp 2s scaled to 1s; got %v", d)
	}
}

func TestAwaitSlot_FirstCallImmediate(t *testing.T) {
	st, rec := newTestState(t, DefaultConfig())

	if !st.LastDispatch().IsZero() {
		t.Fatal("new state should have no dispatch recorded")
	}

	at, err := st.AwaitSlot(t.Context())
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}

	if len(rec.recorded()) != 0 {
		t.Errorf("first slot should not sleep; got waits %v", rec.recorded())
	}
	if !st.LastDispatch().Equal(at) {
		t.Errorf("exp last dispatch %v; got %v", at, st.LastDispatch())
	}
}

func TestAwaitSlot_SequentialPacing(t *testing.T) {
	const interval = 30 * time.Millisecond

	cfg := DefaultConfig()
	cfg.MinInterval = interval
	st, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	var dispatches []time.Time
	for range 5 {
		at, err := st.AwaitSlot(t.Context())
		if err != nil {
			t.Fatalf("exp nil err, got: %v", err)
		}
		dispatches = append(dispatches, at)
	}

	for i := 1; i < len(dispatches); i++ {
		if gap := dispatches[i].Sub(dispatches[i-1]); gap < interval {
			t.Errorf("dispatch %d started %v after the previous; want >= %v", i, gap, interval)
		}
	}
}

func TestAwaitSlot_ConcurrentPacing(t *testing.T) {
	const (
		interval = 25 * time.Millisecond
		callers  = 8
	)

	cfg := DefaultConfig()
	cfg.MinInterval = interval
	st, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		dispatches []time.Time
	)

	for range callers {
		wg.Go(func() {
			at, err := st.AwaitSlot(t.Context())
			if err != nil {
				t.Errorf("exp nil err, got: %v", err)
				return
			}

			mu.Lock()
			dispatches = append(dispatches, at)
			mu.Unlock()
		})
	}
	wg.Wait()

	if len(dispatches) != callers {
		t.Fatalf("exp %d dispatches; got %d", callers, len(dispatches))
	}

	slices.SortFunc(dispatches, func(a, b time.Time) int { return a.Compare(b) })
	for i := 1; i < len(dispatches); i++ {
		if gap := dispatches[i].Sub(dispatches[i-1]); gap < interval {
			t.Errorf("sorted dispatches %d and %d only %v apart; want >= %v", i-1, i, gap, interval)
		}
	}

	if !st.LastDispatch().Equal(dispatches[len(dispatches)-1]) {
		t.Errorf("last dispatch should be the latest slot")
	}
}

func TestAwaitSlot_ContextEnded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinInterval = time.Hour
	st, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	first, err := st.AwaitSlot(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err = st.AwaitSlot(ctx)
	if !errors.Is(err, ErrContextEnded) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("exp ErrContextEnded wrapping DeadlineExceeded; got: %v", err)
	}

	if !st.LastDispatch().Equal(first) {
		t.Errorf("abandoned slot must not be recorded")
	}
}

func TestAwaitSlot_WaitersHonourContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinInterval = time.Hour
	st, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := st.AwaitSlot(t.Context()); err != nil {
		t.Fatal(err)
	}

	// The holder sleeps for an hour inside the gate.
	holderCtx, stopHolder := context.WithCancel(t.Context())
	holderDone := make(chan struct{})
	go func() {
		defer close(holderDone)
		_, _ = st.AwaitSlot(holderCtx)
	}()
	defer func() {
		stopHolder()
		<-holderDone
	}()

	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := st.AwaitSlot(ctx); !errors.Is(err, ErrContextEnded) {
		t.Fatalf("exp ErrContextEnded; got: %v", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Errorf("waiting caller should give up with its context; took %v", took)
	}
}

func TestAwaitSlot_Monotonic(t *testing.T) {
	st, _ := newTestState(t, unpacedConfig(0))

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var current time.Time
	st.now = func() time.Time { return current }

	var got []time.Time
	for _, at := range []time.Time{base, base.Add(-time.Second), base.Add(time.Second)} {
		current = at

		dispatch, err := st.AwaitSlot(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, dispatch)
	}

	exp := []time.Time{base, base, base.Add(time.Second)}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("dispatch times went backwards (-want +got):\n%s", diff)
	}
}

func TestNewRoundTripper_Validation(t *testing.T) {
	if _, err := NewRoundTripper(nil, nil, http.DefaultTransport); err == nil {
		t.Error("exp error for nil state")
	}

	st, _ := newTestState(t, DefaultConfig())
	rt, err := NewRoundTripper(st, nil, nil)
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	if rt == nil {
		t.Fatal("exp non-nil RoundTripper")
	}
}

func TestRoundTrip_RetryAfterPrecedence(t *testing.T) {
	st, rec := newTestState(t, unpacedConfig(5))

	var calls atomic.Int32
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return newResponse(http.StatusTooManyRequests, http.Header{"Retry-After": {"5"}}, ""), nil
		}
		return newResponse(http.StatusOK, nil, "done"), nil
	})

	rt, err := NewRoundTripper(st, nil, next)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := rt.RoundTrip(newRequest(t, t.Context()))
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("exp 200; got %d", resp.StatusCode)
	}
	if calls.Load() != 2 {
		t.Errorf("exp 2 attempts; got %d", calls.Load())
	}
	if diff := cmp.Diff([]time.Duration{5 * time.Second}, rec.recorded()); diff != "" {
		t.Errorf("exp Retry-After wait, not backoff (-want +got):\n%s", diff)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "done" {
		t.Errorf("exp body %q; got %q", "done", b)
	}
}

func TestRoundTrip_RateLimitedWithoutUsableRetryAfter(t *testing.T) {
	testCases := []struct {
		name   string
		header http.Header
	}{
		{name: "absent", header: nil},
		{name: "non numeric", header: http.Header{"Retry-After": {"later"}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			st, rec := newTestState(t, unpacedConfig(5))

			var calls atomic.Int32
			next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
				if calls.Add(1) <= 2 {
					return newResponse(http.StatusTooManyRequests, tc.header.Clone(), ""), nil
				}
				return newResponse(http.StatusOK, nil, ""), nil
			})

			rt, err := NewRoundTripper(st, nil, next)
			if err != nil {
				t.Fatal(err)
			}

			resp, err := rt.RoundTrip(newRequest(t, t.Context()))
			if err != nil {
				t.Fatalf("exp nil err, got: %v", err)
			}
			resp.Body.Close()

			exp := []time.Duration{time.Second, 2 * time.Second}
			if diff := cmp.Diff(exp, rec.recorded()); diff != "" {
				t.Errorf("exp computed backoff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRoundTrip_TransportExhaustion(t *testing.T) {
	st, rec := newTestState(t, unpacedConfig(3))

	dialErr := errors.New("connection refused")
	var calls atomic.Int32
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, dialErr
	})

	rt, err := NewRoundTripper(st, nil, next)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := rt.RoundTrip(newRequest(t, t.Context()))
	if resp != nil {
		t.Fatal("exp nil response")
	}

	if calls.Load() != 4 {
		t.Errorf("exp 4 dispatch attempts; got %d", calls.Load())
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("exp ErrTransport; got: %v", err)
	}
	if !errors.Is(err, dialErr) {
		t.Errorf("exp last transport error preserved; got: %v", err)
	}
	if errors.Is(err, ErrRateLimited) {
		t.Error("transport failure must not match ErrRateLimited")
	}

	te, ok := errors.AsType[*TerminalError](err)
	if !ok {
		t.Fatalf("exp *TerminalError; got %T", err)
	}
	if te.Kind != KindTransport || te.Retries != 3 {
		t.Errorf("exp transport kind after 3 retries; got %v after %d", te.Kind, te.Retries)
	}

	exp := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if diff := cmp.Diff(exp, rec.recorded()); diff != "" {
		t.Errorf("exp no wait after the final attempt (-want +got):\n%s", diff)
	}
}

func TestRoundTrip_RateLimitExhaustion(t *testing.T) {
	st, rec := newTestState(t, unpacedConfig(2))

	var calls atomic.Int32
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return newResponse(http.StatusTooManyRequests, http.Header{"Retry-After": {"1"}, "X-Quota": {"0"}}, "slow down"), nil
	})

	rt, err := NewRoundTripper(st, nil, next)
	if err != nil {
		t.Fatal(err)
	}

	_, err = rt.RoundTrip(newRequest(t, t.Context()))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("exp ErrRateLimited; got: %v", err)
	}
	if errors.Is(err, ErrTransport) {
		t.Error("rate limiting must not match ErrTransport")
	}

	te, ok := errors.AsType[*TerminalError](err)
	if !ok {
		t.Fatalf("exp *TerminalError; got %T", err)
	}
	if te.StatusCode != http.StatusTooManyRequests || te.Header.Get("X-Quota") != "0" {
		t.Errorf("exp last 429 response details; got %d %v", te.StatusCode, te.Header)
	}

	if calls.Load() != 3 {
		t.Errorf("exp 3 attempts; got %d", calls.Load())
	}
	if diff := cmp.Diff([]time.Duration{time.Second, time.Second}, rec.recorded()); diff != "" {
		t.Errorf("waits mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip_NonRetryablePassThrough(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusFound, http.StatusNotFound, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			st, rec := newTestState(t, unpacedConfig(5))

			var calls atomic.Int32
			next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
				calls.Add(1)
				return newResponse(code, nil, ""), nil
			})

			rt, err := NewRoundTripper(st, nil, next)
			if err != nil {
				t.Fatal(err)
			}

			resp, err := rt.RoundTrip(newRequest(t, t.Context()))
			if err != nil {
				t.Fatalf("exp nil err, got: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != code {
				t.Errorf("exp %d; got %d", code, resp.StatusCode)
			}
			if calls.Load() != 1 {
				t.Errorf("exp exactly 1 attempt; got %d", calls.Load())
			}
			if len(rec.recorded()) != 0 {
				t.Errorf("exp no waits; got %v", rec.recorded())
			}
		})
	}
}

func TestRoundTrip_ReplaysBody(t *testing.T) {
	st, _ := newTestState(t, unpacedConfig(3))

	var (
		mu     sync.Mutex
		bodies []string
	)
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}

		mu.Lock()
		bodies = append(bodies, string(b))
		n := len(bodies)
		mu.Unlock()

		if n < 3 {
			return nil, errors.New("connection reset")
		}
		return newResponse(http.StatusOK, nil, ""), nil
	})

	rt, err := NewRoundTripper(st, nil, next)
	if err != nil {
		t.Fatal(err)
	}

	// Hide the concrete reader type so NewRequest can't set GetBody.
	body := struct{ io.Reader }{strings.NewReader(`{"folio":1}`)}
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "http://upstream.test/pdf", body)
	if err != nil {
		t.Fatal(err)
	}
	if req.GetBody != nil {
		t.Fatal("test precondition: GetBody should be nil")
	}

	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	resp.Body.Close()

	exp := []string{`{"folio":1}`, `{"folio":1}`, `{"folio":1}`}
	if diff := cmp.Diff(exp, bodies); diff != "" {
		t.Errorf("every attempt should carry the same body (-want +got):\n%s", diff)
	}
}

func TestRoundTrip_WithoutSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinInterval = time.Hour
	st, rec := newTestState(t, cfg)

	if _, err := st.AwaitSlot(t.Context()); err != nil {
		t.Fatal(err)
	}
	last := st.LastDispatch()

	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, nil, ""), nil
	})
	rt, err := NewRoundTripper(st, nil, next)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := rt.RoundTrip(newRequest(t, WithoutSlot(t.Context())))
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	resp.Body.Close()

	if len(rec.recorded()) != 0 {
		t.Errorf("unpaced request should not wait; got %v", rec.recorded())
	}
	if !st.LastDispatch().Equal(last) {
		t.Error("unpaced request should not consume a slot")
	}
}

func TestRoundTrip_ContextEndsDuringBackoff(t *testing.T) {
	cfg := unpacedConfig(5)
	st, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return newResponse(http.StatusTooManyRequests, http.Header{"Retry-After": {"10"}}, ""), nil
	})
	rt, err := NewRoundTripper(st, nil, next)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = rt.RoundTrip(newRequest(t, ctx))
	if !errors.Is(err, ErrContextEnded) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("exp ErrContextEnded wrapping DeadlineExceeded; got: %v", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Errorf("backoff should stop with the context; took %v", took)
	}
	if calls.Load() != 1 {
		t.Errorf("exp 1 attempt; got %d", calls.Load())
	}
}

func TestRoundTrip_PreCancelledContext(t *testing.T) {
	st, _ := newTestState(t, unpacedConfig(5))

	var calls atomic.Int32
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return newResponse(http.StatusOK, nil, ""), nil
	})
	rt, err := NewRoundTripper(st, nil, next)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := rt.RoundTrip(newRequest(t, ctx)); !errors.Is(err, context.Canceled) {
		t.Fatalf("exp context.Canceled; got: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("cancelled call should never dispatch; got %d attempts", calls.Load())
	}
}

func TestRoundTrip_PreCancelledContextClosesBody(t *testing.T) {
	st, _ := newTestState(t, unpacedConfig(5))

	rt, err := NewRoundTripper(st, nil, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Error("cancelled call should never dispatch")
		return newResponse(http.StatusOK, nil, ""), nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	body := &trackedBody{Reader: strings.NewReader(`{"folio":1}`)}
	req := newRequest(t, ctx)
	req.Body = body

	if _, err := rt.RoundTrip(req); !errors.Is(err, ErrContextEnded) {
		t.Fatalf("exp ErrContextEnded; got: %v", err)
	}
	if !body.closed.Load() {
		t.Error("request body left open")
	}
}

func TestRoundTrip_AttemptTimeoutRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("late but fine"))
	}))
	defer server.Close()

	cfg := unpacedConfig(2)
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	st, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	rt, err := NewRoundTripper(st, nil, http.DefaultTransport)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: rt}

	ctx := WithAttemptTimeout(t.Context(), 100*time.Millisecond)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("body should stay readable after RoundTrip returns: %v", err)
	}
	if string(b) != "late but fine" {
		t.Errorf("unexpected body %q", b)
	}
	if calls.Load() != 2 {
		t.Errorf("exp timed out attempt to be retried once; got %d calls", calls.Load())
	}
}

func TestRoundTrip_ConcurrentCallersPaced(t *testing.T) {
	const (
		interval  = 20 * time.Millisecond
		callers   = 6
		tolerance = 5 * time.Millisecond
	)

	var (
		mu       sync.Mutex
		arrivals []time.Time
	)
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		mu.Unlock()
		return newResponse(http.StatusOK, nil, ""), nil
	})

	cfg := DefaultConfig()
	cfg.MinInterval = interval
	st, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	rt, err := NewRoundTripper(st, nil, next)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range callers {
		wg.Go(func() {
			resp, err := rt.RoundTrip(newRequest(t, t.Context()))
			if err != nil {
				t.Errorf("exp nil err, got: %v", err)
				return
			}
			resp.Body.Close()
		})
	}
	wg.Wait()

	slices.SortFunc(arrivals, func(a, b time.Time) int { return a.Compare(b) })
	for i := 1; i < len(arrivals); i++ {
		if gap := arrivals[i].Sub(arrivals[i-1]); gap < interval-tolerance {
			t.Errorf("dispatches %d and %d only %v apart; want ~>= %v", i-1, i, gap, interval)
		}
	}
}

func TestRoundTrip_RetriesArePaced(t *testing.T) {
	const (
		interval  = 30 * time.Millisecond
		tolerance = 5 * time.Millisecond
	)

	var (
		mu       sync.Mutex
		arrivals []time.Time
	)
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		n := len(arrivals)
		mu.Unlock()

		if n < 3 {
			return newResponse(http.StatusTooManyRequests, http.Header{"Retry-After": {"0"}}, ""), nil
		}
		return newResponse(http.StatusOK, nil, ""), nil
	})

	cfg := DefaultConfig()
	cfg.MinInterval = interval
	st, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	rt, err := NewRoundTripper(st, nil, next)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := rt.RoundTrip(newRequest(t, t.Context()))
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	resp.Body.Close()

	if len(arrivals) != 3 {
		t.Fatalf("exp 3 attempts; got %d", len(arrivals))
	}
	for i := 1; i < len(arrivals); i++ {
		if gap := arrivals[i].Sub(arrivals[i-1]); gap < interval-tolerance {
			t.Errorf("retry %d dispatched %v after previous attempt; want ~>= %v", i, gap, interval)
		}
	}
}

func TestTerminalError_Error(t *testing.T) {
	te := &TerminalError{Kind: KindRateLimited, Retries: 5, Method: http.MethodGet, URL: "http://x/y", StatusCode: 429}
	if got := te.Error(); !strings.Contains(got, ErrRateLimited.Error()) || !strings.Contains(got, "5 retries") {
		t.Errorf("unexpected message %q", got)
	}

	te = &TerminalError{Kind: KindTransport, Retries: 2, Method: http.MethodPost, URL: "http://x/y", Err: errors.New("dial tcp: refused")}
	if got := te.Error(); !strings.Contains(got, ErrTransport.Error()) || !strings.Contains(got, "dial tcp: refused") {
		t.Errorf("unexpected message %q", got)
	}
}
