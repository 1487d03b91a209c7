package throttle

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/erplink/pacedhttp/client/pacer"
	"github.com/erplink/pacedhttp/internal/validate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config defines the throttler's sustained requests per second and
// burst capacity.
type Config struct {
	RPS   float64 `json:"rps" validate:"gt=0"`
	Burst int     `json:"burst" validate:"gt=0"`
}

// throttle is an http.RoundTripper, using the time/rate token
// bucket limiter to restrict outbound attempts.
type throttle struct {
	limiter *rate.Limiter
	cfg     Config
	next    http.RoundTripper
	logFn   func() *slog.Logger
}

// NewRoundTripper returns an http.RoundTripper that throttles outbound requests
// using a token bucket rate limiter. logFn lazily resolves the logger at request
// time, making option ordering irrelevant. A nil-returning logFn disables the
// wait logging.
func NewRoundTripper(cfg Config, logFn func() *slog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("rps[%v] and burst[%d] %w: %w", cfg.RPS, cfg.Burst, ErrMustNotBeZero, err)
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if logFn == nil {
		logFn = func() *slog.Logger { return nil }
	}

	t := throttle{
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		cfg:     cfg,
		next:    next,
		logFn:   logFn,
	}

	return &t, nil
}

func (t *throttle) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if !pacer.SlotRequired(ctx) {
		return t.next.RoundTrip(r)
	}

	if err := ctx.Err(); err != nil {
		closeBody(r)
		return nil, fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		closeBody(r)
		return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	if waited := time.Since(start); waited > time.Millisecond {
		if logger := t.logFn(); logger != nil {
			logger.Info("throttle wait complete", "waited", waited.String(), "rate", t.cfg.RPS, "burst", t.cfg.Burst, "path", r.URL.Path)
		}
	}

	if err := ctx.Err(); err != nil { // Check context hasn't expired again.
		closeBody(r)
		return nil, fmt.Errorf("%w post-wait: %w", ErrContextEnded, err)
	}

	return t.next.RoundTrip(r)
}

func closeBody(r *http.Request) {
	if r.Body != nil {
		_ = r.Body.Close()
	}
}
