package pacer

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid pacer config")
	ErrTransport     = errors.New("transport error after retries exhausted")
	ErrRateLimited   = errors.New("rate limit retries exhausted")
	ErrContextEnded  = errors.New("pacer context ended")
)

// Config holds the fixed pacing and backoff parameters of a [State].
type Config struct {
	// MinInterval is the minimum time between the start of two dispatches.
	MinInterval time.Duration `json:"min_interval" validate:"gte=0"`

	// MaxRetries caps the retries of one logical call. Total attempts
	// are MaxRetries+1.
	MaxRetries int `json:"max_retries" validate:"gte=0"`

	// BaseDelay is the wait before the first retry, pre-jitter.
	BaseDelay time.Duration `json:"base_delay" validate:"gte=0"`

	// BackoffFactor multiplies the wait on every further retry.
	BackoffFactor float64 `json:"backoff_factor" validate:"gte=1"`

	// MaxDelay caps the computed wait, pre-jitter.
	MaxDelay time.Duration `json:"max_delay" validate:"gtefield=BaseDelay"`
}

// DefaultConfig paces to one request per second and retries five times,
// backing off 1s, 2s, 4s, ... up to 30s.
func DefaultConfig() Config {
	return Config{
		MinInterval:   time.Second,
		MaxRetries:    5,
		BaseDelay:     time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
	}
}

// Kind tells which failure exhausted the retries of a logical call.
type Kind int

const (
	KindTransport Kind = iota + 1
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// TerminalError is returned once a logical call runs out of retries.
// It matches [ErrTransport] or [ErrRateLimited] according to Kind, and
// also unwraps to the last transport error when there was one.
type TerminalError struct {
	Kind    Kind
	Retries int
	Method  string
	URL     string

	// StatusCode and Header describe the last 429 response for
	// KindRateLimited; they are zero for KindTransport.
	StatusCode int
	Header     http.Header

	Err error
}

func (e *TerminalError) Error() string {
	switch e.Kind {
	case KindRateLimited:
		return fmt.Sprintf("%v: %s %s: %d retries, last status %d", ErrRateLimited, e.Method, e.URL, e.Retries, e.StatusCode)
	default:
		return fmt.Sprintf("%v: %s %s: %d retries: %v", ErrTransport, e.Method, e.URL, e.Retries, e.Err)
	}
}

func (e *TerminalError) Unwrap() []error {
	sentinel := ErrTransport
	if e.Kind == KindRateLimited {
		sentinel = ErrRateLimited
	}

	if e.Err == nil {
		return []error{sentinel}
	}

	return []error{sentinel, e.Err}
}
