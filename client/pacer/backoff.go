package pacer

import (
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Backoff returns the pre-jitter wait before retry number attempt,
// min(BaseDelay * BackoffFactor^attempt, MaxDelay). Attempt 0 is the
// wait before the first retry.
//
//	cfg := pacer.DefaultConfig()
//	pacer.Backoff(cfg, 0) // 1s
//	pacer.Backoff(cfg, 4) // 16s
//	pacer.Backoff(cfg, 6) // 30s (capped)
func Backoff(cfg Config, attempt int) time.Duration {
	attempt = max(attempt, 0)

	delay := float64(cfg.BaseDelay) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}

	return time.Duration(delay)
}

// RetryAfter reads a numeric Retry-After header as seconds. Negative
// values floor at zero. The bool is false when the header is absent or
// not a number, in which case callers fall back to [Backoff].
func RetryAfter(h http.Header) (time.Duration, bool) {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}

	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, false
	}

	if secs <= 0 {
		return 0, true
	}

	d := secs * float64(time.Second)
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64), true
	}

	return time.Duration(d), true
}

// jitter returns a multiplier drawn uniformly from [0.5, 1.5).
func jitter() float64 {
	return 0.5 + rand.Float64()
}
