package pacer

import (
	"context"
	"time"
)

type ctxKey int

const (
	skipSlotKey ctxKey = iota + 1
	attemptTimeoutKey
)

// WithoutSlot marks requests carrying ctx to bypass the pacing gate.
// Retries of such requests still back off; they just don't wait for,
// or consume, a pacing slot.
func WithoutSlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipSlotKey, true)
}

// SlotRequired reports whether requests carrying ctx must wait for a
// pacing slot. It is true unless [WithoutSlot] was applied.
func SlotRequired(ctx context.Context) bool {
	skip, _ := ctx.Value(skipSlotKey).(bool)
	return !skip
}

// WithAttemptTimeout bounds every physical attempt made for requests
// carrying ctx. The bound covers dispatch through reading the response
// body. Non-positive durations are ignored.
func WithAttemptTimeout(ctx context.Context, d time.Duration) context.Context {
	if d <= 0 {
		return ctx
	}
	return context.WithValue(ctx, attemptTimeoutKey, d)
}

func attemptTimeout(ctx context.Context) time.Duration {
	d, _ := ctx.Value(attemptTimeoutKey).(time.Duration)
	return d
}
