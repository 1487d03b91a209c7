package pacer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erplink/pacedhttp/internal/validate"
)

// State is the pacing clock shared by every caller of one upstream.
// It is safe for concurrent use and lives for the life of the process.
type State struct {
	cfg Config

	// gate is a one-slot semaphore held for the whole read-wait-record
	// sequence of AwaitSlot. Acquiring it respects the caller's context.
	gate chan struct{}

	mu           sync.Mutex
	lastDispatch time.Time

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New validates cfg and returns a State with no prior dispatch, so the
// first caller is never delayed.
func New(cfg Config) (*State, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	s := State{
		cfg:    cfg,
		gate:   make(chan struct{}, 1),
		now:    time.Now,
		sleep:  sleepCtx,
		jitter: jitter,
	}

	return &s, nil
}

// Config returns the configuration the State was built with.
func (s *State) Config() Config {
	return s.cfg
}

// LastDispatch returns the start time of the most recent dispatch, or
// the zero time if nothing has been dispatched yet.
func (s *State) LastDispatch() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastDispatch
}

// AwaitSlot blocks until MinInterval has passed since the last recorded
// dispatch, then records and returns the new dispatch time. Only one
// caller at a time runs this sequence, so two callers can never claim
// slots closer than MinInterval. If ctx ends first, nothing is recorded.
func (s *State) AwaitSlot(ctx context.Context) (time.Time, error) {
	select {
	case s.gate <- struct{}{}:
	case <-ctx.Done():
		return time.Time{}, fmt.Errorf("%w awaiting slot: %w", ErrContextEnded, ctx.Err())
	}
	defer func() { <-s.gate }()

	last := s.LastDispatch()
	dispatch := s.now()

	if !last.IsZero() {
		if wait := last.Add(s.cfg.MinInterval).Sub(dispatch); wait > 0 {
			if err := s.sleep(ctx, wait); err != nil {
				return time.Time{}, fmt.Errorf("%w awaiting slot: %w", ErrContextEnded, err)
			}
			dispatch = s.now()
		}
	}

	s.mu.Lock()
	if dispatch.After(s.lastDispatch) {
		s.lastDispatch = dispatch
	}
	dispatch = s.lastDispatch
	s.mu.Unlock()

	return dispatch, nil
}

// retryDelay returns the jittered backoff before retry number attempt.
func (s *State) retryDelay(attempt int) time.Duration {
	return time.Duration(float64(Backoff(s.cfg, attempt)) * s.jitter())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
