// Package batch runs bounded groups of concurrent work whose errors are
// collected and joined.
package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrShutdown is returned by work that was scheduled after
// [Group.Shutdown].
var ErrShutdown = errors.New("batch group is shut down")

// WorkFunc is one unit of work run by a [Group].
type WorkFunc func(ctx context.Context) error

// Group runs work in goroutines with at most a fixed number in flight.
type Group struct {
	wg       sync.WaitGroup
	mu       sync.Mutex
	sem      chan struct{}
	shutdown atomic.Bool
	errs     []error
}

// New returns a Group running at most limit pieces of work at once.
// A limit <= 0 leaves concurrency unlimited.
func New(limit int) *Group {
	g := Group{}
	if limit > 0 {
		g.sem = make(chan struct{}, limit)
	}
	return &g
}

// Go schedules fn and returns a Result tracking it. fn receives a child
// of ctx that is cancelled by [Result.Cancel] or once fn returns.
func (g *Group) Go(ctx context.Context, fn WorkFunc) *Result {
	ctx, cancel := context.WithCancel(ctx)
	r := Result{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	g.wg.Go(func() {
		defer func() {
			cancel()
			close(r.done)
		}()

		r.err = g.run(ctx, fn)
		if r.err != nil {
			g.record(r.err)
		}
	})

	return &r
}

func (g *Group) run(ctx context.Context, fn WorkFunc) error {
	if g.sem != nil {
		select {
		case g.sem <- struct{}{}:
			defer func() { <-g.sem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if g.shutdown.Load() {
		return ErrShutdown
	}

	return fn(ctx)
}

// Wait blocks until all scheduled work completes and returns every
// error joined via errors.Join.
func (g *Group) Wait() error {
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()

	return errors.Join(g.errs...)
}

// Shutdown stops work that has not started yet from running. Work already
// running is not interrupted.
func (g *Group) Shutdown() {
	g.shutdown.Store(true)
}

func (g *Group) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs = append(g.errs, err)
}

// Result tracks a single piece of work scheduled on a [Group].
type Result struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// Done returns a channel that is closed when the work completes.
func (r *Result) Done() <-chan struct{} { return r.done }

// Err blocks until the work completes and returns its error.
func (r *Result) Err() error {
	<-r.done
	return r.err
}

// Cancel cancels the work's context.
func (r *Result) Cancel() {
	r.cancel()
}
