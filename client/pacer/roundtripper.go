package pacer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/erplink/pacedhttp/client/pacer"

// maxDrainSize caps how much of a discarded response body is read so the
// connection can be reused.
const maxDrainSize = 64 << 10 // 64KB

// pacer is an http.RoundTripper that gates every attempt on a shared
// State and retries transport failures and 429 responses.
type pacer struct {
	state  *State
	next   http.RoundTripper
	logFn  func() *slog.Logger
	tracer trace.Tracer
}

// NewRoundTripper returns an http.RoundTripper that paces and retries
// requests through state before handing them to next. logFn lazily
// resolves the logger at request time; a nil-returning logFn disables
// logging. A nil next uses [http.DefaultTransport].
func NewRoundTripper(state *State, logFn func() *slog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if state == nil {
		return nil, errors.New("state must not be nil")
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if logFn == nil {
		logFn = func() *slog.Logger { return nil }
	}

	p := pacer{
		state:  state,
		next:   next,
		logFn:  logFn,
		tracer: otel.Tracer(tracerName),
	}

	return &p, nil
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota + 1
	outcomeRetry
	outcomeTerminal
)

// outcome is the classified result of one physical attempt.
type outcome struct {
	kind  outcomeKind
	resp  *http.Response
	err   error
	cause Kind
	wait  time.Duration
}

func (p *pacer) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	if err := ctx.Err(); err != nil {
		closeBody(r)
		return nil, fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	getBody, err := replayableBody(r)
	if err != nil {
		return nil, err
	}

	callID := uuid.NewString()
	logger := p.logFn()

	ctx, span := p.tracer.Start(ctx, "pacer.call", trace.WithAttributes(
		attribute.String("call.id", callID),
		attribute.String("http.method", r.Method),
		attribute.String("url.path", r.URL.Path),
	))
	defer span.End()

	for attempt := 0; ; attempt++ {
		out := p.attempt(ctx, r, getBody, attempt)
		span.SetAttributes(attribute.Int("pacer.attempts", attempt+1))

		switch out.kind {
		case outcomeSuccess:
			span.SetAttributes(attribute.Int("http.status_code", out.resp.StatusCode))
			return out.resp, nil

		case outcomeTerminal:
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
			if logger != nil {
				logger.Warn("pacer call failed", "call_id", callID, "method", r.Method, "path", r.URL.Path, "attempts", attempt+1, "error", out.err)
			}
			return nil, out.err
		}

		span.AddEvent("retry", trace.WithAttributes(
			attribute.String("cause", out.cause.String()),
			attribute.Int64("wait_ms", out.wait.Milliseconds()),
		))
		if logger != nil {
			logger.Info("pacer retry scheduled", "call_id", callID, "method", r.Method, "path", r.URL.Path, "attempt", attempt+1, "cause", out.cause.String(), "wait", out.wait.String(), "error", out.err)
		}

		// Backoff runs outside the pacing gate.
		if err := p.state.sleep(ctx, out.wait); err != nil {
			return nil, fmt.Errorf("%w during backoff: %w", ErrContextEnded, err)
		}
	}
}

// attempt waits for a pacing slot when required, dispatches one copy of r
// and classifies the result. Discarded responses are drained and closed.
func (p *pacer) attempt(ctx context.Context, r *http.Request, getBody func() (io.ReadCloser, error), attempt int) outcome {
	if SlotRequired(ctx) {
		if _, err := p.state.AwaitSlot(ctx); err != nil {
			return outcome{kind: outcomeTerminal, err: err}
		}
	}

	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if d := attemptTimeout(ctx); d > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, d)
	}

	req := r.Clone(attemptCtx)
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			cancel()
			return outcome{kind: outcomeTerminal, err: fmt.Errorf("rewinding request body: %w", err)}
		}
		req.Body = body
	}

	resp, err := p.next.RoundTrip(req)
	if err == nil && resp == nil {
		err = errors.New("transport returned nil response")
	}

	out := p.classify(ctx, r, resp, err, attempt)
	if out.kind == outcomeSuccess {
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return out
	}

	if resp != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainSize))
		_ = resp.Body.Close()
	}
	cancel()

	return out
}

// classify maps one attempt onto success, retry or terminal failure.
func (p *pacer) classify(ctx context.Context, r *http.Request, resp *http.Response, err error, attempt int) outcome {
	exhausted := attempt >= p.state.cfg.MaxRetries

	switch {
	case err != nil:
		if ctx.Err() != nil { // the caller gave up, not the upstream.
			return outcome{kind: outcomeTerminal, err: fmt.Errorf("%w: %w", ErrContextEnded, err)}
		}
		if exhausted {
			return outcome{kind: outcomeTerminal, cause: KindTransport, err: &TerminalError{
				Kind:    KindTransport,
				Retries: attempt,
				Method:  r.Method,
				URL:     r.URL.Redacted(),
				Err:     err,
			}}
		}
		return outcome{kind: outcomeRetry, cause: KindTransport, err: err, wait: p.state.retryDelay(attempt)}

	case resp.StatusCode == http.StatusTooManyRequests:
		if exhausted {
			return outcome{kind: outcomeTerminal, cause: KindRateLimited, err: &TerminalError{
				Kind:       KindRateLimited,
				Retries:    attempt,
				Method:     r.Method,
				URL:        r.URL.Redacted(),
				StatusCode: resp.StatusCode,
				Header:     resp.Header.Clone(),
			}}
		}
		wait, ok := RetryAfter(resp.Header)
		if !ok {
			wait = p.state.retryDelay(attempt)
		}
		return outcome{kind: outcomeRetry, cause: KindRateLimited, wait: wait}

	default:
		return outcome{kind: outcomeSuccess, resp: resp}
	}
}

// replayableBody returns a func yielding a fresh copy of r's body for
// every attempt, buffering the body once when r has no GetBody.
func replayableBody(r *http.Request) (func() (io.ReadCloser, error), error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	if r.GetBody != nil {
		_ = r.Body.Close()
		return r.GetBody, nil
	}

	b, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}

	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}, nil
}

// closeBody closes r.Body on paths that return before any attempt, as a
// RoundTripper must.
func closeBody(r *http.Request) {
	if r.Body != nil {
		_ = r.Body.Close()
	}
}

// cancelOnClose releases the per-attempt context once the caller is done
// with the response body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
