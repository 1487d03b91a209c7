// Package mux routes requests to error-returning handlers, giving every
// request a trace ID and an OpenTelemetry span.
package mux

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/erplink/pacedhttp/web/mux"

// App is the core web application, managing routing and middleware.
type App struct {
	mux    *http.ServeMux
	mw     []Middleware
	group  string
	logger *slog.Logger
	tracer trace.Tracer
}

// Handler is a http.Handler that returns an error.
type Handler func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

// Middleware defines a signature to chain Handler together.
type Middleware func(handler Handler) Handler

// New creates an App. The global OpenTelemetry tracer, a no-op until a
// provider is installed, and the default slog logger are used unless
// overridden via options.
func New(optFns ...Option) *App {
	var opts options
	for _, opt := range optFns {
		opt(&opts)
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	if opts.tracer == nil {
		opts.tracer = otel.Tracer(tracerName)
	}

	app := App{
		mux:    http.NewServeMux(),
		mw:     opts.mw,
		logger: opts.logger,
		tracer: opts.tracer,
	}

	return &app
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// Mount returns a new App scoped to the given sub-route prefix.
// All routes registered on the returned App are prefixed with subRoute.
func (a *App) Mount(subRoute string) *App {
	return &App{
		mux:    a.mux,
		mw:     slices.Clone(a.mw),
		logger: a.logger,
		group:  strings.Trim(subRoute, "/"),
		tracer: a.tracer,
	}
}

// Use appends the given middleware to the underlying mw stack.
func (a *App) Use(mw ...Middleware) {
	a.mw = append(a.mw, mw...)
}

// Get registers a handler for GET requests at the given path.
func (a *App) Get(path string, fn Handler, mw ...Middleware) {
	a.Handle(http.MethodGet, path, fn, mw...)
}

// Post registers a handler for POST requests at the given path.
func (a *App) Post(path string, fn Handler, mw ...Middleware) {
	a.Handle(http.MethodPost, path, fn, mw...)
}

// Handle registers handler for method and path, wrapped in the route
// middleware and then the App's stack.
func (a *App) Handle(method, path string, handler Handler, mw ...Middleware) {
	handler = wrap(mw, handler)
	handler = wrap(a.mw, handler)

	h := func(w http.ResponseWriter, r *http.Request) {
		ctx, span := a.startSpan(w, r)
		defer span.End()

		traceID := span.SpanContext().TraceID().String()
		if !span.SpanContext().TraceID().IsValid() {
			traceID = uuid.NewString()
		}

		v := RequestValues{
			TraceID: traceID,
			Started: time.Now().UTC(),
			Tracer:  a.tracer,
		}

		ctx = withValues(ctx, &v)
		err := handler(ctx, w, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", v.StatusCode))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			a.logger.Error("unhandled handler error", "trace_id", traceID, "path", r.URL.Path, "error", err)
		}
	}

	finalPath := path
	if a.group != "" {
		finalPath = fmt.Sprintf("/%s%s", a.group, path)
	}

	a.mux.HandleFunc(fmt.Sprintf("%s %s", method, finalPath), h)
}

// startSpan starts the request span and propagates its context in the
// response headers.
func (a *App) startSpan(w http.ResponseWriter, r *http.Request) (context.Context, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	ctx, span := a.tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("url.path", r.URL.Path),
	)

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))

	return ctx, span
}

// wrap middleware around the handler and execute in order given.
func wrap(mw []Middleware, handler Handler) Handler {
	for _, mwFn := range slices.Backward(mw) {
		if mwFn != nil {
			handler = mwFn(handler)
		}
	}

	return handler
}
