package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/erplink/pacedhttp/web/errs"
	"github.com/erplink/pacedhttp/web/mux"
)

// Panics turns a handler panic into an internal error. The stack is
// logged, never returned to the client.
func Panics(log *slog.Logger) mux.Middleware {
	m := func(handler mux.Handler) mux.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("handler panic", "trace_id", mux.TraceID(ctx), "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
					err = errs.NewInternal(fmt.Errorf("panic: %v", rec))
				}
			}()

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
