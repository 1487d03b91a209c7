package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/erplink/pacedhttp/web/mux"
)

// Logger writes one line when a request arrives and one when its handler
// returns, both tagged with the request's trace ID. Query parameters are
// logged by name only.
func Logger(log *slog.Logger) mux.Middleware {
	return func(next mux.Handler) mux.Handler {
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			v := mux.Values(ctx)

			reqLog := log.With(
				"trace_id", v.TraceID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			if r.URL.RawQuery != "" {
				reqLog = reqLog.With("query_keys", queryKeys(r))
			}

			reqLog.Info("request started", "remoteaddr", r.RemoteAddr)

			err := next(ctx, w, r)

			reqLog.Info("request completed", "statusCode", v.StatusCode, "since", time.Since(v.Started).String())

			return err
		}
	}
}

func queryKeys(r *http.Request) []string {
	q := r.URL.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
