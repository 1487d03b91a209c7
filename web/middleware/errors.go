// Package middleware holds the mux middleware shared by every route.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"

	"github.com/erplink/pacedhttp/internal/validate"
	"github.com/erplink/pacedhttp/web"
	"github.com/erplink/pacedhttp/web/errs"
	"github.com/erplink/pacedhttp/web/mux"
)

type fieldsResponse struct {
	Error  string                `json:"error"`
	Fields []validate.FieldError `json:"fields"`
}

// Errors handles errors coming out of the call chain. Validation failures
// become a 422 listing the failed fields. Errors that are not an
// [*errs.Error] are treated as internal and their message is hidden.
func Errors(log *slog.Logger) mux.Middleware {
	m := func(handler mux.Handler) mux.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)
			if err == nil {
				return nil
			}

			if fieldErr, ok := errors.AsType[validate.FieldErrors](err); ok {
				return web.RespondJSON(ctx, w, http.StatusUnprocessableEntity, fieldsResponse{
					Error:  "validation failed",
					Fields: fieldErr,
				})
			}

			appErr, ok := errors.AsType[*errs.Error](err)
			if !ok {
				appErr = errs.NewInternal(err)
			}

			reqLog := log.With("trace_id", mux.TraceID(ctx))
			reqLog.Error(err.Error(), "status", appErr.Code, "source_err_file", path.Base(appErr.FileName), "source_err_func", path.Base(appErr.FuncName))

			resp := *appErr
			if resp.InnerErr {
				resp.Message = http.StatusText(resp.Code)
			}

			return web.RespondError(ctx, w, &resp)
		}

		return h
	}

	return m
}
