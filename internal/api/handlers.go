package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/erplink/pacedhttp/client/pacer"
	"github.com/erplink/pacedhttp/internal/archive"
	"github.com/erplink/pacedhttp/internal/taxdoc"
	"github.com/erplink/pacedhttp/internal/validate"
	"github.com/erplink/pacedhttp/web"
	"github.com/erplink/pacedhttp/web/errs"
	"github.com/erplink/pacedhttp/web/mux"
)

type handlers struct {
	log        *slog.Logger
	fetcher    Fetcher
	pacer      *pacer.State
	archiveDir string
	build      string
}

func (h handlers) health(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.RespondJSON(ctx, w, http.StatusOK, healthResponse{Status: "ok", Build: h.build})
}

func (h handlers) pacerStatus(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.pacer == nil {
		return web.RespondJSON(ctx, w, http.StatusOK, pacerResponse{})
	}

	cfg := h.pacer.Config()
	resp := pacerResponse{
		Paced:         true,
		MinInterval:   cfg.MinInterval.String(),
		MaxRetries:    cfg.MaxRetries,
		BaseDelay:     cfg.BaseDelay.String(),
		BackoffFactor: cfg.BackoffFactor,
		MaxDelay:      cfg.MaxDelay.String(),
	}
	if last := h.pacer.LastDispatch(); !last.IsZero() {
		ts := last.UTC().Format(time.RFC3339Nano)
		resp.LastDispatch = &ts
	}

	return web.RespondJSON(ctx, w, http.StatusOK, resp)
}

func (h handlers) fetchPDF(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var q taxdoc.Query
	if err := web.Decode(r, &q); err != nil {
		return decodeError(err)
	}

	store, err := web.QueryBool(r, "store", true)
	if err != nil {
		return errs.New(http.StatusBadRequest, err)
	}

	doc, err := h.fetcher.Fetch(ctx, q)
	if err != nil {
		return fetchError(err)
	}

	if store && h.archiveDir != "" {
		storeCtx, span := mux.AddSpan(ctx, "bhe.store", attribute.String("bhe.filename", doc.Filename))
		_, err := taxdoc.Store(storeCtx, doc, h.archiveDir, h.log)
		span.End()
		if err != nil {
			return errs.NewInternal(err)
		}
	}

	return respondPDF(ctx, w, doc.Filename, doc.Content, doc.SHA256)
}

func (h handlers) storedPDF(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	name, err := web.Param(r, "name")
	if err != nil {
		return errs.New(http.StatusBadRequest, err)
	}

	if h.archiveDir == "" {
		return errs.New(http.StatusNotFound, errors.New("archive disabled"))
	}

	f, err := archive.Open(h.archiveDir, name)
	switch {
	case errors.Is(err, archive.ErrInvalidName):
		return errs.New(http.StatusBadRequest, err)
	case errors.Is(err, fs.ErrNotExist):
		return errs.New(http.StatusNotFound, fmt.Errorf("document %s not found", name))
	case err != nil:
		return errs.NewInternal(err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return errs.NewInternal(fmt.Errorf("reading %s: %w", name, err))
	}

	return respondPDF(ctx, w, name, data, "")
}

func respondPDF(ctx context.Context, w http.ResponseWriter, filename string, data []byte, sum string) error {
	headers := http.Header{}
	headers.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	headers.Set("X-Frame-Options", "SAMEORIGIN")
	headers.Set("Cache-Control", "private, no-store")
	if sum != "" {
		headers.Set("X-Content-SHA256", sum)
	}

	return web.RespondBytes(ctx, w, http.StatusOK, "application/pdf", data, headers)
}

// decodeError leaves validation failures for the error middleware and
// reports anything else as a malformed body.
func decodeError(err error) error {
	if _, ok := errors.AsType[validate.FieldErrors](err); ok {
		return err
	}

	return errs.New(http.StatusBadRequest, err)
}

// fetchError maps fetch failures onto the status the caller sees.
func fetchError(err error) error {
	var upstream *taxdoc.UpstreamError

	switch {
	case errors.Is(err, taxdoc.ErrInvalidQuery):
		return errs.New(http.StatusBadRequest, err)
	case errors.Is(err, pacer.ErrRateLimited):
		return errs.New(http.StatusServiceUnavailable, errors.New("upstream rate limit retries exhausted"))
	case errors.Is(err, pacer.ErrTransport):
		return errs.New(http.StatusBadGateway, errors.New("upstream unreachable"))
	case errors.Is(err, pacer.ErrContextEnded), errors.Is(err, context.DeadlineExceeded):
		return errs.New(http.StatusGatewayTimeout, errors.New("upstream call timed out"))
	case errors.As(err, &upstream):
		return errs.New(http.StatusBadGateway, err)
	default:
		return errs.NewInternal(err)
	}
}
