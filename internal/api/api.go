// Package api binds the BHE document operations to HTTP routes.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/erplink/pacedhttp/client/pacer"
	"github.com/erplink/pacedhttp/internal/taxdoc"
	"github.com/erplink/pacedhttp/web/middleware"
	"github.com/erplink/pacedhttp/web/mux"
)

// Fetcher retrieves one BHE document from upstream.
type Fetcher interface {
	Fetch(ctx context.Context, q taxdoc.Query) (*taxdoc.Document, error)
}

// Config holds the dependencies of the routes.
type Config struct {
	Log        *slog.Logger
	Fetcher    Fetcher
	Pacer      *pacer.State
	ArchiveDir string
	Build      string
}

// New builds the service handler with every route registered under /v1.
func New(cfg Config, opts ...mux.Option) http.Handler {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	opts = append([]mux.Option{
		mux.WithLogger(cfg.Log),
		mux.WithMiddleware(middleware.Logger(cfg.Log), middleware.Errors(cfg.Log), middleware.Panics(cfg.Log)),
	}, opts...)

	app := mux.New(opts...)
	Routes(app.Mount("v1"), cfg)

	return app
}

// Routes registers the handlers on app.
func Routes(app *mux.App, cfg Config) {
	h := handlers{
		log:        cfg.Log,
		fetcher:    cfg.Fetcher,
		pacer:      cfg.Pacer,
		archiveDir: cfg.ArchiveDir,
		build:      cfg.Build,
	}

	app.Get("/health", h.health)
	app.Get("/pacer", h.pacerStatus)
	app.Post("/bhe/pdf", h.fetchPDF)
	app.Get("/bhe/pdf/{name}", h.storedPDF)
}
