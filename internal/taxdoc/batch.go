package taxdoc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/erplink/pacedhttp/client/pacer"
	"github.com/erplink/pacedhttp/internal/archive"
	"github.com/erplink/pacedhttp/internal/batch"
)

// FetchAll fetches every query with at most concurrency calls in flight.
// All calls share the fetcher's pacer, so the minimum interval holds
// across the batch. docs[i] is nil when queries[i] failed; the returned
// error joins every failure. Once a fetch exhausts its retries against
// rate limiting, queries that have not started are skipped with
// [batch.ErrShutdown].
func (f *Fetcher) FetchAll(ctx context.Context, queries []Query, concurrency int) ([]*Document, error) {
	docs := make([]*Document, len(queries))

	g := batch.New(concurrency)
	for i, q := range queries {
		g.Go(ctx, func(ctx context.Context) error {
			doc, err := f.Fetch(ctx, q)
			if err != nil {
				if errors.Is(err, pacer.ErrRateLimited) {
					g.Shutdown()
				}
				return fmt.Errorf("folio %d/%d: %w", q.Folio, q.Year, err)
			}
			docs[i] = doc
			return nil
		})
	}

	return docs, g.Wait()
}

// Store writes doc into dir under its filename, verifying the stored
// bytes against the recorded checksum. It returns the destination path.
func Store(ctx context.Context, doc *Document, dir string, logger *slog.Logger, opts ...archive.Option) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dest := filepath.Join(dir, doc.Filename)

	opts = append([]archive.Option{archive.WithChecksum(sha256.New(), doc.SHA256)}, opts...)

	written, err := archive.Write(ctx, bytes.NewReader(doc.Content), int64(len(doc.Content)), dest, logger, opts...)
	if err != nil {
		return "", fmt.Errorf("storing %s: %w", doc.Filename, err)
	}
	if written {
		logger.Info("bhe pdf stored", "path", dest, "sha256", doc.SHA256)
	}

	return dest, nil
}
