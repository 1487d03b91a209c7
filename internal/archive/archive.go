// Package archive stores documents on disk atomically: content is
// streamed to a temporary file beside the destination, verified, synced
// and renamed into place.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Write streams r to dest. size is the expected length, or -1 when
// unknown. On any failure the temporary file is removed and dest is left
// untouched. It reports whether dest was written; false with a nil error
// means an existing file was kept because of [WithSkipExisting].
func Write(ctx context.Context, r io.Reader, size int64, dest string, logger *slog.Logger, optFns ...Option) (bool, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return false, fmt.Errorf("applying option: %w", err)
		}
	}

	if opts.skipExisting {
		if _, err := os.Stat(dest); err == nil {
			logger.Info("skipping existing file", "path", dest)
			return false, nil
		}
	}

	file, err := os.CreateTemp(filepath.Dir(dest), ".pacedhttp-*")
	if err != nil {
		return false, fmt.Errorf("creating temp file: %w", err)
	}

	var successful bool
	defer func() {
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Error("defer closing temp file", "error", err)
		}
		if !successful {
			if err := os.Remove(file.Name()); err != nil {
				logger.Error("failed to remove temp file", "error", err)
			}
		}
	}()

	var w io.Writer = file
	if opts.checksum != nil {
		w = io.MultiWriter(w, opts.checksum)
	}
	if opts.progress {
		w = &progressWriter{
			w:         w,
			logger:    logger,
			path:      dest,
			total:     size,
			startTime: time.Now(),
		}
	}

	n, err := io.Copy(w, &contextReader{ctx: ctx, r: r})
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return false, fmt.Errorf("copying content: %w", err)
	}

	if size >= 0 && n != size {
		return false, &Error{
			Err:    ErrLengthMismatch,
			Detail: fmt.Sprintf("expected %d bytes, got %d", size, n),
		}
	}

	if err := opts.checksum.verify(); err != nil {
		return false, err
	}

	if err := file.Sync(); err != nil {
		return false, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return false, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(file.Name(), dest); err != nil {
		return false, fmt.Errorf("renaming temp file: %w", err)
	}

	successful = true

	return true, nil
}

// Open opens the stored file name inside dir. Names that are not a
// single path element, or that would escape dir, are rejected with
// [ErrInvalidName].
func Open(dir, name string) (*os.File, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening archive dir: %w", err)
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}

	return f, nil
}

// contextReader fails reads once ctx ends, so a cancelled caller stops
// the copy between chunks.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
