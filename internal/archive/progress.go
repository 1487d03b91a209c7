package archive

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// progressWriter is an io.Writer, logging write progress at most once
// per second.
type progressWriter struct {
	w           io.Writer
	logger      *slog.Logger
	path        string
	transferred int64
	total       int64
	startTime   time.Time
	lastLog     time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.transferred += int64(n)

	if time.Since(pw.lastLog) >= time.Second {
		pw.lastLog = time.Now()
		pw.log("writing")
	}

	if pw.total >= 0 && pw.transferred == pw.total {
		pw.log("write complete")
	}

	return n, err
}

func (pw *progressWriter) log(msg string) {
	attrs := []any{
		"path", pw.path,
		"elapsed", time.Since(pw.startTime).Round(time.Millisecond),
		"transferred", pw.transferred,
	}
	if pw.total > 0 {
		attrs = append(attrs,
			"progress", fmt.Sprintf("%.1f%%", float64(pw.transferred)/float64(pw.total)*100),
			"total", pw.total,
		)
	}
	pw.logger.Info(msg, attrs...)
}
