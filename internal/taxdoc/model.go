package taxdoc

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultBaseURL   = "https://servicios.simpleapi.cl/api"
	DefaultUserAgent = "pacedhttp-bhe-pdf"
	DefaultTimeout   = 30 * time.Second

	// previewSize caps how much of an unexpected upstream body is kept
	// in errors and logs.
	previewSize = 300
)

var (
	ErrInvalidConfig        = errors.New("invalid taxdoc config")
	ErrInvalidQuery         = errors.New("invalid bhe query")
	ErrMissingLocation      = errors.New("redirect without location")
	ErrMethodNotAllowed     = errors.New("method not allowed")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrUpstreamStatus       = errors.New("unexpected upstream status")
	ErrNotPDF               = errors.New("response is not a pdf")
)

// Config holds the upstream endpoint settings.
type Config struct {
	APIKey    string        `json:"api_key" validate:"required"`
	BaseURL   string        `json:"base_url" validate:"required,url"`
	UserAgent string        `json:"user_agent"`
	Timeout   time.Duration `json:"timeout" validate:"gt=0"`
}

// DefaultConfig returns a Config with everything but the API key set.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
	}
}

// Query identifies one issued fee receipt and the taxpayer credentials
// needed to retrieve it.
type Query struct {
	Folio    int    `json:"folio" validate:"gt=0"`
	Year     int    `json:"year" validate:"gt=2000"`
	RUT      string `json:"rut" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Filename is the name the document for q is stored under.
func (q Query) Filename() string {
	return fmt.Sprintf("bhe_%d_%d.pdf", q.Folio, q.Year)
}

// Document is a fetched fee receipt PDF.
type Document struct {
	Folio       int
	Year        int
	Filename    string
	ContentType string
	Content     []byte
	SHA256      string
}

// UpstreamError reports a response the fetcher could not turn into a
// document.
type UpstreamError struct {
	StatusCode  int
	ContentType string
	Allow       string
	Preview     string
	Err         error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Allow != "":
		return fmt.Sprintf("%v: HTTP %d, allow: %s", e.Err, e.StatusCode, e.Allow)
	case e.Preview != "":
		return fmt.Sprintf("%v: HTTP %d (%s): %s", e.Err, e.StatusCode, e.ContentType, e.Preview)
	default:
		return fmt.Sprintf("%v: HTTP %d", e.Err, e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
