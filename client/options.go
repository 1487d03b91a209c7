package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/erplink/pacedhttp/client/pacer"
	"github.com/erplink/pacedhttp/client/throttle"
)

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*options) error
type options struct {
	client            *http.Client
	rt                http.RoundTripper
	timeout           *time.Duration
	userAgent         string
	throttle          *throttle.Config
	noFollowRedirects bool
	logger            *slog.Logger
	pacer             *pacer.State
	pacing            *pacer.Config
}

// WithClient replaces the default [http.Client] used by the [Client].
func WithClient(hc *http.Client) Option {
	return func(c *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		c.client = hc
		return nil
	}
}

// WithTransport sets a custom [http.RoundTripper] as the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		c.rt = rt
		return nil
	}
}

// WithTimeout sets the overall request timeout on the underlying [http.Client].
func WithTimeout(d time.Duration) Option {
	return func(c *options) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		c.timeout = &d
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing requests.
func WithUserAgent(header string) Option {
	return func(c *options) error {
		c.userAgent = header
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting with the given requests
// per second and burst capacity. The bucket sits beneath the pacer, so it
// limits physical attempts including retries.
func WithThrottle(rps float64, burst int) Option {
	return func(c *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%v] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		c.throttle = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithPacer paces the [Client] through st. Clients built with the same
// state share one minimum-interval gate.
func WithPacer(st *pacer.State) Option {
	return func(c *options) error {
		if st == nil {
			return errors.New("pacer state must not be nil")
		}
		c.pacer = st
		c.pacing = nil
		return nil
	}
}

// WithPacing paces the [Client] through a private state built from cfg.
func WithPacing(cfg pacer.Config) Option {
	return func(c *options) error {
		c.pacing = &cfg
		c.pacer = nil
		return nil
	}
}

// WithNoFollowRedirects prevents the [Client] from following HTTP redirects.
func WithNoFollowRedirects() Option {
	return func(c *options) error {
		c.noFollowRedirects = true
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(c *options) error {
		c.logger = logger
		return nil
	}
}

// userAgent is an http.RoundTripper, enabling the persistent User-Agent header.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}

// DoOption is a functional option for [Client.Do].
type DoOption func(options *doOpts) error

type doOpts struct {
	responseBody any
	useJSONNum   bool
}

// WithDestination decodes the HTTP response body into bodyTemplate.
// bodyTemplate must be a pointer.
func WithDestination[T any](bodyTemplate *T) DoOption {
	return func(opts *doOpts) error {
		opts.responseBody = bodyTemplate

		return nil
	}
}

// WithJSONNumb tells the JSON decoder to use [json.Decoder.UseNumber],
// preserving number precision as [json.Number] instead of float64.
func WithJSONNumb() DoOption {
	return func(opts *doOpts) error {
		opts.useJSONNum = true

		return nil
	}
}

// ExecOption is a functional option for [Client.Execute].
type ExecOption func(options *execOpts) error

type execOpts struct {
	body           []byte
	headers        http.Header
	attemptTimeout time.Duration
	unpaced        bool
	noRedirects    bool
}

// WithRawBody sends body verbatim on every attempt.
func WithRawBody(body []byte) ExecOption {
	return func(opts *execOpts) error {
		opts.body = body

		return nil
	}
}

// WithHeader adds a header value to every attempt.
func WithHeader(key, value string) ExecOption {
	return func(opts *execOpts) error {
		if key == "" {
			return errors.New("header key must not be empty")
		}
		if opts.headers == nil {
			opts.headers = make(http.Header)
		}
		opts.headers.Add(key, value)

		return nil
	}
}

// WithAttemptTimeout bounds each physical attempt, from dispatch until the
// response body is read. It defaults to [DefaultAttemptTimeout].
func WithAttemptTimeout(d time.Duration) ExecOption {
	return func(opts *execOpts) error {
		if d <= 0 {
			return fmt.Errorf("attempt timeout[%v] must be greater than zero", d)
		}
		opts.attemptTimeout = d

		return nil
	}
}

// WithoutPacing skips the minimum-interval gate for this call. Retries
// still back off.
func WithoutPacing() ExecOption {
	return func(opts *execOpts) error {
		opts.unpaced = true

		return nil
	}
}

// WithoutRedirects returns 3xx responses to the caller instead of
// following them, so the caller can re-issue the call itself.
func WithoutRedirects() ExecOption {
	return func(opts *execOpts) error {
		opts.noRedirects = true

		return nil
	}
}

// RequestOption is a functional option for [Request].
type RequestOption func(options *requestOpts) error

type requestOpts struct {
	body        any
	contentType *string
	cookies     []*http.Cookie
	headers     map[string][]string
}

// WithPayload sets the JSON-encoded request body.
func WithPayload(body any) RequestOption {
	return func(opts *requestOpts) error {
		opts.body = body

		return nil
	}
}

// WithContentType overrides the default "application/json" Content-Type header.
func WithContentType(contentType string) RequestOption {
	return func(opts *requestOpts) error {
		if contentType == "" {
			return errors.New("cannot use empty content type")
		}

		opts.contentType = &contentType

		return nil
	}
}

// WithHeaders adds custom headers to the outgoing request.
func WithHeaders(headers map[string][]string) RequestOption {
	return func(opts *requestOpts) error {
		opts.headers = headers

		return nil
	}
}

// WithCookies attaches the given cookies to the outgoing request.
func WithCookies(cookies ...*http.Cookie) RequestOption {
	return func(opts *requestOpts) error {
		opts.cookies = cookies

		return nil
	}
}

// URLOption is a functional option for [URL].
type URLOption func(options *urlOpts)

type urlOpts struct {
	queryStrings map[string]string
	port         *int
}

// WithQueryStrings appends query parameters to the URL.
func WithQueryStrings(queryKV map[string]string) URLOption {
	return func(opts *urlOpts) {
		opts.queryStrings = queryKV
	}
}

// WithPort sets the port number on the URL's host.
func WithPort(port int) URLOption {
	return func(opts *urlOpts) {
		opts.port = &port
	}
}
