package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/erplink/pacedhttp/client/pacer"
	"github.com/erplink/pacedhttp/client/throttle"
)

// Client wraps a std-lib *http.Client whose transport is composed from
// the configured pacer, throttle and user agent layers.
type Client struct {
	c      *http.Client
	logger *slog.Logger
	pacer  *pacer.State
}

// Build constructs a [Client]. Options may be given in any order.
// A provided [http.Client] is copied, never mutated.
func Build(optFns ...Option) (*Client, error) {
	client := &Client{
		c:      &http.Client{},
		logger: slog.Default(),
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	if opts.client != nil {
		hc := *opts.client
		client.c = &hc
	}

	if opts.logger != nil {
		client.logger = opts.logger
	}

	if opts.timeout != nil {
		client.c.Timeout = *opts.timeout
	}

	if opts.noFollowRedirects {
		client.c.CheckRedirect = noFollow
	}

	var transport http.RoundTripper
	switch {
	case opts.rt != nil:
		transport = opts.rt
	case opts.client != nil && opts.client.Transport != nil:
		transport = opts.client.Transport
	default:
		transport = http.DefaultTransport
	}
	if opts.userAgent != "" {
		transport = userAgent{value: opts.userAgent, base: transport}
	}

	logFn := func() *slog.Logger { return client.logger }

	if opts.throttle != nil {
		rt, err := throttle.NewRoundTripper(*opts.throttle, logFn, transport)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		transport = rt
	}

	switch {
	case opts.pacer != nil:
		client.pacer = opts.pacer
	case opts.pacing != nil:
		st, err := pacer.New(*opts.pacing)
		if err != nil {
			return nil, fmt.Errorf("configuring pacer: %w", err)
		}
		client.pacer = st
	}
	if client.pacer != nil {
		rt, err := pacer.NewRoundTripper(client.pacer, logFn, transport)
		if err != nil {
			return nil, fmt.Errorf("configuring pacer: %w", err)
		}
		transport = rt
	}

	client.c.Transport = transport

	return client, nil
}

// Pacer returns the shared pacing state, or nil when the client is unpaced.
func (c *Client) Pacer() *pacer.State {
	return c.pacer
}

// Execute performs one logical call: every physical attempt is paced and
// retried according to the client's pacer, and the final response is read
// in full. Responses of any status other than 429 are returned as-is; the
// caller decides what they mean. Retry exhaustion surfaces as a
// [*pacer.TerminalError].
func (c *Client) Execute(ctx context.Context, method, rawURL string, opts ...ExecOption) (*Response, error) {
	settings := execOpts{attemptTimeout: DefaultAttemptTimeout}
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			return nil, err
		}
	}

	if settings.unpaced {
		ctx = pacer.WithoutSlot(ctx)
	}

	// Without a pacer there is exactly one attempt, bounded directly.
	if c.pacer == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.attemptTimeout)
		defer cancel()
	} else {
		ctx = pacer.WithAttemptTimeout(ctx, settings.attemptTimeout)
	}

	var body io.Reader
	if settings.body != nil {
		body = bytes.NewReader(settings.body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}
	if settings.headers != nil {
		req.Header = settings.headers.Clone()
	}

	hc := c.c
	if settings.noRedirects {
		cpy := *hc
		cpy.CheckRedirect = noFollow
		hc = &cpy
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", method, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	c.logger.Debug("execute complete", "method", method, "path", req.URL.Path, "status", resp.StatusCode, "bytes", len(data))

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Do will fire the request, and write response to the given dest object if any.
func (c *Client) Do(req *http.Request, expCode int, opts ...DoOption) error {
	var settings doOpts
	for _, opt := range opts {
		err := opt(&settings)
		if err != nil {
			return err
		}
	}

	doFunc := func(resp *http.Response) error {
		if settings.responseBody != nil {
			d := json.NewDecoder(resp.Body)

			if settings.useJSONNum {
				d.UseNumber()
			}

			if err := d.Decode(settings.responseBody); err != nil {
				return fmt.Errorf("decoding body: %w", err)
			}
		}

		return nil
	}

	return c.exec(req, expCode, doFunc)
}

// Request instantiates an *http.Request with the provided information.
// It's just a convenience method that wraps the public Request func.
func (c *Client) Request(ctx context.Context, reqURL *url.URL, method string, opts ...RequestOption) (*http.Request, error) {
	return Request(ctx, reqURL, method, opts...)
}

// URL creates a url.URL for use in Request.
// It's just a convenience method that wraps the public URL func.
func (c *Client) URL(scheme, host, path string, opts ...URLOption) *url.URL {
	return URL(scheme, host, path, opts...)
}

// exec runs the request and injected function on success after validating the expected status code.
func (c *Client) exec(req *http.Request, expCode int, fn execFn) error {
	resp, err := c.c.Do(req)
	if err != nil {
		return fmt.Errorf("exec http do: %w", err)
	}

	defer func() {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			c.logger.Error("failed to discard unused body", "error", err)
		}
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != expCode {
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
		if err != nil {
			b = []byte("unable to read body")
		}

		sentinel := ErrUnexpectedStatusCode
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			sentinel = errors.Join(ErrUnexpectedStatusCode, ErrAuthFailure)
		}

		return &UnexpectedStatusError{
			StatusCode: resp.StatusCode,
			Body:       string(b),
			Err:        sentinel,
		}
	}

	if err := fn(resp); err != nil {
		return fmt.Errorf("exec fn: %w", err)
	}

	return nil
}

// Request instantiates an *http.Request with the provided information.
// Content-Type defaults to `application/json` if unspecified via WithContentType.
func Request(ctx context.Context, reqURL *url.URL, method string, opts ...RequestOption) (*http.Request, error) {
	var settings requestOpts
	for _, opt := range opts {
		err := opt(&settings)
		if err != nil {
			return nil, err
		}
	}

	var payload bytes.Buffer
	if settings.body != nil {
		if err := json.NewEncoder(&payload).Encode(settings.body); err != nil {
			return nil, fmt.Errorf("encoding request payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), &payload)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}

	for _, cookie := range settings.cookies {
		req.AddCookie(cookie)
	}

	var contentType string
	if settings.contentType == nil {
		contentType = "application/json"
	} else {
		contentType = *settings.contentType
	}

	req.Header.Set("Content-Type", contentType)
	for k, v := range settings.headers {
		for _, element := range v {
			req.Header.Add(k, element)
		}
	}

	return req, nil
}

// URL creates a url.URL for use in Request.
func URL(scheme, host, path string, opts ...URLOption) *url.URL {
	var settings urlOpts
	for _, opt := range opts {
		opt(&settings)
	}

	if settings.port != nil {
		host = fmt.Sprintf("%s:%d", host, *settings.port)
	}

	endpoint := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   path,
	}

	if settings.queryStrings != nil {
		queryParams := url.Values{}
		for k, v := range settings.queryStrings {
			queryParams.Add(k, v)
		}

		endpoint.RawQuery = queryParams.Encode()
	}

	return &endpoint
}

func noFollow(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}
