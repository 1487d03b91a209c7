// Package taxdoc retrieves issued electronic fee receipt ("BHE") PDFs
// from the SimpleAPI tax service through a paced client.
//
// The endpoint is a GET that carries the taxpayer credentials as a JSON
// body, so automatic redirects are disabled and a redirect is re-issued
// once by hand with the same method, body and headers.
package taxdoc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/erplink/pacedhttp/client"
	"github.com/erplink/pacedhttp/internal/validate"
)

const (
	contentTypeCharset = "application/json; charset=UTF-8"
	contentTypeJSON    = "application/json"
)

// Fetcher retrieves BHE documents.
type Fetcher struct {
	cfg    Config
	base   *url.URL
	client *client.Client
	logger *slog.Logger
}

// New validates cfg and returns a Fetcher calling through c. Sharing c,
// or its pacer, between fetchers keeps all calls under one pacing gate.
func New(cfg Config, c *client.Client, logger *slog.Logger) (*Fetcher, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c == nil {
		return nil, errors.New("client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: base url: %w", ErrInvalidConfig, err)
	}

	logger.Info("taxdoc configured", "base_url", base.String(), "api_key", maskKey(cfg.APIKey), "timeout", cfg.Timeout.String())

	f := Fetcher{
		cfg:    cfg,
		base:   base,
		client: c,
		logger: logger,
	}

	return &f, nil
}

type credentials struct {
	RutUsuario  string `json:"RutUsuario"`
	PasswordSII string `json:"PasswordSII"`
}

// Fetch retrieves the document identified by q.
func (f *Fetcher) Fetch(ctx context.Context, q Query) (*Document, error) {
	if err := validate.Struct(q); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	endpoint := f.endpoint(q)

	body, err := json.Marshal(credentials{RutUsuario: q.RUT, PasswordSII: q.Password})
	if err != nil {
		return nil, fmt.Errorf("encoding credentials: %w", err)
	}

	f.logger.Info("fetching bhe pdf",
		"url", endpoint.String(),
		"content_type", contentTypeCharset,
		"rut_sha256", hashSHA256(q.RUT),
		"password_sha256", hashSHA256(q.Password),
	)

	resp, err := f.call(ctx, endpoint.String(), body, contentTypeCharset)
	if err != nil {
		return nil, err
	}

	if resp.IsRedirect() {
		loc, err := resp.Location(endpoint)
		if err != nil {
			if errors.Is(err, http.ErrNoLocation) {
				return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: ErrMissingLocation}
			}
			return nil, fmt.Errorf("parsing redirect location: %w", err)
		}

		f.logger.Info("following redirect", "status", resp.StatusCode, "location", loc.Redacted())

		if resp, err = f.call(ctx, loc.String(), body, contentTypeCharset); err != nil {
			return nil, err
		}
	}

	f.logger.Info("upstream response", "status", resp.StatusCode, "reason", http.StatusText(resp.StatusCode), "content_type", resp.ContentType(), "len", len(resp.Body))

	switch resp.StatusCode {
	case http.StatusMethodNotAllowed:
		allow := resp.Header.Get("Allow")
		if allow == "" {
			allow = "N/A"
		}
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Allow: allow, Err: ErrMethodNotAllowed}

	case http.StatusUnsupportedMediaType:
		f.logger.Info("415 received, retrying without charset", "content_type", contentTypeJSON)

		if resp, err = f.call(ctx, endpoint.String(), body, contentTypeJSON); err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnsupportedMediaType {
			return nil, &UpstreamError{StatusCode: resp.StatusCode, ContentType: resp.ContentType(), Preview: preview(resp), Err: ErrUnsupportedMediaType}
		}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, ContentType: resp.ContentType(), Preview: preview(resp), Err: ErrUpstreamStatus}
	}

	if !isPDF(resp) {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, ContentType: resp.ContentType(), Preview: preview(resp), Err: ErrNotPDF}
	}

	sum := sha256.Sum256(resp.Body)
	doc := Document{
		Folio:       q.Folio,
		Year:        q.Year,
		Filename:    q.Filename(),
		ContentType: resp.ContentType(),
		Content:     resp.Body,
		SHA256:      hex.EncodeToString(sum[:]),
	}

	f.logger.Info("bhe pdf fetched", "filename", doc.Filename, "sha256", doc.SHA256, "len", len(doc.Content))

	return &doc, nil
}

func (f *Fetcher) endpoint(q Query) *url.URL {
	return f.base.JoinPath("bhe", "pdf", "emitidas", fmt.Sprint(q.Folio), fmt.Sprint(q.Year))
}

func (f *Fetcher) call(ctx context.Context, target string, body []byte, contentType string) (*client.Response, error) {
	opts := []client.ExecOption{
		client.WithRawBody(body),
		client.WithHeader("Authorization", f.cfg.APIKey),
		client.WithHeader("Accept", "application/pdf"),
		client.WithHeader("Content-Type", contentType),
		client.WithAttemptTimeout(f.cfg.Timeout),
		client.WithoutRedirects(),
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, client.WithHeader("User-Agent", f.cfg.UserAgent))
	}

	resp, err := f.client.Execute(ctx, http.MethodGet, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("calling simpleapi: %w", err)
	}

	return resp, nil
}

func isPDF(resp *client.Response) bool {
	return strings.Contains(resp.ContentType(), "pdf") || bytes.HasPrefix(resp.Body, []byte("%PDF"))
}

// preview returns the first characters of the response body, falling
// back to the status text when the body is empty.
func preview(resp *client.Response) string {
	s := strings.ToValidUTF8(string(resp.Body), "")
	if utf8.RuneCountInString(s) > previewSize {
		s = string([]rune(s)[:previewSize])
	}
	if s == "" {
		s = http.StatusText(resp.StatusCode)
	}
	if s == "" {
		s = "empty response body"
	}
	return s
}

// maskKey keeps the first 6 and last 4 characters of key.
func maskKey(key string) string {
	const showStart, showEnd = 6, 4

	if len(key) <= showStart+showEnd {
		return strings.Repeat("*", len(key))
	}
	return key[:showStart] + "******" + key[len(key)-showEnd:]
}

func hashSHA256(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
