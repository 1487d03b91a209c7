package client

import (
	"net/http"
	"net/url"
)

// Response is a fully read HTTP response returned by [Client.Execute].
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// IsRedirect reports whether the response asks the caller to re-issue
// the request elsewhere.
func (r *Response) IsRedirect() bool {
	switch r.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Location resolves the Location header against base. It returns
// [http.ErrNoLocation] when the header is absent.
func (r *Response) Location(base *url.URL) (*url.URL, error) {
	loc := r.Header.Get("Location")
	if loc == "" {
		return nil, http.ErrNoLocation
	}

	u, err := url.Parse(loc)
	if err != nil {
		return nil, err
	}
	if base != nil {
		u = base.ResolveReference(u)
	}

	return u, nil
}

// ContentType returns the Content-Type header.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}
