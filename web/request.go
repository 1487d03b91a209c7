package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/erplink/pacedhttp/internal/validate"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// Param extracts a path parameter by key and returns its string value.
func Param(r *http.Request, key string) (string, error) {
	val := r.PathValue(key)
	if val == "" {
		return "", fmt.Errorf("path param[%s] not found", key)
	}

	return val, nil
}

// QueryBool extracts a query parameter by key and parses it as a bool.
// A missing parameter yields def.
func QueryBool(r *http.Request, key string, def bool) (bool, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return def, nil
	}

	v, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("query param[%s] must be boolean: %w", key, err)
	}

	return v, nil
}

// Decode reads the body of an HTTP request looking for a JSON document. The
// body is decoded into the provided value, which is then checked against
// its validation tags.
func Decode[T any](r *http.Request, val *T) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(val); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	if err := validate.Struct(val); err != nil {
		return err
	}

	return nil
}
