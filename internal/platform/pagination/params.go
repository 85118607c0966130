package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits page_size.
	DefaultPageSize = 20
	// MaxPageSize caps page_size; larger requests are clamped, not rejected.
	MaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params holds the paging inputs shared by every list endpoint.
type Params struct {
	PageSize  int
	PageToken string
}

// Options tune FromRequest per endpoint. Zero values fall back to the
// package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest reads page_size and page_token from the request query string.
// A malformed page_size or an undecodable page_token fails here so the
// handler can answer 400 instead of surfacing a repository error.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes paging query values and returns normalised Params.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	size, err := normalisePageSize(values.Get("page_size"), opts)
	if err != nil {
		return Params{}, err
	}

	token := strings.TrimSpace(values.Get("page_token"))
	if token != "" {
		if _, err := DecodeCursor(token); err != nil {
			return Params{}, err
		}
	}

	return Params{PageSize: size, PageToken: token}, nil
}

func normalisePageSize(raw string, opts Options) (int, error) {
	fallback := opts.DefaultPageSize
	if fallback <= 0 {
		fallback = DefaultPageSize
	}
	ceiling := opts.MaxPageSize
	if ceiling <= 0 {
		ceiling = MaxPageSize
	}
	if fallback > ceiling {
		fallback = ceiling
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}

	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	switch {
	case size <= 0:
		return fallback, nil
	case size > ceiling:
		return ceiling, nil
	}
	return size, nil
}
