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
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100

	pageSizeParam  = "pageSize"
	pageTokenParam = "pageToken"
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params is one page request: how many orders and where the previous page stopped.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options lets a listing endpoint pick its own default and ceiling. Zero values fall back to the
// package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) limits() (def, ceiling int) {
	ceiling = o.MaxPageSize
	if ceiling <= 0 {
		ceiling = DefaultMaxPageSize
	}
	def = min(o.DefaultPageSize, ceiling)
	if def <= 0 {
		def = min(DefaultPageSize, ceiling)
	}
	return def, ceiling
}

func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil || r.URL == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads pageSize and pageToken. Oversized pages are clamped; a malformed token is an error
// here so it never reaches a repository.
func Parse(values url.Values, opts Options) (Params, error) {
	def, ceiling := opts.limits()

	size := def
	if raw := strings.TrimSpace(values.Get(pageSizeParam)); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidPageSize, raw)
		case n < 1:
			return Params{}, fmt.Errorf("%w: %d is below 1", ErrInvalidPageSize, n)
		}
		size = min(n, ceiling)
	}

	token := strings.TrimSpace(values.Get(pageTokenParam))
	cursor, err := DecodeToken(token)
	if err != nil {
		return Params{}, err
	}
	return Params{PageSize: size, PageToken: token, Cursor: cursor}, nil
}

// Normalize is the repository-side guard for page sizes that did not come through Parse.
func Normalize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	return min(size, DefaultMaxPageSize)
}
