package cache

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Entry represents a stored response inside a cache generation
type Entry struct {
	// Path represents the request path of the cached response
	Path string `json:"path"`
	// Params represents the URL request params of the cached response
	Params url.Values `json:"params,omitempty"`
	// Status is the HTTP status code of the response
	Status int `json:"status"`
	// Header holds the response headers
	Header http.Header `json:"header,omitempty"`
	// Body is the full response body
	Body []byte `json:"body"`
	// Stored is the timestamp for when the entry was written
	Stored JSONTime `json:"stored"`

	// set for bodies over the buffering limit
	stream io.Reader
	closer io.Closer
}

// RequestKey returns the identity of a request inside a cache generation.
// Query parameters are encoded sorted by name so equivalent queries match.
func RequestKey(u *url.URL) string {
	return requestKey(u.Path, u.Query())
}

func requestKey(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// Key returns the request identity this entry is stored under
func (e *Entry) Key() string {
	return requestKey(e.Path, e.Params)
}

// JSONTime is a time.Time wrapper that JSON (un)marshals into a unix timestamp
type JSONTime time.Time

// MarshalJSON is used to convert the timestamp to JSON
func (t JSONTime) MarshalJSON() ([]byte, error) {
	unix := time.Time(t).Unix()
	// Negative time stamps make no sense for our use cases
	if unix < 0 {
		unix = 0
	}

	return []byte(strconv.FormatInt(unix, 10)), nil
}

// UnmarshalJSON is used to convert the timestamp from JSON
func (t *JSONTime) UnmarshalJSON(s []byte) (err error) {
	q, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return err
	}
	*(*time.Time)(t) = time.Unix(q, 0)

	return nil
}

// Time returns the JSON time as a time.Time instance
func (t JSONTime) Time() time.Time {
	return time.Time(t)
}

// String returns time as a formatted string
func (t JSONTime) String() string {
	return t.Time().String()
}
