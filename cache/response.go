package cache

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultMaxBodySize is the largest response body that is buffered and stored
const DefaultMaxBodySize int64 = 10 << 20

// hop-by-hop and length headers are never stored, the body is replayed in full
var skipHeaders = []string{"Connection", "Content-Length", "Keep-Alive", "Transfer-Encoding"}

// NewEntry reads the response body and returns it as a storable entry.
// Bodies up to limit bytes are buffered and the response body is closed.
// A larger body is left open: the entry streams it on Write and is never
// storable. A limit <= 0 uses DefaultMaxBodySize.
func NewEntry(u *url.URL, resp *http.Response, limit int64) (*Entry, error) {
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		resp.Body.Close()
		return nil, errors.Wrap(err, "failed to read response body")
	}

	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	for _, h := range skipHeaders {
		header.Del(h)
	}

	e := &Entry{
		Path:   u.Path,
		Params: u.Query(),
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
		Stored: JSONTime(time.Now()),
	}
	if int64(len(body)) > limit {
		e.stream = io.MultiReader(bytes.NewReader(body), resp.Body)
		e.closer = resp.Body
		e.Body = nil
		return e, nil
	}
	resp.Body.Close()

	return e, nil
}

// OK reports whether the entry holds a 2xx response
func (e *Entry) OK() bool {
	return e.Status >= 200 && e.Status < 300
}

// Streaming reports whether the body is too large to be buffered.
// Streaming entries cannot be stored.
func (e *Entry) Streaming() bool {
	return e.stream != nil
}

// Close releases the network body of a streaming entry
func (e *Entry) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

// Write replays the entry on the response writer
func (e *Entry) Write(res http.ResponseWriter) error {
	for name, values := range e.Header {
		if strings.EqualFold(name, "Content-Length") {
			continue
		}
		for _, v := range values {
			res.Header().Add(name, v)
		}
	}
	res.WriteHeader(e.Status)

	if e.Streaming() {
		defer e.Close()
		_, err := io.Copy(res, e.stream)
		if err != nil {
			return errors.Wrap(err, "failed to stream body")
		}
		return nil
	}

	_, err := res.Write(e.Body)
	if err != nil {
		return errors.Wrap(err, "failed to write cached body")
	}

	return nil
}
