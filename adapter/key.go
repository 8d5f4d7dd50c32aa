package adapter

import (
	"net/url"
	"strings"
)

// Key returns the cache key of a request. The endpoint always starts with a
// slash and parameters are encoded sorted by name, so equal requests always
// give the same key.
func Key(endpoint string, params url.Values) string {
	endpoint = normalizeEndpoint(endpoint)
	if len(params) == 0 {
		return endpoint
	}
	return endpoint + "?" + params.Encode()
}

func normalizeEndpoint(endpoint string) string {
	if !strings.HasPrefix(endpoint, "/") {
		return "/" + endpoint
	}
	return endpoint
}
