package worker

import (
	"net/http"
	"time"

	"github.com/chrisvdg/recoverycache/cache"
)

const (
	// DefaultCacheName is the current cache generation when none is configured
	DefaultCacheName = "recovery-dashboard-v1"
	// DefaultOfflinePage is the document served to navigations that cannot be satisfied
	DefaultOfflinePage = "/offline.html"
	// DefaultAPIPrefix marks the requests handled with the API strategy
	DefaultAPIPrefix = "/api/"
)

// Config represents a worker config
type Config struct {
	// Origin is the base URL of the site the worker sits in front of
	Origin string
	// CacheName names the current cache generation
	CacheName string
	// Precache lists the static paths fetched and stored at install time
	Precache []string
	// OfflinePage is the path of the fallback document for navigations
	OfflinePage string
	// APIPrefix is the path prefix of API requests
	APIPrefix string
	// Client is used for network requests, a default client is used when nil
	Client *http.Client
	// MaxBodySize is the largest response body that is cached, larger bodies
	// are streamed through
	MaxBodySize int64
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.CacheName == "" {
		out.CacheName = DefaultCacheName
	}
	if out.OfflinePage == "" {
		out.OfflinePage = DefaultOfflinePage
	}
	if out.APIPrefix == "" {
		out.APIPrefix = DefaultAPIPrefix
	}
	if out.MaxBodySize <= 0 {
		out.MaxBodySize = cache.DefaultMaxBodySize
	}
	if out.Client == nil {
		out.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &out
}
