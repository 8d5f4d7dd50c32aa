// Package adapter is the in-process entry point for dashboard data. It
// memoizes API payloads, persists the last good payload of every request for
// offline use and resynchronizes everything it holds when the connection
// comes back.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// DefaultStorageKey is the storage key holding all offline data
const DefaultStorageKey = "recovery-dashboard:offline-data"

var (
	// ErrDisconnected is returned while offline for requests without offline data
	ErrDisconnected = errors.New("offline and no cached data available")
	// ErrFetchFailed matches every *FetchError
	ErrFetchFailed = errors.New("fetch failed")
)

// FetchError is returned when a network request made while online fails
type FetchError struct {
	Endpoint string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %s", e.Endpoint, e.Err)
}

// Unwrap returns the underlying network or decode error
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrFetchFailed) hold for every FetchError
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// Config represents an adapter config
type Config struct {
	// BaseURL is prefixed to every endpoint
	BaseURL string
	// Client is used for network requests, a default client is used when nil
	Client *http.Client
	// Storage persists the offline data
	Storage Storage
	// StorageKey is the key the offline data is stored under
	StorageKey string
	// Offline sets the initial connectivity, adapters start online by default
	Offline bool
}

// memoized is a payload together with the request that produced it
type memoized struct {
	endpoint string
	params   url.Values
	payload  json.RawMessage
}

// New creates a new adapter and loads the offline data from storage
func New(c *Config) (*Adapter, error) {
	if c.BaseURL == "" {
		return nil, errors.New("No base URL provided")
	}
	if c.Storage == nil {
		return nil, errors.New("No storage provided")
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse base URL")
	}

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	key := c.StorageKey
	if key == "" {
		key = DefaultStorageKey
	}

	memory, err := otter.New(&otter.Options[string, memoized]{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create memory cache")
	}

	a := &Adapter{
		base:      base,
		http:      client,
		memory:    memory,
		fallback:  loadFallbackStore(c.Storage, key),
		listeners: map[int]func(ConnectivityEvent){},
	}
	a.online.Store(!c.Offline)

	return a, nil
}

// Adapter represents a client cache adapter instance
type Adapter struct {
	base     *url.URL
	http     *http.Client
	memory   *otter.Cache[string, memoized]
	fallback *fallbackStore
	online   atomic.Bool

	lm        sync.Mutex
	listeners map[int]func(ConnectivityEvent)
	nextID    int

	syncs sync.WaitGroup
}

// FetchData returns the payload of endpoint with params.
// A memoized payload is returned as is unless forceRefresh is set. While
// offline the stored offline data is used, otherwise the network is asked and
// its answer memoized and persisted.
//
// The returned payload is shared with the memory cache and the offline data
// and must not be modified.
func (a *Adapter) FetchData(ctx context.Context, endpoint string, params url.Values, forceRefresh bool) (json.RawMessage, error) {
	key := Key(endpoint, params)

	if !forceRefresh {
		if m, ok := a.memory.GetIfPresent(key); ok {
			return m.payload, nil
		}
	}

	if !a.Online() {
		if payload, ok := a.fallback.get(key); ok {
			log.Debugf("offline, serving %s from offline data", key)
			return payload, nil
		}
		return nil, errors.Wrapf(ErrDisconnected, "%s", key)
	}

	payload, err := a.get(ctx, endpoint, params)
	if err != nil {
		return nil, &FetchError{Endpoint: key, Err: err}
	}

	a.memory.Set(key, memoized{endpoint: endpoint, params: params, payload: payload})
	a.fallback.put(key, payload)

	return payload, nil
}

func (a *Adapter) get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.requestURL(endpoint, params), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response is not valid JSON")
	}

	return json.RawMessage(body), nil
}

func (a *Adapter) requestURL(endpoint string, params url.Values) string {
	u := strings.TrimRight(a.base.String(), "/") + normalizeEndpoint(endpoint)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// ClearCache drops the memoized payloads, offline data is kept
func (a *Adapter) ClearCache() {
	a.memory.InvalidateAll()
}

// SyncData refetches every memoized request in parallel and waits for all of
// them. Failures are logged and returned combined, they never stop the other
// requests.
func (a *Adapter) SyncData(ctx context.Context) error {
	return a.resync(ctx, a.snapshot())
}

func (a *Adapter) snapshot() []memoized {
	out := []memoized{}
	for _, m := range a.memory.All() {
		out = append(out, m)
	}
	return out
}

func (a *Adapter) resync(ctx context.Context, reqs []memoized) error {
	log.Debugf("syncing %d cached requests", len(reqs))

	var (
		g    errgroup.Group
		m    sync.Mutex
		errs error
	)
	for _, r := range reqs {
		g.Go(func() error {
			_, err := a.FetchData(ctx, r.endpoint, r.params, true)
			if err != nil {
				log.Warnf("failed to sync %s: %s", Key(r.endpoint, r.params), err)
				m.Lock()
				errs = multierr.Append(errs, err)
				m.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return errs
}

// Wait blocks until background syncs started by SetOnlineStatus are done
func (a *Adapter) Wait() {
	a.syncs.Wait()
}
