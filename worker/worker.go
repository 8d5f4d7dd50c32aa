// Package worker implements the edge cache worker: it intercepts every
// same-origin request and satisfies it from the network or from the current
// cache generation, depending on the class of the request.
package worker

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/chrisvdg/recoverycache/cache"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// State represents the lifecycle state of the worker
type State string

const (
	// StateParsed is the state of a new worker
	StateParsed State = "parsed"
	// StateInstalling is set while the precache list is fetched
	StateInstalling State = "installing"
	// StateInstalled is a worker waiting for activation
	StateInstalled State = "installed"
	// StateActivating is set while stale cache generations are purged
	StateActivating State = "activating"
	// StateActivated is a worker that controls requests
	StateActivated State = "activated"
	// StateRedundant is a worker whose install failed
	StateRedundant State = "redundant"
)

// hop-by-hop headers are not forwarded to the network
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// New creates a new worker instance
func New(c *Config, caches *cache.Storage, reg prometheus.Registerer) (*Worker, error) {
	if c.Origin == "" {
		return nil, errors.New("No origin provided")
	}
	if caches == nil {
		return nil, errors.New("No cache storage provided")
	}
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse origin")
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, errors.Errorf("origin %q is not an absolute URL", c.Origin)
	}

	c = c.withDefaults()
	precache := make(map[string]struct{}, len(c.Precache))
	for _, p := range c.Precache {
		precache[p] = struct{}{}
	}

	return &Worker{
		c:        c,
		origin:   origin,
		caches:   caches,
		http:     c.Client,
		precache: precache,
		metrics:  newMetrics(reg),
		state:    StateParsed,
	}, nil
}

// Worker represents an edge cache worker instance
type Worker struct {
	c        *Config
	origin   *url.URL
	caches   *cache.Storage
	http     *http.Client
	precache map[string]struct{}
	metrics  *metrics

	m     sync.Mutex
	state State

	// fire-and-forget cache writes
	pending sync.WaitGroup
}

// State returns the current lifecycle state
func (w *Worker) State() State {
	w.m.Lock()
	defer w.m.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.m.Lock()
	w.state = s
	w.m.Unlock()
	log.Infof("worker %s %s", w.c.CacheName, s)
}

// CacheName returns the name of the current cache generation
func (w *Worker) CacheName() string {
	return w.c.CacheName
}

// Install fetches every precache path and stores them in the current cache
// generation. Nothing is stored unless every fetch succeeds.
func (w *Worker) Install(ctx context.Context) error {
	if s := w.State(); s != StateParsed && s != StateRedundant {
		return errors.Errorf("cannot install worker in state %s", s)
	}
	w.setState(StateInstalling)

	entries := make([]*cache.Entry, len(w.c.Precache))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range w.c.Precache {
		g.Go(func() error {
			e, err := w.precacheOne(gctx, p)
			if err != nil {
				return err
			}
			entries[i] = e
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = w.storePrecache(entries)
	}
	if err != nil {
		w.setState(StateRedundant)
		return errors.Wrap(err, "install failed")
	}

	w.setState(StateInstalled)
	return nil
}

func (w *Worker) precacheOne(ctx context.Context, p string) (*cache.Entry, error) {
	u, err := url.Parse(p)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid precache path %q", p)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.originURL(u), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create request for %s", p)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to precache %s", p)
	}
	e, err := cache.NewEntry(u, resp, w.c.MaxBodySize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to precache %s", p)
	}
	if e.Streaming() {
		e.Close()
		return nil, errors.Errorf("failed to precache %s: body exceeds %d bytes", p, w.c.MaxBodySize)
	}
	if !e.OK() {
		return nil, errors.Errorf("failed to precache %s: status %d", p, e.Status)
	}
	log.Debugf("precached %s", p)

	return e, nil
}

func (w *Worker) storePrecache(entries []*cache.Entry) error {
	c, err := w.caches.Open(w.c.CacheName)
	if err != nil {
		return err
	}
	return c.PutAll(entries)
}

// Activate deletes every cache generation but the current one and starts
// controlling requests.
func (w *Worker) Activate(ctx context.Context) error {
	if s := w.State(); s != StateInstalled {
		return errors.Errorf("cannot activate worker in state %s", s)
	}
	w.setState(StateActivating)

	deleted, err := w.caches.Purge(w.c.CacheName)
	if err != nil {
		w.setState(StateInstalled)
		return errors.Wrap(err, "activate failed")
	}
	log.Debugf("purged %d stale caches", len(deleted))

	w.setState(StateActivated)
	return nil
}

// Flush waits until all pending cache writes are done
func (w *Worker) Flush() {
	w.pending.Wait()
}

// Close waits for pending cache writes
func (w *Worker) Close() {
	w.Flush()
}

// ServeHTTP intercepts a request and answers it with the strategy of its class
func (w *Worker) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	if w.State() != StateActivated || !w.sameOrigin(req.URL) {
		w.passthrough(res, req)
		return
	}

	class := w.Classify(req.URL.Path)
	log.Debugf("%s %s classified as %s", req.Method, req.URL.RequestURI(), class)

	switch class {
	case ClassAPI:
		w.serveAPI(res, req)
	case ClassImage:
		w.serveImage(res, req)
	case ClassStatic:
		w.serveStatic(res, req)
	default:
		w.serveOther(res, req)
	}
}

func (w *Worker) sameOrigin(u *url.URL) bool {
	if !u.IsAbs() {
		return true
	}
	return strings.EqualFold(u.Scheme, w.origin.Scheme) && strings.EqualFold(u.Host, w.origin.Host)
}

// passthrough relays the request to the network without touching any cache
func (w *Worker) passthrough(res http.ResponseWriter, req *http.Request) {
	e, err := w.fetch(req)
	if err != nil {
		log.Errorf("passthrough %s failed: %s", req.URL, err)
		res.Header().Set(sourceHeader, string(sourcePassthrough))
		http.Error(res, "bad gateway", http.StatusBadGateway)
		return
	}
	w.write(res, e, sourcePassthrough)
}

// fetch issues the request against the network and buffers the response
func (w *Worker) fetch(req *http.Request) (*cache.Entry, error) {
	target := w.originURL(req.URL)
	if !w.sameOrigin(req.URL) {
		target = req.URL.String()
	}

	var body = req.Body
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		body = nil
	}
	out, err := http.NewRequestWithContext(req.Context(), req.Method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create network request")
	}
	copyHeaders(out.Header, req.Header)

	resp, err := w.http.Do(out)
	if err != nil {
		return nil, errors.Wrap(err, "network request failed")
	}

	return cache.NewEntry(req.URL, resp, w.c.MaxBodySize)
}

func (w *Worker) originURL(u *url.URL) string {
	return strings.TrimRight(w.origin.String(), "/") + u.RequestURI()
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, "Accept-Encoding") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}
