package worker

import (
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/chrisvdg/recoverycache/cache"
	"github.com/chrisvdg/recoverycache/fallback"
	log "github.com/sirupsen/logrus"
)

// sourceHeader reports where a response came from
const sourceHeader = "X-Edge-Cache"

type source string

const (
	sourceNetwork     source = "network"
	sourceHit         source = "hit"
	sourceOffline     source = "offline"
	sourcePassthrough source = "passthrough"
)

// serveAPI is network-first. A cached response or an offline JSON payload is
// returned when the network fails.
func (w *Worker) serveAPI(res http.ResponseWriter, req *http.Request) {
	e, err := w.fetch(req)
	if err == nil {
		w.store(req, e)
		w.respond(res, ClassAPI, e, sourceNetwork)
		return
	}
	log.Debugf("api %s: %s", req.URL.RequestURI(), err)

	if e, ok := w.match(req); ok {
		w.respond(res, ClassAPI, e, sourceHit)
		return
	}

	w.offline(res, ClassAPI)
	fallback.OfflineJSON(res, "")
}

// serveImage is cache-first. A placeholder image is returned when the image
// is neither cached nor reachable.
func (w *Worker) serveImage(res http.ResponseWriter, req *http.Request) {
	if e, ok := w.match(req); ok {
		w.respond(res, ClassImage, e, sourceHit)
		return
	}

	e, err := w.fetch(req)
	if err == nil {
		w.store(req, e)
		w.respond(res, ClassImage, e, sourceNetwork)
		return
	}
	log.Debugf("image %s: %s", req.URL.RequestURI(), err)

	w.offline(res, ClassImage)
	fallback.OfflineImage(res)
}

// serveStatic is cache-first for precached assets. A miss goes to the network
// as is.
func (w *Worker) serveStatic(res http.ResponseWriter, req *http.Request) {
	if e, ok := w.match(req); ok {
		w.respond(res, ClassStatic, e, sourceHit)
		return
	}

	e, err := w.fetch(req)
	if err == nil {
		w.respond(res, ClassStatic, e, sourceNetwork)
		return
	}
	log.Errorf("static asset %s: %s", req.URL.RequestURI(), err)

	w.offline(res, ClassStatic)
	fallback.Unavailable(res)
}

// serveOther is network-first. Failed navigations get the offline page, any
// other failure a 503.
func (w *Worker) serveOther(res http.ResponseWriter, req *http.Request) {
	e, err := w.fetch(req)
	if err == nil {
		w.store(req, e)
		w.respond(res, ClassOther, e, sourceNetwork)
		return
	}
	log.Debugf("%s %s: %s", req.Method, req.URL.RequestURI(), err)

	if e, ok := w.match(req); ok {
		w.respond(res, ClassOther, e, sourceHit)
		return
	}

	if isNavigation(req) {
		if page, ok := w.lookup(&url.URL{Path: w.c.OfflinePage}); ok {
			w.respond(res, ClassOther, page, sourceOffline)
			return
		}
		w.offline(res, ClassOther)
		fallback.OfflinePage(res)
		return
	}

	w.offline(res, ClassOther)
	fallback.Unavailable(res)
}

// match looks the request up in the current cache generation. Only GET
// responses are ever stored, so any other method is a miss.
func (w *Worker) match(req *http.Request) (*cache.Entry, bool) {
	if req.Method != http.MethodGet {
		return nil, false
	}
	return w.lookup(req.URL)
}

func (w *Worker) lookup(u *url.URL) (*cache.Entry, bool) {
	e, err := w.caches.Match(w.c.CacheName, u)
	if err == cache.ErrEntryNotFound {
		return nil, false
	}
	if err != nil {
		log.Errorf("cache lookup of %s failed: %s", u.RequestURI(), err)
		return nil, false
	}
	log.Debugf("cache hit %s, stored %s", e.Key(), e.Stored)
	return e, true
}

// store writes successful GET responses into the current generation without
// waiting for the write to finish. Streamed bodies are not stored.
func (w *Worker) store(req *http.Request, e *cache.Entry) {
	if req.Method != http.MethodGet || !e.OK() || e.Streaming() {
		return
	}

	w.pending.Add(1)
	go func() {
		defer w.pending.Done()

		c, err := w.caches.Open(w.c.CacheName)
		if err == nil {
			err = c.Put(e)
		}
		if err != nil {
			log.Errorf("failed to cache %s: %s", e.Key(), err)
			w.metrics.writes.WithLabelValues("error").Inc()
			return
		}
		w.metrics.writes.WithLabelValues("ok").Inc()
	}()
}

func (w *Worker) respond(res http.ResponseWriter, class Class, e *cache.Entry, src source) {
	w.metrics.responses.WithLabelValues(string(class), string(src)).Inc()
	w.write(res, e, src)
}

func (w *Worker) write(res http.ResponseWriter, e *cache.Entry, src source) {
	res.Header().Set(sourceHeader, string(src))
	err := e.Write(res)
	if err != nil {
		log.Debug(err)
	}
}

func (w *Worker) offline(res http.ResponseWriter, class Class) {
	w.metrics.responses.WithLabelValues(string(class), string(sourceOffline)).Inc()
	res.Header().Set(sourceHeader, string(sourceOffline))
}

// isNavigation reports whether the request loads a document
func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	if req.Method != http.MethodGet {
		return false
	}
	for _, part := range strings.Split(req.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == "text/html" {
			return true
		}
	}
	return false
}
