package server

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chrisvdg/recoverycache/cache"
	"github.com/chrisvdg/recoverycache/worker"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// New creates a new server instance
func New(c *Config) (*Server, error) {
	if c.Origin == "" {
		return nil, errors.New("No origin provided")
	}
	if c.TLS == nil {
		c.TLS = &TLSConfig{}
	}

	caches, err := cache.Open(c.DataDir)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	w, err := worker.New(&worker.Config{
		Origin:      c.Origin,
		CacheName:   c.CacheName,
		Precache:    c.Precache,
		OfflinePage: c.OfflinePage,
		APIPrefix:   c.APIPrefix,
	}, caches, reg)
	if err != nil {
		caches.Close()
		return nil, errors.Wrap(err, "failed to create worker")
	}

	return &Server{
		c:      c,
		caches: caches,
		worker: w,
		reg:    reg,
	}, nil
}

// Server represents a server instance
type Server struct {
	c      *Config
	caches *cache.Storage
	worker *worker.Worker
	reg    *prometheus.Registry
}

// Start installs and activates the worker
func (s *Server) Start(ctx context.Context) error {
	err := s.worker.Install(ctx)
	if err != nil {
		return err
	}
	return s.worker.Activate(ctx)
}

// Router returns the handler serving the control endpoints and the worker
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	h := newHandlers(s.worker)

	r.HandleFunc("/_edge/message", h.MessageHandler).Methods("POST")
	r.HandleFunc("/_edge/health", h.HealthHandler).Methods("GET")
	r.Handle("/_edge/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})).Methods("GET")
	r.PathPrefix("/").Handler(s.worker)

	return r
}

// Close waits for pending cache writes and closes the cache storage
func (s *Server) Close() error {
	s.worker.Close()
	return s.caches.Close()
}

// ListenAndServe starts the worker, listens for new requests and serves them
// until one of the listeners fails or the process is interrupted
func (s *Server) ListenAndServe() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tlsEnabled := s.c.TLS.CertFile != "" && s.c.TLS.KeyFile != ""
	if s.c.TLSOnly && !tlsEnabled {
		return errors.New("No listener configured, TLS only requires a key and certificate")
	}

	err := s.Start(ctx)
	if err != nil {
		s.Close()
		return err
	}

	handler := s.Router()
	servers := []*http.Server{}

	if !s.c.TLSOnly {
		srv := newHTTPServer(s.c.ListenAddr, handler)
		servers = append(servers, srv)
		go listenAndServe(cancel, srv)
	}

	if tlsEnabled {
		srv := newHTTPServer(s.c.TLSListenAddr, handler)
		servers = append(servers, srv)
		go listenAndServeTLS(cancel, srv, s.c.TLS)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		srv.Shutdown(shutdownCtx)
	}

	return s.Close()
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// listenAndServe serves a plain http webserver
func listenAndServe(cancel func(), srv *http.Server) {
	defer cancel()
	log.Infof("http server listening on: http://%s", getAddrString(srv.Addr))
	err := srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Error(err)
	}
}

// listenAndServeTLS serves a tls webserver
func listenAndServeTLS(cancel func(), srv *http.Server, tls *TLSConfig) {
	defer cancel()
	log.Infof("https server listening on: https://%s", getAddrString(srv.Addr))
	err := srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	if err != nil && err != http.ErrServerClosed {
		log.Error(err)
	}
}

func getAddrString(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = fmt.Sprintf("0.0.0.0%s", addr)
	}
	return addr
}
