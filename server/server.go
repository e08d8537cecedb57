package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chrisvdg/offmarket/cache"
	"github.com/chrisvdg/offmarket/optimizer"
	"github.com/chrisvdg/offmarket/worker"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// AdminPrefix is the path prefix of the lifecycle and notification endpoints
const AdminPrefix = "/_offline"

// New creates a new server instance
func New(c *Config) (*Server, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	err := probeOrigin(c.Origin, c.ProbeTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to origin")
	}

	storage, err := cache.New(&c.Cache)
	if err != nil {
		return nil, err
	}

	s, err := newServer(c, storage)
	if err != nil {
		storage.Close()
		return nil, err
	}
	return s, nil
}

func newServer(c *Config, storage cache.Storage) (*Server, error) {
	fetcher, err := worker.NewOriginFetcher(c.Origin, nil)
	if err != nil {
		return nil, err
	}
	wc := &worker.Config{
		Storage: storage,
		Fetcher: fetcher,
		Version: c.Version,
		Seeds:   c.Seeds,
	}
	if c.Optimizer.Enabled {
		wc.Optimizer = optimizer.New(c.Optimizer)
	}
	controller, err := worker.New(wc)
	if err != nil {
		return nil, err
	}

	return &Server{
		c:          c,
		storage:    storage,
		controller: controller,
	}, nil
}

// Server represents a server instance
type Server struct {
	c          *Config
	storage    cache.Storage
	controller *worker.Controller
}

// Controller returns the cache controller of the server
func (s *Server) Controller() *worker.Controller {
	return s.controller
}

// Close releases the cache storage
func (s *Server) Close() error {
	return s.storage.Close()
}

// Router returns the http handler serving every route
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	h := newHandlers(s.controller)
	r.Use(requestLogger)

	admin := r.PathPrefix(AdminPrefix).Subrouter()
	admin.HandleFunc("/install", h.InstallHandler).Methods(http.MethodPost)
	admin.HandleFunc("/activate", h.ActivateHandler).Methods(http.MethodPost)
	admin.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)
	admin.HandleFunc("/push", h.PushHandler).Methods(http.MethodPost)
	admin.HandleFunc("/notification-click", h.NotificationClickHandler).Methods(http.MethodPost)

	r.PathPrefix("/").HandlerFunc(h.CacheHandler)

	return r
}

// RunLifecycle installs the configured version and activates it.
// A failed install leaves the existing cache areas serving.
func (s *Server) RunLifecycle(ctx context.Context) error {
	if err := s.controller.Install(ctx); err != nil {
		return errors.Wrap(err, "install failed")
	}
	if err := s.controller.Activate(ctx); err != nil {
		return errors.Wrap(err, "activate failed")
	}
	return nil
}

// ListenAndServe listens for new requests and serves them until ctx is done
// or a listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.c.AutoLifecycle {
		if err := s.RunLifecycle(ctx); err != nil {
			log.WithError(err).Error("Offline cache lifecycle did not complete, serving existing cache areas")
		}
	}

	r := s.Router()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	servers := []*http.Server{}

	tlsEnabled := s.c.TLS.CertFile != "" && s.c.TLS.KeyFile != ""
	if !s.c.TLSOnly {
		srv := newHTTPServer(s.c.ListenAddr, r)
		servers = append(servers, srv)
		go listenAndServe(cancel, errs, srv)
	}

	if tlsEnabled {
		srv := newHTTPServer(s.c.TLSListenAddr, r)
		servers = append(servers, srv)
		go listenAndServeTLS(cancel, errs, srv, s.c.TLS)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		srv.Shutdown(shutdownCtx)
	}

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// listenAndServe serves a plain http webserver
func listenAndServe(cancel func(), errs chan<- error, srv *http.Server) {
	defer cancel()
	log.Infof("http server listening on: http://%s", getAddrString(srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error(err)
		errs <- err
	}
}

// listenAndServeTLS serves a tls webserver
func listenAndServeTLS(cancel func(), errs chan<- error, srv *http.Server, tls TLSConfig) {
	defer cancel()
	log.Infof("https server listening on: https://%s", getAddrString(srv.Addr))
	if err := srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile); err != nil && err != http.ErrServerClosed {
		log.Error(err)
		errs <- err
	}
}

// probeOrigin retries reaching the origin until it answers or timeout passes.
// Any HTTP answer counts as reachable.
func probeOrigin(origin string, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	client := &http.Client{Timeout: 5 * time.Second}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout

	return backoff.RetryNotify(func() error {
		resp, err := client.Get(origin)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}, b, func(err error, next time.Duration) {
		log.WithError(err).Warnf("Origin %s unreachable, retrying in %s", origin, next)
	})
}

func getAddrString(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = fmt.Sprintf("0.0.0.0%s", addr)
	}
	return addr
}
