package worker

import (
	"context"
	"net/http"
	"sync"

	"github.com/chrisvdg/offmarket/cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotInstalled represents an activation of a version that was not installed
	ErrNotInstalled = errors.New("version is not installed")
	// ErrSeedFailed represents a seed resource that could not be fetched during install
	ErrSeedFailed = errors.New("failed to fetch seed resource")
)

// DefaultSeeds are the resources stored at install time
var DefaultSeeds = []string{
	"/",
	"/static/js/bundle.js",
	"/static/css/main.css",
	"/manifest.json",
}

// Optimizer rewrites a response before it is stored
type Optimizer interface {
	Optimize(resp *cache.Response) *cache.Response
}

// Source tells where a fetched response came from
type Source string

const (
	// SourceHit represents a response served from a cache area
	SourceHit Source = "hit"
	// SourceMiss represents a network response that was stored
	SourceMiss Source = "miss"
	// SourceBypass represents a network response that was not stored
	SourceBypass Source = "bypass"
)

// Result is the outcome of an intercepted request
type Result struct {
	Response *cache.Response
	Source   Source
}

// Config represents a controller configuration
type Config struct {
	Storage   cache.Storage
	Fetcher   Fetcher
	Version   Version
	Seeds     []string
	Optimizer Optimizer
}

// New returns a new controller for one version of the site
func New(c *Config) (*Controller, error) {
	if c.Storage == nil {
		return nil, errors.New("no cache storage provided")
	}
	if c.Fetcher == nil {
		return nil, errors.New("no fetcher provided")
	}
	if err := c.Version.Validate(); err != nil {
		return nil, err
	}
	seeds := c.Seeds
	if seeds == nil {
		seeds = DefaultSeeds
	}

	return &Controller{
		storage:   c.Storage,
		fetcher:   c.Fetcher,
		version:   c.Version,
		seeds:     append([]string(nil), seeds...),
		optimizer: c.Optimizer,
		state:     StateParsed,
	}, nil
}

// Controller answers intercepted requests from the cache areas or the network
// and manages the lifecycle of its version's cache area.
type Controller struct {
	storage   cache.Storage
	fetcher   Fetcher
	version   Version
	seeds     []string
	optimizer Optimizer

	m      sync.Mutex
	state  State
	active string

	inflight singleflight.Group
}

// Status describes the controller for reporting
type Status struct {
	Version string           `json:"version"`
	State   State            `json:"state"`
	Active  string           `json:"active"`
	Areas   []cache.AreaInfo `json:"areas"`
}

// State returns the lifecycle state of the controller version
func (c *Controller) State() State {
	c.m.Lock()
	defer c.m.Unlock()
	return c.state
}

// AreaName returns the name of the cache area the version owns
func (c *Controller) AreaName() string {
	return c.version.Name()
}

func (c *Controller) activeArea() string {
	c.m.Lock()
	defer c.m.Unlock()
	return c.active
}

// Install creates the version's cache area and stores every seed resource.
// Either all seeds are stored or none are.
func (c *Controller) Install(ctx context.Context) error {
	c.m.Lock()
	prev := c.state
	c.state = StateInstalling
	c.m.Unlock()

	err := c.install(ctx)

	c.m.Lock()
	defer c.m.Unlock()
	switch {
	case err == nil && prev == StateActivated:
		c.state = StateActivated
	case err == nil:
		c.state = StateInstalled
	case prev == StateActivated:
		c.state = StateActivated
	default:
		c.state = StateRedundant
	}

	return err
}

func (c *Controller) install(ctx context.Context) error {
	name := c.version.Name()
	logger := log.WithField("area", name)
	logger.Infof("Installing %d seed resources", len(c.seeds))

	area, err := c.storage.Open(ctx, name)
	if err != nil {
		return errors.Wrapf(err, "failed to open cache area %s", name)
	}

	entries := make([]cache.Entry, len(c.seeds))
	g, gctx := errgroup.WithContext(ctx)
	for i, seed := range c.seeds {
		i, seed := i, seed
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, seed, nil)
			if err != nil {
				return errors.Wrapf(err, "invalid seed path %s", seed)
			}
			resp, err := c.fetcher.Fetch(gctx, req)
			if err != nil {
				return errors.Wrapf(ErrSeedFailed, "%s: %s", seed, err)
			}
			if resp.Status < 200 || resp.Status > 299 {
				return errors.Wrapf(ErrSeedFailed, "%s: status %d", seed, resp.Status)
			}
			entries[i] = cache.Entry{Key: cache.RequestKey(req), Response: shared(c.optimize(resp))}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Install failed")
		return err
	}

	if err := area.PutAll(ctx, entries); err != nil {
		return errors.Wrapf(err, "failed to store seed resources in %s", name)
	}
	logger.Info("Installed")

	return nil
}

// Fetch answers req from any cache area, or from the network on a miss.
// A network response is stored in the active area only when its status is 200
// and it is same-origin.
func (c *Controller) Fetch(ctx context.Context, req *http.Request) (*Result, error) {
	key := cache.RequestKey(req)
	if key == "" {
		resp, err := c.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Result{Response: resp, Source: SourceBypass}, nil
	}

	logger := log.WithField("key", key)
	resp, ok, err := c.storage.Match(ctx, key)
	if err != nil {
		logger.WithError(err).Warn("Cache lookup failed, falling back to network")
	}
	if ok {
		logger.Debug("Cache hit")
		return &Result{Response: resp, Source: SourceHit}, nil
	}

	// The shared fetch outlives any single caller, each caller waits on its own ctx.
	// Followers only take the leader's result when it was stored; a response
	// that was not stored depends on the leader's request and is refetched.
	leader := false
	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		leader = true
		return c.fetchShared(context.WithoutCancel(ctx), req, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if leader {
			if r.Err != nil {
				return nil, r.Err
			}
			return r.Val.(*Result), nil
		}
		if r.Err == nil && r.Val.(*Result).Source != SourceBypass {
			res := r.Val.(*Result)
			return &Result{Response: shared(res.Response), Source: res.Source}, nil
		}
	}

	logger.Debug("Shared fetch was not stored, fetching again")
	return c.fetchAndStore(ctx, req, key)
}

// fetchShared runs once per key for a burst of misses. A caller that missed
// just before a previous flight stored the key gets the stored entry.
func (c *Controller) fetchShared(ctx context.Context, req *http.Request, key string) (*Result, error) {
	if resp, ok, err := c.storage.Match(ctx, key); err == nil && ok {
		return &Result{Response: resp, Source: SourceHit}, nil
	}
	return c.fetchAndStore(ctx, req, key)
}

func (c *Controller) fetchAndStore(ctx context.Context, req *http.Request, key string) (*Result, error) {
	logger := log.WithField("key", key)
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if !storable(resp) {
		logger.Debugf("Not storing response (status %d, type %s)", resp.Status, resp.Type)
		return &Result{Response: resp, Source: SourceBypass}, nil
	}

	name := c.activeArea()
	if name == "" {
		logger.Debug("No active cache area, not storing")
		return &Result{Response: resp, Source: SourceBypass}, nil
	}
	resp = c.optimize(resp)
	area, err := c.storage.Open(ctx, name)
	if err != nil {
		logger.WithError(err).Errorf("Failed to open cache area %s", name)
		return &Result{Response: resp, Source: SourceBypass}, nil
	}
	if err := area.Put(ctx, key, shared(resp)); err != nil {
		logger.WithError(err).Errorf("Failed to store response in %s", name)
		return &Result{Response: resp, Source: SourceBypass}, nil
	}
	logger.Debugf("Stored in %s", name)

	return &Result{Response: resp, Source: SourceMiss}, nil
}

// shared copies a response for clients other than the one that requested it.
// Cookies set by the origin belong to that one client.
func shared(resp *cache.Response) *cache.Response {
	c := resp.Clone()
	if c != nil {
		c.Header.Del("Set-Cookie")
	}
	return c
}

func storable(resp *cache.Response) bool {
	return resp != nil && resp.OK() && resp.Type == cache.TypeBasic
}

func (c *Controller) optimize(resp *cache.Response) *cache.Response {
	if c.optimizer == nil {
		return resp
	}
	return c.optimizer.Optimize(resp)
}

// Status reports the version state and the existing cache areas
func (c *Controller) Status(ctx context.Context) (*Status, error) {
	names, err := c.storage.Names(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cache areas")
	}
	c.m.Lock()
	s := &Status{
		Version: c.version.Name(),
		State:   c.state,
		Active:  c.active,
		Areas:   make([]cache.AreaInfo, 0, len(names)),
	}
	c.m.Unlock()

	current := s.Active
	if current == "" {
		current = s.Version
	}
	for _, name := range names {
		info := cache.AreaInfo{Name: name, State: cache.Classify(name, current)}
		// Has avoids creating an area deleted since Names returned
		if ok, err := c.storage.Has(ctx, name); err != nil || !ok {
			continue
		}
		area, err := c.storage.Open(ctx, name)
		if err == nil {
			if keys, err := area.Keys(ctx); err == nil {
				info.Entries = len(keys)
			}
		}
		s.Areas = append(s.Areas, info)
	}

	return s, nil
}
