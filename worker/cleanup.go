package worker

import (
	"context"
	"sort"
	"sync"

	"github.com/chrisvdg/offmarket/cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Activate makes the installed version the one storing responses and deletes
// every cache area that belongs to another version.
// Failed deletions are logged and leave the area in place.
func (c *Controller) Activate(ctx context.Context) error {
	c.m.Lock()
	prev := c.state
	if prev != StateInstalled && prev != StateActivated {
		c.m.Unlock()
		return errors.Wrapf(ErrNotInstalled, "version %s is %s", c.version.Name(), prev)
	}
	c.state = StateActivating
	c.m.Unlock()

	current := c.version.Name()
	deleted, err := c.deleteStale(ctx, current)
	if err != nil {
		c.m.Lock()
		c.state = prev
		c.m.Unlock()
		return err
	}

	c.m.Lock()
	c.state = StateActivated
	c.active = current
	c.m.Unlock()
	log.WithField("area", current).Infof("Activated, %d stale areas deleted", len(deleted))

	return nil
}

// deleteStale deletes all areas other than current concurrently and waits for
// every deletion to resolve. It returns the deleted area names.
func (c *Controller) deleteStale(ctx context.Context, current string) ([]string, error) {
	log.Debug("Started deleting stale cache areas")

	names, err := c.storage.Names(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cache areas")
	}

	var (
		m       sync.Mutex
		deleted []string
		g       errgroup.Group
	)
	for _, name := range names {
		if cache.Classify(name, current) != cache.StateStale {
			continue
		}
		name := name
		g.Go(func() error {
			ok, err := c.storage.Delete(ctx, name)
			if err != nil {
				log.WithError(err).Errorf("Failed to delete cache area %s", name)
				return nil
			}
			if ok {
				log.Debugf("Deleted cache area %s", name)
				m.Lock()
				deleted = append(deleted, name)
				m.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	sort.Strings(deleted)

	log.Debug("Finished deleting stale cache areas")
	return deleted, nil
}
