package worker

import (
	"context"
	"net/http"
	"testing"

	"github.com/chrisvdg/offmarket/cache"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingDeleteStorage refuses to delete some areas
type failingDeleteStorage struct {
	cache.Storage
	refuse map[string]bool
}

func (s *failingDeleteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if s.refuse[name] {
		return false, errors.New("storage busy")
	}
	return s.Storage.Delete(ctx, name)
}

func seedArea(t *testing.T, s cache.Storage, name string) {
	a, err := s.Open(context.Background(), name)
	require.NoError(t, err)
	require.NoError(t, a.Put(context.Background(), "/", &cache.Response{Status: http.StatusOK, Body: []byte(name)}))
}

func TestActivateDeletesStaleAreas(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := cache.NewMemoryStorage(cache.MemoryConfig{})
	seedArea(t, s, "off-market-v0")
	c := newTestController(t, s, newFakeFetcher(okResponse))
	require.NoError(t, c.Install(ctx))

	names, _ := s.Names(ctx)
	assert.ElementsMatch([]string{"off-market-v0", "off-market-v1"}, names)

	require.NoError(t, c.Activate(ctx))
	assert.Equal(StateActivated, c.State())

	names, _ = s.Names(ctx)
	assert.Equal([]string{"off-market-v1"}, names)
	ok, _ := s.Has(ctx, "off-market-v1")
	assert.True(ok)
}

func TestActivateRemovesEveryOtherVersion(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := cache.NewMemoryStorage(cache.MemoryConfig{})
	for _, n := range []string{"off-market-v0", "off-market-v2", "other-site", "off-market-v1-beta"} {
		seedArea(t, s, n)
	}
	c := newTestController(t, s, newFakeFetcher(okResponse))
	require.NoError(t, c.Install(ctx))

	deleted, err := c.deleteStale(ctx, c.AreaName())
	require.NoError(t, err)
	assert.Equal([]string{"off-market-v0", "off-market-v1-beta", "off-market-v2", "other-site"}, deleted)

	names, _ := s.Names(ctx)
	assert.Equal([]string{"off-market-v1"}, names)
}

func TestActivateToleratesFailedDeletion(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mem := cache.NewMemoryStorage(cache.MemoryConfig{})
	s := &failingDeleteStorage{Storage: mem, refuse: map[string]bool{"off-market-v0": true}}
	seedArea(t, s, "off-market-v0")
	seedArea(t, s, "off-market-vX")
	c := newTestController(t, s, newFakeFetcher(okResponse))
	require.NoError(t, c.Install(ctx))

	assert.NoError(c.Activate(ctx))
	assert.Equal(StateActivated, c.State())

	names, _ := s.Names(ctx)
	assert.ElementsMatch([]string{"off-market-v0", "off-market-v1"}, names)
}

func TestActivateBeforeInstall(t *testing.T) {
	c := newTestController(t, cache.NewMemoryStorage(cache.MemoryConfig{}), newFakeFetcher(okResponse))
	assert.ErrorIs(t, c.Activate(context.Background()), ErrNotInstalled)
	assert.Equal(t, StateParsed, c.State())
}

func TestReinstallKeepsActivatedVersion(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fail := false
	f := newFakeFetcher(func(req *http.Request) (*cache.Response, error) {
		if fail {
			return nil, errors.New("origin down")
		}
		return okResponse(req)
	})
	c := newTestController(t, cache.NewMemoryStorage(cache.MemoryConfig{}), f)
	require.NoError(t, c.Install(ctx))
	require.NoError(t, c.Activate(ctx))

	fail = true
	assert.Error(c.Install(ctx))
	assert.Equal(StateActivated, c.State())
	assert.Equal("off-market-v1", c.activeArea())
}
