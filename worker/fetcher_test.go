package worker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chrisvdg/offmarket/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginFetcher(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("elsewhere"))
	}))
	defer other.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/site/moved":
			http.Redirect(w, r, other.URL+"/x", http.StatusFound)
		case "/site/contact":
			b, _ := io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			w.Write(b)
		default:
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("X-Query", r.URL.RawQuery)
			w.Header().Set("X-Lang", r.Header.Get("Accept-Language"))
			w.Write([]byte("path " + r.URL.Path))
		}
	}))
	defer origin.Close()

	f, err := NewOriginFetcher(origin.URL+"/site/", nil)
	require.NoError(err)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/listings?city=nice", nil)
	req.Header.Set("Accept-Language", "fr")
	resp, err := f.Fetch(ctx, req)
	require.NoError(err)
	assert.Equal(http.StatusOK, resp.Status)
	assert.Equal(cache.TypeBasic, resp.Type)
	assert.Equal("path /site/listings", string(resp.Body))
	assert.Equal("city=nice", resp.Header.Get("X-Query"))
	assert.Equal("fr", resp.Header.Get("X-Lang"))
	assert.Empty(resp.Header.Get("Content-Length"))

	resp, err = f.Fetch(ctx, httptest.NewRequest(http.MethodGet, "/moved", nil))
	require.NoError(err)
	assert.Equal(cache.TypeCORS, resp.Type)
	assert.Equal("elsewhere", string(resp.Body))
	assert.True(strings.HasPrefix(resp.URL, other.URL))

	resp, err = f.Fetch(ctx, httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader("hello")))
	require.NoError(err)
	assert.Equal(http.StatusCreated, resp.Status)
	assert.Equal("hello", string(resp.Body))
}

func TestOriginFetcherNetworkError(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	url := origin.URL
	origin.Close()

	f, err := NewOriginFetcher(url, nil)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Error(t, err)
}

func TestNewOriginFetcherRejectsRelative(t *testing.T) {
	_, err := NewOriginFetcher("/just/a/path", nil)
	assert.Error(t, err)
}

func TestTargetURL(t *testing.T) {
	assert := assert.New(t)
	f, err := NewOriginFetcher("https://off-market.example/", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal("https://off-market.example/", f.targetURL(req.URL))
	req = httptest.NewRequest(http.MethodGet, "/blog/?page=2", nil)
	assert.Equal("https://off-market.example/blog/?page=2", f.targetURL(req.URL))
}
