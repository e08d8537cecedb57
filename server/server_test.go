package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chrisvdg/offmarket/cache"
	"github.com/chrisvdg/offmarket/notify"
	"github.com/chrisvdg/offmarket/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOrigin struct {
	*httptest.Server
	m    sync.Mutex
	hits map[string]int
}

func newTestOrigin() *testOrigin {
	o := &testOrigin{hits: map[string]int{}}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.m.Lock()
		o.hits[r.URL.Path]++
		o.m.Unlock()
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/static/css/main.css":
			w.Header().Set("Content-Type", "text/css")
			w.Write([]byte("body {\n  color: #ffffff;\n}\n"))
		default:
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<p>" + r.URL.Path + "</p>"))
		}
	}))
	return o
}

func (o *testOrigin) count(path string) int {
	o.m.Lock()
	defer o.m.Unlock()
	return o.hits[path]
}

func newTestServer(t *testing.T, origin string) *Server {
	c := DefaultConfig()
	c.Origin = origin
	c.ProbeTimeout = 0
	s, err := newServer(c, cache.NewMemoryStorage(cache.MemoryConfig{}))
	require.NoError(t, err)
	return s
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestServerOfflineCache(t *testing.T) {
	assert := assert.New(t)
	origin := newTestOrigin()
	defer origin.Close()
	s := newTestServer(t, origin.URL)
	h := s.Router()

	rec := do(h, http.MethodPost, "/_offline/activate", "")
	assert.Equal(http.StatusConflict, rec.Code)

	rec = do(h, http.MethodPost, "/_offline/install", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(h, http.MethodPost, "/_offline/activate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status worker.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(worker.StateActivated, status.State)
	assert.Equal("off-market-v1", status.Active)

	rec = do(h, http.MethodGet, "/", "")
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal("hit", rec.Header().Get(HeaderCache))
	assert.Equal("<p>/</p>", rec.Body.String())
	assert.NotEmpty(rec.Header().Get(HeaderRequestID))
	assert.Equal(1, origin.count("/"))

	rec = do(h, http.MethodGet, "/services", "")
	assert.Equal("miss", rec.Header().Get(HeaderCache))
	assert.Equal("<p>/services</p>", rec.Body.String())
	rec = do(h, http.MethodGet, "/services", "")
	assert.Equal("hit", rec.Header().Get(HeaderCache))
	assert.Equal("text/html", rec.Header().Get("Content-Type"))
	assert.Equal(1, origin.count("/services"))

	rec = do(h, http.MethodGet, "/missing", "")
	assert.Equal(http.StatusNotFound, rec.Code)
	assert.Equal("bypass", rec.Header().Get(HeaderCache))
	do(h, http.MethodGet, "/missing", "")
	assert.Equal(2, origin.count("/missing"))
}

func TestServerBadGateway(t *testing.T) {
	origin := newTestOrigin()
	s := newTestServer(t, origin.URL)
	origin.Close()

	rec := do(s.Router(), http.MethodGet, "/blog", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "error", rec.Header().Get(HeaderCache))

	rec = do(s.Router(), http.MethodPost, "/_offline/install", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestServerMinifiesWhenEnabled(t *testing.T) {
	assert := assert.New(t)
	origin := newTestOrigin()
	defer origin.Close()
	c := DefaultConfig()
	c.Origin = origin.URL
	c.Optimizer.Enabled = true
	s, err := newServer(c, cache.NewMemoryStorage(cache.MemoryConfig{}))
	require.NoError(t, err)
	h := s.Router()

	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/_offline/install", "").Code)
	rec := do(h, http.MethodGet, "/static/css/main.css", "")
	assert.Equal("hit", rec.Header().Get(HeaderCache))
	assert.Equal("body{color:#fff}", rec.Body.String())
}

func TestServerNotifications(t *testing.T) {
	assert := assert.New(t)
	origin := newTestOrigin()
	defer origin.Close()
	h := newTestServer(t, origin.URL).Router()

	rec := do(h, http.MethodPost, "/_offline/push", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var n notify.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.Equal(notify.DefaultBody, n.Body)

	rec = do(h, http.MethodPost, "/_offline/push", "Villa in Saint-Tropez")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.Equal("Villa in Saint-Tropez", n.Body)

	var click notify.ClickResult
	rec = do(h, http.MethodPost, "/_offline/notification-click", `{"action":"explore"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &click))
	assert.Equal(notify.ClickResult{Close: true, OpenURL: "/"}, click)

	for _, body := range []string{`{"action":"close"}`, `{}`, ``, `not json`} {
		click = notify.ClickResult{}
		rec = do(h, http.MethodPost, "/_offline/notification-click", body)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &click))
		assert.Equal(notify.ClickResult{Close: true}, click, body)
	}

	// a payload at the limit is kept whole, a larger one is rejected
	full := strings.Repeat("é", maxPushPayload/2)
	rec = do(h, http.MethodPost, "/_offline/push", full)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.Equal(full, n.Body)
	rec = do(h, http.MethodPost, "/_offline/push", "x"+full)
	assert.Equal(http.StatusRequestEntityTooLarge, rec.Code)

	// other methods fall through to the site
	rec = do(h, http.MethodGet, "/_offline/push", "")
	assert.Equal("<p>/_offline/push</p>", rec.Body.String())
}

func TestNewProbesOrigin(t *testing.T) {
	origin := newTestOrigin()
	url := origin.URL
	origin.Close()

	c := DefaultConfig()
	c.Origin = url
	c.ProbeTimeout = 100 * time.Millisecond
	_, err := New(c)
	assert.Error(t, err)
}

func TestNewWithReachableOrigin(t *testing.T) {
	origin := newTestOrigin()
	defer origin.Close()

	c := DefaultConfig()
	c.Origin = origin.URL
	c.ProbeTimeout = time.Second
	s, err := New(c)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "off-market-v1", s.Controller().AreaName())
}
