package worker

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/chrisvdg/offmarket/cache"
	"github.com/pkg/errors"
)

// Fetcher performs the network side of a request
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*cache.Response, error)
}

// hopHeaders are meaningful for a single connection only and are never forwarded
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// NewOriginFetcher returns a fetcher that resolves request paths against origin
func NewOriginFetcher(origin string, client *http.Client) (*OriginFetcher, error) {
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse origin URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("origin %q is not an absolute URL", origin)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &OriginFetcher{origin: u, client: client}, nil
}

// OriginFetcher fetches requests from the site origin
type OriginFetcher struct {
	origin *url.URL
	client *http.Client
}

// Origin returns the origin URL
func (f *OriginFetcher) Origin() *url.URL {
	return f.origin
}

// Fetch forwards req to the origin and reads the whole response.
// Responses whose final URL left the origin are typed cors, the others basic.
func (f *OriginFetcher) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	target := f.targetURL(req.URL)
	var body io.Reader
	if req.Method != "" && req.Method != http.MethodGet && req.Method != http.MethodHead {
		body = req.Body
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	out, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create origin request")
	}
	copyHeaders(out.Header, req.Header)
	out.Header.Set("Accept-Encoding", "identity")

	res, err := f.client.Do(out)
	if err != nil {
		return nil, errors.Wrap(err, "origin request failed")
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read origin response")
	}

	resp := &cache.Response{
		Status:   res.StatusCode,
		Header:   res.Header.Clone(),
		Body:     b,
		Type:     cache.TypeBasic,
		URL:      target,
		StoredAt: time.Now(),
	}
	if res.Request != nil && res.Request.URL != nil {
		resp.URL = res.Request.URL.String()
		if !sameOrigin(res.Request.URL, f.origin) {
			resp.Type = cache.TypeCORS
		}
	}
	resp.Header.Del("Content-Length")
	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}

	return resp, nil
}

func (f *OriginFetcher) targetURL(u *url.URL) string {
	t := *f.origin
	t.Path = path.Join("/", f.origin.Path, u.Path)
	if strings.HasSuffix(u.Path, "/") && !strings.HasSuffix(t.Path, "/") {
		t.Path += "/"
	}
	t.RawPath = ""
	t.RawQuery = u.RawQuery
	t.Fragment = ""

	return t.String()
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
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
