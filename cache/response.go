package cache

import (
	"net/http"
	"time"
)

// ResponseType represents the origin class of a response
type ResponseType string

const (
	// TypeBasic represents a same-origin response
	TypeBasic ResponseType = "basic"
	// TypeCORS represents a cross-origin response that was readable
	TypeCORS ResponseType = "cors"
	// TypeOpaque represents a cross-origin response that could not be inspected
	TypeOpaque ResponseType = "opaque"
	// TypeError represents a network error
	TypeError ResponseType = "error"
)

// Response is a snapshot of a network response.
// The body is held in memory so a response can be both stored and returned.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Type     ResponseType
	URL      string
	StoredAt time.Time
}

// OK reports whether the response status is exactly 200
func (r *Response) OK() bool {
	return r != nil && r.Status == http.StatusOK
}

// Clone returns a deep copy of the response
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if r.Body != nil {
		c.Body = make([]byte, len(r.Body))
		copy(c.Body, r.Body)
	}

	return &c
}

// Serve writes the response headers, status and body to w
func (r *Response) Serve(w http.ResponseWriter) (int64, error) {
	for name, values := range r.Header {
		if http.CanonicalHeaderKey(name) == "Content-Length" {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(r.Status)
	n, err := w.Write(r.Body)

	return int64(n), err
}
