package optimizer

import (
	"net/http"
	"testing"

	"github.com/chrisvdg/offmarket/cache"
	"github.com/stretchr/testify/assert"
)

func response(contentType, body string) *cache.Response {
	return &cache.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{contentType}, "Etag": []string{`"abc"`}},
		Body:   []byte(body),
		Type:   cache.TypeBasic,
	}
}

func TestOptimizeCSS(t *testing.T) {
	assert := assert.New(t)
	o := New(DefaultConfig())

	in := response("text/css; charset=utf-8", "body {\n  color: #ffffff;\n}\n")
	out := o.Optimize(in)
	assert.Equal("body{color:#fff}", string(out.Body))
	assert.Empty(out.Header.Get("ETag"))
	// the input is left untouched
	assert.Equal("body {\n  color: #ffffff;\n}\n", string(in.Body))
	assert.Equal(`"abc"`, in.Header.Get("ETag"))
}

func TestOptimizeJSON(t *testing.T) {
	o := New(DefaultConfig())
	out := o.Optimize(response("application/json", "{ \"name\": \"Off Market\" }"))
	assert.Equal(t, `{"name":"Off Market"}`, string(out.Body))
}

func TestOptimizePassThrough(t *testing.T) {
	assert := assert.New(t)
	o := New(DefaultConfig())

	png := response("image/png", "\x89PNG")
	assert.Same(png, o.Optimize(png))

	noType := response("", "plain")
	assert.Same(noType, o.Optimize(noType))

	gz := response("text/css", "body { color: red; }")
	gz.Header.Set("Content-Encoding", "gzip")
	assert.Same(gz, o.Optimize(gz))

	assert.Nil(o.Optimize(nil))
}

func TestOptimizeDisabledType(t *testing.T) {
	c := DefaultConfig()
	c.CSS = false
	o := New(c)
	in := response("text/css", "body { color: red; }")
	assert.Same(t, in, o.Optimize(in))
}
