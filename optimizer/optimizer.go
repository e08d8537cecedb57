package optimizer

import (
	"mime"
	"regexp"

	"github.com/chrisvdg/offmarket/cache"
	log "github.com/sirupsen/logrus"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
)

// Config selects the content types to minify
type Config struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	HTML    bool `yaml:"html" env:"HTML"`
	CSS     bool `yaml:"css" env:"CSS"`
	JS      bool `yaml:"js" env:"JS"`
	JSON    bool `yaml:"json" env:"JSON"`
	SVG     bool `yaml:"svg" env:"SVG"`
}

// DefaultConfig returns a disabled optimizer that minifies everything once enabled
func DefaultConfig() Config {
	return Config{
		HTML: true,
		CSS:  true,
		JS:   true,
		JSON: true,
		SVG:  true,
	}
}

// New returns a minifying optimizer for the content types selected in c
func New(c Config) *Optimizer {
	m := minify.New()
	if c.HTML {
		m.AddFunc("text/html", html.Minify)
	}
	if c.CSS {
		m.AddFunc("text/css", css.Minify)
	}
	if c.JS {
		m.AddFuncRegexp(regexp.MustCompile(`^(application|text)/(x-)?(java|ecma)script$`), js.Minify)
	}
	if c.JSON {
		m.AddFuncRegexp(regexp.MustCompile(`^application/([a-z0-9.+-]+\+)?json$`), json.Minify)
	}
	if c.SVG {
		m.AddFunc("image/svg+xml", svg.Minify)
	}

	return &Optimizer{m: m}
}

// Optimizer minifies response bodies before they are stored
type Optimizer struct {
	m *minify.M
}

// Optimize returns a copy of resp with a minified body.
// resp is returned unchanged for unknown content types, encoded bodies or minify errors.
func (o *Optimizer) Optimize(resp *cache.Response) *cache.Response {
	if resp == nil || len(resp.Body) == 0 {
		return resp
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
		return resp
	}
	mediatype, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return resp
	}
	if _, _, fn := o.m.Match(mediatype); fn == nil {
		return resp
	}

	b, err := o.m.Bytes(mediatype, resp.Body)
	if err != nil {
		log.WithError(err).WithField("url", resp.URL).Debug("Minify failed, keeping original body")
		return resp
	}
	out := resp.Clone()
	out.Body = b
	out.Header.Del("ETag")

	return out
}
