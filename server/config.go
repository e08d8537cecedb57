package server

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/chrisvdg/offmarket/cache"
	"github.com/chrisvdg/offmarket/optimizer"
	"github.com/chrisvdg/offmarket/worker"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read into the config
const EnvPrefix = "OFFMARKET_"

// Config represents a server config
type Config struct {
	ListenAddr    string    `yaml:"listen_addr" env:"LISTEN_ADDR"`
	TLSListenAddr string    `yaml:"tls_listen_addr" env:"TLS_LISTEN_ADDR"`
	TLSOnly       bool      `yaml:"tls_only" env:"TLS_ONLY"`
	TLS           TLSConfig `yaml:"tls" envPrefix:"TLS_"`
	Verbose       bool      `yaml:"verbose" env:"VERBOSE"`
	// Origin is the base URL of the site being cached
	Origin string `yaml:"origin" env:"ORIGIN"`
	// ProbeTimeout bounds the startup retries against the origin, 0 disables the probe
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT"`
	// AutoLifecycle runs install and activate when the server starts
	AutoLifecycle bool             `yaml:"auto_lifecycle" env:"AUTO_LIFECYCLE"`
	Version       worker.Version   `yaml:"version" envPrefix:"VERSION_"`
	Seeds         []string         `yaml:"seeds" env:"SEEDS" envSeparator:","`
	Cache         cache.Config     `yaml:"cache" envPrefix:"CACHE_"`
	Optimizer     optimizer.Config `yaml:"optimizer" envPrefix:"OPTIMIZER_"`
}

// TLSConfig represents a TLS configuration
type TLSConfig struct {
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
}

// DefaultConfig returns the configuration used when nothing overrides it
func DefaultConfig() *Config {
	c := &Config{
		ListenAddr:    ":8080",
		TLSListenAddr: ":8443",
		ProbeTimeout:  30 * time.Second,
		AutoLifecycle: true,
		Version:       worker.Version{Prefix: "off-market", Tag: "v1"},
		Seeds:         append([]string(nil), worker.DefaultSeeds...),
		Optimizer:     optimizer.DefaultConfig(),
	}
	c.Cache.Backend = cache.BackendMemory
	c.Cache.Bolt.Path = "./data/offmarket.db"
	c.Cache.LevelDB.Path = "./data/leveldb"
	c.Cache.Redis.Addr = "localhost:6379"

	return c
}

// LoadConfig layers the YAML file at path (if any) and the environment over the defaults
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.Wrap(err, "failed to parse environment")
	}

	return c, nil
}

// BindFlags registers a command line flag for every field a user is likely to override
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.ListenAddr, "listenaddr", "l", c.ListenAddr, "http listen address")
	fs.StringVarP(&c.TLSListenAddr, "tlsaddr", "t", c.TLSListenAddr, "https listen address")
	fs.StringVarP(&c.TLS.KeyFile, "tlskey", "k", c.TLS.KeyFile, "TLS private key file path")
	fs.StringVarP(&c.TLS.CertFile, "tlscert", "c", c.TLS.CertFile, "TLS certificate file path")
	fs.BoolVarP(&c.TLSOnly, "tlsonly", "s", c.TLSOnly, "Only serve TLS")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "Verbose output")
	fs.StringVarP(&c.Origin, "origin", "o", c.Origin, "base URL of the site to cache")
	fs.DurationVar(&c.ProbeTimeout, "probe-timeout", c.ProbeTimeout, "how long to retry reaching the origin at startup (0 disables)")
	fs.BoolVar(&c.AutoLifecycle, "auto-lifecycle", c.AutoLifecycle, "install and activate the version on startup")
	fs.StringVar(&c.Version.Prefix, "area-prefix", c.Version.Prefix, "cache area name prefix")
	fs.StringVar(&c.Version.Tag, "area-version", c.Version.Tag, "cache area version tag")
	fs.StringSliceVar(&c.Seeds, "seed", c.Seeds, "resource path stored at install time (repeatable)")
	fs.StringVarP(&c.Cache.Backend, "backend", "b", c.Cache.Backend, "cache storage backend: memory, bolt, leveldb or redis")
	fs.Uint64Var(&c.Cache.Memory.Capacity, "memory-capacity", c.Cache.Memory.Capacity, "max entries per area for the memory backend (0 is unbounded)")
	fs.StringVar(&c.Cache.Bolt.Path, "bolt-path", c.Cache.Bolt.Path, "bolt database file")
	fs.StringVar(&c.Cache.LevelDB.Path, "leveldb-path", c.Cache.LevelDB.Path, "leveldb directory")
	fs.StringVar(&c.Cache.Redis.Addr, "redis-addr", c.Cache.Redis.Addr, "redis address")
	fs.BoolVar(&c.Optimizer.Enabled, "minify", c.Optimizer.Enabled, "minify responses before storing them")
}

// ApplyFlags copies the flags explicitly set on fs into c
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	bound := pflag.NewFlagSet("config", pflag.ContinueOnError)
	c.BindFlags(bound)

	var err error
	fs.Visit(func(f *pflag.Flag) {
		target := bound.Lookup(f.Name)
		if target == nil || err != nil {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			if tv, ok := target.Value.(pflag.SliceValue); ok {
				err = tv.Replace(sv.GetSlice())
				return
			}
		}
		if serr := bound.Set(f.Name, f.Value.String()); serr != nil {
			err = errors.Wrapf(serr, "invalid value for flag --%s", f.Name)
		}
	})

	return err
}

// Validate checks the configuration can start a server
func (c *Config) Validate() error {
	if c.Origin == "" {
		return errors.New("no origin provided")
	}
	u, err := url.Parse(c.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("origin %q is not an absolute URL", c.Origin)
	}
	if err := c.Version.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "", cache.BackendMemory, cache.BackendBolt, cache.BackendLevelDB, cache.BackendRedis:
	default:
		return errors.Wrapf(cache.ErrUnknownBackend, "backend %q", c.Cache.Backend)
	}
	if c.TLSOnly && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("tls only requires a certificate and a key")
	}

	return nil
}
