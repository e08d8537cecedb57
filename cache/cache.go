package cache

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrAreaNotFound represents an area that does not exist in the storage
	ErrAreaNotFound = errors.New("cache area not found")
	// ErrUnknownBackend represents a backend name that is not supported
	ErrUnknownBackend = errors.New("unknown cache backend")
	// ErrEmptyKey represents a put with an empty request key
	ErrEmptyKey = errors.New("cache key is empty")
)

// Storage represents a set of named cache areas
type Storage interface {
	// Open returns the area with the provided name, creating it if absent
	Open(ctx context.Context, name string) (Area, error)
	// Has reports whether an area with the provided name exists
	Has(ctx context.Context, name string) (bool, error)
	// Names lists all existing area names
	Names(ctx context.Context) ([]string, error)
	// Delete removes an area and all of its entries.
	// It reports false if the area did not exist.
	Delete(ctx context.Context, name string) (bool, error)
	// Match looks up a key in every area, in the order Names returns them
	Match(ctx context.Context, key string) (*Response, bool, error)
	// Close releases the underlying resources
	Close() error
}

// Area represents a single named key to response store
type Area interface {
	// Name returns the area name
	Name() string
	// Match returns the stored response for key
	Match(ctx context.Context, key string) (*Response, bool, error)
	// Put stores resp under key, replacing a previous entry
	Put(ctx context.Context, key string, resp *Response) error
	// PutAll stores all entries or none of them
	PutAll(ctx context.Context, entries []Entry) error
	// Keys lists the keys stored in the area
	Keys(ctx context.Context) ([]string, error)
}

// Backend names
const (
	BackendMemory  = "memory"
	BackendBolt    = "bolt"
	BackendLevelDB = "leveldb"
	BackendRedis   = "redis"
)

// Config represents a storage backend configuration
type Config struct {
	Backend string       `yaml:"backend" env:"BACKEND"`
	Memory  MemoryConfig `yaml:"memory" envPrefix:"MEMORY_"`
	Bolt    struct {
		Path string `yaml:"path" env:"PATH"`
	} `yaml:"bolt" envPrefix:"BOLT_"`
	LevelDB struct {
		Path string `yaml:"path" env:"PATH"`
	} `yaml:"leveldb" envPrefix:"LEVELDB_"`
	Redis RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// New opens the storage backend described by c
func New(c *Config) (Storage, error) {
	switch strings.ToLower(c.Backend) {
	case "", BackendMemory:
		return NewMemoryStorage(c.Memory), nil
	case BackendBolt:
		return NewBoltStorage(c.Bolt.Path)
	case BackendLevelDB:
		return NewLevelDBStorage(c.LevelDB.Path)
	case BackendRedis:
		return NewRedisStorage(c.Redis)
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "backend %q", c.Backend)
	}
}
