package cache

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig represents the redis backend configuration
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	// Prefix is prepended to every redis key
	Prefix string `yaml:"prefix" env:"PREFIX"`
}

const defaultRedisPrefix = "offmarket:"

// putIfAreaScript writes the hash fields only while the area is registered,
// so a write cannot land in an area deleted concurrently.
// KEYS: areas set, area hash. ARGV: area name, then field value pairs.
var putIfAreaScript = redis.NewScript(`
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[2], unpack(ARGV, 2))
return 1
`)

// NewRedisStorage connects to redis and verifies the connection
func NewRedisStorage(c RedisConfig) (*RedisStorage, error) {
	if c.Addr == "" {
		return nil, errors.New("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}

	return newRedisStorage(client, c.Prefix), nil
}

func newRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStorage{client: client, prefix: prefix}
}

// RedisStorage is a Storage backed by redis.
// Area names are members of the "<prefix>areas" set, entries are fields
// of the "<prefix>area:<name>" hash.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

func (s *RedisStorage) namesKey() string {
	return s.prefix + "areas"
}

func (s *RedisStorage) areaKey(name string) string {
	return s.prefix + "area:" + name
}

// Open returns the named area, registering it if absent
func (s *RedisStorage) Open(ctx context.Context, name string) (Area, error) {
	if name == "" {
		return nil, errors.New("cache area name is empty")
	}
	if err := s.client.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to create cache area %s", name)
	}
	return &redisArea{name: name, s: s}, nil
}

// Has reports whether the named area is registered
func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.namesKey(), name).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to look up cache area %s", name)
	}
	return ok, nil
}

// Names lists the areas sorted by name
func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cache areas")
	}
	sort.Strings(names)
	return names, nil
}

// Delete unregisters the area and drops its hash in one transaction
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.namesKey(), name)
		pipe.Del(ctx, s.areaKey(name))
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete cache area %s", name)
	}
	return removed.Val() > 0, nil
}

// Match looks key up in every area sorted by name
func (s *RedisStorage) Match(ctx context.Context, key string) (*Response, bool, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, name := range names {
		resp, ok, err := s.get(ctx, name, key)
		if err != nil || ok {
			return resp, ok, err
		}
	}
	return nil, false, nil
}

func (s *RedisStorage) get(ctx context.Context, name, key string) (*Response, bool, error) {
	b, err := s.client.HGet(ctx, s.areaKey(name), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read %s from cache area %s", key, name)
	}
	resp, err := decodeResponse(b)
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}

// Close closes the redis client
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

type redisArea struct {
	name string
	s    *RedisStorage
}

func (a *redisArea) Name() string {
	return a.name
}

func (a *redisArea) Match(ctx context.Context, key string) (*Response, bool, error) {
	return a.s.get(ctx, a.name, key)
}

func (a *redisArea) Put(ctx context.Context, key string, resp *Response) error {
	return a.PutAll(ctx, []Entry{{Key: key, Response: resp}})
}

// PutAll writes every entry with a single HSET
func (a *redisArea) PutAll(ctx context.Context, entries []Entry) error {
	values := make([]interface{}, 0, len(entries)*2)
	for _, e := range entries {
		if e.Key == "" {
			return ErrEmptyKey
		}
		b, err := encodeResponse(e.Response)
		if err != nil {
			return err
		}
		values = append(values, e.Key, b)
	}
	if len(values) == 0 {
		return nil
	}

	keys := []string{a.s.namesKey(), a.s.areaKey(a.name)}
	args := append([]interface{}{a.name}, values...)
	written, err := putIfAreaScript.Run(ctx, a.s.client, keys, args...).Int()
	if err != nil {
		return errors.Wrapf(err, "failed to write to cache area %s", a.name)
	}
	if written == 0 {
		return errors.Wrapf(ErrAreaNotFound, "area %s", a.name)
	}
	return nil
}

func (a *redisArea) Keys(ctx context.Context) ([]string, error) {
	keys, err := a.s.client.HKeys(ctx, a.s.areaKey(a.name)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list entries of cache area %s", a.name)
	}
	return keys, nil
}
