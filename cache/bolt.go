package cache

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

const (
	filePerm os.FileMode = 0600
	dirPerm  os.FileMode = 0700
)

// NewBoltStorage opens (or creates) a bolt database at path.
// Every area is a top level bucket.
func NewBoltStorage(path string) (*BoltStorage, error) {
	if path == "" {
		return nil, errors.New("bolt database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, errors.Wrap(err, "failed to create bolt database directory")
	}
	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open bolt database")
	}

	return &BoltStorage{db: db}, nil
}

// BoltStorage is a Storage backed by a bolt database file
type BoltStorage struct {
	db *bolt.DB
}

// Open returns the named area, creating its bucket if absent
func (s *BoltStorage) Open(ctx context.Context, name string) (Area, error) {
	if name == "" {
		return nil, errors.New("cache area name is empty")
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create cache area %s", name)
	}

	return &boltArea{name: name, db: s.db}, nil
}

// Has reports whether the named bucket exists
func (s *BoltStorage) Has(ctx context.Context, name string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return found, err
}

// Names lists the buckets in byte order
func (s *BoltStorage) Names(ctx context.Context) ([]string, error) {
	names := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cache areas")
	}
	return names, nil
}

// Delete drops the named bucket
func (s *BoltStorage) Delete(ctx context.Context, name string) (bool, error) {
	deleted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete cache area %s", name)
	}
	return deleted, nil
}

// Match looks key up in every bucket within a single read transaction
func (s *BoltStorage) Match(ctx context.Context, key string) (*Response, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Cursor()
		for name, _ := c.First(); name != nil; name, _ = c.Next() {
			b := tx.Bucket(name)
			if b == nil {
				continue
			}
			if v := b.Get([]byte(key)); v != nil {
				raw = append([]byte(nil), v...)
				return nil
			}
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil, false, err
	}
	resp, err := decodeResponse(raw)
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}

// Close closes the bolt database
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

type boltArea struct {
	name string
	db   *bolt.DB
}

func (a *boltArea) Name() string {
	return a.name
}

func (a *boltArea) bucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(a.name))
	if b == nil {
		return nil, errors.Wrapf(ErrAreaNotFound, "area %s", a.name)
	}
	return b, nil
}

func (a *boltArea) Match(ctx context.Context, key string) (*Response, bool, error) {
	var raw []byte
	err := a.db.View(func(tx *bolt.Tx) error {
		b, err := a.bucket(tx)
		if err != nil {
			return err
		}
		if v := b.Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil, false, err
	}
	resp, err := decodeResponse(raw)
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}

func (a *boltArea) Put(ctx context.Context, key string, resp *Response) error {
	return a.PutAll(ctx, []Entry{{Key: key, Response: resp}})
}

// PutAll writes every entry in one bolt transaction
func (a *boltArea) PutAll(ctx context.Context, entries []Entry) error {
	encoded := make([][]byte, len(entries))
	for i, e := range entries {
		if e.Key == "" {
			return ErrEmptyKey
		}
		b, err := encodeResponse(e.Response)
		if err != nil {
			return err
		}
		encoded[i] = b
	}

	return a.db.Update(func(tx *bolt.Tx) error {
		b, err := a.bucket(tx)
		if err != nil {
			return err
		}
		for i, e := range entries {
			if err := b.Put([]byte(e.Key), encoded[i]); err != nil {
				return errors.Wrapf(err, "failed to store %s", e.Key)
			}
		}
		return nil
	})
}

func (a *boltArea) Keys(ctx context.Context) ([]string, error) {
	keys := []string{}
	err := a.db.View(func(tx *bolt.Tx) error {
		b, err := a.bucket(tx)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
