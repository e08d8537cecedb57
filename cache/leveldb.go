package cache

import (
	"bytes"
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	areaPrefix  = []byte("a:")
	entryPrefix = []byte("e:")
)

// NewLevelDBStorage opens (or creates) a leveldb database in the directory path
func NewLevelDBStorage(path string) (*LevelDBStorage, error) {
	if path == "" {
		return nil, errors.New("leveldb path is empty")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open leveldb")
	}
	return newLevelDBStorage(db), nil
}

func newLevelDBStorage(db *leveldb.DB) *LevelDBStorage {
	return &LevelDBStorage{db: db}
}

// LevelDBStorage is a Storage backed by leveldb.
// Area markers live under "a:<name>", entries under "e:<name>\x00<key>".
type LevelDBStorage struct {
	db *leveldb.DB
	// m orders area deletion against writes into the area
	m sync.RWMutex
}

func areaKey(name string) []byte {
	return append(append([]byte(nil), areaPrefix...), name...)
}

func areaEntriesPrefix(name string) []byte {
	p := append(append([]byte(nil), entryPrefix...), name...)
	return append(p, 0)
}

func entryKey(name, key string) []byte {
	return append(areaEntriesPrefix(name), key...)
}

// Open returns the named area, writing its marker if absent
func (s *LevelDBStorage) Open(ctx context.Context, name string) (Area, error) {
	if name == "" {
		return nil, errors.New("cache area name is empty")
	}
	s.m.RLock()
	defer s.m.RUnlock()
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.db.Put(areaKey(name), []byte{1}, nil); err != nil {
			return nil, errors.Wrapf(err, "failed to create cache area %s", name)
		}
	}

	return &levelDBArea{name: name, s: s}, nil
}

// Has reports whether the named area marker exists
func (s *LevelDBStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.db.Has(areaKey(name), nil)
	if err != nil {
		return false, errors.Wrapf(err, "failed to look up cache area %s", name)
	}
	return ok, nil
}

// Names lists the areas in byte order
func (s *LevelDBStorage) Names(ctx context.Context) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix(areaPrefix), nil)
	defer it.Release()

	names := []string{}
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), areaPrefix)))
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to list cache areas")
	}
	return names, nil
}

// Delete removes the area marker and every entry of the area in one batch
func (s *LevelDBStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.m.Lock()
	defer s.m.Unlock()
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete(areaKey(name))
	it := s.db.NewIterator(util.BytesPrefix(areaEntriesPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, errors.Wrapf(err, "failed to list entries of cache area %s", name)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, errors.Wrapf(err, "failed to delete cache area %s", name)
	}

	return true, nil
}

// Match looks key up in every area in byte order
func (s *LevelDBStorage) Match(ctx context.Context, key string) (*Response, bool, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, name := range names {
		resp, ok, err := s.get(name, key)
		if err != nil || ok {
			return resp, ok, err
		}
	}
	return nil, false, nil
}

func (s *LevelDBStorage) get(name, key string) (*Response, bool, error) {
	b, err := s.db.Get(entryKey(name, key), nil)
	if err == leveldb.ErrNotFound {
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

// Close closes the database
func (s *LevelDBStorage) Close() error {
	return s.db.Close()
}

type levelDBArea struct {
	name string
	s    *LevelDBStorage
}

func (a *levelDBArea) Name() string {
	return a.name
}

func (a *levelDBArea) Match(ctx context.Context, key string) (*Response, bool, error) {
	return a.s.get(a.name, key)
}

func (a *levelDBArea) Put(ctx context.Context, key string, resp *Response) error {
	return a.PutAll(ctx, []Entry{{Key: key, Response: resp}})
}

// PutAll writes every entry in one leveldb batch
func (a *levelDBArea) PutAll(ctx context.Context, entries []Entry) error {
	a.s.m.RLock()
	defer a.s.m.RUnlock()
	ok, err := a.s.Has(ctx, a.name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrAreaNotFound, "area %s", a.name)
	}

	batch := new(leveldb.Batch)
	for _, e := range entries {
		if e.Key == "" {
			return ErrEmptyKey
		}
		b, err := encodeResponse(e.Response)
		if err != nil {
			return err
		}
		batch.Put(entryKey(a.name, e.Key), b)
	}
	if err := a.s.db.Write(batch, nil); err != nil {
		return errors.Wrapf(err, "failed to write to cache area %s", a.name)
	}
	return nil
}

func (a *levelDBArea) Keys(ctx context.Context) ([]string, error) {
	prefix := areaEntriesPrefix(a.name)
	it := a.s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	keys := []string{}
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrapf(err, "failed to list entries of cache area %s", a.name)
	}
	return keys, nil
}
