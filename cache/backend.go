package cache

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	// ErrEntryNotFound represents an error where a cache entry was not found
	ErrEntryNotFound = errors.New("cache entry not found")
)

const (
	namePrefix  = "n:"
	entryPrefix = "e:"
	// separates the generation name from the request key
	entrySep = "\x00"
)

// Storage holds every named cache generation in one leveldb database
type Storage struct {
	db *leveldb.DB
	m  sync.Mutex
}

// Open opens (or creates) the cache storage at dir
func Open(dir string) (*Storage, error) {
	if dir == "" {
		return nil, errors.New("cache dir not provided")
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open cache storage at %s", dir)
	}

	return &Storage{db: db}, nil
}

// OpenMemory returns a storage that lives in process memory only
func OpenMemory() (*Storage, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open in memory cache storage")
	}

	return &Storage{db: db}, nil
}

// Close closes the underlying database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Open returns the named cache generation, creating it when absent
func (s *Storage) Open(name string) (*Cache, error) {
	if name == "" {
		return nil, errors.New("cache name is empty")
	}
	if strings.Contains(name, entrySep) {
		return nil, errors.Errorf("invalid cache name %q", name)
	}

	err := s.db.Put(nameKey(name), []byte{1}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create cache %s", name)
	}

	return &Cache{name: name, s: s}, nil
}

// Has reports whether a generation with the given name exists
func (s *Storage) Has(name string) (bool, error) {
	ok, err := s.db.Has(nameKey(name), nil)
	if err != nil {
		return false, errors.Wrapf(err, "failed to look up cache %s", name)
	}

	return ok, nil
}

// Keys lists the names of all existing generations
func (s *Storage) Keys() ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(namePrefix)), nil)
	defer it.Release()

	names := []string{}
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), []byte(namePrefix))))
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to list caches")
	}

	return names, nil
}

// Delete removes a generation and all of its entries.
// It returns false when no generation with that name existed.
func (s *Storage) Delete(name string) (bool, error) {
	s.m.Lock()
	defer s.m.Unlock()

	ok, err := s.Has(name)
	if err != nil || !ok {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete(nameKey(name))
	it := s.db.NewIterator(util.BytesPrefix(entryRange(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, errors.Wrapf(err, "failed to list entries of cache %s", name)
	}

	err = s.db.Write(batch, nil)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete cache %s", name)
	}
	log.Debugf("deleted cache %s (%d keys)", name, batch.Len())

	return true, nil
}

func (s *Storage) get(name, key string) (*Entry, error) {
	data, err := s.db.Get(entryKey(name, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s from cache %s", key, name)
	}

	e := &Entry{}
	err = json.Unmarshal(data, e)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse cached entry %s", key)
	}

	return e, nil
}

// put writes all entries into the generation in a single atomic batch
func (s *Storage) put(name string, entries ...*Entry) error {
	s.m.Lock()
	defer s.m.Unlock()

	// a concurrently deleted generation must not be resurrected by a late write
	ok, err := s.Has(name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("cache %s does not exist", name)
	}

	batch := new(leveldb.Batch)
	for _, e := range entries {
		if e.Streaming() {
			return errors.Errorf("response %s is too large to be cached", e.Key())
		}
		data, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "failed to marshal cache entry to json")
		}
		batch.Put(entryKey(name, e.Key()), data)
	}

	err = s.db.Write(batch, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to write to cache %s", name)
	}

	return nil
}

func (s *Storage) keys(name string) ([]string, error) {
	prefix := entryRange(name)
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	keys := []string{}
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrapf(err, "failed to list entries of cache %s", name)
	}

	return keys, nil
}

func nameKey(name string) []byte {
	return []byte(namePrefix + name)
}

func entryRange(name string) []byte {
	return []byte(entryPrefix + name + entrySep)
}

func entryKey(name, key string) []byte {
	return []byte(entryPrefix + name + entrySep + key)
}
