package adapter

import (
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

const (
	filePerm os.FileMode = 0666
	dirPerm  os.FileMode = 0700
)

var (
	// ErrNotExist is returned by a Storage for keys that were never written
	ErrNotExist = errors.New("storage key does not exist")
)

// Storage is a durable key value store for whole blobs.
// Set must replace the value of a key atomically.
type Storage interface {
	Get(key string) ([]byte, error)
	Set(key string, data []byte) error
}

// NewFileStorage returns a storage that keeps one file per key in dir
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, errors.New("storage dir not provided")
	}
	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage dir")
	}

	return &FileStorage{dir: dir}, nil
}

// FileStorage is a Storage backed by plain files
type FileStorage struct {
	dir string
}

func (f *FileStorage) path(key string) string {
	return filepath.Join(f.dir, url.QueryEscape(key)+".json")
}

// Get reads the blob stored under key
func (f *FileStorage) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read storage file")
	}

	return data, nil
}

// Set replaces the file of key atomically, a crash leaves either the old or
// the new blob
func (f *FileStorage) Set(key string, data []byte) error {
	err := renameio.WriteFile(f.path(key), data, filePerm)
	if err != nil {
		return errors.Wrap(err, "failed to write storage file")
	}

	return nil
}

// OpenLevelDBStorage opens (or creates) a leveldb backed storage in dir
func OpenLevelDBStorage(dir string) (*LevelDBStorage, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open storage at %s", dir)
	}

	return &LevelDBStorage{db: db}, nil
}

// LevelDBStorage is a Storage backed by a leveldb database
type LevelDBStorage struct {
	db *leveldb.DB
}

// Get reads the blob stored under key
func (l *LevelDBStorage) Get(key string) ([]byte, error) {
	data, err := l.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read from storage")
	}

	return data, nil
}

// Set replaces the blob stored under key
func (l *LevelDBStorage) Set(key string, data []byte) error {
	err := l.db.Put([]byte(key), data, nil)
	if err != nil {
		return errors.Wrap(err, "failed to write to storage")
	}

	return nil
}

// Close closes the database
func (l *LevelDBStorage) Close() error {
	return l.db.Close()
}
