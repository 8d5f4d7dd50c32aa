// Package cache implements named, versioned response cache generations on
// top of a single leveldb database. Exactly one generation is expected to be
// current at a time; stale generations can be enumerated and purged.
package cache

import (
	"net/url"
)

// Cache represents one named cache generation
type Cache struct {
	name string
	s    *Storage
}

// Name returns the generation name
func (c *Cache) Name() string {
	return c.name
}

// Match returns the entry stored for the request URL or ErrEntryNotFound
func (c *Cache) Match(u *url.URL) (*Entry, error) {
	return c.s.get(c.name, RequestKey(u))
}

// Put stores the entry, overwriting any earlier entry for the same request
func (c *Cache) Put(e *Entry) error {
	return c.s.put(c.name, e)
}

// PutAll stores all entries atomically, either all of them are written or none
func (c *Cache) PutAll(entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return c.s.put(c.name, entries...)
}

// Keys lists the request keys stored in this generation
func (c *Cache) Keys() ([]string, error) {
	return c.s.keys(c.name)
}

// Match looks the request URL up in the named generation without creating it
func (s *Storage) Match(name string, u *url.URL) (*Entry, error) {
	return s.get(name, RequestKey(u))
}
