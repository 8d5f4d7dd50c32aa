package adapter

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// fallbackStore holds the last good payload per key. It is loaded once and
// every write merges into the blob currently in storage before writing it
// back whole.
type fallbackStore struct {
	storage Storage
	key     string

	m    sync.Mutex
	data map[string]json.RawMessage
}

func loadFallbackStore(storage Storage, key string) *fallbackStore {
	s := &fallbackStore{
		storage: storage,
		key:     key,
	}

	data, err := s.read()
	if err != nil {
		log.Warnf("Offline data not loaded, starting empty: %s", err)
		data = map[string]json.RawMessage{}
	}
	s.data = data

	return s
}

// read parses the stored blob, an absent blob is an empty store
func (s *fallbackStore) read() (map[string]json.RawMessage, error) {
	data := map[string]json.RawMessage{}
	blob, err := s.storage.Get(s.key)
	if err == ErrNotExist {
		return data, nil
	}
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return data, nil
	}

	err = json.Unmarshal(blob, &data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse offline data")
	}
	if data == nil {
		data = map[string]json.RawMessage{}
	}

	return data, nil
}

func (s *fallbackStore) get(key string) (json.RawMessage, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// put merges the payload into the stored blob. Storage failures are logged only.
func (s *fallbackStore) put(key string, payload json.RawMessage) {
	s.m.Lock()
	defer s.m.Unlock()

	merged, err := s.read()
	if err != nil {
		log.Warnf("Offline data unreadable, rewriting from memory: %s", err)
		merged = make(map[string]json.RawMessage, len(s.data)+1)
		for k, v := range s.data {
			merged[k] = v
		}
	}
	merged[key] = payload
	s.data = merged

	blob, err := json.Marshal(merged)
	if err != nil {
		log.Errorf("Failed to marshal offline data: %s", err)
		return
	}
	err = s.storage.Set(s.key, blob)
	if err != nil {
		log.Errorf("Failed to save offline data: %s", err)
	}
}
