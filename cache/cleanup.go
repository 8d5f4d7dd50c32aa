package cache

import (
	log "github.com/sirupsen/logrus"
)

// Purge deletes every generation except current and returns the deleted names.
// A failure to delete one generation is logged and does not stop the others.
func (s *Storage) Purge(current string) ([]string, error) {
	log.Debug("Started purging stale caches")
	names, err := s.Keys()
	if err != nil {
		return nil, err
	}

	deleted := []string{}
	for _, name := range names {
		if name == current {
			continue
		}
		ok, err := s.Delete(name)
		if err != nil {
			log.Errorf("Failed to delete cache %s: %s", name, err)
			continue
		}
		if ok {
			log.Infof("Deleted stale cache %s", name)
			deleted = append(deleted, name)
		}
	}
	log.Debug("Finished purging stale caches")

	return deleted, nil
}
