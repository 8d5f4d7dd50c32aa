package worker

import (
	log "github.com/sirupsen/logrus"
)

// MessageClearCache asks the worker to delete its cache generation
const MessageClearCache = "CLEAR_CACHE"

const (
	// StatusSuccess is the reply status of a handled message
	StatusSuccess = "success"
	// StatusError is the reply status of a failed message
	StatusError = "error"
)

// Message is a control message sent by a page
type Message struct {
	Type string `json:"type"`
}

// Reply is the answer to a control message
type Reply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HandleMessage answers a control message
func (w *Worker) HandleMessage(msg Message) Reply {
	switch msg.Type {
	case MessageClearCache:
		_, err := w.caches.Delete(w.c.CacheName)
		if err != nil {
			log.Errorf("failed to clear cache %s: %s", w.c.CacheName, err)
			return Reply{Status: StatusError, Error: err.Error()}
		}
		log.Infof("cleared cache %s", w.c.CacheName)
		return Reply{Status: StatusSuccess}
	default:
		return Reply{Status: StatusError, Error: "unknown message type: " + msg.Type}
	}
}
