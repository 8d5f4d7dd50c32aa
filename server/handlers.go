package server

import (
	"encoding/json"
	"net/http"

	"github.com/chrisvdg/recoverycache/worker"
	log "github.com/sirupsen/logrus"
)

func newHandlers(w *worker.Worker) *handlers {
	return &handlers{w: w}
}

type handlers struct {
	w *worker.Worker
}

// MessageHandler is the control channel of the worker, the response is the reply
func (h *handlers) MessageHandler(res http.ResponseWriter, req *http.Request) {
	msg := worker.Message{}
	err := json.NewDecoder(req.Body).Decode(&msg)
	if err != nil {
		writeJSON(res, http.StatusBadRequest, worker.Reply{Status: worker.StatusError, Error: "invalid message: " + err.Error()})
		return
	}

	reply := h.w.HandleMessage(msg)
	status := http.StatusOK
	if reply.Status != worker.StatusSuccess {
		status = http.StatusInternalServerError
		if msg.Type != worker.MessageClearCache {
			status = http.StatusBadRequest
		}
	}
	writeJSON(res, status, reply)
}

// HealthHandler reports the lifecycle state of the worker
func (h *handlers) HealthHandler(res http.ResponseWriter, req *http.Request) {
	state := h.w.State()
	status := http.StatusOK
	if state != worker.StateActivated {
		status = http.StatusServiceUnavailable
	}
	writeJSON(res, status, map[string]string{
		"state": string(state),
		"cache": h.w.CacheName(),
	})
}

func writeJSON(res http.ResponseWriter, status int, v interface{}) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(status)
	err := json.NewEncoder(res).Encode(v)
	if err != nil {
		log.Errorf("failed to write reply: %s", err)
	}
}
