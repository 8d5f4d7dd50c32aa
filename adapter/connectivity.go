package adapter

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Connectivity is the online/offline status of the adapter
type Connectivity int

const (
	// Online means requests go to the network
	Online Connectivity = iota
	// Offline means requests are answered from memory and offline data only
	Offline
)

func (c Connectivity) String() string {
	if c == Offline {
		return "offline"
	}
	return "online"
}

// ConnectivityEvent is delivered to subscribers on every status update
type ConnectivityEvent struct {
	Online bool `json:"online"`
}

// Online reports whether the adapter is online
func (a *Adapter) Online() bool {
	return a.online.Load()
}

// Connectivity returns the current connectivity state
func (a *Adapter) Connectivity() Connectivity {
	if a.Online() {
		return Online
	}
	return Offline
}

// SetOnlineStatus records a connectivity signal. Going from offline to online
// starts a background sync of every memoized request. Subscribers are
// notified on every call, also when the status did not change.
func (a *Adapter) SetOnlineStatus(online bool) {
	was := a.online.Swap(online)
	log.Debugf("connectivity signal: %s", a.Connectivity())
	if online && !was {
		reqs := a.snapshot()
		log.Infof("%s again, syncing %d cached requests", a.Connectivity(), len(reqs))

		a.syncs.Add(1)
		go func() {
			defer a.syncs.Done()
			err := a.resync(context.Background(), reqs)
			if err != nil {
				log.Warnf("sync after reconnect incomplete: %s", err)
			}
		}()
	} else if !online && was {
		log.Infof("%s, serving cached data", a.Connectivity())
	}

	a.notify(ConnectivityEvent{Online: online})
}

// Subscribe registers fn for connectivity events until unsubscribe is called
func (a *Adapter) Subscribe(fn func(ConnectivityEvent)) (unsubscribe func()) {
	a.lm.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.lm.Unlock()

	return func() {
		a.lm.Lock()
		delete(a.listeners, id)
		a.lm.Unlock()
	}
}

func (a *Adapter) notify(ev ConnectivityEvent) {
	a.lm.Lock()
	fns := make([]func(ConnectivityEvent), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.lm.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Watch feeds connectivity signals to SetOnlineStatus until ctx is done or
// signals is closed
func (a *Adapter) Watch(ctx context.Context, signals <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-signals:
			if !ok {
				return
			}
			a.SetOnlineStatus(online)
		}
	}
}
