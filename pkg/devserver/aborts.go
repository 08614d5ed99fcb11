package devserver

import (
	"context"
	"sync"
)

type runningPrediction struct {
	cancel context.CancelFunc
}

// abortRegistry tracks the running prediction of each chat
type abortRegistry struct {
	mu      sync.Mutex
	running map[string]*runningPrediction
}

func newAbortRegistry() *abortRegistry {
	return &abortRegistry{running: make(map[string]*runningPrediction)}
}

func abortKey(chatflowID, chatID string) string {
	return chatflowID + "_" + chatID
}

// register records cancel under key, cancelling a prediction already
// running there. The returned func removes the entry if it is still ours.
func (a *abortRegistry) register(key string, cancel context.CancelFunc) func() {
	entry := &runningPrediction{cancel: cancel}

	a.mu.Lock()
	if prev, ok := a.running[key]; ok {
		prev.cancel()
	}
	a.running[key] = entry
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.running[key] == entry {
			delete(a.running, key)
		}
	}
}

// abort cancels the prediction running under key
func (a *abortRegistry) abort(key string) bool {
	a.mu.Lock()
	entry, ok := a.running[key]
	delete(a.running, key)
	a.mu.Unlock()

	if ok {
		entry.cancel()
	}
	return ok
}

func (a *abortRegistry) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.running)
}
