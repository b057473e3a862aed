package notify

import (
	"context"
	"sync"
)

// Hub is an in-process Bus.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]Handler)}
}

func (h *Hub) Subscribe(_ context.Context, scope string, handler Handler) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	if h.subs[scope] == nil {
		h.subs[scope] = make(map[int]Handler)
	}
	h.subs[scope][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[scope], id)
			if len(h.subs[scope]) == 0 {
				delete(h.subs, scope)
			}
		})
	}, nil
}

// Publish calls every handler of scope synchronously.
func (h *Hub) Publish(_ context.Context, scope string, ev ChangeEvent) error {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.subs[scope]))
	for _, fn := range h.subs[scope] {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
	return nil
}

// Subscribers reports the number of live subscriptions for scope.
func (h *Hub) Subscribers(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[scope])
}

func (h *Hub) Close() error {
	h.mu.Lock()
	h.subs = make(map[string]map[int]Handler)
	h.mu.Unlock()
	return nil
}
