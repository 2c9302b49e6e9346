package event

import (
	"slices"
	"sync"

	"github.com/tradeledger/backend/internal/domain/shared"
)

// HandlerRegistry indexes handlers by event type. A handler registered with
// no types is a catch-all and sees every event after the typed handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	byType   map[string][]shared.EventHandler
	catchAll []shared.EventHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{byType: make(map[string][]shared.EventHandler)}
}

func (r *HandlerRegistry) Register(handler shared.EventHandler, eventTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(eventTypes) == 0 {
		r.catchAll = append(r.catchAll, handler)
		return
	}
	for _, eventType := range eventTypes {
		r.byType[eventType] = append(r.byType[eventType], handler)
	}
}

// Unregister drops handler everywhere it was registered.
func (r *HandlerRegistry) Unregister(handler shared.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	match := func(h shared.EventHandler) bool { return h == handler }
	r.catchAll = slices.DeleteFunc(r.catchAll, match)
	for eventType, handlers := range r.byType {
		remaining := slices.DeleteFunc(handlers, match)
		if len(remaining) == 0 {
			delete(r.byType, eventType)
			continue
		}
		r.byType[eventType] = remaining
	}
}

// HandlersFor returns a snapshot safe to iterate without the lock.
func (r *HandlerRegistry) HandlersFor(eventType string) []shared.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Concat(r.byType[eventType], r.catchAll)
}

// Handlers lists each registered handler once.
func (r *HandlerRegistry) Handlers() []shared.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := slices.Clone(r.catchAll)
	for _, handlers := range r.byType {
		for _, h := range handlers {
			if !slices.Contains(all, h) {
				all = append(all, h)
			}
		}
	}
	return all
}
