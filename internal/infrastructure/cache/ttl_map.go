package cache

import (
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

type ttlItem[V any] struct {
	value     V
	expiresAt time.Time
}

func (i ttlItem[V]) live(now time.Time) bool {
	return i.expiresAt.IsZero() || now.Before(i.expiresAt)
}

// ttlMap is a mutex-guarded map whose entries expire. A background sweep
// drops expired entries until Close.
type ttlMap[K comparable, V any] struct {
	mu        sync.RWMutex
	items     map[K]ttlItem[V]
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newTTLMap[K comparable, V any]() *ttlMap[K, V] {
	m := &ttlMap[K, V]{
		items: make(map[K]ttlItem[V]),
		stop:  make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

func (m *ttlMap[K, V]) get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[key]
	if !ok || !item.live(time.Now()) {
		var zero V
		return zero, false
	}
	return item.value, true
}

func (m *ttlMap[K, V]) set(key K, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = newItem(value, ttl)
}

// setIfAbsent stores value unless a live entry exists and reports whether it stored
func (m *ttlMap[K, V]) setIfAbsent(key K, value V, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[key]; ok && item.live(time.Now()) {
		return false
	}
	m.items[key] = newItem(value, ttl)
	return true
}

func (m *ttlMap[K, V]) delete(keys ...K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
}

func (m *ttlMap[K, V]) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[K]ttlItem[V])
}

func (m *ttlMap[K, V]) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *ttlMap[K, V]) close() {
	m.closeOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()
	})
}

func (m *ttlMap[K, V]) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *ttlMap[K, V]) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for k, item := range m.items {
		if !item.live(now) {
			delete(m.items, k)
		}
	}
}

func newItem[V any](value V, ttl time.Duration) ttlItem[V] {
	item := ttlItem[V]{value: value}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	return item
}
