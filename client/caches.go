// SPDX-License-Identifier: ice License 1.0

package client

import (
	"sync"
)

// boundedMap is a small capacity-bounded map with insertion-order eviction.
// These are safety nets against unbounded growth during long sessions, not
// performance caches, so oldest-inserted beats LRU on simplicity.
type boundedMap[K comparable, V any] struct {
	mx       sync.Mutex
	capacity int
	entries  map[K]V
	order    []K
}

func newBoundedMap[K comparable, V any](capacity int) *boundedMap[K, V] {
	if capacity <= 0 {
		capacity = 1024
	}

	return &boundedMap[K, V]{capacity: capacity, entries: make(map[K]V)}
}

func (m *boundedMap[K, V]) Put(key K, value V) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if _, found := m.entries[key]; !found {
		m.order = append(m.order, key)
		for len(m.order) > m.capacity {
			oldest := m.order[0]
			m.order = m.order[1:]
			delete(m.entries, oldest)
		}
	}
	m.entries[key] = value
}

func (m *boundedMap[K, V]) Get(key K) (V, bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	value, found := m.entries[key]

	return value, found
}

func (m *boundedMap[K, V]) Delete(key K) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if _, found := m.entries[key]; !found {
		return
	}
	delete(m.entries, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *boundedMap[K, V]) Has(key K) bool {
	m.mx.Lock()
	defer m.mx.Unlock()
	_, found := m.entries[key]

	return found
}

func (m *boundedMap[K, V]) Len() int {
	m.mx.Lock()
	defer m.mx.Unlock()

	return len(m.order)
}

func (m *boundedMap[K, V]) Keys() []K {
	m.mx.Lock()
	defer m.mx.Unlock()

	return append([]K(nil), m.order...)
}
