package kvstore

import (
	"context"
	"sync"
)

const defaultSubBufSize = 64

// Memory is an in-process Store. Subscribers that fall behind drop changes.
type Memory struct {
	mu     sync.RWMutex
	data   map[string]string
	nextID int
	subs   map[int]chan Change
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]string),
		subs: make(map[int]chan Change),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	m.publish(Change{Key: key})
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	_, existed := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()
	if existed {
		m.publish(Change{Key: key, Deleted: true})
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan Change, func()) {
	ch := make(chan Change, defaultSubBufSize)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel
}

func (m *Memory) publish(change Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
