// Package stream tracks which stream keys have an active publisher, so
// listener ingest accepts one publisher per key.
package stream

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrPublisherActive is returned when a key already has a publisher.
var ErrPublisherActive = errors.New("stream: publisher already active")

// Publisher is the current owner of a stream key.
type Publisher struct {
	Key       string
	Remote    string
	StartedAt time.Time
	done      chan struct{}
}

// Done is closed when the publisher is released.
func (p *Publisher) Done() <-chan struct{} { return p.done }

// Manager hands out stream keys to publishers.
type Manager struct {
	log        *slog.Logger
	mu         sync.RWMutex
	publishers map[string]*Publisher
}

// NewManager creates a new manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:        log.With("component", "stream-manager"),
		publishers: make(map[string]*Publisher),
	}
}

// Acquire claims key for a publisher at remote. It fails with
// ErrPublisherActive while another publisher holds the key.
func (m *Manager) Acquire(key, remote string) (*Publisher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.publishers[key]; ok {
		m.log.Warn("rejecting duplicate publisher", "key", key, "remote", remote, "active", cur.Remote)
		return nil, ErrPublisherActive
	}

	p := &Publisher{
		Key:       key,
		Remote:    remote,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	m.publishers[key] = p
	m.log.Info("publisher started", "key", key, "remote", remote)
	return p, nil
}

// Active reports whether key has a publisher.
func (m *Manager) Active(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.publishers[key]
	return ok
}

// Release frees key. Releasing a free key does nothing.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	p, ok := m.publishers[key]
	if ok {
		delete(m.publishers, key)
	}
	m.mu.Unlock()

	if ok {
		close(p.done)
		m.log.Info("publisher ended", "key", key, "duration", time.Since(p.StartedAt).Round(time.Millisecond))
	}
}

// List returns the active publishers.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Publisher, 0, len(m.publishers))
	for _, p := range m.publishers {
		out = append(out, p)
	}
	return out
}
