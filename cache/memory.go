package cache

import (
	"context"
	"errors"
	"sync"
)

// ErrMediumUnavailable is returned by a Memory medium that has been broken
// with Fail.
var ErrMediumUnavailable = errors.New("cache medium unavailable")

// Memory is an in-process Medium, used when no durable medium is
// available and in tests.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	broken bool
}

// NewMemory creates an empty in-memory medium.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.broken {
		return "", false, ErrMediumUnavailable
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken {
		return ErrMediumUnavailable
	}
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken {
		return ErrMediumUnavailable
	}
	delete(m.values, key)
	return nil
}

// Fail makes every subsequent operation return ErrMediumUnavailable until
// Restore is called.
func (m *Memory) Fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broken = true
}

// Restore undoes Fail.
func (m *Memory) Restore() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broken = false
}

// Raw overwrites a key without encoding, for corrupting entries in tests.
func (m *Memory) Raw(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}
