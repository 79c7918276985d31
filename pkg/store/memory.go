// pkg/store/memory.go
// Copyright(c) 2024-2026 vatevents contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mmp/vatevents/pkg/util"
)

// Memory implements Store in process memory, with sentinel expiry driven
// by real timers. It backs the tracker tests and broker-less local runs.
type Memory struct {
	mu      sync.Mutex
	values  map[string][]byte
	timers  map[string]*time.Timer
	expired chan string
}

func NewMemory() *Memory {
	return &Memory{
		values:  make(map[string][]byte),
		timers:  make(map[string]*time.Timer),
		expired: make(chan string, 64),
	}
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(key)
	return nil
}

func (m *Memory) remove(key string) {
	delete(m.values, key)
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

func (m *Memory) Scan(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return util.FilterSlice(util.SortedMapKeys(m.values),
		func(k string) bool { return strings.HasPrefix(k, prefix) }), nil
}

func (m *Memory) Arm(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.values[key]; !ok {
		return false, nil
	}
	if t, ok := m.timers[key]; ok {
		t.Stop()
	}
	m.timers[key] = time.AfterFunc(ttl, func() { m.expire(key) })
	return true, nil
}

func (m *Memory) expire(key string) {
	m.mu.Lock()
	m.remove(key)
	m.mu.Unlock()

	// Expiry delivery is at-least-once for subscribers that keep up; a
	// full channel drops the firing rather than blocking the timer
	// goroutine.
	select {
	case m.expired <- key:
	default:
	}
}

func (m *Memory) SubscribeExpiries(ctx context.Context) (<-chan string, error) {
	return m.expired, nil
}
