// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	value      []byte
	expiresAt  time.Time
	accessedAt time.Time
}

// MemoryStorage provides in-memory storage with lazy expiry and LRU eviction
type MemoryStorage struct {
	entries    map[string]*memoryEntry
	maxEntries int
	now        func() time.Time
	mutex      sync.Mutex
}

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage(maxEntries int) *MemoryStorage {
	if maxEntries <= 0 {
		maxEntries = DefaultConfig().MaxEntries
	}
	return &MemoryStorage{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// SetClock replaces the time source used for expiry
func (m *MemoryStorage) SetClock(now func() time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if now != nil {
		m.now = now
	}
}

// Get retrieves a value; expired entries are removed on read
func (m *MemoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, exists := m.entries[key]
	if !exists {
		return nil, ErrNotFound
	}

	now := m.now()
	if entry.expired(now) {
		delete(m.entries, key)
		return nil, ErrNotFound
	}

	entry.accessedAt = now

	// Return a copy to prevent external modification
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a value with optional TTL
func (m *MemoryStorage) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		if err := m.evictOldestEntry(now); err != nil {
			return fmt.Errorf("failed to evict entry: %w", err)
		}
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	entry := &memoryEntry{value: stored, accessedAt: now}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	m.entries[key] = entry

	return nil
}

// Delete removes a value
func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.entries, key)
	return nil
}

// Exists checks if a live entry exists
func (m *MemoryStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, exists := m.entries[key]
	return exists && !entry.expired(m.now()), nil
}

// Cleanup removes expired entries
func (m *MemoryStorage) Cleanup(_ context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
		}
	}

	return nil
}

// Ping always succeeds for in-memory storage
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close clears all entries
func (m *MemoryStorage) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.entries = make(map[string]*memoryEntry)
	return nil
}

// evictOldestEntry drops expired entries first, then the least recently
// used one. Caller holds the mutex.
func (m *MemoryStorage) evictOldestEntry(now time.Time) error {
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
		}
	}
	if len(m.entries) < m.maxEntries {
		return nil
	}

	var oldestKey string
	var oldestTime time.Time
	for key, entry := range m.entries {
		if oldestKey == "" || entry.accessedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.accessedAt
		}
	}

	if oldestKey == "" {
		return fmt.Errorf("no entry to evict")
	}

	delete(m.entries, oldestKey)
	return nil
}

// GetStats returns storage statistics
func (m *MemoryStorage) GetStats() map[string]interface{} {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return map[string]interface{}{
		"entries":     len(m.entries),
		"max_entries": m.maxEntries,
	}
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}
