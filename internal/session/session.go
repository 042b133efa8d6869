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

// Package session stores per-tenant dialogue state for multi-turn query
// processing. It supports both in-memory and Redis-based storage with
// per-record expiration.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/resilience"
)

// StorageType represents the type of storage backend for dialogue state
type StorageType string

const (
	// MemoryStorageType keeps dialogue state in process memory
	MemoryStorageType StorageType = "memory"
	// RedisStorageType keeps dialogue state in Redis
	RedisStorageType StorageType = "redis"
)

const (
	pendingKeyPrefix = "pending:"
	lastKeyPrefix    = "last:"
)

// Config holds configuration for dialogue state management
type Config struct {
	StorageType     StorageType   `json:"storage_type"`
	RedisURL        string        `json:"redis_url,omitempty"`
	KeyPrefix       string        `json:"key_prefix"`
	PendingTTL      time.Duration `json:"pending_ttl"`
	LastContextTTL  time.Duration `json:"last_context_ttl"`
	MaxEntries      int           `json:"max_entries"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	LockStripes     int           `json:"lock_stripes"`
}

// DefaultConfig returns default dialogue state configuration
func DefaultConfig() Config {
	return Config{
		StorageType:     MemoryStorageType,
		KeyPrefix:       "broiler:",
		PendingTTL:      30 * time.Minute,
		LastContextTTL:  300 * time.Second,
		MaxEntries:      10000,
		CleanupInterval: 5 * time.Minute,
		LockStripes:     64,
	}
}

// PendingClarification is an unanswered clarification question. There is at
// most one per tenant; saving a new one replaces the old.
type PendingClarification struct {
	TenantID              string                      `json:"tenant_id"`
	OriginalQuery         string                      `json:"original_query"`
	AccumulatedQuery      string                      `json:"accumulated_query"`
	Intent                string                      `json:"intent"`
	RequiredFields        []entities.Field            `json:"required_fields"`
	MissingFields         []entities.Field            `json:"missing_fields"`
	Suggestions           map[entities.Field][]string `json:"suggestions,omitempty"`
	Language              string                      `json:"language"`
	OriginalLanguage      string                      `json:"original_language"`
	PartialEntities       entities.Entities           `json:"partial_entities"`
	Answered              []entities.Field            `json:"answered,omitempty"`
	ClarificationCount    int                         `json:"clarification_count"`
	ClarificationAttempts int                         `json:"clarification_attempts"`
	CreatedAt             time.Time                   `json:"created_at"`
	UpdatedAt             time.Time                   `json:"updated_at"`
}

// LastContext is the most recent successfully answered query of a tenant.
type LastContext struct {
	TenantID  string            `json:"tenant_id"`
	Query     string            `json:"query"`
	Entities  entities.Entities `json:"entities"`
	Language  string            `json:"language"`
	Timestamp time.Time         `json:"timestamp"`
}

// ErrNotFound is returned by storage backends for missing or expired keys.
var ErrNotFound = errors.New("session key not found")

// Storage defines the interface for dialogue state backends
type Storage interface {
	// Get returns the value stored under key or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a value; a zero ttl never expires
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a key; missing keys are not an error
	Delete(ctx context.Context, key string) error
	// Exists checks if a live key exists
	Exists(ctx context.Context, key string) (bool, error)
	// Cleanup removes expired entries
	Cleanup(ctx context.Context) error
	// Ping checks backend health
	Ping(ctx context.Context) error
	// Close closes the storage backend
	Close() error
}

// Manager reads and writes typed dialogue records and hands out per-tenant
// locks. Callers hold the tenant lock across a read-modify-write sequence.
type Manager struct {
	storage Storage
	config  Config
	locks   *KeyedMutex
	logger  *zap.Logger
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewManager creates a new manager with the configured storage backend
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var storage Storage
	var err error

	switch config.StorageType {
	case MemoryStorageType, "":
		storage = NewMemoryStorage(config.MaxEntries)
	case RedisStorageType:
		storage, err = NewRedisStorage(config.RedisURL, config.KeyPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis storage: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.StorageType)
	}

	return NewManagerWithStorage(storage, config, logger), nil
}

// NewManagerWithStorage creates a manager over an existing backend
func NewManagerWithStorage(storage Storage, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.LastContextTTL <= 0 {
		config.LastContextTTL = DefaultConfig().LastContextTTL
	}

	manager := &Manager{
		storage: storage,
		config:  config,
		locks:   NewKeyedMutex(config.LockStripes),
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	// Redis expires keys itself
	if _, isMemory := storage.(*MemoryStorage); isMemory && config.CleanupInterval > 0 {
		manager.wg.Add(1)
		go manager.cleanupLoop()
	}

	return manager
}

// SetClock replaces the time source used for expiry decisions
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Now returns the manager's current time
func (m *Manager) Now() time.Time {
	return m.now()
}

// Config returns the manager configuration
func (m *Manager) Config() Config {
	return m.config
}

// Lock acquires the lock for a tenant and returns its release function
func (m *Manager) Lock(tenantID string) func() {
	return m.locks.Lock(tenantID)
}

// GetPending returns the tenant's pending clarification or nil
func (m *Manager) GetPending(ctx context.Context, tenantID string) (*PendingClarification, error) {
	var pending PendingClarification
	found, err := m.load(ctx, pendingKeyPrefix+tenantID, &pending)
	if err != nil || !found {
		return nil, err
	}

	if m.config.PendingTTL > 0 && m.now().Sub(pending.UpdatedAt) > m.config.PendingTTL {
		m.logger.Debug("Pending clarification expired",
			zap.String("tenant_id", tenantID),
			zap.Time("updated_at", pending.UpdatedAt))
		if err := m.DeletePending(ctx, tenantID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &pending, nil
}

// SavePending stores a pending clarification, replacing any previous one
func (m *Manager) SavePending(ctx context.Context, pending *PendingClarification) error {
	if pending == nil || pending.TenantID == "" {
		return fmt.Errorf("pending clarification requires a tenant id")
	}

	now := m.now()
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = now
	}
	pending.UpdatedAt = now

	if err := m.store(ctx, pendingKeyPrefix+pending.TenantID, pending, m.config.PendingTTL); err != nil {
		return fmt.Errorf("failed to save pending clarification: %w", err)
	}

	m.logger.Debug("Saved pending clarification",
		zap.String("tenant_id", pending.TenantID),
		zap.Int("clarification_attempts", pending.ClarificationAttempts))
	return nil
}

// DeletePending removes the tenant's pending clarification
func (m *Manager) DeletePending(ctx context.Context, tenantID string) error {
	if err := m.storage.Delete(ctx, pendingKeyPrefix+tenantID); err != nil {
		return fmt.Errorf("failed to delete pending clarification: %w", err)
	}
	return nil
}

// GetLastContext returns the tenant's last successful context while it is
// younger than the configured TTL. A record the storage still holds past
// the TTL is evicted and reported as resilience.ErrStaleContext.
func (m *Manager) GetLastContext(ctx context.Context, tenantID string) (*LastContext, error) {
	var last LastContext
	found, err := m.load(ctx, lastKeyPrefix+tenantID, &last)
	if err != nil || !found {
		return nil, err
	}

	if m.now().Sub(last.Timestamp) > m.config.LastContextTTL {
		m.logger.Debug("Last context is stale",
			zap.String("tenant_id", tenantID),
			zap.Time("timestamp", last.Timestamp))
		if err := m.DeleteLastContext(ctx, tenantID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("tenant %s: %w", tenantID, resilience.ErrStaleContext)
	}

	return &last, nil
}

// SaveLastContext stores the tenant's last successful context
func (m *Manager) SaveLastContext(ctx context.Context, last *LastContext) error {
	if last == nil || last.TenantID == "" {
		return fmt.Errorf("last context requires a tenant id")
	}
	if last.Timestamp.IsZero() {
		last.Timestamp = m.now()
	}

	if err := m.store(ctx, lastKeyPrefix+last.TenantID, last, m.config.LastContextTTL); err != nil {
		return fmt.Errorf("failed to save last context: %w", err)
	}
	return nil
}

// DeleteLastContext removes the tenant's last successful context
func (m *Manager) DeleteLastContext(ctx context.Context, tenantID string) error {
	if err := m.storage.Delete(ctx, lastKeyPrefix+tenantID); err != nil {
		return fmt.Errorf("failed to delete last context: %w", err)
	}
	return nil
}

// Ping checks the storage backend
func (m *Manager) Ping(ctx context.Context) error {
	return m.storage.Ping(ctx)
}

func (m *Manager) load(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := m.storage.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		m.logger.Warn("Discarding undecodable dialogue record", zap.String("key", key), zap.Error(err))
		_ = m.storage.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

func (m *Manager) store(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return m.storage.Set(ctx, key, data, ttl)
}

// cleanupLoop runs periodic cleanup of expired entries
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.storage.Cleanup(ctx); err != nil {
				m.logger.Error("Failed to cleanup expired dialogue state", zap.Error(err))
			}
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// Close stops the cleanup loop and closes the storage backend
func (m *Manager) Close() error {
	m.stopped.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	if err := m.storage.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}

	return nil
}

// GetStats returns dialogue state statistics
func (m *Manager) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"storage_type":     string(m.config.StorageType),
		"max_entries":      m.config.MaxEntries,
		"pending_ttl":      m.config.PendingTTL.String(),
		"last_context_ttl": m.config.LastContextTTL.String(),
		"lock_stripes":     m.locks.Stripes(),
	}
	if mem, ok := m.storage.(*MemoryStorage); ok {
		for k, v := range mem.GetStats() {
			stats[k] = v
		}
	}
	return stats
}
