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

package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// CircuitClosed lets every call through
	CircuitClosed CircuitState = iota
	// CircuitOpen fails fast
	CircuitOpen
	// CircuitHalfOpen lets a few trial calls through
	CircuitHalfOpen
)

// String returns the string representation of the circuit state
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for circuit breaker behavior
type CircuitBreakerConfig struct {
	Name                string
	MaxFailures         int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	IsFailureFunc       func(error) bool
}

// DefaultCircuitBreakerConfig returns the configuration used per retrieval backend
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:                name,
		MaxFailures:         5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxRequests: 2,
		IsFailureFunc:       DefaultIsFailureFunc,
	}
}

// DefaultIsFailureFunc counts backend faults. Caller cancellation and empty
// results say nothing about the backend's health.
func DefaultIsFailureFunc(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrRetrievalEmpty)
}

// CircuitBreakerStats holds statistics about circuit breaker performance
type CircuitBreakerStats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	SuccessfulReqs  int       `json:"successful_requests"`
	FailedReqs      int       `json:"failed_requests"`
	Rejected        int       `json:"rejected_requests"`
	LastFailureTime time.Time `json:"last_failure_time"`
	StateChanged    time.Time `json:"state_changed"`
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	config          CircuitBreakerConfig
	mu              sync.Mutex
	state           CircuitState
	failures        int
	halfOpenCalls   int
	halfOpenOK      int
	successfulReqs  int
	failedReqs      int
	rejected        int
	lastFailureTime time.Time
	stateChanged    time.Time
	now             func() time.Time
	logger          *zap.Logger
}

// ErrCircuitBreakerOpen is returned when the circuit breaker is open
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.IsFailureFunc == nil {
		config.IsFailureFunc = DefaultIsFailureFunc
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = 1
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}

	return &CircuitBreaker{
		config:       config,
		state:        CircuitClosed,
		stateChanged: time.Now(),
		now:          time.Now,
		logger:       logger,
	}
}

// SetClock replaces the time source, for tests
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
	cb.stateChanged = now()
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute runs fn unless the breaker is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitBreakerOpen
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.stateChanged) < cb.config.ResetTimeout {
			cb.rejected++
			return false
		}
		cb.setState(CircuitHalfOpen)
		fallthrough
	case CircuitHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxRequests {
			cb.rejected++
			return false
		}
		cb.halfOpenCalls++
	}
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.config.IsFailureFunc(err) {
		cb.failures++
		cb.failedReqs++
		cb.lastFailureTime = cb.now()

		cb.logger.Debug("Circuit breaker recorded failure",
			zap.String("name", cb.config.Name),
			zap.Error(err),
			zap.Int("failures", cb.failures),
			zap.String("state", cb.state.String()))

		if cb.state == CircuitHalfOpen || cb.failures >= cb.config.MaxFailures {
			cb.setState(CircuitOpen)
		}
		return
	}

	if err == nil {
		cb.successfulReqs++
	}
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.config.HalfOpenMaxRequests {
			cb.setState(CircuitClosed)
		}
	}
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(newState CircuitState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.stateChanged = cb.now()
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
	if newState == CircuitClosed {
		cb.failures = 0
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.config.Name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()))
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns current statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:            cb.config.Name,
		State:           cb.state.String(),
		Failures:        cb.failures,
		SuccessfulReqs:  cb.successfulReqs,
		FailedReqs:      cb.failedReqs,
		Rejected:        cb.rejected,
		LastFailureTime: cb.lastFailureTime,
		StateChanged:    cb.stateChanged,
	}
}

// Reset manually closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.logger.Info("Circuit breaker manually reset", zap.String("name", cb.config.Name))
	cb.setState(CircuitClosed)
	cb.failures = 0
}
