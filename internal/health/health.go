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

// Package health reports whether the assistant's backends are reachable
package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/broiler-assistant/internal/resilience"
)

const (
	// StatusHealthy represents healthy status
	StatusHealthy = "healthy"
	// StatusUnhealthy represents unhealthy status
	StatusUnhealthy = "unhealthy"
	// StatusDegraded represents degraded status
	StatusDegraded = "degraded"
	// DefaultTimeout is the default timeout for health checks
	DefaultTimeout = 5 * time.Second
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Status    string                 `json:"status"`
	Latency   time.Duration          `json:"latency"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Report is the complete health response
type Report struct {
	Status       string                                    `json:"status"`
	Service      string                                    `json:"service"`
	Version      string                                    `json:"version"`
	Environment  string                                    `json:"environment"`
	Uptime       time.Duration                             `json:"uptime"`
	Dependencies map[string]CheckResult                    `json:"dependencies"`
	Breakers     map[string]resilience.CircuitBreakerStats `json:"breakers,omitempty"`
	Metadata     map[string]interface{}                    `json:"metadata"`
	Timestamp    time.Time                                 `json:"timestamp"`
}

// Checker interface for health checks
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckerFunc is a function adapter for the Checker interface
type CheckerFunc func(ctx context.Context) CheckResult

// Check implements the Checker interface
func (f CheckerFunc) Check(ctx context.Context) CheckResult {
	return f(ctx)
}

// Manager runs the registered checks and folds them into one status.
// An open retrieval breaker degrades the service; it never makes it
// unhealthy because the other retrieval path can still answer.
type Manager struct {
	serviceName string
	version     string
	startTime   time.Time
	timeout     time.Duration
	logger      *zap.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
	breakers []*resilience.CircuitBreaker
}

// NewManager creates a new health check manager
func NewManager(serviceName, version string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		checkers:    make(map[string]Checker),
		timeout:     DefaultTimeout,
		logger:      logger,
	}
}

// SetTimeout sets the timeout for health checks
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// AddChecker adds a health checker
func (m *Manager) AddChecker(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

// AddBreaker reports the breaker's state with every check
func (m *Manager) AddBreaker(breaker *resilience.CircuitBreaker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers = append(m.breakers, breaker)
}

// Check runs every checker concurrently and returns the combined report
func (m *Manager) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, checker := range m.checkers {
		checkers[name] = checker
	}
	breakers := append([]*resilience.CircuitBreaker(nil), m.breakers...)
	m.mu.RUnlock()

	var (
		mu           sync.Mutex
		dependencies = make(map[string]CheckResult, len(checkers))
		g            errgroup.Group
	)
	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			start := time.Now()
			result := checker.Check(ctx)
			result.Latency = time.Since(start)
			result.Timestamp = time.Now()

			mu.Lock()
			dependencies[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, result := range dependencies {
		overall = worst(overall, result.Status)
	}

	var stats map[string]resilience.CircuitBreakerStats
	if len(breakers) > 0 {
		stats = make(map[string]resilience.CircuitBreakerStats, len(breakers))
		for _, breaker := range breakers {
			s := breaker.GetStats()
			stats[s.Name] = s
			if breaker.GetState() == resilience.CircuitOpen {
				overall = worst(overall, StatusDegraded)
			}
		}
	}

	if overall != StatusHealthy {
		m.logger.Warn("Health check not healthy",
			zap.String("status", overall),
			zap.Int("dependencies", len(dependencies)))
	}

	return Report{
		Status:       overall,
		Service:      m.serviceName,
		Version:      m.version,
		Environment:  getEnvironment(),
		Uptime:       time.Since(m.startTime),
		Dependencies: dependencies,
		Breakers:     stats,
		Metadata:     systemMetadata(),
		Timestamp:    time.Now(),
	}
}

// GinHandler serves the report; unhealthy maps to 503, degraded stays 200
func (m *Manager) GinHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := m.Check(c.Request.Context())

		statusCode := http.StatusOK
		if report.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, report)
	}
}

// PingChecker turns a ping function into a checker. A failing critical
// dependency is unhealthy; a failing optional one only degrades the service.
func PingChecker(name string, critical bool, ping func(ctx context.Context) error) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		start := time.Now()
		metadata := map[string]interface{}{
			"dependency": name,
			"critical":   critical,
		}

		if err := ping(ctx); err != nil {
			status := StatusDegraded
			if critical {
				status = StatusUnhealthy
			}
			return CheckResult{
				Status:    status,
				Error:     fmt.Sprintf("%s ping failed: %v", name, err),
				Latency:   time.Since(start),
				Metadata:  metadata,
				Timestamp: time.Now(),
			}
		}

		return CheckResult{
			Status:    StatusHealthy,
			Latency:   time.Since(start),
			Metadata:  metadata,
			Timestamp: time.Now(),
		}
	})
}

func worst(a, b string) string {
	rank := func(s string) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func systemMetadata() map[string]interface{} {
	return map[string]interface{}{
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
		"hostname":   getHostname(),
		"process_id": os.Getpid(),
	}
}

func getEnvironment() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "unknown"
	}
	return env
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
