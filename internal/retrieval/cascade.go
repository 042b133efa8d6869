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

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/resilience"
)

// Guard runs a strategy behind a circuit breaker and its own deadline
type Guard struct {
	strategy Strategy
	breaker  *resilience.CircuitBreaker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewGuard wraps strategy. A nil breaker or zero timeout disables that part.
func NewGuard(strategy Strategy, breaker *resilience.CircuitBreaker, timeout time.Duration, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{strategy: strategy, breaker: breaker, timeout: timeout, logger: logger}
}

// Name implements Strategy
func (g *Guard) Name() string { return g.strategy.Name() }

// Breaker returns the guard's circuit breaker, which may be nil
func (g *Guard) Breaker() *resilience.CircuitBreaker { return g.breaker }

// Retrieve implements Strategy
func (g *Guard) Retrieve(ctx context.Context, q Query) (*Result, error) {
	var result *Result
	call := func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, g.timeout, g.logger, func(ctx context.Context) error {
			r, err := g.strategy.Retrieve(ctx, q)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	if errors.Is(err, resilience.ErrCircuitBreakerOpen) {
		return nil, fmt.Errorf("%s: %w: %w", g.Name(), resilience.ErrBackendUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cascade tries strategies in order and stops at the first result that is
// non-empty and meets the confidence threshold
type Cascade struct {
	strategies    []Strategy
	minConfidence float64
	logger        *zap.Logger
}

// NewCascade creates an ordered fallback chain
func NewCascade(strategies []Strategy, minConfidence float64, logger *zap.Logger) *Cascade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cascade{strategies: strategies, minConfidence: minConfidence, logger: logger}
}

// Name implements Strategy
func (c *Cascade) Name() string { return "cascade" }

// Retrieve implements Strategy. Strategy failures are logged and skipped.
// When every result is below the threshold the best non-empty one is
// returned with BelowThreshold set.
func (c *Cascade) Retrieve(ctx context.Context, q Query) (*Result, error) {
	var best *Result
	var errs []error

	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := s.Retrieve(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("Retrieval strategy failed, trying next",
				zap.String("strategy", s.Name()),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}

		if result.Acceptable(c.minConfidence) {
			return result, nil
		}
		c.logger.Debug("Retrieval strategy result not acceptable",
			zap.String("strategy", s.Name()),
			zap.Int("documents", len(result.Documents)),
			zap.Float64("confidence", result.Confidence))

		best = better(best, result)
	}

	return settle(best, errs)
}

// better keeps the non-empty result with the higher confidence
func better(current, candidate *Result) *Result {
	if candidate.Empty() {
		return current
	}
	if current == nil || candidate.Confidence > current.Confidence {
		return candidate
	}
	return current
}

// settle turns the leftovers of a chain into its final answer
func settle(best *Result, errs []error) (*Result, error) {
	if best != nil {
		best.BelowThreshold = true
		return best, nil
	}
	if len(errs) > 0 {
		joined := errors.Join(errs...)
		for _, err := range errs {
			if !errors.Is(err, resilience.ErrMissingRequiredFields) {
				return nil, fmt.Errorf("%w: %w", resilience.ErrBackendUnavailable, joined)
			}
		}
		return nil, fmt.Errorf("%w: %w", resilience.ErrRetrievalEmpty, joined)
	}
	return nil, resilience.ErrRetrievalEmpty
}
