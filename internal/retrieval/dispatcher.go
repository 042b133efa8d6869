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
	"fmt"

	"go.uber.org/zap"
)

// Dispatcher maps a routing destination onto a strategy chain
type Dispatcher struct {
	structured    Strategy
	semantic      Strategy
	minConfidence float64
	logger        *zap.Logger
}

// NewDispatcher creates a dispatcher over the two backends
func NewDispatcher(structured, semantic Strategy, minConfidence float64, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		structured:    structured,
		semantic:      semantic,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// Plan returns the strategy that serves destination for q
func (d *Dispatcher) Plan(destination Destination, q Query) (Strategy, error) {
	switch destination {
	case DestinationStructured:
		return NewCascade([]Strategy{d.structured, d.semantic}, d.minConfidence, d.logger), nil
	case DestinationSemantic:
		chain := []Strategy{d.semantic}
		if q.Entities.Breed != "" {
			chain = append(chain, d.structured)
		}
		return NewCascade(chain, d.minConfidence, d.logger), nil
	case DestinationHybrid:
		order := []Strategy{d.structured, d.semantic}
		if q.PreferSemantic {
			order = []Strategy{d.semantic, d.structured}
		}
		return NewFanOut(order, d.minConfidence, d.logger), nil
	default:
		return nil, fmt.Errorf("unknown destination %q", destination)
	}
}

// Dispatch runs q against destination
func (d *Dispatcher) Dispatch(ctx context.Context, destination Destination, q Query) (*Result, error) {
	strategy, err := d.Plan(destination, q)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("Dispatching query",
		zap.String("destination", string(destination)),
		zap.String("strategy", strategy.Name()),
		zap.String("breed", q.Entities.Breed),
		zap.Bool("prefer_semantic", q.PreferSemantic))

	result, err := strategy.Retrieve(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve from %s: %w", destination, err)
	}
	return result, nil
}
