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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FanOut queries every strategy concurrently and answers with the first
// acceptable result in priority order. Lower priority calls still running at
// that point are cancelled.
type FanOut struct {
	strategies    []Strategy
	minConfidence float64
	logger        *zap.Logger
}

// NewFanOut creates a concurrent dispatcher. strategies are in priority order.
func NewFanOut(strategies []Strategy, minConfidence float64, logger *zap.Logger) *FanOut {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FanOut{strategies: strategies, minConfidence: minConfidence, logger: logger}
}

// Name implements Strategy
func (f *FanOut) Name() string { return "fanout" }

type outcome struct {
	result *Result
	err    error
}

// Retrieve implements Strategy
func (f *FanOut) Retrieve(ctx context.Context, q Query) (*Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	outcomes := make([]chan outcome, len(f.strategies))
	for i, s := range f.strategies {
		s := s
		ch := make(chan outcome, 1)
		outcomes[i] = ch
		g.Go(func() error {
			r, err := s.Retrieve(runCtx, q)
			ch <- outcome{result: r, err: err}
			return nil
		})
	}

	finish := func() {
		cancel()
		_ = g.Wait()
	}

	var best *Result
	var errs []error
	for i, ch := range outcomes {
		var o outcome
		select {
		case o = <-ch:
		case <-ctx.Done():
			finish()
			return nil, ctx.Err()
		}

		name := f.strategies[i].Name()
		if o.err != nil {
			f.logger.Warn("Concurrent retrieval strategy failed",
				zap.String("strategy", name),
				zap.Error(o.err))
			errs = append(errs, o.err)
			continue
		}
		if o.result.Acceptable(f.minConfidence) {
			finish()
			f.logger.Debug("Concurrent retrieval answered",
				zap.String("strategy", name),
				zap.Int("priority", i),
				zap.Float64("confidence", o.result.Confidence))
			return o.result, nil
		}
		best = better(best, o.result)
	}

	finish()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return settle(best, errs)
}
