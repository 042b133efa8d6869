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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/your-org/broiler-assistant/internal/chroma"
	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/fusion"
	"github.com/your-org/broiler-assistant/internal/performance"
	"github.com/your-org/broiler-assistant/internal/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func docs(n int) []fusion.FusedDocument {
	out := make([]fusion.FusedDocument, n)
	for i := range out {
		out[i] = fusion.FusedDocument{ID: string(rune('a' + i)), Content: "doc"}
	}
	return out
}

// fixed returns a strategy that answers immediately and counts its calls
func fixed(name string, confidence float64, n int, err error, calls *int32) Strategy {
	return StrategyFunc{StrategyName: name, Fn: func(ctx context.Context, q Query) (*Result, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		if err != nil {
			return nil, err
		}
		return &Result{Strategy: name, Documents: docs(n), Confidence: confidence}, nil
	}}
}

// slow answers after delay unless its context is cancelled first
func slow(name string, delay time.Duration, confidence float64, cancelled *int32) Strategy {
	return StrategyFunc{StrategyName: name, Fn: func(ctx context.Context, q Query) (*Result, error) {
		select {
		case <-time.After(delay):
			return &Result{Strategy: name, Documents: docs(1), Confidence: confidence}, nil
		case <-ctx.Done():
			if cancelled != nil {
				atomic.AddInt32(cancelled, 1)
			}
			return nil, ctx.Err()
		}
	}}
}

func TestResultAcceptable(t *testing.T) {
	var nilResult *Result
	assert.True(t, nilResult.Empty())
	assert.False(t, nilResult.Acceptable(0))
	assert.False(t, (&Result{Confidence: 1}).Acceptable(0.5))
	assert.True(t, (&Result{Documents: docs(1), Confidence: 0.5}).Acceptable(0.5))
	assert.False(t, (&Result{Documents: docs(1), Confidence: 0.4}).Acceptable(0.5))
}

func TestCascade(t *testing.T) {
	backendDown := errors.New("connection refused")

	tests := []struct {
		name         string
		chain        func(calls *int32) []Strategy
		wantStrategy string
		wantBelow    bool
		wantErr      error
		wantCalls    int32
	}{
		{
			name: "first acceptable result stops the chain",
			chain: func(calls *int32) []Strategy {
				return []Strategy{fixed("one", 0.9, 2, nil, calls), fixed("two", 0.9, 2, nil, calls)}
			},
			wantStrategy: "one",
			wantCalls:    1,
		},
		{
			name: "empty result falls through",
			chain: func(calls *int32) []Strategy {
				return []Strategy{fixed("one", 0.9, 0, nil, calls), fixed("two", 0.8, 1, nil, calls)}
			},
			wantStrategy: "two",
			wantCalls:    2,
		},
		{
			name: "failure falls through",
			chain: func(calls *int32) []Strategy {
				return []Strategy{fixed("one", 0, 0, backendDown, calls), fixed("two", 0.8, 1, nil, calls)}
			},
			wantStrategy: "two",
			wantCalls:    2,
		},
		{
			name: "best low confidence result is flagged",
			chain: func(calls *int32) []Strategy {
				return []Strategy{fixed("one", 0.2, 1, nil, calls), fixed("two", 0.3, 1, nil, calls)}
			},
			wantStrategy: "two",
			wantBelow:    true,
			wantCalls:    2,
		},
		{
			name: "all empty",
			chain: func(calls *int32) []Strategy {
				return []Strategy{fixed("one", 0, 0, nil, calls), fixed("two", 0, 0, nil, calls)}
			},
			wantErr:   resilience.ErrRetrievalEmpty,
			wantCalls: 2,
		},
		{
			name: "all failing",
			chain: func(calls *int32) []Strategy {
				return []Strategy{fixed("one", 0, 0, backendDown, calls), fixed("two", 0, 0, backendDown, calls)}
			},
			wantErr:   resilience.ErrBackendUnavailable,
			wantCalls: 2,
		},
		{
			name: "missing fields only",
			chain: func(calls *int32) []Strategy {
				return []Strategy{fixed("one", 0, 0, resilience.ErrMissingRequiredFields, calls)}
			},
			wantErr:   resilience.ErrRetrievalEmpty,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			cascade := NewCascade(tt.chain(&calls), 0.5, nil)

			result, err := cascade.Retrieve(context.Background(), Query{Text: "q"})
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStrategy, result.Strategy)
			assert.Equal(t, tt.wantBelow, result.BelowThreshold)
		})
	}
}

func TestCascadeStopsOnCancelledContext(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCascade([]Strategy{fixed("one", 1, 1, nil, &calls)}, 0.5, nil).Retrieve(ctx, Query{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestGuardOpensBreaker(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "semantic",
		MaxFailures:  2,
		ResetTimeout: time.Minute,
	}, nil)

	var calls int32
	guard := NewGuard(fixed("semantic", 0, 0, errors.New("503"), &calls), breaker, 0, nil)
	for i := 0; i < 2; i++ {
		_, err := guard.Retrieve(context.Background(), Query{})
		require.Error(t, err)
	}
	assert.Equal(t, resilience.CircuitOpen, breaker.GetState())

	_, err := guard.Retrieve(context.Background(), Query{})
	assert.ErrorIs(t, err, resilience.ErrBackendUnavailable)
	assert.ErrorIs(t, err, resilience.ErrCircuitBreakerOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "semantic", guard.Name())
}

func TestGuardTimeout(t *testing.T) {
	guard := NewGuard(slow("structured", time.Second, 1, nil), nil, 20*time.Millisecond, nil)

	_, err := guard.Retrieve(context.Background(), Query{})
	require.Error(t, err)
	assert.True(t, resilience.IsTimeout(err))
}

func TestGuardPassesResult(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("structured"), nil)
	guard := NewGuard(fixed("structured", 0.9, 3, nil, nil), breaker, time.Second, nil)

	result, err := guard.Retrieve(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, result.Documents, 3)
	assert.Equal(t, 1, breaker.GetStats().SuccessfulReqs)
}

func TestFanOutPrefersPriorityOrder(t *testing.T) {
	// the higher priority strategy is slower but still wins
	fan := NewFanOut([]Strategy{
		slow("structured", 30*time.Millisecond, 0.9, nil),
		fixed("semantic", 0.9, 1, nil, nil),
	}, 0.5, nil)

	result, err := fan.Retrieve(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, "structured", result.Strategy)
}

func TestFanOutFallsBackToLowerPriority(t *testing.T) {
	fan := NewFanOut([]Strategy{
		fixed("structured", 0, 0, resilience.ErrMissingRequiredFields, nil),
		slow("semantic", 10*time.Millisecond, 0.7, nil),
	}, 0.5, nil)

	result, err := fan.Retrieve(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, "semantic", result.Strategy)
	assert.False(t, result.BelowThreshold)
}

func TestFanOutCancelsLosers(t *testing.T) {
	var cancelled int32
	fan := NewFanOut([]Strategy{
		fixed("structured", 0.9, 1, nil, nil),
		slow("semantic", time.Minute, 0.9, &cancelled),
	}, 0.5, nil)

	result, err := fan.Retrieve(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, "structured", result.Strategy)
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
}

func TestFanOutParentCancellation(t *testing.T) {
	var cancelled int32
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	fan := NewFanOut([]Strategy{
		slow("structured", time.Minute, 0.9, &cancelled),
		slow("semantic", time.Minute, 0.9, &cancelled),
	}, 0.5, nil)

	_, err := fan.Retrieve(ctx, Query{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), atomic.LoadInt32(&cancelled))
}

func TestFanOutAllEmpty(t *testing.T) {
	fan := NewFanOut([]Strategy{
		fixed("structured", 0, 0, nil, nil),
		fixed("semantic", 0.2, 1, nil, nil),
	}, 0.5, nil)

	result, err := fan.Retrieve(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, "semantic", result.Strategy)
	assert.True(t, result.BelowThreshold)
}

func TestDispatcherPlan(t *testing.T) {
	var structuredCalls, semanticCalls int32
	d := NewDispatcher(
		fixed("structured_store", 0, 0, nil, &structuredCalls),
		fixed("semantic_store", 0, 0, nil, &semanticCalls),
		0.5, nil)

	tests := []struct {
		name           string
		destination    Destination
		query          Query
		wantStructured int32
		wantSemantic   int32
	}{
		{"structured cascades to semantic", DestinationStructured, Query{}, 1, 1},
		{"semantic without breed", DestinationSemantic, Query{}, 0, 1},
		{"semantic with breed", DestinationSemantic, Query{Entities: entities.Entities{Breed: "Ross 308"}}, 1, 1},
		{"hybrid queries both", DestinationHybrid, Query{PreferSemantic: true}, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			atomic.StoreInt32(&structuredCalls, 0)
			atomic.StoreInt32(&semanticCalls, 0)

			_, err := d.Dispatch(context.Background(), tt.destination, tt.query)
			assert.ErrorIs(t, err, resilience.ErrRetrievalEmpty)
			assert.Equal(t, tt.wantStructured, atomic.LoadInt32(&structuredCalls))
			assert.Equal(t, tt.wantSemantic, atomic.LoadInt32(&semanticCalls))
		})
	}

	_, err := d.Dispatch(context.Background(), Destination("nowhere"), Query{})
	assert.Error(t, err)
}

func TestDispatcherHybridOrder(t *testing.T) {
	d := NewDispatcher(
		fixed("structured_store", 0.9, 1, nil, nil),
		fixed("semantic_store", 0.9, 1, nil, nil),
		0.5, nil)

	result, err := d.Dispatch(context.Background(), DestinationHybrid, Query{})
	require.NoError(t, err)
	assert.Equal(t, "structured_store", result.Strategy)

	result, err = d.Dispatch(context.Background(), DestinationHybrid, Query{PreferSemantic: true})
	require.NoError(t, err)
	assert.Equal(t, "semantic_store", result.Strategy)
}

type fakeStandards struct {
	matches []performance.Match
	err     error
}

func (f *fakeStandards) Search(ctx context.Context, query string, e entities.Entities, filters performance.Filters, topK int) ([]performance.Match, error) {
	return f.matches, f.err
}

func TestStructuredStrategy(t *testing.T) {
	store := &fakeStandards{matches: []performance.Match{{
		Standard: performance.Standard{
			ID: 7, Breed: "Cobb 500", Sex: entities.SexMixed, AgeDays: 35,
			Metric: entities.MetricBodyWeight, Value: 2234, Unit: "g", Source: "Cobb 500 supplement",
		},
		AgeDistance: 0,
	}}}
	s := NewStructuredStrategy(store, nil)

	_, err := s.Retrieve(context.Background(), Query{Text: "weight"})
	assert.ErrorIs(t, err, resilience.ErrMissingRequiredFields)

	result, err := s.Retrieve(context.Background(), Query{
		Text:     "weight",
		Entities: entities.Entities{Breed: "Cobb 500", AgeDays: 35},
	})
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "std-7", result.Documents[0].ID)
	assert.Equal(t, fusion.SourceStructured, result.Documents[0].Source)
	assert.Contains(t, result.Documents[0].Content, "2234")
	assert.Equal(t, 1.0, result.Confidence)

	store.matches[0].AgeDistance = 6
	store.matches[0].AgeDays = 42
	result, err = s.Retrieve(context.Background(), Query{Entities: entities.Entities{Breed: "Cobb 500", AgeDays: 36}})
	require.NoError(t, err)
	assert.Equal(t, 0.7, result.Confidence)
	assert.Contains(t, result.Notes, "closest published age is 42 days")

	store.err = errors.New("database is locked")
	_, err = s.Retrieve(context.Background(), Query{Entities: entities.Entities{Breed: "Cobb 500"}})
	assert.Error(t, err)
}

func TestAgeConfidence(t *testing.T) {
	assert.Equal(t, 0.7, ageConfidence(0, 0))
	assert.Equal(t, 1.0, ageConfidence(21, 0))
	assert.Equal(t, 0.9, ageConfidence(21, 3))
	assert.Equal(t, 0.7, ageConfidence(21, 7))
	assert.Equal(t, 0.5, ageConfidence(21, 8))
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeVectors struct {
	byBreed []chroma.SearchResult
	all     []chroma.SearchResult
	wheres  []map[string]interface{}
}

func (f *fakeVectors) Search(ctx context.Context, embedding []float32, n int, where map[string]interface{}) ([]chroma.SearchResult, error) {
	f.wheres = append(f.wheres, where)
	if where != nil {
		return f.byBreed, nil
	}
	return f.all, nil
}

type fakeKeywords []fusion.Document

func (f fakeKeywords) Rank(query string, topK int) []fusion.Document { return f }

func TestSemanticStrategy(t *testing.T) {
	vectors := &fakeVectors{all: []chroma.SearchResult{
		{ID: "v1", Content: "Ventilation in hot weather", Distance: 0.2},
		{ID: "v2", Content: "Litter moisture and footpad lesions", Distance: 0.4},
	}}
	keywords := fakeKeywords{{ID: "k1", Content: "Ventilation in hot weather"}}
	s := NewSemanticStrategy(fakeEmbedder{}, vectors, keywords, nil, 0.7, nil)

	result, err := s.Retrieve(context.Background(), Query{
		Text:     "heat stress ventilation",
		Entities: entities.Entities{Breed: "Ross 308"},
	})
	require.NoError(t, err)
	require.Len(t, result.Documents, 2)
	assert.Equal(t, fusion.SourceBoth, result.Documents[0].Source)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
	assert.False(t, result.Degraded)

	// breed filter found nothing, so the search widened
	require.Len(t, vectors.wheres, 2)
	assert.Equal(t, "Ross 308", vectors.wheres[0]["breed"])
	assert.Nil(t, vectors.wheres[1])
}

func TestSemanticStrategyKeywordOnly(t *testing.T) {
	keywords := fakeKeywords{{ID: "k1", Content: "Ventilation in hot weather"}}
	s := NewSemanticStrategy(fakeEmbedder{err: errors.New("rate limited")}, &fakeVectors{}, keywords, nil, 0.7, nil)

	result, err := s.Retrieve(context.Background(), Query{Text: "ventilation"})
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.True(t, result.Degraded)
	assert.Equal(t, 0.4, result.Confidence)

	s = NewSemanticStrategy(fakeEmbedder{err: errors.New("rate limited")}, &fakeVectors{}, fakeKeywords{}, nil, 0.7, nil)
	_, err = s.Retrieve(context.Background(), Query{Text: "ventilation"})
	assert.Error(t, err)
}
