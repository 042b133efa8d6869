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

	"github.com/your-org/broiler-assistant/internal/chroma"
	"github.com/your-org/broiler-assistant/internal/fusion"
	"github.com/your-org/broiler-assistant/internal/resilience"
)

// Embedder turns query text into a vector
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the semantic store
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, n int, where map[string]interface{}) ([]chroma.SearchResult, error)
}

// KeywordRanker ranks the same corpus by term overlap
type KeywordRanker interface {
	Rank(query string, topK int) []fusion.Document
}

// SemanticStrategy fuses a vector ranking and a keyword ranking. When the
// embedding or the vector search fails it answers from keywords alone.
type SemanticStrategy struct {
	embedder Embedder
	vectors  VectorSearcher
	keywords KeywordRanker
	fuser    fusion.ContextualFuser
	alpha    float64
	logger   *zap.Logger
}

// NewSemanticStrategy creates a semantic store strategy. fuser may be nil.
func NewSemanticStrategy(embedder Embedder, vectors VectorSearcher, keywords KeywordRanker, fuser fusion.ContextualFuser, alpha float64, logger *zap.Logger) *SemanticStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticStrategy{
		embedder: embedder,
		vectors:  vectors,
		keywords: keywords,
		fuser:    fuser,
		alpha:    fusion.ClampAlpha(alpha),
		logger:   logger,
	}
}

// Name implements Strategy
func (s *SemanticStrategy) Name() string { return string(DestinationSemantic) }

// Retrieve implements Strategy
func (s *SemanticStrategy) Retrieve(ctx context.Context, q Query) (*Result, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}
	// rank deeper than topK so fusion has overlap to work with
	depth := topK * 2

	var keywordRanked []fusion.Document
	if s.keywords != nil {
		keywordRanked = s.keywords.Rank(q.Text, depth)
	}

	vectorRanked, bestDistance, vectorErr := s.vectorSearch(ctx, q, depth)
	if vectorErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("Vector search failed, using keyword ranking only",
			zap.Error(vectorErr),
			zap.Int("keyword_results", len(keywordRanked)))
		if len(keywordRanked) == 0 {
			return nil, fmt.Errorf("semantic lookup failed: %w", vectorErr)
		}
	}

	fused := fusion.FuseWithFallback(ctx, s.fuser, q.Text, vectorRanked, keywordRanked, s.alpha, topK, s.logger)
	result := &Result{
		Strategy:  s.Name(),
		Documents: fused,
		Degraded:  vectorErr != nil,
	}

	switch {
	case len(fused) == 0:
	case vectorErr != nil || len(vectorRanked) == 0:
		result.Confidence = 0.4
		result.Notes = append(result.Notes, "keyword ranking only")
	default:
		result.Confidence = distanceConfidence(bestDistance)
		if fused[0].Source == fusion.SourceBoth && result.Confidence < 0.9 {
			result.Confidence += 0.1
		}
	}

	s.logger.Debug("Semantic strategy completed",
		zap.Int("vector_results", len(vectorRanked)),
		zap.Int("keyword_results", len(keywordRanked)),
		zap.Int("fused_results", len(fused)),
		zap.Bool("degraded", result.Degraded))
	return result, nil
}

// vectorSearch filters by breed first and widens to the whole collection
// when the filter finds nothing
func (s *SemanticStrategy) vectorSearch(ctx context.Context, q Query, n int) ([]fusion.Document, float64, error) {
	if s.embedder == nil || s.vectors == nil {
		return nil, 0, fmt.Errorf("vector search: %w", resilience.ErrBackendUnavailable)
	}

	embedding, err := s.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to embed query: %w", err)
	}

	var where map[string]interface{}
	if q.Entities.Breed != "" {
		where = map[string]interface{}{"breed": q.Entities.Breed}
	}

	results, err := s.vectors.Search(ctx, embedding, n, where)
	if err == nil && len(results) == 0 && where != nil {
		results, err = s.vectors.Search(ctx, embedding, n, nil)
	}
	if err != nil {
		return nil, 0, err
	}

	docs := make([]fusion.Document, len(results))
	best := 1.0
	for i, r := range results {
		docs[i] = fusion.Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Score: 1 - r.Distance}
		if i == 0 || r.Distance < best {
			best = r.Distance
		}
	}
	return docs, best, nil
}

// distanceConfidence maps a cosine distance to a 0..1 confidence
func distanceConfidence(distance float64) float64 {
	c := 1 - distance
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
