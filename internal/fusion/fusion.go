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

// Package fusion merges a semantic-similarity ranking and a keyword ranking
// with Reciprocal Rank Fusion.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// DefaultK is the RRF damping constant
const DefaultK = 60

// Source names which rankings contributed to a fused document
type Source string

const (
	SourceVector  Source = "vector"
	SourceKeyword Source = "keyword"
	SourceBoth    Source = "hybrid"

	// SourceStructured marks rows rendered from the structured store
	SourceStructured Source = "structured"
)

// Document is one entry of an input ranking. Position in the slice is the rank.
type Document struct {
	ID       string                 `json:"id,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Score    float64                `json:"score"`
}

// FusedDocument is a document with its per-source ranks and fused score.
// A nil rank means the document was absent from that ranking.
type FusedDocument struct {
	ID          string                 `json:"id,omitempty"`
	Content     string                 `json:"content"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	VectorRank  *int                   `json:"vector_rank"`
	KeywordRank *int                   `json:"keyword_rank"`
	Score       float64                `json:"fused_score"`
	Source      Source                 `json:"source"`
}

// ClampAlpha bounds the vector weight to [0, 1]
func ClampAlpha(alpha float64) float64 {
	switch {
	case alpha < 0:
		return 0
	case alpha > 1:
		return 1
	}
	return alpha
}

// Score computes alpha/(k+rankV) + (1-alpha)/(k+rankK). Ranks are 1-based;
// an absent rank contributes nothing.
func Score(vectorRank, keywordRank *int, alpha float64, k int) float64 {
	if k <= 0 {
		k = DefaultK
	}
	alpha = ClampAlpha(alpha)

	var score float64
	if vectorRank != nil {
		score += alpha / float64(k+*vectorRank)
	}
	if keywordRank != nil {
		score += (1 - alpha) / float64(k+*keywordRank)
	}
	return score
}

// Fuse combines the two rankings with k = DefaultK
func Fuse(vectorRanked, keywordRanked []Document, alpha float64, topK int) []FusedDocument {
	return FuseK(vectorRanked, keywordRanked, alpha, DefaultK, topK)
}

// FuseK combines the two rankings keyed by document content. Results are
// sorted by score descending; ties keep vector order, then keyword order.
// topK <= 0 returns every document.
func FuseK(vectorRanked, keywordRanked []Document, alpha float64, k, topK int) []FusedDocument {
	index := make(map[string]int)
	var fused []FusedDocument

	add := func(doc Document, rank int, vector bool) {
		key := contentKey(doc.Content)
		if key == "" {
			return
		}
		i, ok := index[key]
		if !ok {
			fused = append(fused, FusedDocument{
				ID:       doc.ID,
				Content:  doc.Content,
				Metadata: doc.Metadata,
			})
			i = len(fused) - 1
			index[key] = i
		}

		r := rank
		target := &fused[i]
		if vector {
			if target.VectorRank == nil {
				target.VectorRank = &r
			}
		} else if target.KeywordRank == nil {
			target.KeywordRank = &r
			if target.Metadata == nil {
				target.Metadata = doc.Metadata
			}
			if target.ID == "" {
				target.ID = doc.ID
			}
		}
	}

	for i, doc := range vectorRanked {
		add(doc, i+1, true)
	}
	for i, doc := range keywordRanked {
		add(doc, i+1, false)
	}

	for i := range fused {
		d := &fused[i]
		d.Score = Score(d.VectorRank, d.KeywordRank, alpha, k)
		switch {
		case d.VectorRank != nil && d.KeywordRank != nil:
			d.Source = SourceBoth
		case d.VectorRank != nil:
			d.Source = SourceVector
		default:
			d.Source = SourceKeyword
		}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})

	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}

func contentKey(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

// ContextualFuser is a fusion path that may adapt to the query
type ContextualFuser interface {
	Fuse(ctx context.Context, query string, vectorRanked, keywordRanked []Document, topK int) ([]FusedDocument, error)
}

// ErrNoQuery is returned by QueryAwareFuser for a blank query
var ErrNoQuery = errors.New("query is empty")

// QueryAwareFuser shifts weight toward keyword ranking for short queries
// dominated by codes and numbers ("ross 308 fcr 35d"), and toward the
// vector ranking for longer natural-language questions.
type QueryAwareFuser struct {
	BaseAlpha float64
	K         int
}

// NewQueryAwareFuser creates a query-aware fuser around a base alpha
func NewQueryAwareFuser(baseAlpha float64, k int) *QueryAwareFuser {
	return &QueryAwareFuser{BaseAlpha: ClampAlpha(baseAlpha), K: k}
}

// Alpha returns the vector weight chosen for query
func (f *QueryAwareFuser) Alpha(query string) float64 {
	words := strings.Fields(query)
	if len(words) == 0 {
		return f.BaseAlpha
	}

	var numeric int
	for _, w := range words {
		if strings.IndexFunc(w, unicode.IsDigit) >= 0 {
			numeric++
		}
	}

	alpha := f.BaseAlpha
	switch {
	case len(words) <= 4 && numeric > 0:
		alpha -= 0.2
	case float64(numeric)/float64(len(words)) >= 0.3:
		alpha -= 0.1
	case len(words) >= 10:
		alpha += 0.1
	}
	return ClampAlpha(alpha)
}

// Fuse implements ContextualFuser
func (f *QueryAwareFuser) Fuse(ctx context.Context, query string, vectorRanked, keywordRanked []Document, topK int) ([]FusedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrNoQuery
	}
	return FuseK(vectorRanked, keywordRanked, f.Alpha(query), f.K, topK), nil
}

// FuseWithFallback runs the contextual path and falls back to the plain
// formula when it errors or panics. It always returns a ranking.
func FuseWithFallback(ctx context.Context, fuser ContextualFuser, query string, vectorRanked, keywordRanked []Document, alpha float64, topK int, logger *zap.Logger) []FusedDocument {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fuser == nil {
		return Fuse(vectorRanked, keywordRanked, alpha, topK)
	}

	fused, err := safeFuse(ctx, fuser, query, vectorRanked, keywordRanked, topK)
	if err != nil {
		logger.Warn("Contextual fusion failed, using plain RRF",
			zap.Error(err),
			zap.Int("vector_results", len(vectorRanked)),
			zap.Int("keyword_results", len(keywordRanked)))
		return Fuse(vectorRanked, keywordRanked, alpha, topK)
	}
	return fused
}

func safeFuse(ctx context.Context, fuser ContextualFuser, query string, vectorRanked, keywordRanked []Document, topK int) (fused []FusedDocument, err error) {
	defer func() {
		if r := recover(); r != nil {
			fused = nil
			err = fmt.Errorf("contextual fusion panicked: %v", r)
		}
	}()
	return fuser.Fuse(ctx, query, vectorRanked, keywordRanked, topK)
}
