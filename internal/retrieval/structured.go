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
	"strconv"

	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/fusion"
	"github.com/your-org/broiler-assistant/internal/performance"
	"github.com/your-org/broiler-assistant/internal/resilience"
)

// StandardsSearcher is the structured store
type StandardsSearcher interface {
	Search(ctx context.Context, query string, e entities.Entities, filters performance.Filters, topK int) ([]performance.Match, error)
}

// StructuredStrategy looks up performance standards by breed, age, sex and metric
type StructuredStrategy struct {
	store  StandardsSearcher
	logger *zap.Logger
}

// NewStructuredStrategy creates a structured store strategy
func NewStructuredStrategy(store StandardsSearcher, logger *zap.Logger) *StructuredStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StructuredStrategy{store: store, logger: logger}
}

// Name implements Strategy
func (s *StructuredStrategy) Name() string { return string(DestinationStructured) }

// Retrieve implements Strategy. A query without a breed cannot be answered
// by the structured store.
func (s *StructuredStrategy) Retrieve(ctx context.Context, q Query) (*Result, error) {
	if q.Entities.Breed == "" {
		return nil, fmt.Errorf("structured lookup: %w", resilience.ErrMissingRequiredFields)
	}

	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}

	matches, err := s.store.Search(ctx, q.Text, q.Entities, q.Filters, topK)
	if err != nil {
		return nil, fmt.Errorf("structured lookup failed: %w", err)
	}

	result := &Result{Strategy: s.Name(), Standards: matches}
	for i, m := range matches {
		rank := i + 1
		result.Documents = append(result.Documents, fusion.FusedDocument{
			ID:      "std-" + strconv.FormatInt(m.ID, 10),
			Content: performance.Describe(m.Standard),
			Metadata: map[string]interface{}{
				"breed":        m.Breed,
				"sex":          string(m.Sex),
				"age_days":     m.AgeDays,
				"metric":       string(m.Metric),
				"value":        m.Value,
				"unit":         m.Unit,
				"age_distance": m.AgeDistance,
				"source":       m.Source,
			},
			Score:  1 / float64(fusion.DefaultK+rank),
			Source: fusion.SourceStructured,
		})
	}
	if len(matches) > 0 {
		result.Confidence = ageConfidence(q.Entities.AgeDays, matches[0].AgeDistance)
		if q.Entities.AgeDays > 0 && matches[0].AgeDistance > 3 {
			result.Notes = append(result.Notes, fmt.Sprintf("closest published age is %d days", matches[0].AgeDays))
		}
	}

	s.logger.Debug("Structured strategy completed",
		zap.String("breed", q.Entities.Breed),
		zap.Int("results", len(matches)),
		zap.Float64("confidence", result.Confidence))
	return result, nil
}

// ageConfidence decays with the distance between the asked and the
// published age
func ageConfidence(askedAge, distance int) float64 {
	switch {
	case askedAge == 0:
		return 0.7
	case distance == 0:
		return 1.0
	case distance <= 3:
		return 0.9
	case distance <= 7:
		return 0.7
	default:
		return 0.5
	}
}
