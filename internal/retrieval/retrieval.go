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

// Package retrieval runs queries against the structured and semantic stores
// through an ordered fallback chain of strategies.
package retrieval

import (
	"context"

	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/fusion"
	"github.com/your-org/broiler-assistant/internal/performance"
)

// Destination names where a query is sent
type Destination string

const (
	DestinationStructured Destination = "structured_store"
	DestinationSemantic   Destination = "semantic_store"
	DestinationHybrid     Destination = "hybrid"
)

// Query is what every strategy receives
type Query struct {
	// Text is the routing text, in English when translation is enabled
	Text     string              `json:"text"`
	Original string              `json:"original,omitempty"`
	Language string              `json:"language"`
	Entities entities.Entities   `json:"entities"`
	Filters  performance.Filters `json:"-"`
	TopK     int                 `json:"top_k"`
	// PreferSemantic puts the semantic store first in a hybrid dispatch
	PreferSemantic bool `json:"prefer_semantic,omitempty"`
}

// Result is the shared result type of every strategy
type Result struct {
	Strategy   string                 `json:"strategy"`
	Documents  []fusion.FusedDocument `json:"documents"`
	Standards  []performance.Match    `json:"standards,omitempty"`
	Confidence float64                `json:"confidence"`
	// Degraded is set when part of the strategy failed and a reduced path answered
	Degraded bool `json:"degraded,omitempty"`
	// BelowThreshold is set when no strategy reached the confidence threshold
	BelowThreshold bool     `json:"below_threshold,omitempty"`
	Notes          []string `json:"notes,omitempty"`
}

// Empty reports whether the result carries no documents
func (r *Result) Empty() bool {
	return r == nil || len(r.Documents) == 0
}

// Acceptable reports whether r is non-empty and meets minConfidence
func (r *Result) Acceptable(minConfidence float64) bool {
	return !r.Empty() && r.Confidence >= minConfidence
}

// Strategy is one way of answering a query
type Strategy interface {
	Name() string
	Retrieve(ctx context.Context, q Query) (*Result, error)
}

// StrategyFunc adapts a function to Strategy
type StrategyFunc struct {
	StrategyName string
	Fn           func(ctx context.Context, q Query) (*Result, error)
}

// Name implements Strategy
func (s StrategyFunc) Name() string { return s.StrategyName }

// Retrieve implements Strategy
func (s StrategyFunc) Retrieve(ctx context.Context, q Query) (*Result, error) { return s.Fn(ctx, q) }
