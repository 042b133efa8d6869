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

// Package router decides where a poultry query goes and drives the
// clarification dialogue when the query is incomplete.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/clarification"
	"github.com/your-org/broiler-assistant/internal/classifier"
	"github.com/your-org/broiler-assistant/internal/conversation"
	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/language"
	"github.com/your-org/broiler-assistant/internal/performance"
	"github.com/your-org/broiler-assistant/internal/resilience"
	"github.com/your-org/broiler-assistant/internal/retrieval"
	"github.com/your-org/broiler-assistant/internal/session"
)

// Destinations that are not retrieval backends
const (
	DestinationNeedsClarification retrieval.Destination = "needs_clarification"
	DestinationNone               retrieval.Destination = "none"
)

// Outcome is the dialogue transition a call produced
type Outcome string

const (
	OutcomeRouted                Outcome = "routed"
	OutcomeAwaitingClarification Outcome = "awaiting_clarification"
	OutcomeMergedAndRouted       Outcome = "merged_and_routed"
	OutcomeRetry                 Outcome = "retry"
	OutcomeAbandoned             Outcome = "abandoned"
	OutcomeLimitExceeded         Outcome = "limit_exceeded"
	OutcomeRejected              Outcome = "rejected"
)

// ErrEmptyQuery is returned for blank queries
var ErrEmptyQuery = errors.New("query is empty")

// ErrInvalidTenant is returned when the tenant ID is not usable as a key
var ErrInvalidTenant = errors.New("invalid tenant id")

// Config holds routing parameters
type Config struct {
	MaxAttempts         int
	LayerAgeHintDays    int
	ConfidenceThreshold float64
	// MaxAgeDistance bounds how far in days a structured match may sit from
	// the asked age
	MaxAgeDistance int
}

// DefaultConfig returns the routing defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         3,
		LayerAgeHintDays:    entities.TypicalBroilerAge,
		ConfidenceThreshold: entities.LowConfidenceThreshold,
		MaxAgeDistance:      7,
	}
}

// Request is one user message
type Request struct {
	TenantID string `json:"tenant_id"`
	Query    string `json:"query"`
	Language string `json:"language,omitempty"`
	// Entities replaces extraction when the caller already has them
	Entities *entities.Entities `json:"entities,omitempty"`
}

// Decision is the routing result for one message
type Decision struct {
	Outcome            Outcome                     `json:"outcome"`
	Destination        retrieval.Destination       `json:"destination"`
	Intent             classifier.Intent           `json:"intent"`
	Confidence         float64                     `json:"confidence"`
	Entities           entities.Entities           `json:"entities"`
	MissingFields      []entities.Field            `json:"missing_fields,omitempty"`
	Suggestions        map[entities.Field][]string `json:"suggestions,omitempty"`
	Validation         entities.ValidationResult   `json:"validation_details"`
	Query              string                      `json:"query"`
	OriginalQuery      string                      `json:"original_query"`
	Language           string                      `json:"language"`
	Message            string                      `json:"message,omitempty"`
	Hint               string                      `json:"hint,omitempty"`
	PreferSemantic     bool                        `json:"prefer_semantic,omitempty"`
	ReferencesResolved bool                        `json:"references_resolved,omitempty"`
	LimitExceeded      bool                        `json:"limit_exceeded,omitempty"`
	Attempts           int                         `json:"attempts,omitempty"`
	Filters            performance.Filters         `json:"-"`
	// Reason is the domain error behind an outcome that did not route
	Reason error `json:"-"`

	// normalize marks a Query taken from stored dialogue state; Route
	// translates it once the tenant lock is released
	normalize bool
}

// Retrievable reports whether the decision should be sent to a backend
func (d Decision) Retrievable() bool {
	switch d.Destination {
	case retrieval.DestinationStructured, retrieval.DestinationSemantic, retrieval.DestinationHybrid:
		return true
	}
	return false
}

// RetrievalQuery converts the decision into a backend query
func (d Decision) RetrievalQuery(topK int) retrieval.Query {
	return retrieval.Query{
		Text:           d.Query,
		Original:       d.OriginalQuery,
		Language:       d.Language,
		Entities:       d.Entities,
		Filters:        d.Filters,
		TopK:           topK,
		PreferSemantic: d.PreferSemantic,
	}
}

// Router is the query-understanding orchestrator
type Router struct {
	conversation *conversation.Manager
	extractor    *entities.Extractor
	classifier   *classifier.QueryClassifier
	normalizer   *language.Normalizer
	config       Config
	logger       *zap.Logger
}

// New creates a router. A nil normalizer routes text untranslated.
func New(conv *conversation.Manager, extractor *entities.Extractor, qc *classifier.QueryClassifier,
	normalizer *language.Normalizer, config Config, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if qc == nil {
		qc = classifier.NewQueryClassifier()
	}
	if normalizer == nil {
		normalizer = language.NewNormalizer(nil, logger)
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.LayerAgeHintDays <= 0 {
		config.LayerAgeHintDays = DefaultConfig().LayerAgeHintDays
	}
	if config.MaxAgeDistance <= 0 {
		config.MaxAgeDistance = DefaultConfig().MaxAgeDistance
	}
	return &Router{
		conversation: conv,
		extractor:    extractor,
		classifier:   qc,
		normalizer:   normalizer,
		config:       config,
		logger:       logger,
	}
}

// Route handles one message for a tenant. The tenant lock covers only the
// read-modify-write of the dialogue state, so concurrent messages of a
// tenant are applied in order; translation runs outside it.
func (r *Router) Route(ctx context.Context, req Request) (Decision, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Decision{}, ErrEmptyQuery
	}
	if !session.ValidateTenantID(req.TenantID) {
		return Decision{}, ErrInvalidTenant
	}

	norm := r.normalizer.Normalize(ctx, req.Query, req.Language)

	decision, err := r.routeLocked(ctx, req, norm)
	if err != nil {
		return decision, err
	}
	if decision.normalize {
		decision.Query = r.normalizer.Normalize(ctx, decision.OriginalQuery, decision.Language).Text
		decision.normalize = false
	}
	return decision, nil
}

func (r *Router) routeLocked(ctx context.Context, req Request, norm language.Normalized) (Decision, error) {
	unlock := r.conversation.Lock(req.TenantID)
	defer unlock()

	pending, err := r.conversation.GetPending(ctx, req.TenantID)
	if err != nil {
		// unreadable dialogue state is treated as absent
		r.logger.Warn("Failed to read pending clarification",
			zap.String("tenant_id", req.TenantID),
			zap.Error(err))
		pending = nil
	}

	if pending != nil {
		decision, handled, err := r.continueClarification(ctx, req, pending)
		if err != nil || handled {
			return decision, err
		}
	}

	return r.routeNew(ctx, req, norm)
}

// routeNew handles a message that does not answer a pending question
func (r *Router) routeNew(ctx context.Context, req Request, norm language.Normalized) (Decision, error) {
	var found entities.Entities
	if req.Entities != nil {
		found = req.Entities.Clone()
	} else {
		found = r.extractor.Extract(req.Query, entities.Hints{Language: norm.Language})
	}

	resolved := false
	if last, err := r.conversation.GetLastContext(ctx, req.TenantID); err != nil {
		r.logger.Warn("Failed to read last context",
			zap.String("tenant_id", req.TenantID),
			zap.Error(err))
	} else if last != nil {
		found, resolved = r.conversation.ResolveReferences(req.Query, found, last)
	}

	classification := r.classifier.ClassifyQuery(norm.Text, found)
	decision := Decision{
		Intent:             classification.Intent,
		Entities:           found,
		Validation:         r.extractor.Validate(found),
		Query:              norm.Text,
		OriginalQuery:      req.Query,
		Language:           norm.Language,
		ReferencesResolved: resolved,
	}

	if classification.Intent == classifier.IntentOutOfDomain {
		decision.Outcome = OutcomeRejected
		decision.Destination = DestinationNone
		decision.Confidence = classification.Confidence
		decision.Message = r.classifier.GetRejectionMessage(norm.Language)
		r.logger.Info("Query rejected",
			zap.String("tenant_id", req.TenantID),
			zap.String("reason", classification.RejectionReason))
		return decision, nil
	}

	required := classifier.RequiredFields(classification.Intent)
	missing := found.Missing(required)
	if len(missing) > 0 {
		return r.askClarification(ctx, req.TenantID, norm, decision, required, missing)
	}

	decision.Outcome = OutcomeRouted
	r.decide(&decision, classification.Confidence, nil)
	r.logRouted(req.TenantID, decision)
	return decision, nil
}

// askClarification stores a new pending question and returns it
func (r *Router) askClarification(ctx context.Context, tenantID string, norm language.Normalized, decision Decision,
	required, missing []entities.Field) (Decision, error) {
	suggestions := clarification.Suggestions(missing, r.extractor.Registry(), decision.Entities.LayerContext)

	_, err := r.conversation.MarkPending(ctx, conversation.PendingInput{
		TenantID:         tenantID,
		Query:            norm.Original,
		Language:         norm.Language,
		OriginalLanguage: norm.OriginalLanguage,
		Intent:           string(decision.Intent),
		RequiredFields:   required,
		MissingFields:    missing,
		Suggestions:      suggestions,
		Partial:          decision.Entities,
	})
	if err != nil {
		return Decision{}, err
	}

	decision.Outcome = OutcomeAwaitingClarification
	decision.Destination = DestinationNeedsClarification
	decision.MissingFields = missing
	decision.Suggestions = suggestions
	decision.Message = clarification.Question(norm.Language, missing)
	decision.Confidence = decision.Entities.OverallConfidence
	decision.Reason = missingFieldsError(missing)
	return decision, nil
}

func missingFieldsError(missing []entities.Field) error {
	return fmt.Errorf("%v: %w", missing, resilience.ErrMissingRequiredFields)
}

func (r *Router) logRouted(tenantID string, d Decision) {
	r.logger.Info("Query routed",
		zap.String("tenant_id", tenantID),
		zap.String("outcome", string(d.Outcome)),
		zap.String("destination", string(d.Destination)),
		zap.String("intent", string(d.Intent)),
		zap.Float64("confidence", d.Confidence),
		zap.Bool("prefer_semantic", d.PreferSemantic))
}
