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

package router

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/clarification"
	"github.com/your-org/broiler-assistant/internal/classifier"
	"github.com/your-org/broiler-assistant/internal/conversation"
	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/resilience"
	"github.com/your-org/broiler-assistant/internal/retrieval"
	"github.com/your-org/broiler-assistant/internal/session"
)

// newQuestionWords is the length from which a reply ending in a question
// mark is taken as a new question rather than a puzzled answer ("what?")
const newQuestionWords = 4

// continueClarification interprets a message sent while a question is
// pending. handled is false when the message turned out to be a new query;
// the pending question has then been dropped.
func (r *Router) continueClarification(ctx context.Context, req Request, pending *session.PendingClarification) (Decision, bool, error) {
	reply := r.conversation.InterpretReply(req.Query, pending)

	r.logger.Debug("Interpreting clarification reply",
		zap.String("tenant_id", req.TenantID),
		zap.String("signal", string(reply.Detection.Signal)),
		zap.Any("missing_fields", pending.MissingFields))

	switch reply.Detection.Signal {
	case clarification.SignalAbandon:
		if err := r.conversation.ClearPending(ctx, req.TenantID); err != nil {
			return Decision{}, true, err
		}
		return r.generalAnswer(pending, OutcomeAbandoned), true, nil

	case clarification.SignalAmbiguous:
		d, err := r.retry(ctx, req.TenantID, pending,
			fmt.Errorf("reply %q: %w", req.Query, resilience.ErrExtractionAmbiguous))
		return d, true, err

	case clarification.SignalExtractor, clarification.SignalLocalePattern:
		d, err := r.merge(ctx, req.TenantID, req.Query, reply.Detection)
		return d, true, err
	}

	if r.newQuestion(req.Query, reply) {
		if err := r.conversation.ClearPending(ctx, req.TenantID); err != nil {
			return Decision{}, true, err
		}
		r.logger.Info("Reply treated as a new query, pending clarification dropped",
			zap.String("tenant_id", req.TenantID))
		return Decision{}, false, nil
	}

	d, err := r.retry(ctx, req.TenantID, pending, missingFieldsError(pending.MissingFields))
	return d, true, err
}

// newQuestion reports whether a reply that answers nothing asks something
// else: it names entities of its own, has a poultry intent, or is a full
// sentence ending in a question mark. Anything else is a failed answer.
func (r *Router) newQuestion(message string, reply conversation.Reply) bool {
	if !reply.Extracted.IsEmpty() {
		return true
	}
	if strings.Contains(message, "?") && len(strings.Fields(message)) >= newQuestionWords {
		return true
	}
	return r.classifier.ClassifyQuery(message, reply.Extracted).Intent != classifier.IntentGeneral
}

// retry counts a failed answer and either asks again or gives up. reason
// is why the answer failed.
func (r *Router) retry(ctx context.Context, tenantID string, pending *session.PendingClarification, reason error) (Decision, error) {
	attempts, err := r.conversation.IncrementAttempts(ctx, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count clarification attempt: %w", err)
	}

	if attempts >= r.config.MaxAttempts {
		if err := r.conversation.ClearPending(ctx, tenantID); err != nil {
			return Decision{}, err
		}
		r.logger.Info("Clarification limit reached",
			zap.String("tenant_id", tenantID),
			zap.Int("attempts", attempts))
		d := r.generalAnswer(pending, OutcomeLimitExceeded)
		d.LimitExceeded = true
		d.Attempts = attempts
		d.Reason = fmt.Errorf("after %d attempts: %w", attempts, resilience.ErrClarificationLimitExceeded)
		return d, nil
	}

	return Decision{
		Outcome:       OutcomeRetry,
		Destination:   DestinationNeedsClarification,
		Intent:        classifier.Intent(pending.Intent),
		Confidence:    pending.PartialEntities.OverallConfidence,
		Entities:      pending.PartialEntities,
		MissingFields: pending.MissingFields,
		Suggestions:   pending.Suggestions,
		Query:         pending.AccumulatedQuery,
		OriginalQuery: pending.OriginalQuery,
		Language:      pending.Language,
		Message:       clarification.FollowUp(pending.Language, pending.MissingFields),
		Attempts:      attempts,
		Reason:        reason,
	}, nil
}

// merge folds an answer into the pending question and routes it once
// nothing required is missing. A field matched only by a locale pattern
// stays answered for the rest of the dialogue even when no value could be
// parsed from it.
func (r *Router) merge(ctx context.Context, tenantID, message string, detection clarification.Detection) (Decision, error) {
	var answered []entities.Field
	if detection.Signal == clarification.SignalLocalePattern {
		answered = detection.Fields
	}
	updated, err := r.conversation.UpdateAccumulatedQuery(ctx, tenantID, message, answered...)
	if err != nil {
		return Decision{}, err
	}

	if len(updated.MissingFields) > 0 {
		return Decision{
			Outcome:       OutcomeAwaitingClarification,
			Destination:   DestinationNeedsClarification,
			Intent:        classifier.Intent(updated.Intent),
			Confidence:    updated.PartialEntities.OverallConfidence,
			Entities:      updated.PartialEntities,
			MissingFields: updated.MissingFields,
			Suggestions:   updated.Suggestions,
			Query:         updated.AccumulatedQuery,
			OriginalQuery: updated.OriginalQuery,
			Language:      updated.Language,
			Message:       clarification.Question(updated.Language, updated.MissingFields),
			Attempts:      updated.ClarificationAttempts,
			Reason:        missingFieldsError(updated.MissingFields),
		}, nil
	}

	if err := r.conversation.ClearPending(ctx, tenantID); err != nil {
		return Decision{}, err
	}

	d := Decision{
		Outcome:       OutcomeMergedAndRouted,
		Intent:        classifier.Intent(updated.Intent),
		Entities:      updated.PartialEntities,
		Validation:    r.extractor.Validate(updated.PartialEntities),
		Query:         updated.AccumulatedQuery,
		OriginalQuery: updated.AccumulatedQuery,
		Language:      updated.Language,
		Attempts:      updated.ClarificationAttempts,
		normalize:     true,
	}
	r.decide(&d, updated.PartialEntities.OverallConfidence, updated.PartialEntities.Missing(updated.Answered))
	r.logRouted(tenantID, d)
	return d, nil
}

// generalAnswer routes the partial question to general guidance, prefixed
// by the localized disclaimer
func (r *Router) generalAnswer(pending *session.PendingClarification, outcome Outcome) Decision {
	query := pending.AccumulatedQuery
	if query == "" {
		query = pending.OriginalQuery
	}

	return Decision{
		Outcome:        outcome,
		Destination:    retrieval.DestinationHybrid,
		Intent:         classifier.Intent(pending.Intent),
		Confidence:     pending.PartialEntities.OverallConfidence / 2,
		Entities:       pending.PartialEntities,
		MissingFields:  pending.MissingFields,
		Validation:     r.extractor.Validate(pending.PartialEntities),
		Query:          query,
		OriginalQuery:  query,
		Language:       pending.Language,
		Message:        clarification.Disclaimer(pending.Language),
		PreferSemantic: true,
		Attempts:       pending.ClarificationAttempts,
		normalize:      true,
	}
}
