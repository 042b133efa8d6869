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

// Package conversation manages per-tenant dialogue context: the pending
// clarification question, the answers accumulated for it and the last
// successfully answered query.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/clarification"
	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/language"
	"github.com/your-org/broiler-assistant/internal/resilience"
	"github.com/your-org/broiler-assistant/internal/session"
)

// ErrNoPending is returned when an operation needs a pending clarification
// and the tenant has none.
var ErrNoPending = errors.New("no pending clarification")

// PendingInput describes a new clarification question
type PendingInput struct {
	TenantID         string
	Query            string
	Language         string
	OriginalLanguage string
	Intent           string
	RequiredFields   []entities.Field
	MissingFields    []entities.Field
	Suggestions      map[entities.Field][]string
	Partial          entities.Entities
}

// Reply is the interpretation of a message sent while a clarification is
// pending
type Reply struct {
	Detection clarification.Detection `json:"detection"`
	Extracted entities.Entities       `json:"extracted"`
}

// Manager handles dialogue context operations. Callers that read and then
// write the same tenant hold the tenant lock from Lock.
type Manager struct {
	sessions  *session.Manager
	extractor *entities.Extractor
	detector  *clarification.Detector
	logger    *zap.Logger
}

// NewManager creates a new dialogue context manager
func NewManager(sessions *session.Manager, extractor *entities.Extractor, detector *clarification.Detector, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if detector == nil {
		detector = clarification.NewDetector()
	}
	return &Manager{
		sessions:  sessions,
		extractor: extractor,
		detector:  detector,
		logger:    logger,
	}
}

// Lock acquires the tenant lock and returns its release function
func (m *Manager) Lock(tenantID string) func() {
	return m.sessions.Lock(tenantID)
}

// MarkPending records a clarification question for a tenant, replacing any
// previous one. Attempts start at zero.
func (m *Manager) MarkPending(ctx context.Context, in PendingInput) (*session.PendingClarification, error) {
	pending := &session.PendingClarification{
		TenantID:         in.TenantID,
		OriginalQuery:    in.Query,
		AccumulatedQuery: in.Query,
		Intent:           in.Intent,
		RequiredFields:   append([]entities.Field(nil), in.RequiredFields...),
		MissingFields:    append([]entities.Field(nil), in.MissingFields...),
		Suggestions:      in.Suggestions,
		Language:         in.Language,
		OriginalLanguage: in.OriginalLanguage,
		PartialEntities:  in.Partial.Clone(),
	}

	if err := m.sessions.SavePending(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to mark pending clarification: %w", err)
	}

	m.logger.Info("Clarification pending",
		zap.String("tenant_id", in.TenantID),
		zap.Any("missing_fields", in.MissingFields),
		zap.String("language", in.Language))
	return pending, nil
}

// GetPending returns the tenant's pending clarification or nil
func (m *Manager) GetPending(ctx context.Context, tenantID string) (*session.PendingClarification, error) {
	return m.sessions.GetPending(ctx, tenantID)
}

// ClearPending removes the tenant's pending clarification, which also
// resets its attempt counter
func (m *Manager) ClearPending(ctx context.Context, tenantID string) error {
	if err := m.sessions.DeletePending(ctx, tenantID); err != nil {
		return err
	}
	m.logger.Debug("Clarification cleared", zap.String("tenant_id", tenantID))
	return nil
}

// IncrementAttempts counts one more unusable reply and returns the new count
func (m *Manager) IncrementAttempts(ctx context.Context, tenantID string) (int, error) {
	pending, err := m.sessions.GetPending(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if pending == nil {
		return 0, ErrNoPending
	}

	pending.ClarificationAttempts++
	if err := m.sessions.SavePending(ctx, pending); err != nil {
		return 0, err
	}
	return pending.ClarificationAttempts, nil
}

// InterpretReply classifies a message against a pending clarification
func (m *Manager) InterpretReply(message string, pending *session.PendingClarification) Reply {
	hints := entities.Hints{}
	var missing []entities.Field
	lang := language.Detect(message)
	if pending != nil {
		hints.Language = pending.Language
		hints.Breed = pending.PartialEntities.Breed
		missing = pending.MissingFields
		lang = pending.Language
	}

	extracted := m.extractor.Extract(message, hints)
	return Reply{
		Detection: m.detector.Detect(message, lang, missing, extracted),
		Extracted: extracted,
	}
}

// IsClarificationResponse reports whether message supplies at least one of
// the pending missing fields
func (m *Manager) IsClarificationResponse(message string, pending *session.PendingClarification) bool {
	if pending == nil {
		return false
	}
	return m.InterpretReply(message, pending).Detection.IsAnswer()
}

// DetectAmbiguousResponse reports whether message is a hedge without a value
func (m *Manager) DetectAmbiguousResponse(message string) bool {
	return m.detector.IsAmbiguous(message)
}

// DetectClarificationAbandon reports whether message gives up on the question
func (m *Manager) DetectClarificationAbandon(message string) bool {
	return m.detector.IsAbandon(message)
}

// UpdateAccumulatedQuery merges the entities of newInfo into the pending
// clarification, appends a phrase per supplied field to the accumulated
// query and recomputes the missing fields. Fields in answered count as
// supplied from then on even without an extracted value.
func (m *Manager) UpdateAccumulatedQuery(ctx context.Context, tenantID, newInfo string, answered ...entities.Field) (*session.PendingClarification, error) {
	pending, err := m.sessions.GetPending(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, ErrNoPending
	}

	extracted := m.extractor.Extract(newInfo, entities.Hints{
		Language: pending.Language,
		Breed:    pending.PartialEntities.Breed,
	})
	merged := entities.Merge(pending.PartialEntities, extracted)

	var fragments []string
	for _, f := range entities.FieldOrder {
		if !extracted.Has(f) {
			continue
		}
		if frag := clarification.Fragment(pending.Language, f, merged); frag != "" {
			fragments = append(fragments, frag)
		}
	}

	base := pending.AccumulatedQuery
	if base == "" {
		base = pending.OriginalQuery
	}
	pending.AccumulatedQuery = appendToQuery(base, fragments, newInfo)
	pending.PartialEntities = merged
	pending.Answered = addFields(pending.Answered, answered)
	pending.MissingFields = withoutFields(merged.Missing(pending.RequiredFields), pending.Answered)
	pending.ClarificationCount++

	if err := m.sessions.SavePending(ctx, pending); err != nil {
		return nil, err
	}

	m.logger.Debug("Accumulated clarification answer",
		zap.String("tenant_id", tenantID),
		zap.String("accumulated_query", pending.AccumulatedQuery),
		zap.Any("missing_fields", pending.MissingFields))
	return pending, nil
}

// appendToQuery inserts fragments before the closing punctuation of query.
// Without fragments the raw answer is joined with a separator.
func appendToQuery(query string, fragments []string, raw string) string {
	trimmed := strings.TrimSpace(query)
	closing := ""
	if strings.HasSuffix(trimmed, "?") {
		closing = "?"
	}
	stem := strings.TrimRight(trimmed, " ?!.")

	if len(fragments) == 0 {
		raw = session.SanitizeUserInput(raw)
		if raw == "" {
			return trimmed
		}
		return stem + closing + " | " + raw
	}
	return stem + " " + strings.Join(fragments, " ") + closing
}

// StoreLastSuccessfulQuery remembers an answered query for follow-ups
func (m *Manager) StoreLastSuccessfulQuery(ctx context.Context, tenantID, query string, found entities.Entities, lang string) error {
	return m.sessions.SaveLastContext(ctx, &session.LastContext{
		TenantID: tenantID,
		Query:    query,
		Entities: found.Clone(),
		Language: lang,
	})
}

// GetLastContext returns the tenant's last successful context while fresh.
// A stale context reads as none.
func (m *Manager) GetLastContext(ctx context.Context, tenantID string) (*session.LastContext, error) {
	last, err := m.sessions.GetLastContext(ctx, tenantID)
	if errors.Is(err, resilience.ErrStaleContext) {
		m.logger.Debug("Ignoring stale last context", zap.String("tenant_id", tenantID))
		return nil, nil
	}
	return last, err
}

// ClearLastContext forgets the tenant's last successful context
func (m *Manager) ClearLastContext(ctx context.Context, tenantID string) error {
	return m.sessions.DeleteLastContext(ctx, tenantID)
}

var referencePattern = regexp.MustCompile(`(?:^|[^\p{L}])(?:` + strings.Join([]string{
	`same`, `too`, `also`, `as\s+well`, `what\s+about`, `how\s+about`, `and\s+for`, `and\s+at`, `and\s+the`,
	`meme`, `aussi`, `egalement`, `et\s+pour`, `et\s+a`, `et\s+les`, `et\s+chez`,
	`misma`, `mismo`, `tambien`, `y\s+para`, `y\s+a`, `y\s+los`, `y\s+las`, `que\s+tal`,
}, "|") + `)(?:$|[^\p{L}])`)

// ResolveReferences fills gaps in current from the last successful context
// when the message refers back to it ("same age", "and for females?").
// Values stated in current always win; inherited values are not explicit.
func (m *Manager) ResolveReferences(message string, current entities.Entities, last *session.LastContext) (entities.Entities, bool) {
	if last == nil || !referencePattern.MatchString(language.Fold(message)) {
		return current, false
	}

	resolved := entities.Merge(last.Entities.WithoutExplicit(), current)
	if len(resolved.Present()) == len(current.Present()) {
		return current, false
	}
	return resolved, true
}

func addFields(set, fields []entities.Field) []entities.Field {
	for _, f := range fields {
		if !slices.Contains(set, f) {
			set = append(set, f)
		}
	}
	return set
}

func withoutFields(fields, drop []entities.Field) []entities.Field {
	out := fields[:0:0]
	for _, f := range fields {
		if !slices.Contains(drop, f) {
			out = append(out, f)
		}
	}
	return out
}
