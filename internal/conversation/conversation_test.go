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

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/session"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	storage := session.NewMemoryStorage(100)
	storage.SetClock(clock.Now)

	config := session.DefaultConfig()
	config.CleanupInterval = 0
	sessions := session.NewManagerWithStorage(storage, config, nil)
	sessions.SetClock(clock.Now)
	t.Cleanup(func() { _ = sessions.Close() })

	return NewManager(sessions, entities.NewDefaultExtractor(nil), nil, nil), clock
}

func weightQuestion(tenant, lang, query string) PendingInput {
	return PendingInput{
		TenantID:       tenant,
		Query:          query,
		Language:       lang,
		Intent:         "metric_lookup",
		RequiredFields: []entities.Field{entities.FieldBreed, entities.FieldAge},
		MissingFields:  []entities.Field{entities.FieldBreed, entities.FieldAge},
		Partial: entities.Entities{
			Metric:     entities.MetricBodyWeight,
			Confidence: map[entities.Field]float64{entities.FieldMetric: 0.95},
			Explicit:   map[entities.Field]bool{entities.FieldMetric: true},
		},
	}
}

func TestMarkPendingReplaces(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.MarkPending(ctx, weightQuestion("farm-1", "en", "What's the target weight?"))
	require.NoError(t, err)
	_, err = m.IncrementAttempts(ctx, "farm-1")
	require.NoError(t, err)

	_, err = m.MarkPending(ctx, weightQuestion("farm-1", "en", "What's the FCR?"))
	require.NoError(t, err)

	pending, err := m.GetPending(ctx, "farm-1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "What's the FCR?", pending.OriginalQuery)
	assert.Equal(t, "What's the FCR?", pending.AccumulatedQuery)
	assert.Zero(t, pending.ClarificationAttempts)
}

func TestIncrementAttempts(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.IncrementAttempts(ctx, "farm-1")
	assert.ErrorIs(t, err, ErrNoPending)

	_, err = m.MarkPending(ctx, weightQuestion("farm-1", "en", "What's the target weight?"))
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		got, err := m.IncrementAttempts(ctx, "farm-1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	require.NoError(t, m.ClearPending(ctx, "farm-1"))
	pending, err := m.GetPending(ctx, "farm-1")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestUpdateAccumulatedQuery(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.UpdateAccumulatedQuery(ctx, "farm-1", "Cobb 500")
	assert.ErrorIs(t, err, ErrNoPending)

	_, err = m.MarkPending(ctx, weightQuestion("farm-1", "en", "What's the target weight?"))
	require.NoError(t, err)

	pending, err := m.UpdateAccumulatedQuery(ctx, "farm-1", "Cobb 500")
	require.NoError(t, err)
	assert.Equal(t, "What's the target weight for Cobb 500?", pending.AccumulatedQuery)
	assert.Equal(t, []entities.Field{entities.FieldAge}, pending.MissingFields)
	assert.Equal(t, 1, pending.ClarificationCount)
	assert.Equal(t, "Cobb 500", pending.PartialEntities.Breed)
	assert.Equal(t, entities.MetricBodyWeight, pending.PartialEntities.Metric)

	pending, err = m.UpdateAccumulatedQuery(ctx, "farm-1", "35 days")
	require.NoError(t, err)
	assert.Equal(t, "What's the target weight for Cobb 500 at 35 days?", pending.AccumulatedQuery)
	assert.Empty(t, pending.MissingFields)
	assert.Equal(t, 2, pending.ClarificationCount)
	assert.Equal(t, 35, pending.PartialEntities.AgeDays)

	stored, err := m.GetPending(ctx, "farm-1")
	require.NoError(t, err)
	assert.Equal(t, pending.AccumulatedQuery, stored.AccumulatedQuery)
}

func TestUpdateAccumulatedQueryLocalized(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.MarkPending(ctx, weightQuestion("farm-fr", "fr", "Quel est le poids cible ?"))
	require.NoError(t, err)

	pending, err := m.UpdateAccumulatedQuery(ctx, "farm-fr", "Ross 308, 21 jours")
	require.NoError(t, err)
	assert.Equal(t, "Quel est le poids cible pour Ross 308 à 21 jours?", pending.AccumulatedQuery)
	assert.Empty(t, pending.MissingFields)
}

func TestUpdateAccumulatedQueryWithoutEntities(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.MarkPending(ctx, weightQuestion("farm-1", "en", "What's the target weight?"))
	require.NoError(t, err)

	pending, err := m.UpdateAccumulatedQuery(ctx, "farm-1", "the heavy ones")
	require.NoError(t, err)
	assert.Equal(t, "What's the target weight? | the heavy ones", pending.AccumulatedQuery)
	assert.Equal(t, []entities.Field{entities.FieldBreed, entities.FieldAge}, pending.MissingFields)
}

func TestUpdateAccumulatedQueryKeepsAnsweredFields(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.MarkPending(ctx, weightQuestion("farm-1", "en", "What's the target weight?"))
	require.NoError(t, err)

	pending, err := m.UpdateAccumulatedQuery(ctx, "farm-1", "the heavy ones", entities.FieldBreed)
	require.NoError(t, err)
	assert.Equal(t, []entities.Field{entities.FieldAge}, pending.MissingFields)
	assert.Equal(t, []entities.Field{entities.FieldBreed}, pending.Answered)

	pending, err = m.UpdateAccumulatedQuery(ctx, "farm-1", "35 days")
	require.NoError(t, err)
	assert.Empty(t, pending.MissingFields)
	assert.Empty(t, pending.PartialEntities.Breed)
	assert.Equal(t, []entities.Field{entities.FieldBreed}, pending.PartialEntities.Missing(pending.Answered))

	stored, err := m.GetPending(ctx, "farm-1")
	require.NoError(t, err)
	assert.Equal(t, []entities.Field{entities.FieldBreed}, stored.Answered)
}

func TestReplyDetection(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pending, err := m.MarkPending(ctx, weightQuestion("farm-1", "en", "What's the target weight?"))
	require.NoError(t, err)

	assert.True(t, m.IsClarificationResponse("Cobb 500", pending))
	assert.True(t, m.IsClarificationResponse("35 days", pending))
	assert.False(t, m.IsClarificationResponse("not sure", pending))
	assert.False(t, m.IsClarificationResponse("never mind", pending))
	assert.False(t, m.IsClarificationResponse("Cobb 500", nil))

	assert.True(t, m.DetectAmbiguousResponse("environ 35 jours"))
	assert.True(t, m.DetectClarificationAbandon("forget it"))
	assert.False(t, m.DetectClarificationAbandon("Ross 308"))

	reply := m.InterpretReply("Ross 308 at 21 days", pending)
	assert.True(t, reply.Detection.IsAnswer())
	assert.Equal(t, []entities.Field{entities.FieldBreed, entities.FieldAge}, reply.Detection.Fields)
	assert.Equal(t, "Ross 308", reply.Extracted.Breed)
}

func TestLastContextExpiry(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	found := entities.Entities{Breed: "Cobb 500", AgeDays: 35, Metric: entities.MetricBodyWeight}
	require.NoError(t, m.StoreLastSuccessfulQuery(ctx, "farm-1", "Cobb 500 weight at 35 days", found, "en"))

	clock.Advance(300 * time.Second)
	last, err := m.GetLastContext(ctx, "farm-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "Cobb 500", last.Entities.Breed)

	clock.Advance(time.Second)
	last, err = m.GetLastContext(ctx, "farm-1")
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, m.StoreLastSuccessfulQuery(ctx, "farm-1", "q", found, "en"))
	require.NoError(t, m.ClearLastContext(ctx, "farm-1"))
	last, err = m.GetLastContext(ctx, "farm-1")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestStaleLastContextReadsAsNone(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	config := session.DefaultConfig()
	config.CleanupInterval = 0
	sessions := session.NewManagerWithStorage(session.NewMemoryStorage(100), config, nil)
	sessions.SetClock(clock.Now)
	t.Cleanup(func() { _ = sessions.Close() })
	m := NewManager(sessions, entities.NewDefaultExtractor(nil), nil, nil)
	ctx := context.Background()

	found := entities.Entities{Breed: "Cobb 500", AgeDays: 35}
	require.NoError(t, m.StoreLastSuccessfulQuery(ctx, "farm-1", "Cobb 500 weight at 35 days", found, "en"))
	clock.Advance(config.LastContextTTL + time.Second)

	last, err := m.GetLastContext(ctx, "farm-1")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestResolveReferences(t *testing.T) {
	m, _ := newTestManager(t)
	last := &session.LastContext{
		TenantID: "farm-1",
		Entities: entities.Entities{
			Breed:   "Cobb 500",
			AgeDays: 35,
			Metric:  entities.MetricBodyWeight,
			Explicit: map[entities.Field]bool{
				entities.FieldBreed: true, entities.FieldAge: true, entities.FieldMetric: true,
			},
		},
	}
	extract := func(text, lang string) entities.Entities {
		return m.extractor.Extract(text, entities.Hints{Language: lang})
	}

	tests := []struct {
		name     string
		message  string
		lang     string
		resolved bool
		breed    string
		age      int
		sex      entities.Sex
	}{
		{"sex follow-up", "and for females?", "en", true, "Cobb 500", 35, entities.SexFemale},
		{"same age other breed", "same age for Ross 308", "en", true, "Ross 308", 35, ""},
		{"french same age", "même âge pour Ross 308", "fr", true, "Ross 308", 35, ""},
		{"spanish same age", "misma edad para Ross 308", "es", true, "Ross 308", 35, ""},
		{"new question", "What's the FCR of Ross 308?", "en", false, "Ross 308", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := extract(tt.message, tt.lang)
			got, ok := m.ResolveReferences(tt.message, current, last)
			assert.Equal(t, tt.resolved, ok)
			assert.Equal(t, tt.breed, got.Breed)
			assert.Equal(t, tt.age, got.AgeDays)
			assert.Equal(t, tt.sex, got.Sex)
			if ok && current.Breed == "" {
				assert.False(t, got.IsExplicit(entities.FieldBreed))
			}
		})
	}

	got, ok := m.ResolveReferences("and for females?", extract("and for females?", "en"), nil)
	assert.False(t, ok)
	assert.Empty(t, got.Breed)
}
