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

package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	compiled, err := DefaultRegistry().Compile()
	require.NoError(t, err)
	return NewExtractor(compiled, nil)
}

func TestExtractBreed(t *testing.T) {
	x := newTestExtractor(t)

	tests := []struct {
		name      string
		query     string
		wantBreed string
		wantConf  float64
	}{
		{name: "canonical name", query: "Cobb 500 at 35 days", wantBreed: "Cobb 500", wantConf: 1.0},
		{name: "alias", query: "hubbard flock performance", wantBreed: "Hubbard Classic", wantConf: 0.95},
		{name: "glued name", query: "what about ross308 birds", wantBreed: "Ross 308", wantConf: 1.0},
		{name: "numeric alias", query: "the 500 at 35 days", wantBreed: "Cobb 500", wantConf: 0.75},
		{name: "slash alias with spaces", query: "308 / 308 FF growth curve", wantBreed: "Ross 308"},
		{name: "longest match wins", query: "Ross 308 PS hens at 30 weeks", wantBreed: "Ross 308 Parent Stock"},
		{name: "accented input", query: "poids des mâles Hubbard JA787", wantBreed: "Hubbard JA787"},
		{name: "hyphenated layer", query: "hy-line brown production", wantBreed: "Hy-Line Brown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := x.Extract(tt.query, Hints{})
			assert.Equal(t, tt.wantBreed, e.Breed)
			assert.True(t, e.IsExplicit(FieldBreed))
			if tt.wantConf > 0 {
				assert.InDelta(t, tt.wantConf, e.Confidence[FieldBreed], 1e-9)
			}
		})
	}
}

func TestExtractNumericAliasBoundaries(t *testing.T) {
	x := newTestExtractor(t)

	for _, query := range []string{
		"1500 birds in the house",
		"they weigh 500g already",
		"500 g at day 7",
		"feed 3.500 kg per bird",
		"500 days old",
	} {
		t.Run(query, func(t *testing.T) {
			e := x.Extract(query, Hints{})
			assert.Empty(t, e.Breed)
		})
	}
}

func TestExtractAge(t *testing.T) {
	x := newTestExtractor(t)

	tests := []struct {
		query string
		want  int
	}{
		{"Cobb 500 à 35 jours", 35},
		{"Ross 308 à 3 semaines", 21},
		{"peso a las 6 semanas", 42},
		{"at 5 weeks and 3 days", 38},
		{"day 21 weights", 21},
		{"poids à J21", 21},
		{"Ross 308 at 28d", 28},
		{"42-day-old broilers", 42},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			e := x.Extract(tt.query, Hints{})
			assert.Equal(t, tt.want, e.AgeDays)
			assert.True(t, e.IsExplicit(FieldAge))
		})
	}
}

func TestExtractAgeCeiling(t *testing.T) {
	x := newTestExtractor(t)

	e := x.Extract("Cobb 500 at 150 days", Hints{})
	assert.Zero(t, e.AgeDays)
	assert.NotEmpty(t, e.Notes)

	e = x.Extract("Hy-Line Brown hens at 45 weeks", Hints{})
	assert.Equal(t, 315, e.AgeDays)
	assert.True(t, e.LayerContext)

	e = x.Extract("at 40 weeks", Hints{Breed: "ISA Brown"})
	assert.Equal(t, 280, e.AgeDays)

	e = x.Extract("laying hens at 300 days", Hints{})
	assert.Equal(t, 300, e.AgeDays)
}

func TestExtractAgeSkipsBreedNumbers(t *testing.T) {
	x := newTestExtractor(t)

	tests := []struct {
		query string
		breed string
		want  int
	}{
		{"poids des Cobb 500 d'un lot de 35 jours", "Cobb 500", 35},
		{"quel poids pour Ross 308 d'environ 35 jours", "Ross 308", 35},
		{"Cobb 500 d’un lot à J28", "Cobb 500", 28},
		{"Ross 308 at 28d", "Ross 308", 28},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			e := x.Extract(tt.query, Hints{Language: "fr"})
			assert.Equal(t, tt.breed, e.Breed)
			assert.Equal(t, tt.want, e.AgeDays)
			assert.Empty(t, e.Notes)
		})
	}
}

func TestExtractAgeTriesLaterMentions(t *testing.T) {
	x := newTestExtractor(t)

	e := x.Extract("flock of 250 days? no, 35 days", Hints{})
	assert.Equal(t, 35, e.AgeDays)

	e = x.Extract("500d' trop", Hints{})
	assert.Zero(t, e.AgeDays)
}

func TestExtractAgeCeilingFollowsSpecies(t *testing.T) {
	x := newTestExtractor(t)

	e := x.Extract("Nicholas Select weight at 140 days", Hints{})
	assert.Equal(t, 140, e.AgeDays)
	assert.Empty(t, e.Notes)
	assert.True(t, x.Validate(e).IsValid)

	e = x.Extract("Nicholas Select weight at 200 days", Hints{})
	assert.Zero(t, e.AgeDays)
	assert.Equal(t, []string{"age 200 days outside 1-180, ignored"}, e.Notes)

	e = x.Extract("at 140 days", Hints{Breed: "Nicholas Select"})
	assert.Equal(t, 140, e.AgeDays)
}

func TestExtractSex(t *testing.T) {
	x := newTestExtractor(t)

	tests := []struct {
		query string
		lang  string
		want  Sex
	}{
		{"Ross 308 males", "en", SexMale},
		{"poids des mâles", "fr", SexMale},
		{"femelles Cobb 500", "fr", SexFemale},
		{"peso de hembras", "es", SexFemale},
		{"as-hatched flock", "en", SexMixed},
		{"males and females together", "en", SexMixed},
		{"troupeau mixte", "fr", SexMixed},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			e := x.Extract(tt.query, Hints{Language: tt.lang})
			assert.Equal(t, tt.want, e.Sex)
		})
	}
}

func TestExtractMetricPriority(t *testing.T) {
	x := newTestExtractor(t)

	tests := []struct {
		query string
		want  MetricType
	}{
		{"what's the target weight?", MetricBodyWeight},
		{"weight gain of Ross 308", MetricDailyGain},
		{"FCR at 35 days", MetricFeedConversion},
		{"indice de conversion alimentaire", MetricFeedConversion},
		{"water intake per day", MetricWaterIntake},
		{"taux de mortalité", MetricMortality},
		{"consumo de alimento", MetricFeedIntake},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			e := x.Extract(tt.query, Hints{})
			assert.Equal(t, tt.want, e.Metric)
		})
	}
}

func TestOverallConfidence(t *testing.T) {
	assert.InDelta(t, 0.30, OverallConfidence(map[Field]float64{FieldBreed: 1}), 1e-9)
	// .30 + .25 + 0.1 bonus
	assert.InDelta(t, 0.65, OverallConfidence(map[Field]float64{FieldBreed: 1, FieldAge: 1}), 1e-9)
	// bonus is capped at 0.2 and the total at 1
	assert.InDelta(t, 1.0, OverallConfidence(map[Field]float64{
		FieldBreed: 1, FieldAge: 1, FieldSex: 1, FieldMetric: 1,
	}), 1e-9)
	assert.Zero(t, OverallConfidence(nil))

	x := newTestExtractor(t)
	canonical := x.Extract("Hubbard Classic", Hints{})
	alias := x.Extract("hubbard", Hints{})
	assert.Greater(t, canonical.OverallConfidence, alias.OverallConfidence)
}

func TestValidate(t *testing.T) {
	x := newTestExtractor(t)

	t.Run("valid broiler", func(t *testing.T) {
		r := x.Validate(x.Extract("Cobb 500 males at 35 days", Hints{}))
		assert.True(t, r.IsValid)
		assert.Empty(t, r.Errors)
	})

	t.Run("unknown breed", func(t *testing.T) {
		r := x.Validate(Entities{Breed: "Silkie", OverallConfidence: 0.3})
		assert.False(t, r.IsValid)
		assert.Contains(t, r.Errors[0], "unknown breed")
	})

	t.Run("species mismatch", func(t *testing.T) {
		r := x.Validate(Entities{Breed: "ISA Brown", Species: SpeciesBroiler, OverallConfidence: 0.3})
		assert.False(t, r.IsValid)
	})

	t.Run("age beyond broiler cycle warns", func(t *testing.T) {
		r := x.Validate(Entities{Breed: "Ross 308", AgeDays: 75, OverallConfidence: 0.6})
		assert.True(t, r.IsValid)
		assert.NotEmpty(t, r.Warnings)
	})

	t.Run("age beyond layer ceiling", func(t *testing.T) {
		r := x.Validate(Entities{Breed: "Hy-Line W-36", AgeDays: 700, OverallConfidence: 0.6})
		assert.False(t, r.IsValid)
	})

	t.Run("low confidence warns", func(t *testing.T) {
		r := x.Validate(Entities{AgeDays: 21, OverallConfidence: 0.2})
		assert.True(t, r.IsValid)
		assert.NotEmpty(t, r.Warnings)
	})
}

func TestMergePrecedence(t *testing.T) {
	x := newTestExtractor(t)

	pending := x.Extract("at 21 days", Hints{})
	require.Equal(t, 21, pending.AgeDays)

	merged := Merge(pending, x.Extract("Cobb 500", Hints{}))
	assert.Equal(t, "Cobb 500", merged.Breed)
	assert.Equal(t, 21, merged.AgeDays)
	assert.Equal(t, "Cobb", merged.GeneticLine)

	merged = Merge(merged, x.Extract("actually 35 days", Hints{}))
	assert.Equal(t, 35, merged.AgeDays)

	inherited := Entities{AgeDays: 42, Sex: SexFemale}
	kept := Merge(merged, inherited)
	assert.Equal(t, 35, kept.AgeDays)
	assert.Equal(t, SexFemale, kept.Sex)

	explicitBreed := x.Extract("Ross 308", Hints{})
	switched := Merge(kept, explicitBreed)
	assert.Equal(t, "Ross 308", switched.Breed)
	assert.Equal(t, "Ross", switched.GeneticLine)

	// inputs are not mutated
	assert.Equal(t, "Cobb 500", merged.Breed)
	assert.Equal(t, 21, pending.AgeDays)
}

func TestEntitiesMissing(t *testing.T) {
	e := Entities{AgeDays: 21}
	assert.Equal(t, []Field{FieldBreed}, e.Missing([]Field{FieldAge, FieldBreed}))
	assert.Equal(t, []Field{FieldBreed, FieldAge}, Entities{}.Missing([]Field{FieldAge, FieldBreed}))
	assert.Nil(t, e.Missing(nil))
}
