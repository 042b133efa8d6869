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

// Package entities extracts typed, confidence-scored poultry entities (breed,
// age, sex and performance metric) from free-text questions.
package entities

import (
	"sort"
)

// Sex is the categorical sex of a flock.
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexMixed  Sex = "mixed"
)

// MetricType identifies a performance metric.
type MetricType string

const (
	MetricBodyWeight     MetricType = "body_weight"
	MetricFeedConversion MetricType = "feed_conversion_ratio"
	MetricDailyGain      MetricType = "daily_gain"
	MetricFeedIntake     MetricType = "feed_intake"
	MetricMortality      MetricType = "mortality"
	MetricLivability     MetricType = "livability"
	MetricProduction     MetricType = "production"
	MetricWaterIntake    MetricType = "water_intake"
	MetricCost           MetricType = "cost"
)

// Species groups breeds whose performance can be compared with each other.
type Species string

const (
	SpeciesBroiler Species = "broiler"
	SpeciesLayer   Species = "layer"
	SpeciesBreeder Species = "breeder"
	SpeciesTurkey  Species = "turkey"
)

// Age ceilings in days.
const (
	BroilerAgeCeiling = 100
	LayerAgeCeiling   = 600
)

// Field names an extractable entity.
type Field string

const (
	FieldBreed  Field = "breed"
	FieldAge    Field = "age"
	FieldSex    Field = "sex"
	FieldMetric Field = "metric"
)

// FieldOrder is the canonical ordering used for missing-field lists and
// clarification questions.
var FieldOrder = []Field{FieldBreed, FieldAge, FieldSex, FieldMetric}

// Entities is an immutable snapshot of what was found in one message.
// AgeDays of zero means the age is absent.
type Entities struct {
	Breed             string            `json:"breed,omitempty"`
	AgeDays           int               `json:"age_days,omitempty"`
	Sex               Sex               `json:"sex,omitempty"`
	Metric            MetricType        `json:"metric_type,omitempty"`
	GeneticLine       string            `json:"genetic_line,omitempty"`
	Species           Species           `json:"species,omitempty"`
	LayerContext      bool              `json:"layer_context,omitempty"`
	Confidence        map[Field]float64 `json:"confidence,omitempty"`
	Explicit          map[Field]bool    `json:"explicit,omitempty"`
	OverallConfidence float64           `json:"overall_confidence"`
	Notes             []string          `json:"notes,omitempty"`
}

// Has reports whether the field carries a value.
func (e Entities) Has(field Field) bool {
	switch field {
	case FieldBreed:
		return e.Breed != ""
	case FieldAge:
		return e.AgeDays > 0
	case FieldSex:
		return e.Sex != ""
	case FieldMetric:
		return e.Metric != ""
	}
	return false
}

// IsExplicit reports whether the field was stated verbatim in the message.
func (e Entities) IsExplicit(field Field) bool {
	return e.Explicit[field]
}

// Present lists the populated fields in canonical order.
func (e Entities) Present() []Field {
	var fields []Field
	for _, f := range FieldOrder {
		if e.Has(f) {
			fields = append(fields, f)
		}
	}
	return fields
}

// Missing returns the required fields without a value, in canonical order.
func (e Entities) Missing(required []Field) []Field {
	want := make(map[Field]bool, len(required))
	for _, f := range required {
		want[f] = true
	}
	var missing []Field
	for _, f := range FieldOrder {
		if want[f] && !e.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// IsEmpty reports whether no field is populated.
func (e Entities) IsEmpty() bool {
	return len(e.Present()) == 0
}

// Clone returns a deep copy so callers never share the maps.
func (e Entities) Clone() Entities {
	out := e
	out.Confidence = make(map[Field]float64, len(e.Confidence))
	for k, v := range e.Confidence {
		out.Confidence[k] = v
	}
	out.Explicit = make(map[Field]bool, len(e.Explicit))
	for k, v := range e.Explicit {
		out.Explicit[k] = v
	}
	if e.Notes != nil {
		out.Notes = append([]string(nil), e.Notes...)
	}
	return out
}

// WithoutExplicit returns a copy whose values are all marked inherited.
func (e Entities) WithoutExplicit() Entities {
	out := e.Clone()
	out.Explicit = map[Field]bool{}
	return out
}

// Overall confidence weights.
var fieldWeights = map[Field]float64{
	FieldBreed:  0.30,
	FieldAge:    0.25,
	FieldSex:    0.25,
	FieldMetric: 0.20,
}

const (
	extraEntityBonus    = 0.1
	maxExtraEntityBonus = 0.2
)

// OverallConfidence combines per-field confidences with the fixed weight
// table and adds a bonus for every entity found beyond the first.
func OverallConfidence(confidence map[Field]float64) float64 {
	fields := make([]Field, 0, len(confidence))
	for f := range confidence {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	score := 0.0
	found := 0
	for _, f := range fields {
		c := confidence[f]
		if c <= 0 {
			continue
		}
		score += fieldWeights[f] * c
		found++
	}
	if found > 1 {
		bonus := extraEntityBonus * float64(found-1)
		if bonus > maxExtraEntityBonus {
			bonus = maxExtraEntityBonus
		}
		score += bonus
	}
	if score > 1 {
		score = 1
	}
	return score
}
