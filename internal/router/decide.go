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
	"slices"

	"github.com/your-org/broiler-assistant/internal/clarification"
	"github.com/your-org/broiler-assistant/internal/classifier"
	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/performance"
	"github.com/your-org/broiler-assistant/internal/retrieval"
)

// decide sets the destination, the age hint and the confidence of a
// complete decision. unresolved lists required fields that were answered
// without a usable value; they keep precise lookups off the structured store.
func (r *Router) decide(d *Decision, intentConfidence float64, unresolved []entities.Field) {
	e := d.Entities

	switch d.Intent {
	case classifier.IntentMetricLookup, classifier.IntentComparison:
		if len(unresolved) == 0 && e.Breed != "" && d.Validation.IsValid && e.OverallConfidence >= r.config.ConfidenceThreshold {
			d.Destination = retrieval.DestinationStructured
		} else {
			d.Destination = retrieval.DestinationHybrid
		}
	case classifier.IntentQualitative, classifier.IntentDiagnostic:
		d.Destination = retrieval.DestinationSemantic
	default:
		d.Destination = retrieval.DestinationHybrid
	}

	if r.beyondBroilerCycle(e) {
		d.PreferSemantic = true
		d.Hint = clarification.AgeHint(d.Language, e.AgeDays)
		if d.Destination == retrieval.DestinationStructured {
			d.Destination = retrieval.DestinationHybrid
		}
	}

	switch d.Destination {
	case retrieval.DestinationStructured:
		d.Confidence = e.OverallConfidence
	case retrieval.DestinationSemantic:
		d.Confidence = intentConfidence
	default:
		d.Confidence = (e.OverallConfidence + intentConfidence) / 2
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}
	d.MissingFields = unresolved
	d.Filters = r.filters(e)
}

// filters relaxes the structured search where the user stated nothing: an
// inferred sex is dropped and a missing metric falls back to the core ones.
func (r *Router) filters(e entities.Entities) performance.Filters {
	f := performance.Filters{MaxAgeDistance: r.config.MaxAgeDistance}
	if e.Sex != "" && !e.IsExplicit(entities.FieldSex) {
		f.IgnoreSex = true
	}
	if e.Metric == "" {
		f.Metrics = slices.Clone(entities.MetricPriority)
	}
	return f
}

// beyondBroilerCycle reports an age past the broiler cycle with no sign that
// the question is about layers or breeders
func (r *Router) beyondBroilerCycle(e entities.Entities) bool {
	if e.AgeDays <= r.config.LayerAgeHintDays || e.LayerContext {
		return false
	}
	return e.Species != entities.SpeciesLayer && e.Species != entities.SpeciesBreeder
}
