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
	"fmt"
)

// LowConfidenceThreshold is the overall confidence under which validation
// warns that the extraction may be unreliable.
const LowConfidenceThreshold = 0.3

// TypicalBroilerAge is the oldest age still inside a usual broiler cycle.
const TypicalBroilerAge = 60

// ValidationResult reports problems with a set of entities.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// AgeCeiling returns the oldest plausible age in days for a species.
func AgeCeiling(species Species, layerContext bool) int {
	switch species {
	case SpeciesLayer, SpeciesBreeder:
		return LayerAgeCeiling
	case SpeciesTurkey:
		return 180
	}
	if layerContext {
		return LayerAgeCeiling
	}
	return BroilerAgeCeiling
}

// Validate checks entities against the registry and species bounds.
func (x *Extractor) Validate(e Entities) ValidationResult {
	reg := x.Registry()
	result := ValidationResult{}

	species := e.Species
	if e.Breed != "" {
		b, ok := reg.Lookup(e.Breed)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("unknown breed %q", e.Breed))
		} else {
			if e.Species != "" && e.Species != b.Species {
				result.Errors = append(result.Errors,
					fmt.Sprintf("breed %s is a %s strain, not a %s", b.Canonical, b.Species, e.Species))
			}
			species = b.Species
		}
	}

	if e.AgeDays < 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("age %d days is negative", e.AgeDays))
	} else if e.AgeDays > 0 {
		ceiling := AgeCeiling(species, e.LayerContext)
		switch {
		case e.AgeDays > ceiling:
			result.Errors = append(result.Errors,
				fmt.Sprintf("age %d days is outside the plausible range 1-%d", e.AgeDays, ceiling))
		case (species == SpeciesBroiler || species == "") && !e.LayerContext && e.AgeDays > TypicalBroilerAge:
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("age %d days is beyond a typical broiler cycle", e.AgeDays))
		}
	}

	if e.Metric == MetricProduction && species == SpeciesBroiler {
		result.Warnings = append(result.Warnings, "egg production is not tracked for broiler strains")
	}

	if !e.IsEmpty() && e.OverallConfidence < LowConfidenceThreshold {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("low extraction confidence %.2f", e.OverallConfidence))
	}

	result.IsValid = len(result.Errors) == 0
	return result
}
