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

// Merge combines entities remembered from the dialogue with entities from the
// latest message. A value in next overwrites prior when it was stated
// explicitly; otherwise it only fills a gap. The result is a new snapshot.
func Merge(prior, next Entities) Entities {
	out := prior.Clone()

	take := func(field Field) bool {
		if !next.Has(field) {
			return false
		}
		return next.IsExplicit(field) || !prior.Has(field)
	}

	if take(FieldBreed) {
		out.Breed = next.Breed
		out.GeneticLine = next.GeneticLine
		out.Species = next.Species
		copyField(&out, next, FieldBreed)
	} else if out.GeneticLine == "" && next.GeneticLine != "" && next.Breed == "" {
		out.GeneticLine = next.GeneticLine
	}
	if take(FieldAge) {
		out.AgeDays = next.AgeDays
		copyField(&out, next, FieldAge)
	}
	if take(FieldSex) {
		out.Sex = next.Sex
		copyField(&out, next, FieldSex)
	}
	if take(FieldMetric) {
		out.Metric = next.Metric
		copyField(&out, next, FieldMetric)
	}

	out.LayerContext = prior.LayerContext || next.LayerContext ||
		out.Species == SpeciesLayer || out.Species == SpeciesBreeder
	out.Notes = append(out.Notes, next.Notes...)
	out.OverallConfidence = OverallConfidence(out.Confidence)
	return out
}

func copyField(dst *Entities, src Entities, field Field) {
	if c, ok := src.Confidence[field]; ok {
		dst.Confidence[field] = c
	} else {
		delete(dst.Confidence, field)
	}
	if src.Explicit[field] {
		dst.Explicit[field] = true
	} else {
		delete(dst.Explicit, field)
	}
}
