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

package comparison

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/your-org/broiler-assistant/internal/entities"
)

// infixSeparators split "A vs B" style questions
var infixSeparators = regexp.MustCompile(`(?i)\s+(?:vs\.?|versus|v\.|compared\s+(?:to|with)|against|contre|par\s+rapport\s+(?:a|à|aux?)|comparée?s?\s+(?:a|à|aux?)|frente\s+a|comparad[oa]s?\s+con)\s+`)

// framedComparison matches "between A and B" and "compare A with B"
var framedComparison = regexp.MustCompile(`(?i)(?:^|\s)(?:between|entre|compare|comparer|comparez|comparar|compara)\s+(.+?)\s+(?:and|with|to|et|avec|à|a|y|con)\s+(.+)`)

// ParseComparison splits a comparative question into its two sides. It
// returns false when the text does not look like a comparison.
func ParseComparison(text string) (string, string, bool) {
	text = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(text), "?!."))
	if text == "" {
		return "", "", false
	}

	if loc := infixSeparators.FindStringIndex(text); loc != nil {
		left, right := strings.TrimSpace(text[:loc[0]]), strings.TrimSpace(text[loc[1]:])
		if left != "" && right != "" {
			return stripLead(left), right, true
		}
	}

	if m := framedComparison.FindStringSubmatch(text); m != nil {
		left, right := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if left != "" && right != "" {
			return left, right, true
		}
	}
	return "", "", false
}

var leadingVerb = regexp.MustCompile(`(?i)^(?:please\s+)?(?:compare|comparer|comparez|comparar|compara)\s+`)

// stripLead drops a leading "compare" from the left side of an infix split
func stripLead(s string) string {
	return strings.TrimSpace(leadingVerb.ReplaceAllString(s, ""))
}

// Subjects extracts the two sides of a comparative question. Entities stated
// once for the whole question, such as "at 35 days", apply to both sides.
func (e *Engine) Subjects(text, lang string) (Subject, Subject, bool) {
	if e.extractor == nil {
		return Subject{}, Subject{}, false
	}
	hints := entities.Hints{Language: lang}
	shared := e.extractor.Extract(text, hints).WithoutExplicit()

	left, right, ok := ParseComparison(text)
	if !ok {
		breeds := e.extractor.FindBreeds(text)
		if len(breeds) < 2 {
			return Subject{}, Subject{}, false
		}
		left, right = breeds[0].Breed.Canonical, breeds[1].Breed.Canonical
	}

	a := entities.Merge(e.extractor.Extract(left, hints), shared)
	b := entities.Merge(e.extractor.Extract(right, hints), shared)
	if a.Breed == "" || b.Breed == "" {
		return Subject{}, Subject{}, false
	}

	la, lb := label(a, false), label(b, false)
	if la == lb {
		la, lb = label(a, true), label(b, true)
	}
	return Subject{Label: la, Entities: a}, Subject{Label: lb, Entities: b}, true
}

// label names a subject by breed and sex, with the age when needed to tell
// two sides apart
func label(e entities.Entities, withAge bool) string {
	parts := []string{e.Breed}
	if e.Sex != "" && e.Sex != entities.SexMixed {
		parts = append(parts, string(e.Sex))
	}
	if withAge && e.AgeDays > 0 {
		parts = append(parts, fmt.Sprintf("%dd", e.AgeDays))
	}
	return strings.Join(parts, " ")
}
