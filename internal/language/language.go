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

// Package language detects the language of a message, folds text for pattern
// matching and normalizes queries to English for routing.
package language

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Supported language codes.
const (
	French  = "fr"
	English = "en"
	Spanish = "es"
)

// Supported lists the languages with localized dialogue assets, in fallback
// order after the requested language.
var Supported = []string{English, French, Spanish}

// Canonical maps a free-form language tag ("fr-CA", "FR", "french") to a
// supported code, defaulting to English.
func Canonical(tag string) string {
	t := strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(t, "-_"); i > 0 {
		t = t[:i]
	}
	switch t {
	case "fr", "fra", "fre", "french", "francais":
		return French
	case "es", "spa", "spanish", "espanol":
		return Spanish
	default:
		return English
	}
}

// IsSupported reports whether tag names one of the supported languages.
func IsSupported(tag string) bool {
	t := strings.ToLower(strings.TrimSpace(tag))
	return t == French || t == English || t == Spanish
}

// Fold lowercases text and strips diacritics so "Mâles" and "males" compare
// equal. Apostrophes are normalized to ASCII.
func Fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	folded = strings.NewReplacer("\u2019", "'", "\u2018", "'", "\u00a0", " ", "œ", "oe", "Œ", "OE").Replace(folded)
	return strings.ToLower(folded)
}

var wordPattern = regexp.MustCompile(`[\p{L}']+`)

var stopwords = map[string][]string{
	French: {
		"le", "la", "les", "des", "du", "de", "un", "une", "est", "quel", "quelle", "quels", "quelles",
		"pour", "avec", "mes", "mon", "ma", "poids", "jours", "semaines", "poulets", "combien", "et",
		"au", "aux", "je", "ne", "pas", "sais", "peut-etre", "environ", "qu'est-ce", "c'est",
	},
	Spanish: {
		"el", "los", "las", "del", "una", "es", "cual", "cuales", "para", "con", "mis", "mi", "peso",
		"dias", "semanas", "pollos", "cuanto", "cuanta", "y", "que", "se", "no", "estoy", "seguro",
		"olvidalo", "quizas",
	},
	English: {
		"the", "a", "an", "is", "what", "which", "for", "with", "my", "weight", "days", "weeks",
		"chickens", "birds", "how", "much", "and", "of", "at", "i", "not", "sure", "maybe", "are",
	},
}

// Detect guesses the language of text from stop-word hits and accent cues.
// Ties and messages with no signal default to English.
func Detect(text string) string {
	lower := strings.ToLower(text)
	scores := map[string]int{}
	if strings.ContainsAny(lower, "ñ¿¡") {
		scores[Spanish] += 2
	}
	if strings.ContainsAny(lower, "çèêàùâôîœ") {
		scores[French] += 2
	}

	words := wordPattern.FindAllString(Fold(text), -1)
	index := make(map[string]map[string]bool, len(stopwords))
	for lang, list := range stopwords {
		set := make(map[string]bool, len(list))
		for _, w := range list {
			set[w] = true
		}
		index[lang] = set
	}
	for _, w := range words {
		for lang, set := range index {
			if set[w] {
				scores[lang]++
			}
		}
	}

	best, bestScore := English, scores[English]
	for _, lang := range []string{French, Spanish} {
		if scores[lang] > bestScore {
			best, bestScore = lang, scores[lang]
		}
	}
	return best
}
