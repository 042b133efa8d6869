// Package clarification provides the multilingual dialogue assets used to ask
// for missing entities and to interpret the answers to those questions.
package clarification

import (
	"regexp"

	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/language"
)

// Signal is the outcome of interpreting a reply to a clarification question.
type Signal string

const (
	// SignalAbandon means the user gave up on the question
	SignalAbandon Signal = "abandon"
	// SignalAmbiguous means the reply hedged without a usable value
	SignalAmbiguous Signal = "ambiguous"
	// SignalExtractor means the entity extractor found a missing field
	SignalExtractor Signal = "extractor"
	// SignalLocalePattern means a per-locale fallback pattern matched
	SignalLocalePattern Signal = "locale_pattern"
	// SignalNone means the reply does not look like an answer
	SignalNone Signal = "none"
)

// Detection explains how a reply was interpreted
type Detection struct {
	Signal Signal           `json:"signal"`
	Fields []entities.Field `json:"fields,omitempty"`
	Locale string           `json:"locale,omitempty"`
}

// IsAnswer reports whether the reply supplies at least one missing field
func (d Detection) IsAnswer() bool {
	return d.Signal == SignalExtractor || d.Signal == SignalLocalePattern
}

// Detector interprets replies in every supported language
type Detector struct {
	abandonPatterns   map[string][]*regexp.Regexp
	ambiguityPatterns map[string][]*regexp.Regexp
	fieldPatterns     map[string]map[entities.Field]*regexp.Regexp
}

// NewDetector creates a detector with the built-in phrase tables
func NewDetector() *Detector {
	return &Detector{
		abandonPatterns:   buildAbandonPatterns(),
		ambiguityPatterns: buildAmbiguityPatterns(),
		fieldPatterns:     buildFieldPatterns(),
	}
}

// IsAbandon reports whether message gives up on the clarification
func (d *Detector) IsAbandon(message string) bool {
	return matchAny(d.abandonPatterns, language.Fold(message))
}

// IsAmbiguous reports whether message is a hedge such as "not sure"
func (d *Detector) IsAmbiguous(message string) bool {
	return matchAny(d.ambiguityPatterns, language.Fold(message))
}

// Detect classifies a reply against the missing fields. The order is fixed:
// abandon, then ambiguity, then the extractor's findings, then the per-locale
// tables (requested locale first, then English, then the rest).
func (d *Detector) Detect(message, lang string, missing []entities.Field, extracted entities.Entities) Detection {
	if d.IsAbandon(message) {
		return Detection{Signal: SignalAbandon}
	}
	if d.IsAmbiguous(message) {
		return Detection{Signal: SignalAmbiguous}
	}

	var supplied []entities.Field
	for _, f := range missing {
		if extracted.Has(f) {
			supplied = append(supplied, f)
		}
	}
	if len(supplied) > 0 {
		return Detection{Signal: SignalExtractor, Fields: supplied}
	}

	folded := language.Fold(message)
	for _, locale := range localeOrder(lang) {
		table := d.fieldPatterns[locale]
		var matched []entities.Field
		for _, f := range missing {
			if re, ok := table[f]; ok && re.MatchString(folded) {
				matched = append(matched, f)
			}
		}
		if len(matched) > 0 {
			return Detection{Signal: SignalLocalePattern, Fields: matched, Locale: locale}
		}
	}

	return Detection{Signal: SignalNone}
}

// localeOrder returns the requested locale, then English, then the rest
func localeOrder(lang string) []string {
	first := language.Canonical(lang)
	order := []string{first}
	if first != language.English {
		order = append(order, language.English)
	}
	for _, l := range language.Supported {
		if l != first && l != language.English {
			order = append(order, l)
		}
	}
	return order
}

func matchAny(patterns map[string][]*regexp.Regexp, folded string) bool {
	for _, locale := range language.Supported {
		for _, re := range patterns[locale] {
			if re.MatchString(folded) {
				return true
			}
		}
	}
	return false
}
