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
	"regexp"

	"github.com/your-org/broiler-assistant/internal/language"
)

// agePattern extracts a number of units from folded text.
type agePattern struct {
	re         *regexp.Regexp
	multiplier int
	// elided rejects a match followed by an apostrophe, so the bare "d" of
	// "500 d'un lot" is never read as a unit.
	elided bool
}

// accepts reports whether the match at loc is a real age mention
func (p agePattern) accepts(text string, loc []int) bool {
	if !p.elided {
		return true
	}
	return loc[1] >= len(text) || text[loc[1]] != '\''
}

// Week patterns are tried before day patterns so "3 semaines" is never read
// as a day count.
func buildWeekPatterns() []agePattern {
	return []agePattern{
		{re: regexp.MustCompile(`(?:^|[^\d.,])(\d{1,3})[\s-]*(?:weeks?|wks?|semaines?|sem|semanas?)\b`), multiplier: 7},
		{re: regexp.MustCompile(`(?:^|[^\d.,])(\d{1,3})\s*(?:st|nd|rd|th|e|eme|ere|a|o)\s+(?:week|semaine|semana)\b`), multiplier: 7},
		{re: regexp.MustCompile(`\b(?:week|semaine|semana)\s*(?:no\.?\s*)?(\d{1,3})\b`), multiplier: 7},
	}
}

func buildDayPatterns() []agePattern {
	return []agePattern{
		{re: regexp.MustCompile(`(?:^|[^\d.,])(\d{1,3})[\s-]*(?:days?|jours?|dias?)\b`), multiplier: 1},
		{re: regexp.MustCompile(`(?:^|[^\d.,])(\d{1,3})[dj]\b`), multiplier: 1, elided: true},
		{re: regexp.MustCompile(`\b(?:day|jour|dia)\s*(\d{1,3})\b`), multiplier: 1},
		{re: regexp.MustCompile(`\b[jd](\d{1,3})\b`), multiplier: 1},
	}
}

// sexPatterns holds the categorical patterns for one language.
type sexPatterns struct {
	mixed  *regexp.Regexp
	male   *regexp.Regexp
	female *regexp.Regexp
}

func buildSexPatterns() map[string]sexPatterns {
	return map[string]sexPatterns{
		language.English: {
			mixed:  regexp.MustCompile(`\b(?:mixed|as[\s-]?hatched|straight[\s-]?run|both\s+sexes|unsexed)\b`),
			male:   regexp.MustCompile(`\b(?:males?|cockerels?|roosters?)\b`),
			female: regexp.MustCompile(`\b(?:females?|pullets?|hens?)\b`),
		},
		language.French: {
			mixed:  regexp.MustCompile(`\b(?:mixtes?|sexes?\s+confondus|non\s+sexes?)\b`),
			male:   regexp.MustCompile(`\b(?:males?|coqs?|coquelets?)\b`),
			female: regexp.MustCompile(`\b(?:femelles?|poulettes?|poules?)\b`),
		},
		language.Spanish: {
			mixed:  regexp.MustCompile(`\b(?:mixtos?|mixtas?|ambos\s+sexos|sin\s+sexar)\b`),
			male:   regexp.MustCompile(`\b(?:machos?|gallos?)\b`),
			female: regexp.MustCompile(`\b(?:hembras?|pollitas?|gallinas?)\b`),
		},
	}
}

// metricKeywords is one row of the metric priority table. Keywords are
// listed from most to least specific.
type metricKeywords struct {
	metric   MetricType
	keywords []*regexp.Regexp
}

// buildMetricTable returns the metric table in priority order: the first
// metric with a matching keyword wins.
func buildMetricTable() []metricKeywords {
	table := []struct {
		metric   MetricType
		keywords []string
	}{
		{MetricFeedConversion, []string{
			"feed conversion ratio", "feed conversion", "fcr", "conversion alimentaire", "indice de consommation",
			"indice de conversion", "conversion alimenticia", "conversion",
		}},
		{MetricDailyGain, []string{
			"average daily gain", "daily gain", "adg", "weight gain", "gain moyen quotidien", "gmq",
			"ganancia diaria", "ganancia de peso", "gain", "ganancia",
		}},
		{MetricMortality, []string{
			"mortality rate", "mortality", "taux de mortalite", "mortalite", "mortalidad", "death rate", "deaths", "dead",
		}},
		{MetricLivability, []string{
			"livability", "viability", "viabilite", "viabilidad", "supervivencia", "survival",
		}},
		{MetricWaterIntake, []string{
			"water intake", "water consumption", "consommation d'eau", "consumo de agua", "water", "eau", "agua",
		}},
		{MetricFeedIntake, []string{
			"feed intake", "feed consumption", "consommation d'aliment", "consumo de alimento", "consommation",
			"consumo", "intake", "eat",
		}},
		{MetricProduction, []string{
			"egg production", "laying rate", "hen-day", "hen day", "taux de ponte", "production d'oeufs",
			"produccion de huevos", "ponte", "postura", "eggs",
		}},
		{MetricBodyWeight, []string{
			"body weight", "bodyweight", "live weight", "poids vif", "peso vivo", "weight", "weigh", "weighs",
			"poids", "peso", "bw",
		}},
		{MetricCost, []string{
			"production cost", "cost", "price", "cout", "prix", "costo", "precio",
		}},
	}

	out := make([]metricKeywords, 0, len(table))
	for _, row := range table {
		mk := metricKeywords{metric: row.metric}
		for _, kw := range row.keywords {
			mk.keywords = append(mk.keywords, regexp.MustCompile(`(?:^|[^\p{L}\p{N}])`+phrasePattern(kw)+`(?:$|[^\p{L}\p{N}])`))
		}
		out = append(out, mk)
	}
	return out
}

// MetricPriority is the order in which comparisons pick a metric when the
// question does not name one.
var MetricPriority = []MetricType{
	MetricBodyWeight,
	MetricFeedConversion,
	MetricDailyGain,
	MetricFeedIntake,
	MetricMortality,
	MetricLivability,
	MetricProduction,
}
