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
	"regexp"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/language"
)

// Hints carry dialogue context into extraction.
type Hints struct {
	// Language is tried first for language-specific patterns.
	Language string
	// Breed is a breed already known from the dialogue; it widens the age
	// ceiling when it is a layer or breeder strain.
	Breed string
}

// Extractor turns free text into Entities using a precompiled registry.
// The registry can be swapped atomically at runtime.
type Extractor struct {
	registry     atomic.Pointer[CompiledRegistry]
	weekPatterns []agePattern
	dayPatterns  []agePattern
	sexPatterns  map[string]sexPatterns
	metricTable  []metricKeywords
	logger       *zap.Logger
}

// NewExtractor creates an Extractor over a compiled registry.
func NewExtractor(registry *CompiledRegistry, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	x := &Extractor{
		weekPatterns: buildWeekPatterns(),
		dayPatterns:  buildDayPatterns(),
		sexPatterns:  buildSexPatterns(),
		metricTable:  buildMetricTable(),
		logger:       logger,
	}
	x.registry.Store(registry)
	return x
}

// NewDefaultExtractor creates an Extractor over the built-in registry.
func NewDefaultExtractor(logger *zap.Logger) *Extractor {
	compiled, err := DefaultRegistry().Compile()
	if err != nil {
		panic(fmt.Sprintf("default breed registry does not compile: %v", err))
	}
	return NewExtractor(compiled, logger)
}

// Registry returns the registry snapshot currently in use.
func (x *Extractor) Registry() *CompiledRegistry {
	return x.registry.Load()
}

// SetRegistry replaces the registry snapshot.
func (x *Extractor) SetRegistry(registry *CompiledRegistry) {
	if registry == nil {
		return
	}
	x.registry.Store(registry)
	x.logger.Info("Breed registry replaced", zap.Int("breeds", len(registry.breeds)))
}

// Extract finds breed, age, sex and metric in text. Every value found is
// marked explicit.
func (x *Extractor) Extract(text string, hints Hints) Entities {
	reg := x.Registry()
	folded := language.Fold(text)
	e := Entities{
		Confidence: map[Field]float64{},
		Explicit:   map[Field]bool{},
	}

	breeds := reg.FindBreeds(folded)
	if match, ok := bestMatch(breeds); ok {
		e.Breed = match.Breed.Canonical
		e.GeneticLine = match.Breed.GeneticLine
		e.Species = match.Breed.Species
		e.Confidence[FieldBreed] = match.Confidence
		e.Explicit[FieldBreed] = true
	}

	e.LayerContext = x.layerContext(reg, folded, e.Species, hints.Breed)
	ceiling := AgeCeiling(x.ageSpecies(reg, e.Species, hints.Breed), e.LayerContext)

	days, conf, rejected := x.parseAge(folded, breeds, ceiling)
	switch {
	case days > 0:
		e.AgeDays = days
		e.Confidence[FieldAge] = conf
		e.Explicit[FieldAge] = true
	case len(rejected) > 0:
		e.Notes = append(e.Notes, fmt.Sprintf("age %d days outside 1-%d, ignored", rejected[0], ceiling))
		x.logger.Debug("Age rejected by ceiling",
			zap.Ints("age_days", rejected),
			zap.Int("ceiling", ceiling))
	}

	if sex, conf, ok := x.parseSex(folded, hints.Language); ok {
		e.Sex = sex
		e.Confidence[FieldSex] = conf
		e.Explicit[FieldSex] = true
	}

	if metric, conf, ok := x.parseMetric(folded); ok {
		e.Metric = metric
		e.Confidence[FieldMetric] = conf
		e.Explicit[FieldMetric] = true
	}

	e.OverallConfidence = OverallConfidence(e.Confidence)
	return e
}

// FindBreeds returns every breed mentioned in text, in order of appearance.
func (x *Extractor) FindBreeds(text string) []BreedMatch {
	return x.Registry().FindBreeds(language.Fold(text))
}

// HasLayerSignal reports whether text mentions a layer or breeder context.
func (x *Extractor) HasLayerSignal(text string) bool {
	return x.Registry().HasLayerSignal(language.Fold(text))
}

func (x *Extractor) layerContext(reg *CompiledRegistry, folded string, species Species, hintBreed string) bool {
	if species == SpeciesLayer || species == SpeciesBreeder {
		return true
	}
	if hintBreed != "" && species == "" {
		if b, ok := reg.Lookup(hintBreed); ok && (b.Species == SpeciesLayer || b.Species == SpeciesBreeder) {
			return true
		}
	}
	return reg.HasLayerSignal(folded)
}

// ageSpecies is the species that bounds the age: the one found in the text,
// else the one of the breed already known from the dialogue.
func (x *Extractor) ageSpecies(reg *CompiledRegistry, species Species, hintBreed string) Species {
	if species != "" || hintBreed == "" {
		return species
	}
	if b, ok := reg.Lookup(hintBreed); ok {
		return b.Species
	}
	return ""
}

// parseAge tries the week family first, then the day family, and returns
// the first mention inside 1..ceiling. Numbers that belong to a breed name
// ("Cobb 500") are skipped. A trailing day count below a week ("5 weeks and
// 3 days") is added to the weeks. rejected lists the readings over the
// ceiling, in the order they were tried.
func (x *Extractor) parseAge(folded string, breeds []BreedMatch, ceiling int) (days int, conf float64, rejected []int) {
	for _, p := range x.weekPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(folded, -1) {
			if insideBreed(breeds, loc[2], loc[3]) {
				continue
			}
			weeks, err := strconv.Atoi(folded[loc[2]:loc[3]])
			if err != nil {
				continue
			}
			n := weeks * p.multiplier
			if extra, ok := firstAge(x.dayPatterns, folded[loc[1]:]); ok && extra < 7 {
				n += extra
			}
			if n < 1 || n > ceiling {
				rejected = append(rejected, n)
				continue
			}
			return n, 0.9, rejected
		}
	}

	for _, p := range x.dayPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(folded, -1) {
			if !p.accepts(folded, loc) || insideBreed(breeds, loc[2], loc[3]) {
				continue
			}
			n, err := strconv.Atoi(folded[loc[2]:loc[3]])
			if err != nil {
				continue
			}
			n *= p.multiplier
			if n < 1 || n > ceiling {
				rejected = append(rejected, n)
				continue
			}
			return n, 0.95, rejected
		}
	}
	return 0, 0, rejected
}

func firstAge(patterns []agePattern, text string) (int, bool) {
	for _, p := range patterns {
		loc := p.re.FindStringSubmatchIndex(text)
		if loc == nil || !p.accepts(text, loc) {
			continue
		}
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		return n * p.multiplier, true
	}
	return 0, false
}

func insideBreed(breeds []BreedMatch, start, end int) bool {
	for _, b := range breeds {
		if start < b.End && b.Start < end {
			return true
		}
	}
	return false
}

// parseSex tries the requested language first, then the others.
func (x *Extractor) parseSex(folded, lang string) (Sex, float64, bool) {
	order := []string{language.Canonical(lang)}
	for _, l := range language.Supported {
		if l != order[0] {
			order = append(order, l)
		}
	}

	for i, l := range order {
		p := x.sexPatterns[l]
		conf := 0.9
		if i > 0 {
			conf = 0.8
		}
		if p.mixed.MatchString(folded) {
			return SexMixed, conf, true
		}
		male := p.male.MatchString(folded)
		female := p.female.MatchString(folded)
		switch {
		case male && female:
			return SexMixed, conf - 0.1, true
		case male:
			return SexMale, conf, true
		case female:
			return SexFemale, conf, true
		}
	}
	return "", 0, false
}

func (x *Extractor) parseMetric(folded string) (MetricType, float64, bool) {
	for _, row := range x.metricTable {
		for i, re := range row.keywords {
			if re.MatchString(folded) {
				return row.metric, keywordConfidence(i), true
			}
		}
	}
	return "", 0, false
}

func keywordConfidence(index int) float64 {
	c := 0.95 - 0.05*float64(index)
	if c < 0.7 {
		c = 0.7
	}
	return c
}

var numberPattern = regexp.MustCompile(`\d+`)

// HasNumber reports whether text contains any digit run.
func HasNumber(text string) bool {
	return numberPattern.MatchString(text)
}
