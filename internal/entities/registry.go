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
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/your-org/broiler-assistant/internal/language"
)

// Breed describes one strain in the registry.
type Breed struct {
	Canonical   string   `yaml:"canonical" json:"canonical"`
	Aliases     []string `yaml:"aliases" json:"aliases"`
	Species     Species  `yaml:"species" json:"species"`
	GeneticLine string   `yaml:"genetic_line" json:"genetic_line"`
	StoreID     string   `yaml:"store_id,omitempty" json:"store_id,omitempty"`
}

// Registry is the on-disk breed registry.
type Registry struct {
	Breeds        []Breed  `yaml:"breeds"`
	LayerKeywords []string `yaml:"layer_keywords"`
}

// LoadRegistry reads a YAML breed registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read breed registry: %w", err)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse breed registry: %w", err)
	}
	if len(reg.Breeds) == 0 {
		return nil, fmt.Errorf("breed registry %s contains no breeds", path)
	}
	if len(reg.LayerKeywords) == 0 {
		reg.LayerKeywords = DefaultRegistry().LayerKeywords
	}
	return &reg, nil
}

// DefaultRegistry returns the built-in registry of common commercial strains.
func DefaultRegistry() *Registry {
	return &Registry{
		Breeds: []Breed{
			{Canonical: "Cobb 500", Aliases: []string{"cobb500", "cobb-500", "500"}, Species: SpeciesBroiler, GeneticLine: "Cobb"},
			{Canonical: "Cobb 700", Aliases: []string{"cobb700", "cobb-700", "700"}, Species: SpeciesBroiler, GeneticLine: "Cobb"},
			{Canonical: "Ross 308", Aliases: []string{"ross308", "ross-308", "308/308 FF", "308 FF", "308"}, Species: SpeciesBroiler, GeneticLine: "Ross"},
			{Canonical: "Ross 708", Aliases: []string{"ross708", "ross-708", "708"}, Species: SpeciesBroiler, GeneticLine: "Ross"},
			{Canonical: "Ross 308 Parent Stock", Aliases: []string{"ross 308 ps", "ross 308 parent", "308 ps"}, Species: SpeciesBreeder, GeneticLine: "Ross"},
			{Canonical: "Hubbard Classic", Aliases: []string{"hubbard"}, Species: SpeciesBroiler, GeneticLine: "Hubbard"},
			{Canonical: "Hubbard JA787", Aliases: []string{"ja787", "ja 787", "ja-787"}, Species: SpeciesBroiler, GeneticLine: "Hubbard"},
			{Canonical: "Arbor Acres Plus", Aliases: []string{"arbor acres", "aa plus", "aa+"}, Species: SpeciesBroiler, GeneticLine: "Arbor Acres"},
			{Canonical: "Hy-Line Brown", Aliases: []string{"hyline brown", "hy line brown"}, Species: SpeciesLayer, GeneticLine: "Hy-Line"},
			{Canonical: "Hy-Line W-36", Aliases: []string{"w-36", "w36", "hyline w36"}, Species: SpeciesLayer, GeneticLine: "Hy-Line"},
			{Canonical: "Lohmann Brown-Classic", Aliases: []string{"lohmann brown", "lohmann"}, Species: SpeciesLayer, GeneticLine: "Lohmann"},
			{Canonical: "ISA Brown", Aliases: []string{"isa"}, Species: SpeciesLayer, GeneticLine: "ISA"},
			{Canonical: "Nicholas Select", Aliases: []string{"nicholas"}, Species: SpeciesTurkey, GeneticLine: "Aviagen Turkeys"},
		},
		LayerKeywords: []string{
			"layer", "layers", "laying", "egg", "eggs", "hen", "hens", "breeder", "breeders", "parent stock",
			"pondeuse", "pondeuses", "ponte", "poule", "poules", "oeuf", "oeufs", "reproducteur", "reproducteurs",
			"ponedora", "ponedoras", "postura", "gallina", "gallinas", "huevo", "huevos", "reproductora", "reproductoras",
		},
	}
}

// aliasPattern is one compiled alias of a breed.
type aliasPattern struct {
	re      *regexp.Regexp
	alias   string
	rank    int
	numeric bool
}

type compiledBreed struct {
	breed    Breed
	order    int
	patterns []aliasPattern
}

// CompiledRegistry is the immutable, precompiled form of a Registry. It is
// safe for concurrent use.
type CompiledRegistry struct {
	breeds        []compiledBreed
	byCanonical   map[string]Breed
	layerKeywords []*regexp.Regexp
}

var (
	aliasTokenPattern = regexp.MustCompile(`[\p{L}\p{N}+]+|/`)
	numericAlias      = regexp.MustCompile(`^\d+$`)
	unitAfterNumber   = regexp.MustCompile(`^\s*(g|gr|grams?|grammes?|kg|kgs?|lbs?|pounds?|days?|d|jours?|j|dias?|weeks?|semaines?|semanas?|%)\b`)
)

// Compile builds a CompiledRegistry. Invalid registries return an error so
// a bad reload never replaces a working one.
func (r *Registry) Compile() (*CompiledRegistry, error) {
	compiled := &CompiledRegistry{byCanonical: make(map[string]Breed, len(r.Breeds))}

	for i, b := range r.Breeds {
		if strings.TrimSpace(b.Canonical) == "" {
			return nil, fmt.Errorf("breed %d has no canonical name", i)
		}
		key := language.Fold(b.Canonical)
		if _, dup := compiled.byCanonical[key]; dup {
			return nil, fmt.Errorf("duplicate breed %q", b.Canonical)
		}
		if b.Species == "" {
			b.Species = SpeciesBroiler
		}
		compiled.byCanonical[key] = b

		cb := compiledBreed{breed: b, order: i}
		names := append([]string{b.Canonical}, b.Aliases...)
		for rank, name := range names {
			pattern, numeric, err := aliasRegexp(name)
			if err != nil {
				return nil, fmt.Errorf("invalid alias %q for %s: %w", name, b.Canonical, err)
			}
			cb.patterns = append(cb.patterns, aliasPattern{re: pattern, alias: name, rank: rank, numeric: numeric})
		}
		compiled.breeds = append(compiled.breeds, cb)
	}

	for _, kw := range r.LayerKeywords {
		re, err := regexp.Compile(`(?:^|[^\p{L}\p{N}])` + phrasePattern(language.Fold(kw)) + `(?:$|[^\p{L}\p{N}])`)
		if err != nil {
			return nil, fmt.Errorf("invalid layer keyword %q: %w", kw, err)
		}
		compiled.layerKeywords = append(compiled.layerKeywords, re)
	}

	return compiled, nil
}

// aliasRegexp turns an alias into a pattern over folded text. Slash-separated
// aliases accept any whitespace around the slash. Boundaries are checked by
// aliasBoundary since RE2 has no lookaround.
func aliasRegexp(alias string) (*regexp.Regexp, bool, error) {
	folded := language.Fold(alias)
	tokens := aliasTokenPattern.FindAllString(folded, -1)
	if len(tokens) == 0 {
		return nil, false, fmt.Errorf("alias has no tokens")
	}

	var b strings.Builder
	for i, tok := range tokens {
		if tok == "/" {
			b.WriteString(`\s*/\s*`)
			continue
		}
		if i > 0 && tokens[i-1] != "/" {
			b.WriteString(`[\s\-_]*`)
		}
		b.WriteString(regexp.QuoteMeta(tok))
	}

	numeric := len(tokens) == 1 && numericAlias.MatchString(tokens[0])
	re, err := regexp.Compile(b.String())
	return re, numeric, err
}

// aliasBoundary reports whether text[start:end] stands on its own. Numeric
// aliases additionally reject neighbouring digits, decimal separators and
// trailing units so "1500" or "500g" never match.
func aliasBoundary(text string, start, end int, numeric bool) bool {
	if start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(prev) || unicode.IsDigit(prev) {
			return false
		}
		if numeric && (prev == '.' || prev == ',') {
			return false
		}
	}
	if end < len(text) {
		next, size := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(next) || unicode.IsDigit(next) {
			return false
		}
		if numeric && (next == '.' || next == ',') && end+size < len(text) {
			after, _ := utf8.DecodeRuneInString(text[end+size:])
			if unicode.IsDigit(after) {
				return false
			}
		}
	}
	if numeric && unitAfterNumber.MatchString(text[end:]) {
		return false
	}
	return true
}

// phrasePattern quotes a multi-word phrase allowing flexible whitespace.
func phrasePattern(phrase string) string {
	words := strings.Fields(phrase)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}

// Lookup finds a breed by canonical name.
func (c *CompiledRegistry) Lookup(canonical string) (Breed, bool) {
	b, ok := c.byCanonical[language.Fold(canonical)]
	return b, ok
}

// Breeds lists the canonical names in registry order.
func (c *CompiledRegistry) Breeds() []string {
	names := make([]string, 0, len(c.breeds))
	for _, b := range c.breeds {
		names = append(names, b.breed.Canonical)
	}
	return names
}

// BreedsBySpecies lists canonical names of one species in registry order.
func (c *CompiledRegistry) BreedsBySpecies(species Species) []string {
	var names []string
	for _, b := range c.breeds {
		if b.breed.Species == species {
			names = append(names, b.breed.Canonical)
		}
	}
	return names
}

// HasLayerSignal reports whether folded text mentions a layer or breeder
// context keyword.
func (c *CompiledRegistry) HasLayerSignal(folded string) bool {
	for _, re := range c.layerKeywords {
		if re.MatchString(folded) {
			return true
		}
	}
	return false
}

// BreedMatch is one breed mention found in a text.
type BreedMatch struct {
	Breed      Breed
	Alias      string
	Start      int
	End        int
	Confidence float64
	rank       int
	order      int
}

// FindBreeds returns every non-overlapping breed mention in folded text,
// preferring the longest match and then the lowest alias rank, ordered by
// position.
func (c *CompiledRegistry) FindBreeds(folded string) []BreedMatch {
	var candidates []BreedMatch
	for _, cb := range c.breeds {
		for _, p := range cb.patterns {
			for _, loc := range p.re.FindAllStringIndex(folded, -1) {
				start, end := loc[0], loc[1]
				if !aliasBoundary(folded, start, end, p.numeric) {
					continue
				}
				candidates = append(candidates, BreedMatch{
					Breed:      cb.breed,
					Alias:      p.alias,
					Start:      start,
					End:        end,
					Confidence: aliasConfidence(p.rank, p.numeric),
					rank:       p.rank,
					order:      cb.order,
				})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		li := candidates[i].End - candidates[i].Start
		lj := candidates[j].End - candidates[j].Start
		if li != lj {
			return li > lj
		}
		if candidates[i].rank != candidates[j].rank {
			return candidates[i].rank < candidates[j].rank
		}
		return candidates[i].order < candidates[j].order
	})

	var chosen []BreedMatch
	for _, cand := range candidates {
		overlaps := false
		for _, ch := range chosen {
			if cand.Start < ch.End && ch.Start < cand.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			chosen = append(chosen, cand)
		}
	}

	sort.Slice(chosen, func(i, j int) bool { return chosen[i].Start < chosen[j].Start })
	return chosen
}

// BestBreed returns the most specific breed mention in folded text.
func (c *CompiledRegistry) BestBreed(folded string) (BreedMatch, bool) {
	return bestMatch(c.FindBreeds(folded))
}

// bestMatch picks the longest mention, then the lowest alias rank
func bestMatch(matches []BreedMatch) (BreedMatch, bool) {
	if len(matches) == 0 {
		return BreedMatch{}, false
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.End-m.Start > best.End-best.Start ||
			(m.End-m.Start == best.End-best.Start && m.rank < best.rank) {
			best = m
		}
	}
	return best, true
}

// aliasConfidence decays with alias rank; rank 0 is the canonical name.
func aliasConfidence(rank int, numeric bool) float64 {
	if rank == 0 {
		return 1.0
	}
	c := 0.95 - 0.05*float64(rank-1)
	if c < 0.7 {
		c = 0.7
	}
	if numeric && c > 0.75 {
		c = 0.75
	}
	return c
}
