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

// Package comparison answers "A vs B" questions from the performance
// standards of two breeds, sexes or ages.
package comparison

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/clarification"
	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/performance"
	"github.com/your-org/broiler-assistant/internal/resilience"
)

// Status is the result class of a comparison
type Status string

const (
	StatusSuccess             Status = "success"
	StatusInsufficientData    Status = "insufficient_data"
	StatusIncompatibleSpecies Status = "incompatible_species"
	StatusIncompatibleMetrics Status = "incompatible_metrics"
	StatusError               Status = "error"
)

const (
	// AgeTolerance is the widest gap in days between the asked and the
	// published age that still counts as a match
	AgeTolerance = 3
	// poundsToGrams converts imperial weights
	poundsToGrams = 453.6
	// imperialWeightCeiling separates pound values from gram values
	imperialWeightCeiling = 20
)

// lowerIsBetter lists the metrics where a smaller value wins
var lowerIsBetter = map[entities.MetricType]bool{
	entities.MetricFeedConversion: true,
	entities.MetricMortality:      true,
	entities.MetricCost:           true,
}

// massMetrics are reported in grams and may need unit reconciliation
var massMetrics = map[entities.MetricType]bool{
	entities.MetricBodyWeight: true,
	entities.MetricDailyGain:  true,
	entities.MetricFeedIntake: true,
}

// SampleSource is the structured store as seen by the engine
type SampleSource interface {
	Samples(ctx context.Context, breed string, metric entities.MetricType, sex entities.Sex) ([]performance.Standard, error)
	Metrics(ctx context.Context, breed string) ([]entities.MetricType, error)
}

// Subject is one side of a comparison
type Subject struct {
	Label    string            `json:"label"`
	Entities entities.Entities `json:"entities"`
}

// Value is the figure found for one subject
type Value struct {
	Label     string  `json:"label"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	AgeDays   int     `json:"age_days"`
	Sex       string  `json:"sex"`
	Source    string  `json:"source,omitempty"`
	Converted bool    `json:"converted,omitempty"`
	// AgeDistance is the gap in days to the asked age
	AgeDistance int `json:"age_distance"`
}

// Outcome is the result of a comparison
type Outcome struct {
	Status             Status              `json:"status"`
	EntitiesCompared   []string            `json:"entities_compared"`
	Metric             entities.MetricType `json:"metric,omitempty"`
	MetricName         string              `json:"metric_name,omitempty"`
	Values             []Value             `json:"values,omitempty"`
	AbsoluteDifference float64             `json:"absolute_difference"`
	// RelativeDifference is in percent of the second subject's value
	RelativeDifference float64  `json:"relative_difference"`
	BetterLabel        string   `json:"better_label,omitempty"`
	LowerIsBetter      bool     `json:"lower_is_better"`
	Confidence         float64  `json:"confidence"`
	Message            string   `json:"message,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
}

// Engine compares performance standards
type Engine struct {
	source    SampleSource
	extractor *entities.Extractor
	logger    *zap.Logger
}

// NewEngine creates a comparison engine
func NewEngine(source SampleSource, extractor *entities.Extractor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{source: source, extractor: extractor, logger: logger}
}

// Compare compares a against b in lang. Store failures are returned along
// with an outcome in StatusError.
func (e *Engine) Compare(ctx context.Context, a, b Subject, lang string) (Outcome, error) {
	out := Outcome{
		EntitiesCompared: []string{a.Label, b.Label},
		Confidence:       1.0,
	}

	if msg, ok := e.incompatibleSpecies(a, b, lang); ok {
		out.Status = StatusIncompatibleSpecies
		out.Message = msg
		out.Confidence = 0
		return out, nil
	}

	metric, err := e.chooseMetric(ctx, a, b)
	if errors.Is(err, errMetricMismatch) {
		out.Status = StatusIncompatibleMetrics
		out.Message = clarification.IncompatibleMetrics(lang, a.Entities.Metric, b.Entities.Metric)
		out.Confidence = 0
		return out, nil
	}
	if err != nil {
		return e.failed(out, lang, err)
	}
	if metric == "" {
		out.Status = StatusInsufficientData
		out.Message = clarification.Disclaimer(lang)
		out.Confidence = 0
		return out, nil
	}
	out.Metric = metric
	out.MetricName = clarification.MetricLabel(lang, metric)
	out.LowerIsBetter = lowerIsBetter[metric]

	targetAge := a.Entities.AgeDays
	if targetAge == 0 {
		targetAge = b.Entities.AgeDays
	}

	values, warnings, err := e.values(ctx, []Subject{a, b}, metric, targetAge, false)
	if err != nil {
		return e.failed(out, lang, err)
	}
	if values == nil {
		e.logger.Debug("Comparison found no data, relaxing sex filter",
			zap.String("metric", string(metric)),
			zap.Strings("subjects", out.EntitiesCompared))
		values, warnings, err = e.values(ctx, []Subject{a, b}, metric, targetAge, true)
		if err != nil {
			return e.failed(out, lang, err)
		}
		if values != nil {
			warnings = append(warnings, "sex filter relaxed: figures may be for a different sex than asked")
			out.Confidence -= 0.2
		}
	}
	if values == nil {
		out.Status = StatusInsufficientData
		out.Message = clarification.Disclaimer(lang)
		out.Confidence = 0
		return out, nil
	}

	out.Values = values
	out.Warnings = append(out.Warnings, warnings...)
	for _, v := range values {
		if v.Converted {
			out.Confidence -= 0.1
		}
		if v.AgeDistance > AgeTolerance {
			out.Confidence -= 0.1
		}
	}
	if out.Confidence < 0.1 {
		out.Confidence = 0.1
	}

	va, vb := values[0].Value, values[1].Value
	out.AbsoluteDifference = math.Abs(va - vb)
	if vb != 0 {
		out.RelativeDifference = (va - vb) / vb * 100
	}
	switch {
	case va == vb:
	case (va < vb) == out.LowerIsBetter:
		out.BetterLabel = a.Label
	default:
		out.BetterLabel = b.Label
	}

	out.Status = StatusSuccess
	e.logger.Info("Comparison completed",
		zap.Strings("subjects", out.EntitiesCompared),
		zap.String("metric", string(metric)),
		zap.String("better", out.BetterLabel),
		zap.Float64("confidence", out.Confidence))
	return out, nil
}

func (e *Engine) failed(out Outcome, lang string, err error) (Outcome, error) {
	out.Status = StatusError
	out.Message = clarification.UnableToProcess(lang)
	out.Confidence = 0
	e.logger.Error("Comparison failed", zap.Error(err))
	return out, fmt.Errorf("failed to compare: %w", err)
}

// incompatibleSpecies checks the species of both breeds first
func (e *Engine) incompatibleSpecies(a, b Subject, lang string) (string, bool) {
	sa, sb := e.species(a.Entities), e.species(b.Entities)
	if sa == "" || sb == "" || sa == sb {
		return "", false
	}
	return clarification.IncompatibleSpecies(lang, a.Entities.Breed, sa, b.Entities.Breed, sb), true
}

func (e *Engine) species(en entities.Entities) entities.Species {
	if en.Species != "" {
		return en.Species
	}
	if e.extractor == nil || en.Breed == "" {
		return ""
	}
	if breed, ok := e.extractor.Registry().Lookup(en.Breed); ok {
		return breed.Species
	}
	return ""
}

// errMetricMismatch means the two subjects name different metrics
var errMetricMismatch = errors.New("subjects ask for different metrics")

// chooseMetric uses the asked metric, or the first metric in priority order
// that both breeds publish
func (e *Engine) chooseMetric(ctx context.Context, a, b Subject) (entities.MetricType, error) {
	ma, mb := a.Entities.Metric, b.Entities.Metric
	switch {
	case ma != "" && mb != "" && ma != mb:
		return "", errMetricMismatch
	case ma != "":
		return ma, nil
	case mb != "":
		return mb, nil
	}

	available := func(s Subject) (map[entities.MetricType]bool, error) {
		metrics, err := e.source.Metrics(ctx, s.Entities.Breed)
		if err != nil {
			return nil, err
		}
		set := make(map[entities.MetricType]bool, len(metrics))
		for _, m := range metrics {
			set[m] = true
		}
		return set, nil
	}
	setA, err := available(a)
	if err != nil {
		return "", err
	}
	setB, err := available(b)
	if err != nil {
		return "", err
	}

	for _, m := range entities.MetricPriority {
		if setA[m] && setB[m] {
			return m, nil
		}
	}
	return "", nil
}

// values finds one figure per subject at its own age, or at targetAge when
// it has none. It returns nil values when any subject has no data.
func (e *Engine) values(ctx context.Context, subjects []Subject, metric entities.MetricType, targetAge int, relaxed bool) ([]Value, []string, error) {
	samples := make([][]performance.Standard, len(subjects))
	for i, s := range subjects {
		if s.Entities.Breed == "" {
			return nil, nil, fmt.Errorf("subject %q: %w", s.Label, resilience.ErrMissingRequiredFields)
		}
		sex := s.Entities.Sex
		if relaxed {
			sex = ""
		}
		rows, err := e.source.Samples(ctx, s.Entities.Breed, metric, sex)
		if err != nil {
			return nil, nil, err
		}
		if len(rows) == 0 {
			return nil, nil, nil
		}
		samples[i] = rows
	}

	if targetAge == 0 {
		targetAge = commonAge(samples)
	}

	chosen := make([]performance.Standard, len(subjects))
	ages := make([]int, len(subjects))
	for i, s := range subjects {
		ages[i] = s.Entities.AgeDays
		if ages[i] == 0 {
			ages[i] = targetAge
		}
		chosen[i] = closest(samples[i], ages[i], s.Entities.Sex)
	}
	mixed := mixedUnitSystems(chosen)

	var warnings []string
	values := make([]Value, len(subjects))
	for i, s := range subjects {
		std := chosen[i]
		values[i] = reconcile(s.Label, std, mixed)
		values[i].AgeDistance = abs(std.AgeDays - ages[i])
		if values[i].AgeDistance > AgeTolerance {
			warnings = append(warnings, fmt.Sprintf("%s: closest published age is %d days (asked %d)", s.Label, std.AgeDays, ages[i]))
		}
	}
	return values, warnings, nil
}

// closest picks the sample nearest to age, preferring the asked sex (mixed
// when none was asked) and then the younger sample on ties
func closest(rows []performance.Standard, age int, sex entities.Sex) performance.Standard {
	if sex == "" {
		sex = entities.SexMixed
	}
	sorted := append([]performance.Standard(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := abs(sorted[i].AgeDays-age), abs(sorted[j].AgeDays-age)
		if di != dj {
			return di < dj
		}
		si, sj := sorted[i].Sex == sex, sorted[j].Sex == sex
		if si != sj {
			return si
		}
		return sorted[i].AgeDays < sorted[j].AgeDays
	})
	return sorted[0]
}

// commonAge is the oldest age published for every subject, or the oldest
// age of the first subject when they share none
func commonAge(samples [][]performance.Standard) int {
	counts := map[int]int{}
	for _, rows := range samples {
		seen := map[int]bool{}
		for _, r := range rows {
			if !seen[r.AgeDays] {
				seen[r.AgeDays] = true
				counts[r.AgeDays]++
			}
		}
	}
	best := -1
	for age, n := range counts {
		if n == len(samples) && age > best {
			best = age
		}
	}
	if best >= 0 {
		return best
	}
	for _, r := range samples[0] {
		if r.AgeDays > best {
			best = r.AgeDays
		}
	}
	return best
}

// mixedUnitSystems reports whether the samples were published in different
// unit systems. An untagged sample is metric.
func mixedUnitSystems(stds []performance.Standard) bool {
	system := func(std performance.Standard) performance.UnitSystem {
		if std.UnitSystem == "" {
			return performance.UnitSystemMetric
		}
		return std.UnitSystem
	}
	for _, std := range stds[1:] {
		if system(std) != system(stds[0]) {
			return true
		}
	}
	return false
}

// reconcile converts an imperial mass value to grams when the other side of
// the comparison is metric. Values under 20 tagged imperial are pounds.
func reconcile(label string, std performance.Standard, mixed bool) Value {
	v := Value{
		Label:   label,
		Value:   std.Value,
		Unit:    std.Unit,
		AgeDays: std.AgeDays,
		Sex:     string(std.Sex),
		Source:  std.Source,
	}
	if mixed && std.UnitSystem == performance.UnitSystemImperial && massMetrics[std.Metric] && std.Value < imperialWeightCeiling {
		v.Value = math.Round(std.Value*poundsToGrams*10) / 10
		v.Unit = "g"
		v.Converted = true
	}
	return v
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Err returns the domain failure behind an outcome that compared nothing,
// or nil
func (o Outcome) Err() error {
	switch o.Status {
	case StatusIncompatibleSpecies:
		return fmt.Errorf("%s: %w", strings.Join(o.EntitiesCompared, " vs "), resilience.ErrSpeciesIncompatible)
	case StatusInsufficientData:
		return fmt.Errorf("%s: %w", strings.Join(o.EntitiesCompared, " vs "), resilience.ErrRetrievalEmpty)
	}
	return nil
}

// Summary renders a successful outcome as one line of text
func (o Outcome) Summary() string {
	if o.Status != StatusSuccess || len(o.Values) < 2 {
		return o.Message
	}
	a, b := o.Values[0], o.Values[1]
	text := fmt.Sprintf("%s: %s %s %s at %d days vs %s %s %s at %d days",
		o.MetricName,
		a.Label, formatValue(a.Value), a.Unit, a.AgeDays,
		b.Label, formatValue(b.Value), b.Unit, b.AgeDays)
	if o.BetterLabel != "" {
		text += fmt.Sprintf(" (%s ahead by %s %s, %.1f%%)", o.BetterLabel, formatValue(o.AbsoluteDifference), a.Unit, math.Abs(o.RelativeDifference))
	}
	return text
}

func formatValue(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
