package clarification

import (
	"strings"
	"testing"

	"github.com/your-org/broiler-assistant/internal/entities"
)

func TestDetector_Priority(t *testing.T) {
	detector := NewDetector()
	extractor := entities.NewDefaultExtractor(nil)
	missing := []entities.Field{entities.FieldBreed, entities.FieldAge}

	tests := []struct {
		name     string
		message  string
		lang     string
		expected Signal
	}{
		{name: "Abandon English", message: "never mind", lang: "en", expected: SignalAbandon},
		{name: "Abandon beats ambiguity", message: "not sure, forget it", lang: "en", expected: SignalAbandon},
		{name: "Abandon French", message: "Laisse tomber", lang: "fr", expected: SignalAbandon},
		{name: "Abandon Spanish", message: "olvídalo", lang: "es", expected: SignalAbandon},
		{name: "Ambiguous English", message: "I'm not sure", lang: "en", expected: SignalAmbiguous},
		{name: "Ambiguity beats a value", message: "environ 35 jours", lang: "fr", expected: SignalAmbiguous},
		{name: "Ambiguous Spanish", message: "no sé", lang: "es", expected: SignalAmbiguous},
		{name: "Extractor breed", message: "Cobb 500", lang: "en", expected: SignalExtractor},
		{name: "Extractor age French", message: "à 35 jours", lang: "fr", expected: SignalExtractor},
		{name: "Locale table", message: "c'est une souche locale", lang: "fr", expected: SignalLocalePattern},
		{name: "Nothing", message: "ok thanks", lang: "en", expected: SignalNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extracted := extractor.Extract(tt.message, entities.Hints{Language: tt.lang})
			got := detector.Detect(tt.message, tt.lang, missing, extracted)
			if got.Signal != tt.expected {
				t.Errorf("Expected signal %s, got %s", tt.expected, got.Signal)
			}
		})
	}
}

func TestDetector_SuppliedFields(t *testing.T) {
	detector := NewDetector()
	extractor := entities.NewDefaultExtractor(nil)
	missing := []entities.Field{entities.FieldBreed, entities.FieldAge}

	msg := "Ross 308 at 28 days"
	got := detector.Detect(msg, "en", missing, extractor.Extract(msg, entities.Hints{}))
	if !got.IsAnswer() {
		t.Fatalf("Expected an answer, got %s", got.Signal)
	}
	if len(got.Fields) != 2 {
		t.Errorf("Expected both fields supplied, got %v", got.Fields)
	}

	// extractor findings that are not missing do not count
	msg = "males"
	got = detector.Detect(msg, "en", []entities.Field{entities.FieldBreed}, extractor.Extract(msg, entities.Hints{}))
	if got.IsAnswer() {
		t.Errorf("Expected no answer for an unrequested field, got %s", got.Signal)
	}
}

func TestLocaleOrder(t *testing.T) {
	got := strings.Join(localeOrder("es"), ",")
	if got != "es,en,fr" {
		t.Errorf("Unexpected locale order for es: %s", got)
	}
	got = strings.Join(localeOrder("en"), ",")
	if got != "en,fr,es" {
		t.Errorf("Unexpected locale order for en: %s", got)
	}
	if localeOrder("de")[0] != "en" {
		t.Error("Unsupported languages should start with English")
	}
}

func TestQuestionLocalized(t *testing.T) {
	missing := []entities.Field{entities.FieldBreed, entities.FieldAge}

	en := Question("en", missing)
	if !strings.Contains(en, "breed") || !strings.Contains(en, "age") {
		t.Errorf("English question should ask for breed and age: %s", en)
	}

	fr := Question("fr", missing)
	if !strings.Contains(fr, "souche") || !strings.Contains(fr, "âge") {
		t.Errorf("French question should ask for souche and âge: %s", fr)
	}

	es := Question("es", missing)
	if !strings.Contains(es, "estirpe") {
		t.Errorf("Spanish question should ask for estirpe: %s", es)
	}

	if Question("de", missing) != en {
		t.Error("Unsupported languages should fall back to English")
	}
}

func TestFollowUp(t *testing.T) {
	msg := FollowUp("en", []entities.Field{entities.FieldBreed, entities.FieldAge})
	if !strings.Contains(msg, "the breed and the age") {
		t.Errorf("Expected joined field names: %s", msg)
	}
	if !strings.Contains(msg, "Ross 308, 35 days") {
		t.Errorf("Expected example answer: %s", msg)
	}
}

func TestFragments(t *testing.T) {
	e := entities.Entities{Breed: "Cobb 500", AgeDays: 21, Sex: entities.SexMale, Metric: entities.MetricBodyWeight}

	cases := []struct {
		lang  string
		field entities.Field
		want  string
	}{
		{"en", entities.FieldBreed, "for Cobb 500"},
		{"en", entities.FieldAge, "at 21 days"},
		{"en", entities.FieldSex, "for males"},
		{"en", entities.FieldMetric, "(body weight)"},
		{"fr", entities.FieldAge, "à 21 jours"},
		{"fr", entities.FieldSex, "pour les mâles"},
		{"es", entities.FieldBreed, "para Cobb 500"},
	}
	for _, c := range cases {
		if got := Fragment(c.lang, c.field, e); got != c.want {
			t.Errorf("Fragment(%s, %s) = %q, want %q", c.lang, c.field, got, c.want)
		}
	}

	if Fragment("en", entities.FieldAge, entities.Entities{}) != "" {
		t.Error("Expected empty fragment for a missing field")
	}
}

func TestFixedMessages(t *testing.T) {
	for _, lang := range []string{"en", "fr", "es"} {
		if Disclaimer(lang) == "" || UnableToProcess(lang) == "" {
			t.Errorf("Missing fixed messages for %s", lang)
		}
	}
	if Disclaimer("fr") == Disclaimer("en") {
		t.Error("Expected a localized French disclaimer")
	}

	msg := IncompatibleSpecies("en", "Cobb 500", entities.SpeciesBroiler, "ISA Brown", entities.SpeciesLayer)
	if !strings.Contains(msg, "broiler") || !strings.Contains(msg, "layer") {
		t.Errorf("Expected both species named: %s", msg)
	}

	if !strings.Contains(AgeHint("en", 75), "75") {
		t.Error("Expected age in hint")
	}
}

func TestSuggestions(t *testing.T) {
	compiled, err := entities.DefaultRegistry().Compile()
	if err != nil {
		t.Fatalf("Failed to compile registry: %v", err)
	}

	got := Suggestions([]entities.Field{entities.FieldBreed, entities.FieldAge}, compiled, false)
	if len(got[entities.FieldBreed]) == 0 || len(got[entities.FieldBreed]) > maxBreedSuggestions {
		t.Errorf("Unexpected breed suggestions: %v", got[entities.FieldBreed])
	}
	if got[entities.FieldBreed][0] != "Cobb 500" {
		t.Errorf("Expected registry order, got %v", got[entities.FieldBreed])
	}
	if len(got[entities.FieldAge]) == 0 {
		t.Error("Expected age suggestions")
	}

	layers := Suggestions([]entities.Field{entities.FieldBreed}, compiled, true)
	if layers[entities.FieldBreed][0] != "Hy-Line Brown" {
		t.Errorf("Expected layer strains, got %v", layers[entities.FieldBreed])
	}
}
