// Package classifier provides intent classification for poultry production queries.
package classifier

import (
	"strings"

	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/language"
)

// Classification confidence thresholds and scoring weights
const (
	HighConfidenceThreshold   = 0.95
	MediumConfidenceThreshold = 0.8
	LowConfidenceThreshold    = 0.2
	PoultryKeywordWeight      = 0.5
	EntityWeight              = 0.25
	IntentKeywordWeight       = 0.3
)

// Intent is what the user wants from the assistant.
type Intent string

const (
	IntentMetricLookup Intent = "metric_lookup"
	IntentComparison   Intent = "comparison"
	IntentQualitative  Intent = "qualitative"
	IntentDiagnostic   Intent = "diagnostic"
	IntentOutOfDomain  Intent = "out_of_domain"
	IntentGeneral      Intent = "general"
)

// ClassificationResult represents the result of query classification
type ClassificationResult struct {
	Intent           Intent  `json:"intent"`
	IsPoultryRelated bool    `json:"is_poultry_related"`
	Confidence       float64 `json:"confidence"`
	RejectionReason  string  `json:"rejection_reason,omitempty"`
}

// QueryClassifier assigns an intent to poultry queries
type QueryClassifier struct {
	poultryKeywords     []string
	comparisonKeywords  []string
	diagnosticKeywords  []string
	qualitativeKeywords []string
	lookupKeywords      []string
	rejectedTopics      []string
}

// NewQueryClassifier creates a new instance of QueryClassifier
func NewQueryClassifier() *QueryClassifier {
	return &QueryClassifier{
		poultryKeywords: []string{
			"broiler", "broilers", "chicken", "chickens", "chick", "chicks", "bird", "birds", "flock", "poultry",
			"hen", "hens", "layer", "layers", "breeder", "breeders", "egg", "eggs", "hatchery", "litter", "barn",
			"house", "feed", "ration", "strain", "breed", "rooster", "cockerel", "pullet",
			"poulet", "poulets", "volaille", "volailles", "poussin", "poussins", "troupeau", "elevage", "poulailler",
			"aliment", "souche", "poule", "poules", "oeuf", "oeufs", "litiere",
			"pollo", "pollos", "ave", "aves", "parvada", "lote", "galpon", "granja", "alimento", "estirpe",
			"gallina", "gallinas", "huevo", "huevos", "pollito", "pollitos", "cama",
		},
		comparisonKeywords: []string{
			" vs ", " vs. ", "versus", "compare", "comparison", "compared to", "difference between", "better than",
			"comparer", "comparaison", "par rapport a", "difference entre", "meilleur que",
			"comparar", "comparacion", "diferencia entre", "mejor que", "frente a",
		},
		diagnosticKeywords: []string{
			"disease", "symptom", "symptoms", "sick", "diarrhea", "lameness", "lame", "coccidiosis", "outbreak",
			"infection", "why are my", "why is my", "dying", "high mortality", "wet litter", "ascites", "necrotic",
			"maladie", "symptome", "symptomes", "malade", "diarrhee", "boiterie", "coccidiose", "pourquoi mes",
			"enfermedad", "sintoma", "sintomas", "enfermo", "diarrea", "cojera", "por que mis",
		},
		qualitativeKeywords: []string{
			"how to", "how do", "how should", "best practice", "best practices", "recommend", "recommendation",
			"management", "manage", "ventilation", "lighting", "vaccination", "biosecurity", "brooding", "tips",
			"comment", "conseil", "conseils", "gestion", "eclairage", "biosecurite", "demarrage",
			"como", "consejo", "consejos", "manejo", "iluminacion", "vacunacion", "bioseguridad", "recomienda",
		},
		lookupKeywords: []string{
			"target", "standard", "objective", "expected", "goal", "benchmark", "how much", "how many", "what is the",
			"objectif", "norme", "attendu", "combien", "quel est", "quelle est",
			"objetivo", "estandar", "esperado", "cuanto", "cuanta", "cual es",
		},
		rejectedTopics: []string{
			"politics", "election", "football", "basketball", "soccer", "movie", "celebrity", "bitcoin",
			"crypto", "stock market", "vacation", "hotel", "flight", "homework", "lawsuit",
			"politique", "cinema", "vacances", "politica", "futbol", "pelicula", "vacaciones",
		},
	}
}

// ClassifyQuery determines the intent of a query. The extracted entities
// are part of the evidence: a metric or a breed is a strong lookup signal.
func (qc *QueryClassifier) ClassifyQuery(query string, found entities.Entities) ClassificationResult {
	folded := " " + language.Fold(strings.TrimSpace(query)) + " "

	if strings.TrimSpace(folded) == "" {
		return ClassificationResult{
			Intent:          IntentOutOfDomain,
			Confidence:      1.0,
			RejectionReason: "Empty query provided",
		}
	}

	domainScore := qc.calculateDomainScore(folded, found)

	for _, topic := range qc.rejectedTopics {
		if containsWord(folded, topic) && domainScore < PoultryKeywordWeight {
			return ClassificationResult{
				Intent:          IntentOutOfDomain,
				Confidence:      HighConfidenceThreshold,
				RejectionReason: "Query contains a non-poultry topic",
			}
		}
	}

	switch {
	case countMatches(folded, qc.comparisonKeywords) > 0 && domainScore >= LowConfidenceThreshold:
		return qc.result(IntentComparison, domainScore)
	case countMatches(folded, qc.diagnosticKeywords) > 0:
		return qc.result(IntentDiagnostic, domainScore)
	case found.Metric != "" && (found.Breed != "" || found.AgeDays > 0 || countMatches(folded, qc.lookupKeywords) > 0):
		return qc.result(IntentMetricLookup, domainScore)
	case countMatches(folded, qc.qualitativeKeywords) > 0:
		return qc.result(IntentQualitative, domainScore)
	case found.Metric != "":
		return qc.result(IntentMetricLookup, domainScore)
	case domainScore >= LowConfidenceThreshold:
		return qc.result(IntentGeneral, domainScore)
	}

	return ClassificationResult{
		Intent:           IntentGeneral,
		IsPoultryRelated: false,
		Confidence:       1.0 - domainScore,
	}
}

func (qc *QueryClassifier) result(intent Intent, domainScore float64) ClassificationResult {
	confidence := domainScore + IntentKeywordWeight
	if confidence > 1.0 {
		confidence = 1.0
	}
	return ClassificationResult{
		Intent:           intent,
		IsPoultryRelated: true,
		Confidence:       confidence,
	}
}

// calculateDomainScore calculates a score from 0-1 indicating how poultry-related a query is
func (qc *QueryClassifier) calculateDomainScore(folded string, found entities.Entities) float64 {
	score := 0.0

	if found.Breed != "" {
		score += EntityWeight * 2
	}
	if found.Metric != "" {
		score += EntityWeight
	}
	if found.AgeDays > 0 {
		score += EntityWeight / 2
	}

	if matches := countMatches(folded, qc.poultryKeywords); matches > 0 {
		score += PoultryKeywordWeight
		if matches > 1 {
			score += 0.1
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// RequiredFields lists the entities an intent needs before it can be
// answered precisely.
func RequiredFields(intent Intent) []entities.Field {
	switch intent {
	case IntentMetricLookup:
		return []entities.Field{entities.FieldBreed, entities.FieldAge}
	case IntentComparison:
		return []entities.Field{entities.FieldBreed}
	default:
		return nil
	}
}

// GetRejectionMessage returns a user-friendly rejection message
func (qc *QueryClassifier) GetRejectionMessage(lang string) string {
	switch language.Canonical(lang) {
	case language.French:
		return "Je suis spécialisé dans la production avicole. " +
			"Posez-moi vos questions sur les performances, l'alimentation, la conduite d'élevage ou la santé des volailles."
	case language.Spanish:
		return "Estoy especializado en producción avícola. " +
			"Pregúnteme sobre rendimiento, alimentación, manejo o salud de las aves."
	default:
		return "I'm specialized in poultry production. " +
			"Please ask about flock performance, feeding, management or bird health."
	}
}

func countMatches(folded string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if containsWord(folded, kw) {
			n++
		}
	}
	return n
}

// containsWord matches kw on word boundaries inside a space-padded string.
func containsWord(padded, kw string) bool {
	if strings.HasPrefix(kw, " ") || strings.HasSuffix(kw, " ") {
		return strings.Contains(padded, kw)
	}
	idx := 0
	for {
		i := strings.Index(padded[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		if isBoundary(padded, start-1) && isBoundary(padded, end) {
			return true
		}
		idx = start + 1
	}
}

func isBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c >= 0x80)
}
