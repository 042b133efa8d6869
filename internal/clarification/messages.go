package clarification

import (
	"fmt"
	"strings"

	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/language"
)

type catalog struct {
	intro          string
	followUp       string
	disclaimer     string
	unable         string
	incompatible   string
	mismatch       string
	ageHint        string
	and            string
	questions      map[entities.Field]string
	fieldNames     map[entities.Field]string
	examples       map[entities.Field]string
	breedFragment  string
	ageFragment    string
	sexFragments   map[entities.Sex]string
	metricFragment string
	metricLabels   map[entities.MetricType]string
}

var catalogs = map[string]catalog{
	language.English: {
		intro:        "To give you a precise answer I need a little more information.",
		followUp:     "Sorry, I still need %s to look up the standard. Please reply with something like \"%s\", or say \"skip\" for a general answer.",
		disclaimer:   "I couldn't get the details needed for a precise figure, so here is general guidance based on average broiler performance. Targets vary with breed, sex and age; check the breed management guide for exact values.",
		unable:       "Sorry, I'm unable to process your request right now. Please try again in a moment.",
		incompatible: "%s is a %s strain and %s is a %s strain, so their performance standards cannot be compared directly.",
		mismatch:     "I can only compare the same figure for both sides, but you asked for %s and %s. Which one should I compare?",
		ageHint:      "Note: %d days is beyond a typical broiler cycle, so this answer relies on general guidance.",
		and:          "and",
		questions: map[entities.Field]string{
			entities.FieldBreed:  "Which breed or strain are you asking about (for example Cobb 500 or Ross 308)?",
			entities.FieldAge:    "At what age, in days or weeks?",
			entities.FieldSex:    "For males, females or a mixed flock?",
			entities.FieldMetric: "Which performance figure do you need (body weight, FCR, daily gain, feed intake...)?",
		},
		fieldNames: map[entities.Field]string{
			entities.FieldBreed:  "the breed",
			entities.FieldAge:    "the age",
			entities.FieldSex:    "the sex",
			entities.FieldMetric: "the metric",
		},
		examples: map[entities.Field]string{
			entities.FieldBreed:  "Ross 308",
			entities.FieldAge:    "35 days",
			entities.FieldSex:    "males",
			entities.FieldMetric: "body weight",
		},
		breedFragment: "for %s",
		ageFragment:   "at %d days",
		sexFragments: map[entities.Sex]string{
			entities.SexMale:   "for males",
			entities.SexFemale: "for females",
			entities.SexMixed:  "for a mixed flock",
		},
		metricFragment: "(%s)",
		metricLabels: map[entities.MetricType]string{
			entities.MetricBodyWeight:     "body weight",
			entities.MetricFeedConversion: "feed conversion ratio",
			entities.MetricDailyGain:      "daily gain",
			entities.MetricFeedIntake:     "feed intake",
			entities.MetricMortality:      "mortality",
			entities.MetricLivability:     "livability",
			entities.MetricProduction:     "egg production",
			entities.MetricWaterIntake:    "water intake",
			entities.MetricCost:           "cost",
		},
	},
	language.French: {
		intro:        "Pour vous donner une réponse précise, j'ai besoin d'un peu plus d'informations.",
		followUp:     "Désolé, il me faut encore %s pour retrouver le standard. Répondez par exemple « %s », ou dites « peu importe » pour une réponse générale.",
		disclaimer:   "Je n'ai pas obtenu les précisions nécessaires pour un chiffre exact ; voici donc des repères généraux basés sur les performances moyennes des poulets de chair. Les objectifs varient selon la souche, le sexe et l'âge ; consultez le guide d'élevage de la souche pour les valeurs exactes.",
		unable:       "Désolé, je ne peux pas traiter votre demande pour le moment. Veuillez réessayer dans un instant.",
		incompatible: "%s est une souche %s et %s une souche %s : leurs standards de performance ne sont pas directement comparables.",
		mismatch:     "Je ne peux comparer que le même indicateur des deux côtés, or vous demandez %s et %s. Lequel dois-je comparer ?",
		ageHint:      "Remarque : %d jours dépasse la durée habituelle d'un lot de poulets de chair ; cette réponse s'appuie sur des repères généraux.",
		and:          "et",
		questions: map[entities.Field]string{
			entities.FieldBreed:  "De quelle souche s'agit-il (par exemple Cobb 500 ou Ross 308) ?",
			entities.FieldAge:    "À quel âge, en jours ou en semaines ?",
			entities.FieldSex:    "Pour des mâles, des femelles ou un lot mixte ?",
			entities.FieldMetric: "Quel indicateur vous intéresse (poids, indice de consommation, GMQ, consommation...) ?",
		},
		fieldNames: map[entities.Field]string{
			entities.FieldBreed:  "la souche",
			entities.FieldAge:    "l'âge",
			entities.FieldSex:    "le sexe",
			entities.FieldMetric: "l'indicateur",
		},
		examples: map[entities.Field]string{
			entities.FieldBreed:  "Ross 308",
			entities.FieldAge:    "35 jours",
			entities.FieldSex:    "mâles",
			entities.FieldMetric: "poids",
		},
		breedFragment: "pour %s",
		ageFragment:   "à %d jours",
		sexFragments: map[entities.Sex]string{
			entities.SexMale:   "pour les mâles",
			entities.SexFemale: "pour les femelles",
			entities.SexMixed:  "pour un lot mixte",
		},
		metricFragment: "(%s)",
		metricLabels: map[entities.MetricType]string{
			entities.MetricBodyWeight:     "poids vif",
			entities.MetricFeedConversion: "indice de consommation",
			entities.MetricDailyGain:      "gain moyen quotidien",
			entities.MetricFeedIntake:     "consommation d'aliment",
			entities.MetricMortality:      "mortalité",
			entities.MetricLivability:     "viabilité",
			entities.MetricProduction:     "production d'œufs",
			entities.MetricWaterIntake:    "consommation d'eau",
			entities.MetricCost:           "coût",
		},
	},
	language.Spanish: {
		intro:        "Para darle una respuesta precisa necesito un poco más de información.",
		followUp:     "Lo siento, todavía necesito %s para buscar el estándar. Responda por ejemplo \"%s\", o diga \"no importa\" para una respuesta general.",
		disclaimer:   "No obtuve los datos necesarios para una cifra exacta, así que aquí tiene una orientación general basada en el rendimiento promedio del pollo de engorde. Los objetivos varían según la estirpe, el sexo y la edad; consulte la guía de manejo de la estirpe para valores exactos.",
		unable:       "Lo siento, no puedo procesar su solicitud en este momento. Inténtelo de nuevo en unos instantes.",
		incompatible: "%s es una estirpe %s y %s una estirpe %s, por lo que sus estándares de rendimiento no se pueden comparar directamente.",
		mismatch:     "Solo puedo comparar el mismo indicador en ambos lados, pero pidió %s y %s. ¿Cuál debo comparar?",
		ageHint:      "Nota: %d días supera un ciclo típico de pollo de engorde, por lo que esta respuesta se basa en orientaciones generales.",
		and:          "y",
		questions: map[entities.Field]string{
			entities.FieldBreed:  "¿De qué estirpe se trata (por ejemplo Cobb 500 o Ross 308)?",
			entities.FieldAge:    "¿A qué edad, en días o semanas?",
			entities.FieldSex:    "¿Para machos, hembras o un lote mixto?",
			entities.FieldMetric: "¿Qué indicador necesita (peso, conversión alimenticia, ganancia diaria, consumo...)?",
		},
		fieldNames: map[entities.Field]string{
			entities.FieldBreed:  "la estirpe",
			entities.FieldAge:    "la edad",
			entities.FieldSex:    "el sexo",
			entities.FieldMetric: "el indicador",
		},
		examples: map[entities.Field]string{
			entities.FieldBreed:  "Ross 308",
			entities.FieldAge:    "35 días",
			entities.FieldSex:    "machos",
			entities.FieldMetric: "peso",
		},
		breedFragment: "para %s",
		ageFragment:   "a los %d días",
		sexFragments: map[entities.Sex]string{
			entities.SexMale:   "para machos",
			entities.SexFemale: "para hembras",
			entities.SexMixed:  "para un lote mixto",
		},
		metricFragment: "(%s)",
		metricLabels: map[entities.MetricType]string{
			entities.MetricBodyWeight:     "peso corporal",
			entities.MetricFeedConversion: "índice de conversión",
			entities.MetricDailyGain:      "ganancia diaria",
			entities.MetricFeedIntake:     "consumo de alimento",
			entities.MetricMortality:      "mortalidad",
			entities.MetricLivability:     "viabilidad",
			entities.MetricProduction:     "producción de huevos",
			entities.MetricWaterIntake:    "consumo de agua",
			entities.MetricCost:           "costo",
		},
	},
}

var speciesLabels = map[string]map[entities.Species]string{
	language.English: {entities.SpeciesBroiler: "broiler", entities.SpeciesLayer: "layer", entities.SpeciesBreeder: "breeder", entities.SpeciesTurkey: "turkey"},
	language.French:  {entities.SpeciesBroiler: "chair", entities.SpeciesLayer: "ponte", entities.SpeciesBreeder: "reproductrice", entities.SpeciesTurkey: "dinde"},
	language.Spanish: {entities.SpeciesBroiler: "de engorde", entities.SpeciesLayer: "de postura", entities.SpeciesBreeder: "reproductora", entities.SpeciesTurkey: "de pavo"},
}

func catalogFor(lang string) catalog {
	return catalogs[language.Canonical(lang)]
}

// Question builds the first clarification question for the missing fields
func Question(lang string, missing []entities.Field) string {
	c := catalogFor(lang)
	parts := []string{c.intro}
	for _, f := range missing {
		if q, ok := c.questions[f]; ok {
			parts = append(parts, q)
		}
	}
	return strings.Join(parts, " ")
}

// FollowUp builds the sharper question asked after an ambiguous reply
func FollowUp(lang string, missing []entities.Field) string {
	c := catalogFor(lang)
	names := make([]string, 0, len(missing))
	examples := make([]string, 0, len(missing))
	for _, f := range missing {
		names = append(names, c.fieldNames[f])
		examples = append(examples, c.examples[f])
	}
	return fmt.Sprintf(c.followUp, joinList(names, c.and), strings.Join(examples, ", "))
}

// Disclaimer is the generic broiler-averages answer used when clarification
// is abandoned or exhausted, or retrieval finds nothing
func Disclaimer(lang string) string {
	return catalogFor(lang).disclaimer
}

// UnableToProcess is the last-resort message
func UnableToProcess(lang string) string {
	return catalogFor(lang).unable
}

// IncompatibleSpecies explains why two breeds cannot be compared
func IncompatibleSpecies(lang, breedA string, speciesA entities.Species, breedB string, speciesB entities.Species) string {
	c := catalogFor(lang)
	labels := speciesLabels[language.Canonical(lang)]
	return fmt.Sprintf(c.incompatible, breedA, speciesLabel(labels, speciesA), breedB, speciesLabel(labels, speciesB))
}

// IncompatibleMetrics asks which of two different metrics to compare
func IncompatibleMetrics(lang string, a, b entities.MetricType) string {
	return fmt.Sprintf(catalogFor(lang).mismatch, MetricLabel(lang, a), MetricLabel(lang, b))
}

// AgeHint notes that an age lies beyond a typical broiler cycle
func AgeHint(lang string, ageDays int) string {
	return fmt.Sprintf(catalogFor(lang).ageHint, ageDays)
}

// MetricLabel returns the localized name of a metric
func MetricLabel(lang string, metric entities.MetricType) string {
	if label, ok := catalogFor(lang).metricLabels[metric]; ok {
		return label
	}
	return strings.ReplaceAll(string(metric), "_", " ")
}

// Fragment renders one field of e as a phrase to append to a query, such as
// "for Cobb 500" or "at 21 days". It returns "" when the field is empty.
func Fragment(lang string, field entities.Field, e entities.Entities) string {
	c := catalogFor(lang)
	switch field {
	case entities.FieldBreed:
		if e.Breed != "" {
			return fmt.Sprintf(c.breedFragment, e.Breed)
		}
	case entities.FieldAge:
		if e.AgeDays > 0 {
			return fmt.Sprintf(c.ageFragment, e.AgeDays)
		}
	case entities.FieldSex:
		return c.sexFragments[e.Sex]
	case entities.FieldMetric:
		if e.Metric != "" {
			return fmt.Sprintf(c.metricFragment, MetricLabel(lang, e.Metric))
		}
	}
	return ""
}

func speciesLabel(labels map[entities.Species]string, s entities.Species) string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

func joinList(items []string, and string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " " + and + " " + items[len(items)-1]
}
