package clarification

import (
	"regexp"
	"strings"

	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/language"
)

// buildAbandonPatterns builds the per-locale phrases meaning "stop asking me"
func buildAbandonPatterns() map[string][]*regexp.Regexp {
	return compilePhrases(map[string][]string{
		language.English: {
			"never mind", "nevermind", "forget it", "forget about it", "skip", "skip it", "doesn't matter",
			"does not matter", "don't care", "dont care", "no matter", "whatever", "cancel",
			"just give me a general answer", "general answer", "any breed", "just answer",
		},
		language.French: {
			"laisse tomber", "laissez tomber", "peu importe", "oublie", "oubliez", "oublie ca", "tant pis",
			"passe", "passons", "annuler", "n'importe", "reponse generale", "reponds quand meme",
		},
		language.Spanish: {
			"olvidalo", "olvidelo", "no importa", "da igual", "dejalo", "cancelar", "saltar",
			"respuesta general", "lo que sea", "cualquier raza",
		},
	})
}

// buildAmbiguityPatterns builds the per-locale hedges that carry no usable value
func buildAmbiguityPatterns() map[string][]*regexp.Regexp {
	return compilePhrases(map[string][]string{
		language.English: {
			"not sure", "unsure", "maybe", "perhaps", "probably", "i don't know", "i dont know", "dont know",
			"don't know", "no idea", "not certain", "roughly", "approximately", "around", "hard to say",
		},
		language.French: {
			"pas sur", "pas sure", "je ne sais pas", "je sais pas", "sais pas", "aucune idee", "peut-etre",
			"peut etre", "environ", "a peu pres", "probablement", "pas certain", "pas certaine",
		},
		language.Spanish: {
			"no se", "no estoy seguro", "no estoy segura", "quizas", "quiza", "tal vez", "a lo mejor",
			"aproximadamente", "mas o menos", "ni idea", "alrededor de",
		},
	})
}

// buildFieldPatterns builds the per-locale fallback table used to recognise
// a clarification answer when the extractor found nothing
func buildFieldPatterns() map[string]map[entities.Field]*regexp.Regexp {
	brands := `cobb|ross|hubbard|arbor\s+acres|hy-?line|lohmann|isa|novogen|sasso`
	return map[string]map[entities.Field]*regexp.Regexp{
		language.English: {
			entities.FieldBreed:  regexp.MustCompile(`\b(?:` + brands + `|breed|strain)\b`),
			entities.FieldAge:    regexp.MustCompile(`\b\d{1,3}\s*(?:days?|d|weeks?|wks?)\b|\bday\s*\d{1,3}\b|\bweek\s*\d{1,2}\b`),
			entities.FieldSex:    regexp.MustCompile(`\b(?:males?|females?|mixed|as[\s-]?hatched|cockerels?|pullets?)\b`),
			entities.FieldMetric: regexp.MustCompile(`\b(?:weight|fcr|conversion|gain|intake|mortality|livability)\b`),
		},
		language.French: {
			entities.FieldBreed:  regexp.MustCompile(`\b(?:` + brands + `|souche|race)\b`),
			entities.FieldAge:    regexp.MustCompile(`\b\d{1,3}\s*(?:jours?|j|semaines?|sem)\b|\bj\d{1,3}\b|\bjour\s*\d{1,3}\b`),
			entities.FieldSex:    regexp.MustCompile(`\b(?:males?|femelles?|mixtes?|coqs?|poulettes?)\b`),
			entities.FieldMetric: regexp.MustCompile(`\b(?:poids|conversion|gmq|gain|consommation|mortalite|viabilite)\b`),
		},
		language.Spanish: {
			entities.FieldBreed:  regexp.MustCompile(`\b(?:` + brands + `|raza|estirpe|linea)\b`),
			entities.FieldAge:    regexp.MustCompile(`\b\d{1,3}\s*(?:dias?|semanas?)\b|\bdia\s*\d{1,3}\b`),
			entities.FieldSex:    regexp.MustCompile(`\b(?:machos?|hembras?|mixtos?|mixtas?)\b`),
			entities.FieldMetric: regexp.MustCompile(`\b(?:peso|conversion|ganancia|consumo|mortalidad|viabilidad)\b`),
		},
	}
}

func compilePhrases(phrases map[string][]string) map[string][]*regexp.Regexp {
	compiled := make(map[string][]*regexp.Regexp, len(phrases))
	for lang, list := range phrases {
		for _, phrase := range list {
			words := strings.Fields(phrase)
			for i, w := range words {
				words[i] = regexp.QuoteMeta(w)
			}
			pattern := `(?:^|[^\p{L}\p{N}'])` + strings.Join(words, `\s+`) + `(?:$|[^\p{L}\p{N}'])`
			compiled[lang] = append(compiled[lang], regexp.MustCompile(pattern))
		}
	}
	return compiled
}
