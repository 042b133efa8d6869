package clarification

import (
	"github.com/your-org/broiler-assistant/internal/entities"
)

const maxBreedSuggestions = 4

var (
	ageSuggestions    = []string{"7", "14", "21", "28", "35", "42"}
	sexSuggestions    = []string{string(entities.SexMale), string(entities.SexFemale), string(entities.SexMixed)}
	metricSuggestions = []string{
		string(entities.MetricBodyWeight),
		string(entities.MetricFeedConversion),
		string(entities.MetricDailyGain),
		string(entities.MetricFeedIntake),
		string(entities.MetricMortality),
	}
)

// Suggestions proposes candidate values for each missing field. Breed
// candidates come from the registry, preferring layer strains when the
// question is about layers.
func Suggestions(missing []entities.Field, registry *entities.CompiledRegistry, layerContext bool) map[entities.Field][]string {
	out := make(map[entities.Field][]string, len(missing))
	for _, f := range missing {
		switch f {
		case entities.FieldBreed:
			if registry == nil {
				continue
			}
			species := entities.SpeciesBroiler
			if layerContext {
				species = entities.SpeciesLayer
			}
			breeds := registry.BreedsBySpecies(species)
			if len(breeds) > maxBreedSuggestions {
				breeds = breeds[:maxBreedSuggestions]
			}
			out[f] = breeds
		case entities.FieldAge:
			out[f] = append([]string(nil), ageSuggestions...)
		case entities.FieldSex:
			out[f] = append([]string(nil), sexSuggestions...)
		case entities.FieldMetric:
			out[f] = append([]string(nil), metricSuggestions...)
		}
	}
	return out
}
