package performance

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/your-org/broiler-assistant/internal/entities"
)

// SeedFile is the YAML layout used to seed the store. Each series lists
// values keyed by age in days.
type SeedFile struct {
	Series    []Series   `yaml:"series"`
	Documents []Document `yaml:"documents"`
}

// Series is a breed/sex/metric curve from one source
type Series struct {
	Breed      string              `yaml:"breed"`
	Sex        entities.Sex        `yaml:"sex"`
	Metric     entities.MetricType `yaml:"metric"`
	Unit       string              `yaml:"unit"`
	UnitSystem UnitSystem          `yaml:"unit_system"`
	Source     string              `yaml:"source"`
	Values     map[int]float64     `yaml:"values"`
}

// LoadSeedFile reads a seed file from disk
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(seed.Series) == 0 && len(seed.Documents) == 0 {
		return nil, fmt.Errorf("seed file %s has no series or documents", path)
	}
	return &seed, nil
}

// Standards flattens the series into rows ordered by breed, metric, sex, age
func (f *SeedFile) Standards() []Standard {
	var out []Standard
	for _, s := range f.Series {
		ages := make([]int, 0, len(s.Values))
		for age := range s.Values {
			ages = append(ages, age)
		}
		sort.Ints(ages)

		for _, age := range ages {
			out = append(out, Standard{
				Breed:      s.Breed,
				Sex:        s.Sex,
				AgeDays:    age,
				Metric:     s.Metric,
				Value:      s.Values[age],
				Unit:       s.Unit,
				UnitSystem: s.UnitSystem,
				Source:     s.Source,
			})
		}
	}
	return out
}

// Describe renders a standard as a sentence for retrieval results
func Describe(std Standard) string {
	sex := string(std.Sex)
	if sex == "" || std.Sex == entities.SexMixed {
		sex = "as-hatched"
	}
	value := strconv.FormatFloat(std.Value, 'f', -1, 64)
	text := fmt.Sprintf("%s %s %s at %d days: %s", std.Breed, sex, metricName(std.Metric), std.AgeDays, value)
	if std.Unit != "" {
		text += " " + std.Unit
	}
	if std.Source != "" {
		text += " (" + std.Source + ")"
	}
	return text
}

func metricName(m entities.MetricType) string {
	switch m {
	case entities.MetricFeedConversion:
		return "feed conversion ratio"
	case entities.MetricBodyWeight:
		return "body weight"
	case entities.MetricDailyGain:
		return "daily gain"
	case entities.MetricFeedIntake:
		return "feed intake"
	case entities.MetricWaterIntake:
		return "water intake"
	}
	return string(m)
}
