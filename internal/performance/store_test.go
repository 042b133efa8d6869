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

package performance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/entities"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "performance.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Logf("Failed to close store: %v", err)
		}
	})
	return store
}

func seedCobb(t *testing.T, store *Store) {
	t.Helper()
	var rows []Standard
	for age, weight := range map[int]float64{7: 185, 14: 485, 21: 964, 28: 1571, 35: 2234, 42: 2880} {
		rows = append(rows, Standard{Breed: "Cobb 500", Sex: entities.SexMixed, AgeDays: age,
			Metric: entities.MetricBodyWeight, Value: weight, Unit: "g", Source: "Cobb 500 supplement"})
	}
	rows = append(rows,
		Standard{Breed: "Cobb 500", Sex: entities.SexMale, AgeDays: 35, Metric: entities.MetricBodyWeight, Value: 2460, Unit: "g"},
		Standard{Breed: "Cobb 500", Sex: entities.SexFemale, AgeDays: 35, Metric: entities.MetricBodyWeight, Value: 2010, Unit: "g"},
		Standard{Breed: "Cobb 500", AgeDays: 35, Metric: entities.MetricFeedConversion, Value: 1.49},
	)
	require.NoError(t, store.Upsert(context.Background(), rows))
}

func TestNewStore(t *testing.T) {
	store, err := NewStore(":memory:", nil)
	require.NoError(t, err)
	defer store.Close()

	var name string
	err = store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='performance_standards'").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "performance_standards", name)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewStoreWithFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestSearchClosestAge(t *testing.T) {
	store := newTestStore(t)
	seedCobb(t, store)
	ctx := context.Background()

	e := entities.Entities{Breed: "Cobb 500", AgeDays: 33, Metric: entities.MetricBodyWeight}
	matches, err := store.Search(ctx, "cobb 500 weight day 33", e, Filters{}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, 35, matches[0].AgeDays)
	assert.Equal(t, 2, matches[0].AgeDistance)
	assert.Equal(t, entities.SexMixed, matches[0].Sex, "mixed rows first without a sex")
	assert.Equal(t, 35, matches[1].AgeDays)
	assert.Equal(t, 35, matches[2].AgeDays)

	matches, err = store.Search(ctx, "", e, Filters{MaxAgeDistance: 1}, 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchFilters(t *testing.T) {
	store := newTestStore(t)
	seedCobb(t, store)
	ctx := context.Background()

	e := entities.Entities{Breed: "Cobb 500", AgeDays: 35, Sex: entities.SexFemale, Metric: entities.MetricBodyWeight}
	matches, err := store.Search(ctx, "", e, Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 2010.0, matches[0].Value)

	matches, err = store.Search(ctx, "", e, Filters{IgnoreSex: true}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for _, m := range matches {
		assert.Equal(t, 35, m.AgeDays)
	}

	e = entities.Entities{Breed: "Cobb 500", AgeDays: 35}
	matches, err = store.Search(ctx, "", e, Filters{Metrics: []entities.MetricType{entities.MetricFeedConversion}}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, UnitSystemMetric, matches[0].UnitSystem)
	assert.Equal(t, entities.SexMixed, matches[0].Sex)

	_, err = store.Search(ctx, "", entities.Entities{AgeDays: 35}, Filters{}, 5)
	assert.ErrorIs(t, err, ErrMissingBreed)

	matches, err = store.Search(ctx, "", entities.Entities{Breed: "Ross 308", AgeDays: 35}, Filters{}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestUpsertReplaces(t *testing.T) {
	store := newTestStore(t)
	seedCobb(t, store)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []Standard{{Breed: "Cobb 500", Sex: entities.SexMixed, AgeDays: 35,
		Metric: entities.MetricBodyWeight, Value: 2250, Unit: "g", Source: "Cobb 500 supplement"}}))

	samples, err := store.Samples(ctx, "Cobb 500", entities.MetricBodyWeight, entities.SexMixed)
	require.NoError(t, err)
	require.Len(t, samples, 6)
	assert.Equal(t, 7, samples[0].AgeDays)
	assert.Equal(t, 2250.0, samples[4].Value)

	err = store.Upsert(ctx, []Standard{{Breed: "", AgeDays: 1, Metric: entities.MetricBodyWeight}})
	assert.Error(t, err)
}

func TestSamplesAndMetrics(t *testing.T) {
	store := newTestStore(t)
	seedCobb(t, store)
	ctx := context.Background()

	all, err := store.Samples(ctx, "Cobb 500", entities.MetricBodyWeight, "")
	require.NoError(t, err)
	assert.Len(t, all, 8)

	metrics, err := store.Metrics(ctx, "Cobb 500")
	require.NoError(t, err)
	assert.Equal(t, []entities.MetricType{entities.MetricBodyWeight, entities.MetricFeedConversion}, metrics)

	_, err = store.Samples(ctx, "", entities.MetricBodyWeight, "")
	assert.ErrorIs(t, err, ErrMissingBreed)
}

func TestDocumentsAndStats(t *testing.T) {
	store := newTestStore(t)
	seedCobb(t, store)
	ctx := context.Background()

	require.NoError(t, store.AddDocument(ctx, Document{ID: "heat-stress", Title: "Heat stress",
		Content: "Reduce stocking density during heat waves", Topic: "management"}))
	require.NoError(t, store.AddDocument(ctx, Document{ID: "brooding", Content: "Brooding temperature at placement"}))
	assert.Error(t, store.AddDocument(ctx, Document{ID: "empty"}))

	docs, err := store.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "brooding", docs[0].ID)
	assert.Equal(t, "Heat stress", docs[1].Title)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, stats["standards"])
	assert.Equal(t, 1, stats["breeds"])
	assert.Equal(t, 2, stats["documents"])
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "standards.yaml")
	content := `
series:
  - breed: Ross 308
    sex: mixed
    metric: body_weight
    unit: g
    source: Ross 308 objectives
    values:
      14: 480
      7: 190
documents:
  - id: litter
    content: Keep litter moisture below 30 percent
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	seed, err := LoadSeedFile(path)
	require.NoError(t, err)
	standards := seed.Standards()
	require.Len(t, standards, 2)
	assert.Equal(t, 7, standards[0].AgeDays)
	assert.Equal(t, 190.0, standards[0].Value)
	require.Len(t, seed.Documents, 1)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("series: []\n"), 0o600))
	_, err = LoadSeedFile(empty)
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	std := Standard{Breed: "Cobb 500", Sex: entities.SexMixed, AgeDays: 35, Metric: entities.MetricBodyWeight,
		Value: 2234, Unit: "g", Source: "Cobb 500 supplement"}
	assert.Equal(t, "Cobb 500 as-hatched body weight at 35 days: 2234 g (Cobb 500 supplement)", Describe(std))

	std = Standard{Breed: "Ross 308", Sex: entities.SexMale, AgeDays: 42, Metric: entities.MetricFeedConversion, Value: 1.62}
	assert.Equal(t, "Ross 308 male feed conversion ratio at 42 days: 1.62", Describe(std))
}
