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

package language

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "males a 35 jours", Fold("Mâles à 35 jours"))
	assert.Equal(t, "cuantos dias", Fold("Cuántos días"))
	assert.Equal(t, "oeufs", Fold("Œufs"))
	assert.Equal(t, "qu'est-ce", Fold("Qu’est-ce"))
}

func TestDetect(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Quel est le poids des poulets à 35 jours ?", French},
		{"¿Cuál es el peso de los pollos a los 35 días?", Spanish},
		{"What is the weight of the birds at 35 days?", English},
		{"Cobb 500", English},
		{"", English},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.text))
		})
	}
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, French, Canonical("fr-CA"))
	assert.Equal(t, Spanish, Canonical("ES"))
	assert.Equal(t, English, Canonical("de"))
	assert.Equal(t, English, Canonical(""))
	assert.True(t, IsSupported("fr"))
	assert.False(t, IsSupported("de"))
}

type stubTranslator struct {
	out string
	err error
}

func (s stubTranslator) Translate(_ context.Context, _, _ string) (string, error) {
	return s.out, s.err
}

func TestNormalize(t *testing.T) {
	ctx := context.Background()
	query := "Quel est le poids des mâles à 35 jours ?"

	n := NewNormalizer(stubTranslator{out: "What is the weight of males at 35 days?"}, nil)
	got := n.Normalize(ctx, query, "")
	assert.Equal(t, French, got.Language)
	assert.Equal(t, French, got.OriginalLanguage)
	assert.True(t, got.Translated)
	assert.Equal(t, "What is the weight of males at 35 days?", got.Text)
	assert.Equal(t, query, got.Original)

	failing := NewNormalizer(stubTranslator{err: errors.New("quota exceeded")}, nil)
	got = failing.Normalize(ctx, query, "fr")
	assert.False(t, got.Translated)
	assert.Equal(t, query, got.Text)

	none := NewNormalizer(nil, nil)
	got = none.Normalize(ctx, "weight at 35 days", "es")
	assert.Equal(t, Spanish, got.Language)
	assert.Equal(t, English, got.OriginalLanguage)
	assert.False(t, got.Translated)
}
