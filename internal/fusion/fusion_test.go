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

package fusion

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func docs(contents ...string) []Document {
	out := make([]Document, len(contents))
	for i, c := range contents {
		out[i] = Document{ID: c, Content: c}
	}
	return out
}

func contents(fused []FusedDocument) []string {
	out := make([]string, len(fused))
	for i, d := range fused {
		out[i] = d.Content
	}
	return out
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		vector  *int
		keyword *int
		alpha   float64
		want    float64
	}{
		{"both first", intp(1), intp(1), 0.5, 1.0 / 61},
		{"vector only", intp(1), nil, 0.5, 0.5 / 61},
		{"keyword only", nil, intp(3), 0.5, 0.5 / 63},
		{"absent", nil, nil, 0.5, 0},
		{"alpha one ignores keyword", intp(2), intp(1), 1, 1.0 / 62},
		{"alpha clamped high", intp(2), intp(1), 3, 1.0 / 62},
		{"alpha clamped low", intp(2), intp(1), -1, 1.0 / 61},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.vector, tt.keyword, tt.alpha, DefaultK)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestScoreMonotonic(t *testing.T) {
	for _, alpha := range []float64{0.1, 0.5, 0.9} {
		for rank := 1; rank < 50; rank++ {
			better := Score(intp(rank), intp(10), alpha, DefaultK)
			worse := Score(intp(rank+1), intp(10), alpha, DefaultK)
			assert.Greater(t, better, worse, "vector rank %d alpha %.1f", rank, alpha)

			better = Score(intp(10), intp(rank), alpha, DefaultK)
			worse = Score(intp(10), intp(rank+1), alpha, DefaultK)
			assert.Greater(t, better, worse, "keyword rank %d alpha %.1f", rank, alpha)
		}
	}
}

func TestFuse(t *testing.T) {
	vector := docs("a", "b", "c")
	keyword := docs("c", "d", "a")

	fused := Fuse(vector, keyword, 0.5, 0)
	require.Len(t, fused, 4)

	// a: 0.5/61 + 0.5/63, c: 0.5/63 + 0.5/61, tie keeps vector order
	assert.Equal(t, []string{"a", "c", "b", "d"}, contents(fused))
	assert.InDelta(t, fused[0].Score, fused[1].Score, 1e-12)

	assert.Equal(t, SourceBoth, fused[0].Source)
	assert.Equal(t, 1, *fused[0].VectorRank)
	assert.Equal(t, 3, *fused[0].KeywordRank)

	assert.Equal(t, SourceVector, fused[2].Source)
	assert.Nil(t, fused[2].KeywordRank)
	assert.Equal(t, SourceKeyword, fused[3].Source)
	assert.Nil(t, fused[3].VectorRank)
}

func TestFuseTopKAndDuplicates(t *testing.T) {
	vector := docs("a", "a", "b")
	keyword := docs("  a ", "c")

	fused := Fuse(vector, keyword, 0.5, 2)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].Content)
	assert.Equal(t, 1, *fused[0].VectorRank)
	assert.Equal(t, 1, *fused[0].KeywordRank)

	assert.Empty(t, Fuse(nil, nil, 0.5, 5))
	assert.Empty(t, Fuse(docs(""), nil, 0.5, 5))
}

func TestFuseIsPure(t *testing.T) {
	vector := docs("a", "b", "c", "d")
	keyword := docs("d", "b", "e")

	first := Fuse(vector, keyword, 0.7, 0)
	second := Fuse(vector, keyword, 0.7, 0)
	assert.Equal(t, first, second)

	for _, d := range first {
		want := Score(d.VectorRank, d.KeywordRank, 0.7, DefaultK)
		assert.False(t, math.IsNaN(d.Score))
		assert.InDelta(t, want, d.Score, 1e-12)
	}
}

func TestQueryAwareFuserAlpha(t *testing.T) {
	f := NewQueryAwareFuser(0.5, DefaultK)

	assert.InDelta(t, 0.3, f.Alpha("ross 308 fcr"), 1e-9)
	assert.InDelta(t, 0.5, f.Alpha("what is the target weight"), 1e-9)
	assert.InDelta(t, 0.6, f.Alpha("how should I manage ventilation in my broiler house during a heat wave"), 1e-9)
	assert.InDelta(t, 0.5, f.Alpha(""), 1e-9)
}

type failingFuser struct {
	err   error
	panic bool
}

func (f failingFuser) Fuse(context.Context, string, []Document, []Document, int) ([]FusedDocument, error) {
	if f.panic {
		panic("boom")
	}
	return nil, f.err
}

func TestFuseWithFallback(t *testing.T) {
	ctx := context.Background()
	vector := docs("a", "b")
	keyword := docs("b", "c")
	plain := Fuse(vector, keyword, 0.5, 3)

	got := FuseWithFallback(ctx, failingFuser{err: errors.New("model unavailable")}, "q", vector, keyword, 0.5, 3, nil)
	assert.Equal(t, plain, got)

	got = FuseWithFallback(ctx, failingFuser{panic: true}, "q", vector, keyword, 0.5, 3, nil)
	assert.Equal(t, plain, got)

	got = FuseWithFallback(ctx, nil, "q", vector, keyword, 0.5, 3, nil)
	assert.Equal(t, plain, got)

	got = FuseWithFallback(ctx, NewQueryAwareFuser(0.5, DefaultK), "", vector, keyword, 0.5, 3, nil)
	assert.Equal(t, plain, got, "blank query falls back")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	got = FuseWithFallback(cancelled, NewQueryAwareFuser(0.5, DefaultK), "ross 308", vector, keyword, 0.5, 3, nil)
	assert.Equal(t, plain, got)
}
