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

// Package keyword ranks documents against a query with Okapi BM25.
package keyword

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"sync"

	"github.com/your-org/broiler-assistant/internal/fusion"
	"github.com/your-org/broiler-assistant/internal/language"
)

// BM25 parameters
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// ErrEmptyDocument is returned when a document has no indexable terms
var ErrEmptyDocument = errors.New("document has no indexable terms")

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

type entry struct {
	doc    fusion.Document
	terms  map[string]int
	length int
}

// Index is an in-memory BM25 index safe for concurrent use
type Index struct {
	mu        sync.RWMutex
	k1        float64
	b         float64
	entries   []entry
	byKey     map[string]int
	docFreq   map[string]int
	totalLen  int
	stopwords map[string]struct{}
}

// NewIndex creates an empty index with the default parameters
func NewIndex() *Index {
	return &Index{
		k1:        DefaultK1,
		b:         DefaultB,
		byKey:     make(map[string]int),
		docFreq:   make(map[string]int),
		stopwords: defaultStopwords(),
	}
}

// Len returns the number of indexed documents
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Add indexes a document. A document with the same ID, or the same content
// when it has no ID, replaces the earlier one.
func (x *Index) Add(doc fusion.Document) error {
	terms := x.tokenize(doc.Content)
	if len(terms) == 0 {
		return ErrEmptyDocument
	}

	counts := make(map[string]int, len(terms))
	for _, t := range terms {
		counts[t]++
	}

	key := doc.ID
	if key == "" {
		key = doc.Content
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	e := entry{doc: doc, terms: counts, length: len(terms)}
	if i, ok := x.byKey[key]; ok {
		x.forget(x.entries[i])
		x.entries[i] = e
	} else {
		x.byKey[key] = len(x.entries)
		x.entries = append(x.entries, e)
	}

	for t := range counts {
		x.docFreq[t]++
	}
	x.totalLen += e.length
	return nil
}

// Replace swaps the whole corpus for docs, so documents no longer listed
// drop out. It returns the IDs of documents with no indexable terms.
func (x *Index) Replace(docs []fusion.Document) []string {
	fresh := NewIndex()
	fresh.k1, fresh.b, fresh.stopwords = x.k1, x.b, x.stopwords

	var skipped []string
	for _, doc := range docs {
		if err := fresh.Add(doc); err != nil {
			skipped = append(skipped, doc.ID)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = fresh.entries
	x.byKey = fresh.byKey
	x.docFreq = fresh.docFreq
	x.totalLen = fresh.totalLen
	return skipped
}

func (x *Index) forget(e entry) {
	for t := range e.terms {
		x.docFreq[t]--
		if x.docFreq[t] <= 0 {
			delete(x.docFreq, t)
		}
	}
	x.totalLen -= e.length
}

// Rank returns up to topK documents with a positive BM25 score, best first.
// Ties keep insertion order. The returned Score is the BM25 score.
func (x *Index) Rank(query string, topK int) []fusion.Document {
	queryTerms := x.tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.entries)
	if n == 0 {
		return nil
	}
	avgLen := float64(x.totalLen) / float64(n)

	unique := make(map[string]struct{}, len(queryTerms))
	type scored struct {
		index int
		score float64
	}
	var results []scored

	for i, e := range x.entries {
		var score float64
		for k := range unique {
			delete(unique, k)
		}
		for _, t := range queryTerms {
			if _, seen := unique[t]; seen {
				continue
			}
			unique[t] = struct{}{}

			tf := float64(e.terms[t])
			if tf == 0 {
				continue
			}
			norm := tf * (x.k1 + 1) / (tf + x.k1*(1-x.b+x.b*float64(e.length)/avgLen))
			score += x.idf(t, n) * norm
		}
		if score > 0 {
			results = append(results, scored{index: i, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	out := make([]fusion.Document, len(results))
	for i, r := range results {
		doc := x.entries[r.index].doc
		doc.Score = r.score
		out[i] = doc
	}
	return out
}

// idf uses the BM25+ smoothed form so common terms never go negative
func (x *Index) idf(term string, n int) float64 {
	df := float64(x.docFreq[term])
	return math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
}

func (x *Index) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(language.Fold(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		if _, stop := x.stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "how", "i", "in", "is", "it",
		"my", "of", "on", "or", "the", "to", "what", "when", "which", "with",
		"au", "aux", "de", "des", "du", "en", "est", "et", "la", "le", "les", "pour", "quel", "quelle", "un", "une",
		"con", "el", "es", "las", "los", "para", "por", "que", "una", "y",
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
