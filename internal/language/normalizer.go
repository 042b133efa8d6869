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
	"strings"

	"go.uber.org/zap"
)

// Translator translates text into a target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Normalized is a query prepared for routing.
type Normalized struct {
	Original         string `json:"original"`
	Text             string `json:"text"`
	Language         string `json:"language"`
	OriginalLanguage string `json:"original_language"`
	Translated       bool   `json:"translated"`
}

// Normalizer detects the language of a query and translates it to English
// when a translator is configured.
type Normalizer struct {
	translator Translator
	logger     *zap.Logger
}

// NewNormalizer creates a Normalizer. A nil translator disables translation.
func NewNormalizer(translator Translator, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{translator: translator, logger: logger}
}

// Normalize returns the English routing text for query. The requested
// language wins over detection when it is supported. Translation failures
// keep the original text.
func (n *Normalizer) Normalize(ctx context.Context, query, requested string) Normalized {
	detected := Detect(query)
	lang := detected
	if IsSupported(requested) {
		lang = strings.ToLower(strings.TrimSpace(requested))
	}

	result := Normalized{
		Original:         query,
		Text:             query,
		Language:         lang,
		OriginalLanguage: detected,
	}
	if detected == English || n.translator == nil {
		return result
	}

	translated, err := n.translator.Translate(ctx, query, English)
	if err != nil {
		n.logger.Warn("Translation failed, routing original text",
			zap.String("language", detected),
			zap.Error(err))
		return result
	}
	if strings.TrimSpace(translated) == "" {
		return result
	}

	result.Text = translated
	result.Translated = true
	return result
}
