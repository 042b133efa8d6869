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

// Package chunker splits knowledge articles into passages for the semantic
// and keyword indexes. Articles are markdown with optional YAML front matter
// carrying the breed, species and topic the article is about.
package chunker

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultChunkSize is the passage size in bytes used by the index command
const DefaultChunkSize = 800

const frontMatterFence = "---"

// Meta is the article front matter
type Meta struct {
	Title   string `yaml:"title"`
	Breed   string `yaml:"breed"`
	Species string `yaml:"species"`
	Topic   string `yaml:"topic"`
}

// Section is a run of text under one heading
type Section struct {
	Heading string
	Text    string
}

// Passage is one indexable chunk of an article
type Passage struct {
	ID      string
	Title   string
	Section string
	Content string
	Meta    Meta
}

// ParseFrontMatter separates a leading YAML block fenced by --- lines from
// the markdown body. Content without front matter is returned unchanged.
func ParseFrontMatter(content string) (Meta, string, error) {
	var meta Meta

	trimmed := strings.TrimLeft(content, "\ufeff \t\r\n")
	if !strings.HasPrefix(trimmed, frontMatterFence+"\n") && !strings.HasPrefix(trimmed, frontMatterFence+"\r\n") {
		return meta, content, nil
	}

	rest := trimmed[strings.Index(trimmed, "\n")+1:]
	end := strings.Index("\n"+rest, "\n"+frontMatterFence)
	if end < 0 {
		return meta, content, fmt.Errorf("unterminated front matter")
	}

	if end > 0 {
		if err := yaml.Unmarshal([]byte(rest[:end-1]), &meta); err != nil {
			return meta, content, fmt.Errorf("failed to parse front matter: %w", err)
		}
	}

	body := rest[end+len(frontMatterFence):]
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return meta, body, nil
}

// Sections splits a markdown body at its headings. Text before the first
// heading forms a section with an empty heading.
func Sections(body string) []Section {
	var sections []Section
	current := Section{}
	var text strings.Builder

	flush := func() {
		current.Text = strings.TrimSpace(text.String())
		if current.Text != "" {
			sections = append(sections, current)
		}
		text.Reset()
	}

	for _, line := range strings.Split(body, "\n") {
		if heading, ok := parseHeading(line); ok {
			flush()
			current = Section{Heading: heading}
			continue
		}
		text.WriteString(line)
		text.WriteByte('\n')
	}
	flush()

	return sections
}

func parseHeading(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level == len(trimmed) || trimmed[level] != ' ' {
		return "", false
	}
	return strings.TrimSpace(trimmed[level:]), true
}

// Splitter packs whole sentences into chunks of at most chunkSize bytes.
// A sentence longer than chunkSize is split between words, and a single
// word longer than chunkSize becomes its own chunk.
func Splitter(text string, chunkSize int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{}
	}

	joined := strings.Join(words, " ")
	if chunkSize <= 0 || len(joined) <= chunkSize {
		return []string{joined}
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, sentence := range sentences(words) {
		if len(sentence) > chunkSize {
			flush()
			chunks = append(chunks, packWords(strings.Fields(sentence), chunkSize)...)
			continue
		}
		if current.Len() > 0 && current.Len()+1+len(sentence) > chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	flush()

	return chunks
}

// sentences groups words into sentences ending in . ! or ?
func sentences(words []string) []string {
	var out []string
	start := 0
	for i, w := range words {
		if strings.HasSuffix(w, ".") || strings.HasSuffix(w, "!") || strings.HasSuffix(w, "?") {
			out = append(out, strings.Join(words[start:i+1], " "))
			start = i + 1
		}
	}
	if start < len(words) {
		out = append(out, strings.Join(words[start:], " "))
	}
	return out
}

func packWords(words []string, chunkSize int) []string {
	var chunks []string
	var current strings.Builder
	for _, w := range words {
		if current.Len() > 0 && current.Len()+1+len(w) > chunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(w)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// Passages parses an article and splits every section into passages with
// stable ids docID-000, docID-001, ... so re-indexing replaces them.
func Passages(docID, content string, chunkSize int) ([]Passage, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, fmt.Errorf("document id is required")
	}

	meta, body, err := ParseFrontMatter(content)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", docID, err)
	}

	sections := Sections(body)
	title := meta.Title
	if title == "" {
		title = docID
		if len(sections) > 0 && sections[0].Heading != "" {
			title = sections[0].Heading
		}
	}

	var passages []Passage
	for _, section := range sections {
		for _, chunk := range Splitter(section.Text, chunkSize) {
			passages = append(passages, Passage{
				ID:      fmt.Sprintf("%s-%03d", docID, len(passages)),
				Title:   title,
				Section: section.Heading,
				Content: chunk,
				Meta:    meta,
			})
		}
	}
	return passages, nil
}

// Metadata is the passage metadata stored alongside its embedding
func (p Passage) Metadata() map[string]interface{} {
	metadata := map[string]interface{}{
		"title": p.Title,
	}
	if p.Section != "" {
		metadata["section"] = p.Section
	}
	if p.Meta.Breed != "" {
		metadata["breed"] = p.Meta.Breed
	}
	if p.Meta.Species != "" {
		metadata["species"] = p.Meta.Species
	}
	if p.Meta.Topic != "" {
		metadata["topic"] = p.Meta.Topic
	}
	return metadata
}
