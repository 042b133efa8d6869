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

// Package openai wraps go-openai for query embeddings, translation and
// grounded answer generation.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/fusion"
	"github.com/your-org/broiler-assistant/internal/language"
	"github.com/your-org/broiler-assistant/internal/resilience"
)

const (
	// DefaultEmbeddingModel is used for queries and indexed documents
	DefaultEmbeddingModel = string(openai.SmallEmbedding3)
	// DefaultChatModel is used for translation and generation
	DefaultChatModel = "gpt-4o-mini"
	// ExpectedEmbeddingDimensions is the size of SmallEmbedding3 vectors
	ExpectedEmbeddingDimensions = 1536
	// maxContextDocuments bounds the prompt
	maxContextDocuments = 8
)

// Config configures the client
type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	// Dimensions is checked on every embedding when positive
	Dimensions  int
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
	Backoff     resilience.BackoffConfig
}

// Client wraps the go-openai client
type Client struct {
	client *openai.Client
	config Config
	logger *zap.Logger
}

// NewClient creates a new OpenAI client
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = DefaultEmbeddingModel
	}
	if config.ChatModel == "" {
		config.ChatModel = DefaultChatModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 800
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	logger.Info("OpenAI client initialized",
		zap.String("embedding_model", config.EmbeddingModel),
		zap.String("chat_model", config.ChatModel))

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}, nil
}

// EmbedTexts generates one embedding per text, in input order
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var embeddings [][]float32
	err := resilience.WithExponentialBackoff(ctx, c.logger, c.config.Backoff, func(ctx context.Context) error {
		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(c.config.EmbeddingModel),
		})
		if err != nil {
			return handleAPIError(ctx, err)
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
		}

		out := make([][]float32, len(texts))
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(out) {
				return fmt.Errorf("embedding index %d out of range", item.Index)
			}
			out[item.Index] = item.Embedding
		}
		embeddings = out

		c.logger.Debug("Embedding request completed",
			zap.Int("embeddings_count", len(out)),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	if c.config.Dimensions > 0 {
		for i, e := range embeddings {
			if len(e) != c.config.Dimensions {
				return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(e), c.config.Dimensions)
			}
		}
	}
	return embeddings, nil
}

// EmbedQuery generates an embedding for a single query text
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}

	embeddings, err := c.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return embeddings[0], nil
}

// Translate renders text in the target language
func (c *Client) Translate(ctx context.Context, text, targetLang string) (string, error) {
	system := fmt.Sprintf("Translate the user's message into %s. Keep breed names, numbers and units unchanged. "+
		"Reply with the translation only.", languageName(targetLang))

	out, err := c.complete(ctx, system, text, 0, 300)
	if err != nil {
		return "", fmt.Errorf("failed to translate: %w", err)
	}
	return out, nil
}

// Generate answers query from the fused documents, in lang
func (c *Client) Generate(ctx context.Context, query string, docs []fusion.FusedDocument, lang string) (string, error) {
	out, err := c.complete(ctx, BuildSystemPrompt(lang), BuildUserPrompt(query, docs), c.config.Temperature, c.config.MaxTokens)
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error) {
	var content string
	err := resilience.WithExponentialBackoff(ctx, c.logger, c.config.Backoff, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.config.ChatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return handleAPIError(ctx, err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no choices returned")
		}
		content = strings.TrimSpace(resp.Choices[0].Message.Content)

		c.logger.Debug("Chat completion completed",
			zap.String("model", resp.Model),
			zap.Int("total_tokens", resp.Usage.TotalTokens))
		return nil
	})
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", fmt.Errorf("empty completion")
	}
	return content, nil
}

// handleAPIError classifies go-openai errors for the retry policy. Rate
// limits and 5xx are retryable backend failures; other statuses are final.
func handleAPIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := 0
	message := err.Error()
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, message = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == 0:
		return fmt.Errorf("%w: %v", resilience.ErrBackendUnavailable, err)
	case status == http.StatusTooManyRequests:
		return resilience.NewServiceError("OpenAI rate limit", resilience.ErrorCodeTooManyRequests, status, err)
	case status >= 500:
		return resilience.NewDependencyFailureError("OpenAI unavailable",
			fmt.Errorf("%w: %s", resilience.ErrBackendUnavailable, message))
	default:
		return resilience.NewServiceError(fmt.Sprintf("OpenAI API error (status %d): %s", status, message),
			resilience.ErrorCodeBadRequest, status, err)
	}
}

func languageName(tag string) string {
	switch language.Canonical(tag) {
	case language.French:
		return "French"
	case language.Spanish:
		return "Spanish"
	}
	return "English"
}

// BuildSystemPrompt returns the generation instructions for lang
func BuildSystemPrompt(lang string) string {
	return "You are a poultry production assistant for broiler, layer and breeder flocks. " +
		"Answer only from the numbered context. Quote target values with their unit, breed, sex and age. " +
		"When the context does not contain the answer, say so. " +
		"Answer in " + languageName(lang) + "."
}

// BuildUserPrompt lists the question and the numbered context documents
func BuildUserPrompt(query string, docs []fusion.FusedDocument) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nContext:\n")

	if len(docs) > maxContextDocuments {
		docs = docs[:maxContextDocuments]
	}
	for i, doc := range docs {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(doc.Content))
	}
	if len(docs) == 0 {
		b.WriteString("(none)\n")
	}
	return b.String()
}
