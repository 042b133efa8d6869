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

// Package app wires the configured backends into a ready assistant. Both the
// HTTP server and the CLI build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/assistant"
	"github.com/your-org/broiler-assistant/internal/chroma"
	"github.com/your-org/broiler-assistant/internal/clarification"
	"github.com/your-org/broiler-assistant/internal/classifier"
	"github.com/your-org/broiler-assistant/internal/comparison"
	"github.com/your-org/broiler-assistant/internal/config"
	"github.com/your-org/broiler-assistant/internal/conversation"
	"github.com/your-org/broiler-assistant/internal/entities"
	"github.com/your-org/broiler-assistant/internal/fusion"
	"github.com/your-org/broiler-assistant/internal/health"
	"github.com/your-org/broiler-assistant/internal/keyword"
	"github.com/your-org/broiler-assistant/internal/language"
	"github.com/your-org/broiler-assistant/internal/openai"
	"github.com/your-org/broiler-assistant/internal/performance"
	"github.com/your-org/broiler-assistant/internal/resilience"
	"github.com/your-org/broiler-assistant/internal/retrieval"
	"github.com/your-org/broiler-assistant/internal/router"
	"github.com/your-org/broiler-assistant/internal/session"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// App holds every long-lived component
type App struct {
	Config       *config.Config
	Store        *performance.Store
	Chroma       *chroma.Client
	OpenAI       *openai.Client
	Keywords     *keyword.Index
	Extractor    *entities.Extractor
	Sessions     *session.Manager
	Conversation *conversation.Manager
	Router       *router.Router
	Dispatcher   *retrieval.Dispatcher
	Comparison   *comparison.Engine
	Assistant    *assistant.Assistant
	Health       *health.Manager
	Breakers     []*resilience.CircuitBreaker

	logger *zap.Logger
}

// New builds the application from configuration. A missing OpenAI key
// leaves the assistant running on keyword ranking without translation or
// generated answers.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	extractor, err := NewExtractor(cfg.Registry.Path, logger)
	if err != nil {
		return nil, err
	}

	store, err := performance.NewStore(cfg.Performance.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open performance store: %w", err)
	}

	sessions, err := session.NewManager(SessionConfig(cfg), logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	a := &App{
		Config:    cfg,
		Store:     store,
		Extractor: extractor,
		Sessions:  sessions,
		Keywords:  keyword.NewIndex(),
		logger:    logger,
	}

	if cfg.OpenAI.APIKey != "" {
		a.OpenAI, err = openai.NewClient(OpenAIConfig(cfg), logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
	} else {
		logger.Warn("OpenAI API key not set, running without embeddings, translation or generation")
	}

	chromaOpts := chroma.DefaultOptions()
	chromaOpts.Timeout = cfg.Chroma.Timeout
	a.Chroma = chroma.NewClient(cfg.Chroma.URL, cfg.Chroma.CollectionName, logger, chromaOpts)

	if err := a.LoadKeywordIndex(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Conversation = conversation.NewManager(sessions, extractor, clarification.NewDetector(), logger)

	var translator language.Translator
	if a.OpenAI != nil && cfg.Translation.Enabled {
		translator = a.OpenAI
	}
	a.Router = router.New(a.Conversation, extractor, classifier.NewQueryClassifier(),
		language.NewNormalizer(translator, logger), RouterConfig(cfg), logger)

	a.Dispatcher = a.newDispatcher()
	a.Comparison = comparison.NewEngine(store, extractor, logger)

	var generator assistant.Generator
	if a.OpenAI != nil {
		generator = a.OpenAI
	}
	a.Assistant = assistant.New(a.Router, a.Dispatcher, a.Comparison, a.Conversation, generator,
		assistant.Config{TopK: cfg.Retrieval.TopK}, logger)

	a.Health = a.newHealth()

	logger.Info("Assistant initialized",
		zap.Int("keyword_documents", a.Keywords.Len()),
		zap.Int("breeds", len(extractor.Registry().Breeds())),
		zap.String("session_storage", cfg.Session.Storage),
		zap.Bool("generation", generator != nil))

	return a, nil
}

func (a *App) newDispatcher() *retrieval.Dispatcher {
	cfg := a.Config.Retrieval

	structuredBreaker := a.newBreaker("structured")
	semanticBreaker := a.newBreaker("semantic")

	var embedder retrieval.Embedder
	var vectors retrieval.VectorSearcher
	if a.OpenAI != nil {
		embedder = a.OpenAI
		vectors = a.Chroma
	}

	structured := retrieval.NewGuard(
		retrieval.NewStructuredStrategy(a.Store, a.logger),
		structuredBreaker, cfg.StructuredTimeout, a.logger)
	semantic := retrieval.NewGuard(
		retrieval.NewSemanticStrategy(embedder, vectors, a.Keywords,
			fusion.NewQueryAwareFuser(cfg.Alpha, cfg.RRFK), cfg.Alpha, a.logger),
		semanticBreaker, cfg.SemanticTimeout, a.logger)

	return retrieval.NewDispatcher(structured, semantic, cfg.MinConfidence, a.logger)
}

func (a *App) newBreaker(name string) *resilience.CircuitBreaker {
	bc := resilience.DefaultCircuitBreakerConfig(name)
	if a.Config.Retrieval.BreakerMaxFailures > 0 {
		bc.MaxFailures = a.Config.Retrieval.BreakerMaxFailures
	}
	if a.Config.Retrieval.BreakerResetTimeout > 0 {
		bc.ResetTimeout = a.Config.Retrieval.BreakerResetTimeout
	}
	breaker := resilience.NewCircuitBreaker(bc, a.logger)
	a.Breakers = append(a.Breakers, breaker)
	return breaker
}

func (a *App) newHealth() *health.Manager {
	h := health.NewManager("broiler-assistant", Version, a.logger)
	h.AddChecker("sqlite", health.PingChecker("sqlite", true, a.Store.Ping))
	h.AddChecker("chroma", health.PingChecker("chroma", false, a.Chroma.Heartbeat))
	if a.Config.Session.Storage == string(session.RedisStorageType) {
		h.AddChecker("redis", health.PingChecker("redis", false, a.Sessions.Ping))
	}
	for _, breaker := range a.Breakers {
		h.AddBreaker(breaker)
	}
	return h
}

// LoadKeywordIndex rebuilds the keyword index from the documents table
func (a *App) LoadKeywordIndex(ctx context.Context) error {
	docs, err := a.Store.Documents(ctx)
	if err != nil {
		return fmt.Errorf("failed to load documents for keyword index: %w", err)
	}
	converted := make([]fusion.Document, len(docs))
	for i, doc := range docs {
		converted[i] = KeywordDocument(doc)
	}
	if skipped := a.Keywords.Replace(converted); len(skipped) > 0 {
		a.logger.Warn("Skipping documents without indexable terms",
			zap.Strings("doc_ids", skipped))
	}
	return nil
}

// RefreshKeywordIndex reloads the keyword index every configured interval
// until ctx is done, so documents written by assistantctl index become
// searchable without a restart. A zero interval disables it.
func (a *App) RefreshKeywordIndex(ctx context.Context) {
	interval := a.Config.Retrieval.KeywordRefreshInterval
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				before := a.Keywords.Len()
				if err := a.LoadKeywordIndex(ctx); err != nil {
					if ctx.Err() == nil {
						a.logger.Warn("Keeping previous keyword index", zap.Error(err))
					}
					continue
				}
				if after := a.Keywords.Len(); after != before {
					a.logger.Info("Keyword index refreshed",
						zap.Int("previous_documents", before),
						zap.Int("documents", after))
				}
			}
		}
	}()
}

// WatchRegistry reloads the breed registry whenever its file changes.
// Without a configured registry path it does nothing.
func (a *App) WatchRegistry(ctx context.Context) error {
	path := a.Config.Registry.Path
	if path == "" || !a.Config.Registry.Watch {
		return nil
	}
	return config.WatchFile(ctx, path, a.logger, func() {
		if err := ReloadRegistry(a.Extractor, path); err != nil {
			a.logger.Warn("Keeping previous breed registry", zap.Error(err))
			return
		}
		a.logger.Info("Breed registry reloaded",
			zap.String("path", path),
			zap.Int("breeds", len(a.Extractor.Registry().Breeds())))
	})
}

// Close releases the store and the session backend
func (a *App) Close() {
	if a.Sessions != nil {
		if err := a.Sessions.Close(); err != nil {
			a.logger.Warn("Failed to close session manager", zap.Error(err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.logger.Warn("Failed to close performance store", zap.Error(err))
		}
	}
}

// NewExtractor uses the registry file when one is configured
func NewExtractor(path string, logger *zap.Logger) (*entities.Extractor, error) {
	if path == "" {
		return entities.NewDefaultExtractor(logger), nil
	}
	compiled, err := compileRegistry(path)
	if err != nil {
		return nil, err
	}
	return entities.NewExtractor(compiled, logger), nil
}

// ReloadRegistry swaps in a freshly compiled registry. On error the
// extractor keeps its current one.
func ReloadRegistry(extractor *entities.Extractor, path string) error {
	compiled, err := compileRegistry(path)
	if err != nil {
		return err
	}
	extractor.SetRegistry(compiled)
	return nil
}

func compileRegistry(path string) (*entities.CompiledRegistry, error) {
	registry, err := entities.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load breed registry: %w", err)
	}
	compiled, err := registry.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile breed registry: %w", err)
	}
	return compiled, nil
}

// KeywordDocument converts a stored document for the keyword index
func KeywordDocument(doc performance.Document) fusion.Document {
	metadata := map[string]interface{}{"title": doc.Title}
	if doc.Breed != "" {
		metadata["breed"] = doc.Breed
	}
	if doc.Species != "" {
		metadata["species"] = doc.Species
	}
	if doc.Topic != "" {
		metadata["topic"] = doc.Topic
	}
	return fusion.Document{ID: doc.ID, Content: doc.Content, Metadata: metadata}
}

// SessionConfig maps the session section
func SessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		StorageType:     session.StorageType(cfg.Session.Storage),
		RedisURL:        cfg.Session.RedisURL,
		KeyPrefix:       cfg.Session.KeyPrefix,
		PendingTTL:      cfg.Session.PendingTTL,
		LastContextTTL:  cfg.Session.LastContextTTL,
		MaxEntries:      cfg.Session.MaxEntries,
		CleanupInterval: cfg.Session.CleanupInterval,
		LockStripes:     cfg.Session.LockStripes,
	}
}

// RouterConfig maps the clarification and routing sections
func RouterConfig(cfg *config.Config) router.Config {
	return router.Config{
		MaxAttempts:         cfg.Clarification.MaxAttempts,
		LayerAgeHintDays:    cfg.Routing.LayerAgeHintDays,
		ConfidenceThreshold: cfg.Routing.ConfidenceThreshold,
		MaxAgeDistance:      cfg.Routing.MaxAgeDistance,
	}
}

// OpenAIConfig maps the openai section
func OpenAIConfig(cfg *config.Config) openai.Config {
	return openai.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.Endpoint,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		ChatModel:      cfg.OpenAI.ChatModel,
		Dimensions:     cfg.OpenAI.Dimensions,
		Timeout:        cfg.OpenAI.Timeout,
		MaxTokens:      cfg.OpenAI.MaxTokens,
		Temperature:    float32(cfg.OpenAI.Temperature),
		Backoff:        resilience.DefaultBackoffConfig(),
	}
}
