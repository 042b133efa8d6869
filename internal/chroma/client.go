package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/resilience"
)

// Client wraps the ChromaDB REST API
type Client struct {
	baseURL      string
	collection   string
	collectionID string
	mu           sync.RWMutex
	httpClient   *http.Client
	backoff      resilience.BackoffConfig
	logger       *zap.Logger
}

// Options tunes the HTTP client
type Options struct {
	Timeout time.Duration
	Backoff resilience.BackoffConfig
}

// DefaultOptions returns a 10s request timeout and the default backoff
func DefaultOptions() Options {
	return Options{
		Timeout: 10 * time.Second,
		Backoff: resilience.DefaultBackoffConfig(),
	}
}

// NewClient creates a new ChromaDB client
func NewClient(baseURL, collection string, logger *zap.Logger, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &Client{
		baseURL:    baseURL,
		collection: collection,
		httpClient: &http.Client{Timeout: opts.Timeout},
		backoff:    opts.Backoff,
		logger:     logger,
	}
}

// Document represents a document in ChromaDB
type Document struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

// SearchResult represents a search result from ChromaDB
type SearchResult struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
	Distance float64                `json:"distance"`
}

// SearchRequest represents a search request
type SearchRequest struct {
	QueryEmbeddings [][]float32            `json:"query_embeddings"`
	NResults        int                    `json:"n_results"`
	Where           map[string]interface{} `json:"where,omitempty"`
	Include         []string               `json:"include,omitempty"`
}

// SearchResponse represents the response from a search
type SearchResponse struct {
	IDs       [][]string                 `json:"ids"`
	Documents [][]string                 `json:"documents"`
	Metadatas [][]map[string]interface{} `json:"metadatas"`
	Distances [][]float64                `json:"distances"`
}

// Collection represents a ChromaDB collection
type Collection struct {
	Name     string                 `json:"name"`
	ID       string                 `json:"id"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ChromaError represents an error response from ChromaDB
type ChromaError struct {
	StatusCode int    `json:"-"`
	Detail     string `json:"detail"`
	Type       string `json:"type"`
}

func (e ChromaError) Error() string {
	return fmt.Sprintf("ChromaDB error [%s] status %d: %s", e.Type, e.StatusCode, e.Detail)
}

func (c *Client) collectionRef() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.collectionID != "" {
		return c.collectionID
	}
	return c.collection
}

// do sends one JSON request with backoff. Transport failures and 5xx are
// retried and reported as ErrBackendUnavailable; 4xx are final.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return resilience.WithExponentialBackoff(ctx, c.logger, c.backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return resilience.NewBadRequestError("failed to create request", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", resilience.ErrBackendUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			chromaErr := ChromaError{StatusCode: resp.StatusCode, Detail: string(data)}
			_ = json.Unmarshal(data, &chromaErr)
			if resp.StatusCode >= 500 {
				return resilience.NewDependencyFailureError("semantic store failed",
					fmt.Errorf("%w: %v", resilience.ErrBackendUnavailable, chromaErr))
			}
			return resilience.NewServiceError("semantic store rejected the request",
				resilience.ErrorCodeBadRequest, resp.StatusCode, chromaErr)
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

// EnsureCollection creates the collection when missing and remembers its id
func (c *Client) EnsureCollection(ctx context.Context) (*Collection, error) {
	var collection Collection
	payload := map[string]interface{}{"name": c.collection, "get_or_create": true}
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections", payload, &collection); err != nil {
		return nil, fmt.Errorf("failed to ensure collection %s: %w", c.collection, err)
	}

	c.mu.Lock()
	c.collectionID = collection.ID
	c.mu.Unlock()

	c.logger.Info("Collection ready",
		zap.String("collection", collection.Name),
		zap.String("collection_id", collection.ID))
	return &collection, nil
}

// AddDocuments adds documents with embeddings to ChromaDB
func (c *Client) AddDocuments(ctx context.Context, documents []Document, embeddings [][]float32) error {
	if len(documents) != len(embeddings) {
		return fmt.Errorf("got %d documents and %d embeddings", len(documents), len(embeddings))
	}
	if len(documents) == 0 {
		return nil
	}

	ids := make([]string, len(documents))
	texts := make([]string, len(documents))
	metadatas := make([]map[string]interface{}, len(documents))
	for i, doc := range documents {
		ids[i] = doc.ID
		texts[i] = doc.Content
		metadatas[i] = doc.Metadata
		if metadatas[i] == nil {
			metadatas[i] = map[string]interface{}{}
		}
	}

	payload := map[string]interface{}{
		"ids":        ids,
		"documents":  texts,
		"metadatas":  metadatas,
		"embeddings": embeddings,
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+c.collectionRef()+"/add", payload, nil); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	c.logger.Info("Added documents to ChromaDB",
		zap.String("collection", c.collection),
		zap.Int("document_count", len(documents)))
	return nil
}

// Search performs a vector search. where is an optional ChromaDB metadata filter.
func (c *Client) Search(ctx context.Context, queryEmbedding []float32, nResults int, where map[string]interface{}) ([]SearchResult, error) {
	searchReq := SearchRequest{
		QueryEmbeddings: [][]float32{queryEmbedding},
		NResults:        nResults,
		Where:           where,
		Include:         []string{"documents", "metadatas", "distances"},
	}

	var searchResp SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+c.collectionRef()+"/query", searchReq, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to search collection: %w", err)
	}

	if len(searchResp.IDs) == 0 {
		return nil, nil
	}

	results := make([]SearchResult, 0, len(searchResp.IDs[0]))
	for i, id := range searchResp.IDs[0] {
		result := SearchResult{ID: id}
		if len(searchResp.Documents) > 0 && len(searchResp.Documents[0]) > i {
			result.Content = searchResp.Documents[0][i]
		}
		if len(searchResp.Distances) > 0 && len(searchResp.Distances[0]) > i {
			result.Distance = searchResp.Distances[0][i]
		}
		if len(searchResp.Metadatas) > 0 && len(searchResp.Metadatas[0]) > i {
			result.Metadata = searchResp.Metadatas[0][i]
		}
		results = append(results, result)
	}

	c.logger.Debug("Vector search completed",
		zap.String("collection", c.collection),
		zap.Int("results", len(results)))
	return results, nil
}

// Heartbeat checks if ChromaDB is reachable
func (c *Client) Heartbeat(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/api/v1/heartbeat", nil, nil); err != nil {
		return fmt.Errorf("failed to check ChromaDB health: %w", err)
	}
	return nil
}
