package domain

import (
	"context"
	"fmt"
	"sync"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single API call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// BatchFallback calls Embed once per text. Safety net for providers without
// native batch support.
func BatchFallback(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	embeddings := make([][]float32, len(texts))
	var totalPrompt, totalTokens int

	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		embeddings[i] = res.Embedding
		totalPrompt += res.PromptTokens
		totalTokens += res.TotalTokens
	}

	return BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: totalPrompt,
		TotalTokens:  totalTokens,
	}, nil
}

// LockedEmbedder serializes access to an embedder that is not safe for
// concurrent callers. Query handlers and the corpus synchronizer share one
// instance; callers queue on the mutex.
type LockedEmbedder struct {
	mu    sync.Mutex
	inner Embedder
}

// NewLockedEmbedder wraps inner with a mutual-exclusion guard.
func NewLockedEmbedder(inner Embedder) *LockedEmbedder {
	return &LockedEmbedder{inner: inner}
}

// Embed delegates to the inner embedder while holding the lock.
func (e *LockedEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.inner.Embed(ctx, text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("locked embed: %w", err)
	}
	return res, nil
}

// BatchEmbed delegates to the inner BatchEmbedder while holding the lock,
// falling back to per-text Embed when the inner embedder has no batch path.
func (e *LockedEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if be, ok := e.inner.(BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("locked batch embed: %w", err)
		}
		return res, nil
	}

	res, err := BatchFallback(ctx, e.inner, texts)
	if err != nil {
		return BatchEmbeddingResult{}, fmt.Errorf("locked batch embed fallback: %w", err)
	}
	return res, nil
}
