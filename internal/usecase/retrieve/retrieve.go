// Package retrieve gathers candidate chunks: pinned-file fetches merged with
// vector search hits, deduplicated, with a raw-query retry when a rewritten
// query comes back empty.
package retrieve

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
	"github.com/coverquery/coverquery/internal/metrics"
)

// repo is the consumer interface over chunk persistence (ISP).
type repo interface {
	FetchBySource(ctx context.Context, source string, limit int) ([]domain.Candidate, error)
	SearchKNN(ctx context.Context, vector []float32, k int, sources []string) ([]domain.ScoredChunk, error)
}

// Retriever merges forced fetches with KNN recall.
type Retriever struct {
	embedder    domain.Embedder
	repo        repo
	recallLimit int
	forcedLimit int
	logger      *zap.Logger
}

// New creates a retriever.
func New(embedder domain.Embedder, r repo, recallLimit, forcedLimit int, logger *zap.Logger) *Retriever {
	return &Retriever{
		embedder:    embedder,
		repo:        r,
		recallLimit: recallLimit,
		forcedLimit: forcedLimit,
		logger:      logger,
	}
}

// Input describes one retrieval round.
type Input struct {
	// SearchTarget is the expanded (and possibly rewritten) query to embed.
	SearchTarget string
	// FallbackTarget is embedded instead when the first search finds nothing
	// and differs from SearchTarget. Empty disables the retry.
	FallbackTarget string
	// ForcedSources are filenames pinned by explicit product mentions.
	ForcedSources []string
}

// Retrieve returns deduplicated candidates: forced chunks first, then vector
// hits. Forced chunks always outrank vector hits, so they survive dedup.
func (r *Retriever) Retrieve(ctx context.Context, in Input) ([]domain.Candidate, error) {
	var candidates []domain.Candidate
	seen := make(map[string]bool)

	add := func(source, text string) {
		if text == "" || seen[text] {
			return
		}
		seen[text] = true
		candidates = append(candidates, domain.Candidate{Source: source, Text: text})
	}

	for _, source := range in.ForcedSources {
		forced, err := r.repo.FetchBySource(ctx, source, r.forcedLimit)
		if err != nil {
			return nil, fmt.Errorf("fetch pinned source %s: %w", source, err)
		}
		for _, c := range forced {
			add(c.Source, c.Text)
		}
	}

	hits, err := r.searchVector(ctx, in.SearchTarget, in.ForcedSources)
	if err != nil {
		return nil, err
	}

	if len(hits) == 0 && in.FallbackTarget != "" && in.FallbackTarget != in.SearchTarget {
		metrics.PipelineFallbackTotal.WithLabelValues("retrieval_retry").Inc()
		r.logger.Info("vector search empty, retrying with raw query",
			zap.String("fallback", in.FallbackTarget))
		hits, err = r.searchVector(ctx, in.FallbackTarget, in.ForcedSources)
		if err != nil {
			return nil, err
		}
	}

	for _, hit := range hits {
		add(hit.Source, hit.Text)
	}
	return candidates, nil
}

// searchVector embeds target and runs KNN. A non-empty sources set restricts
// the search to those files, so explicit product mentions pin the whole round.
func (r *Retriever) searchVector(ctx context.Context, target string, sources []string) ([]domain.ScoredChunk, error) {
	res, err := r.embedder.Embed(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.repo.SearchKNN(ctx, res.Embedding, r.recallLimit, sources)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}
