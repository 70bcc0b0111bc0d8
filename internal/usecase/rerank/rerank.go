// Package rerank orders candidates by cross-encoder relevance with a score
// floor and per-document diversity cap, degrading to retrieval order when
// the scoring service is down.
package rerank

import (
	"context"

	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
	"github.com/coverquery/coverquery/internal/metrics"
	"github.com/coverquery/coverquery/internal/transport/rerank"
)

// scorer is the consumer interface over the rerank service (ISP).
type scorer interface {
	Rerank(ctx context.Context, query string, documents []string) (*rerank.Response, error)
}

// Reranker applies cross-encoder ordering to retrieval candidates.
type Reranker struct {
	scorer       scorer
	scoreFloor   float64
	maxPerSource int
	logger       *zap.Logger
}

// New creates a reranker. scoreFloor drops candidates the cross-encoder
// judges irrelevant; maxPerSource keeps one document from monopolizing the
// context.
func New(s scorer, scoreFloor float64, maxPerSource int, logger *zap.Logger) *Reranker {
	return &Reranker{
		scorer:       s,
		scoreFloor:   scoreFloor,
		maxPerSource: maxPerSource,
		logger:       logger,
	}
}

// Rank scores candidates against the query and returns up to topK, best
// first. The judge document prepends the product summary so the
// cross-encoder knows what kind of product each chunk describes. The second
// return reports degraded mode: scoring failed and the first topK candidates
// passed through in retrieval order.
func (r *Reranker) Rank(
	ctx context.Context, query string, candidates []domain.Candidate,
	summaries domain.SummaryMap, topK int,
) ([]domain.ScoredChunk, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		if summary, ok := summaries[c.Source]; ok {
			documents[i] = summary.Intro + "\n文件內容: " + c.Text
		} else {
			documents[i] = c.Text
		}
	}

	resp, err := r.scorer.Rerank(ctx, query, documents)
	if err != nil {
		metrics.PipelineFallbackTotal.WithLabelValues("rerank").Inc()
		r.logger.Warn("rerank unavailable, passing candidates in retrieval order", zap.Error(err))
		return r.passthrough(candidates, topK), true
	}

	results := make([]domain.ScoredChunk, 0, topK)
	perSource := make(map[string]int)

	for i, idx := range resp.Indices {
		if len(results) >= topK {
			break
		}
		if idx < 0 || idx >= len(candidates) {
			continue
		}

		score := resp.Scores[i]
		if score < r.scoreFloor {
			continue
		}

		c := candidates[idx]
		if perSource[c.Source] >= r.maxPerSource {
			continue
		}
		perSource[c.Source]++

		results = append(results, domain.ScoredChunk{
			Source: c.Source,
			Text:   c.Text,
			Score:  score,
		})
	}
	return results, false
}

// passthrough keeps retrieval order under the same diversity cap.
func (r *Reranker) passthrough(candidates []domain.Candidate, topK int) []domain.ScoredChunk {
	results := make([]domain.ScoredChunk, 0, topK)
	perSource := make(map[string]int)

	for _, c := range candidates {
		if len(results) >= topK {
			break
		}
		if perSource[c.Source] >= r.maxPerSource {
			continue
		}
		perSource[c.Source]++
		results = append(results, domain.ScoredChunk{Source: c.Source, Text: c.Text})
	}
	return results
}
