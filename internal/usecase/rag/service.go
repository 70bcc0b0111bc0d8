// Package rag orchestrates the full question-answering pipeline: history
// lookup, query preparation, retrieval, reranking, context assembly and
// answer generation.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
	"github.com/coverquery/coverquery/internal/metrics"
	"github.com/coverquery/coverquery/internal/usecase/intent"
	"github.com/coverquery/coverquery/internal/usecase/normalize"
	"github.com/coverquery/coverquery/internal/usecase/retrieve"
)

// sessions is the consumer interface over conversation history (ISP).
type sessions interface {
	Recent(ctx context.Context, sessionID string, n int) ([]domain.Turn, error)
	Append(ctx context.Context, sessionID string, turns ...domain.Turn) error
}

// rewriter resolves pronouns in short follow-ups.
type rewriter interface {
	ShouldRewrite(history []domain.Turn, query string) bool
	Rewrite(ctx context.Context, history []domain.Turn, query string) (string, bool)
}

// retriever gathers candidate chunks.
type retriever interface {
	Retrieve(ctx context.Context, in retrieve.Input) ([]domain.Candidate, error)
}

// reranker orders candidates by relevance.
type reranker interface {
	Rank(ctx context.Context, query string, candidates []domain.Candidate,
		summaries domain.SummaryMap, topK int) ([]domain.ScoredChunk, bool)
}

// generator produces the final answer.
type generator interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// tables exposes the current corpus state.
type tables interface {
	Tables() (domain.SummaryMap, domain.SynonymTable)
}

// Config holds pipeline tuning for the service.
type Config struct {
	HistoryTurns int
	RerankLimit  int
	SystemPrompt string
	// Provider labels generation metrics ("local", "gemini").
	Provider string
}

// Service answers insurance product questions over the indexed corpus.
type Service struct {
	sessions  sessions
	rewriter  rewriter
	retriever retriever
	reranker  reranker
	generator generator
	state     tables
	cfg       Config
	logger    *zap.Logger
}

// New creates the pipeline service.
func New(
	s sessions, rw rewriter, rt retriever, rr reranker, gen generator,
	state tables, cfg Config, log *zap.Logger,
) *Service {
	return &Service{
		sessions:  s,
		rewriter:  rw,
		retriever: rt,
		reranker:  rr,
		generator: gen,
		state:     state,
		cfg:       cfg,
		logger:    log,
	}
}

// ErrEmptyQuery rejects blank input before the pipeline starts.
var ErrEmptyQuery = fmt.Errorf("query is empty: %w", domain.ErrInvalidDocument)

// Answer runs the pipeline for one user query and records the exchange in
// the session history. An empty pipeline outcome is an answer, not an
// error: the reply tells the user why nothing came back.
func (s *Service) Answer(ctx context.Context, sessionID, query string) (domain.RagResponse, error) {
	log := s.logger
	raw := strings.TrimSpace(query)
	if raw == "" {
		return domain.RagResponse{}, ErrEmptyQuery
	}

	summaries, synonyms := s.state.Tables()

	history, err := s.sessions.Recent(ctx, sessionID, s.cfg.HistoryTurns)
	if err != nil {
		// Losing history degrades follow-ups, not first questions. Answer anyway.
		log.Warn("history read failed, answering without it", zap.Error(err))
		history = nil
	}

	normalized := normalize.Query(raw)
	expanded := normalize.ExpandSynonyms(normalized, raw, synonyms)

	searchTarget := expanded
	if s.rewriter.ShouldRewrite(history, raw) {
		if rewritten, ok := s.rewriter.Rewrite(ctx, history, raw); ok {
			searchTarget = rewritten
		}
	}

	// Whenever expansion or rewriting changed the query, the untouched raw
	// query is kept as the retry target for an empty first search.
	fallbackTarget := ""
	if searchTarget != raw {
		fallbackTarget = raw
	}

	forced := intent.ResolveForcedSources(intent.ExtractKeywords(raw), summaries)

	candidates, err := s.retriever.Retrieve(ctx, retrieve.Input{
		SearchTarget:   searchTarget,
		FallbackTarget: fallbackTarget,
		ForcedSources:  forced,
	})
	if err != nil {
		return domain.RagResponse{}, fmt.Errorf("retrieve candidates: %w", err)
	}
	if len(candidates) == 0 {
		return s.reply(ctx, sessionID, raw, domain.RagResponse{
			Answer:  msgNoCandidates,
			Sources: []string{},
		}), nil
	}

	filtered, wasFiltered := intent.FilterByCategory(raw, candidates)
	if wasFiltered {
		log.Debug("category filter applied",
			zap.Int("before", len(candidates)), zap.Int("after", len(filtered)))
	}

	ranked, degraded := s.reranker.Rank(ctx, searchTarget, filtered, summaries, s.cfg.RerankLimit)
	if degraded {
		log.Warn("answering from retrieval order, rerank unavailable")
	}
	if len(ranked) == 0 {
		return s.reply(ctx, sessionID, raw, domain.RagResponse{
			Answer:  msgFilteredOut,
			Sources: []string{},
		}), nil
	}

	answer, err := s.generate(ctx, ranked, summaries, searchTarget)
	if err != nil {
		return domain.RagResponse{}, err
	}

	return s.reply(ctx, sessionID, raw, domain.RagResponse{
		Answer:  answer,
		Sources: hitSources(ranked),
	}), nil
}

func (s *Service) generate(
	ctx context.Context, ranked []domain.ScoredChunk,
	summaries domain.SummaryMap, searchTarget string,
) (string, error) {
	userPrompt := buildUserPrompt(buildContext(ranked, summaries), searchTarget)

	start := time.Now()
	answer, err := s.generator.Complete(ctx, s.cfg.SystemPrompt, userPrompt)
	duration := time.Since(start).Seconds()

	if err != nil {
		metrics.GenerationRequestDuration.WithLabelValues(s.cfg.Provider, "error").Observe(duration)
		return "", fmt.Errorf("generate answer: %w", err)
	}
	metrics.GenerationRequestDuration.WithLabelValues(s.cfg.Provider, "success").Observe(duration)
	return strings.TrimSpace(answer), nil
}

// reply records the exchange and returns the response. History write
// failures are logged, never surfaced: the user already has their answer.
func (s *Service) reply(ctx context.Context, sessionID, query string, resp domain.RagResponse) domain.RagResponse {
	err := s.sessions.Append(ctx, sessionID,
		domain.Turn{Role: "user", Content: query},
		domain.Turn{Role: "assistant", Content: resp.Answer},
	)
	if err != nil {
		s.logger.Warn("history write failed", zap.Error(err))
	}
	return resp
}
