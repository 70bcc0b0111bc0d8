package retrieve

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
)

type mockEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   []string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls = append(m.calls, text)
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	vec, ok := m.vectors[text]
	if !ok {
		vec = []float32{0.0}
	}
	return domain.EmbeddingResult{Embedding: vec}, nil
}

type mockRepo struct {
	fetchFn  func(ctx context.Context, source string, limit int) ([]domain.Candidate, error)
	searchFn func(ctx context.Context, vector []float32, k int, sources []string) ([]domain.ScoredChunk, error)
}

func (m *mockRepo) FetchBySource(ctx context.Context, source string, limit int) ([]domain.Candidate, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, source, limit)
	}
	return nil, nil
}

func (m *mockRepo) SearchKNN(ctx context.Context, vector []float32, k int, sources []string) ([]domain.ScoredChunk, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, vector, k, sources)
	}
	return nil, nil
}

func TestRetrieve_ForcedFirstThenVector(t *testing.T) {
	emb := &mockEmbedder{}
	repo := &mockRepo{
		fetchFn: func(_ context.Context, source string, limit int) ([]domain.Candidate, error) {
			if limit != 10 {
				t.Errorf("forced limit = %d", limit)
			}
			return []domain.Candidate{{Source: source, Text: "pinned text"}}, nil
		},
		searchFn: func(_ context.Context, _ []float32, k int, _ []string) ([]domain.ScoredChunk, error) {
			if k != 20 {
				t.Errorf("recall limit = %d", k)
			}
			return []domain.ScoredChunk{
				{Source: "b.json", Text: "vector text", Score: 0.8},
			}, nil
		},
	}

	r := New(emb, repo, 20, 10, zap.NewNop())
	got, err := r.Retrieve(context.Background(), Input{
		SearchTarget:  "query",
		ForcedSources: []string{"a.json"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("candidates = %v", got)
	}
	if got[0].Text != "pinned text" || got[1].Text != "vector text" {
		t.Errorf("order wrong: %v", got)
	}
}

func TestRetrieve_DedupByExactTextFirstWins(t *testing.T) {
	emb := &mockEmbedder{}
	repo := &mockRepo{
		fetchFn: func(_ context.Context, source string, _ int) ([]domain.Candidate, error) {
			return []domain.Candidate{{Source: source, Text: "shared text"}}, nil
		},
		searchFn: func(_ context.Context, _ []float32, _ int, _ []string) ([]domain.ScoredChunk, error) {
			return []domain.ScoredChunk{
				{Source: "other.json", Text: "shared text", Score: 0.9},
				{Source: "other.json", Text: "unique", Score: 0.7},
			}, nil
		},
	}

	r := New(emb, repo, 20, 10, zap.NewNop())
	got, err := r.Retrieve(context.Background(), Input{
		SearchTarget:  "query",
		ForcedSources: []string{"pinned.json"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("candidates = %v", got)
	}
	// The pinned copy keeps its source attribution.
	if got[0].Source != "pinned.json" {
		t.Errorf("dedup did not keep the first occurrence: %v", got[0])
	}
}

func TestRetrieve_ForcedSourcesRestrictVectorSearch(t *testing.T) {
	emb := &mockEmbedder{}
	var gotSources []string
	repo := &mockRepo{
		fetchFn: func(_ context.Context, source string, _ int) ([]domain.Candidate, error) {
			return []domain.Candidate{{Source: source, Text: "pinned text"}}, nil
		},
		searchFn: func(_ context.Context, _ []float32, _ int, sources []string) ([]domain.ScoredChunk, error) {
			gotSources = sources
			return []domain.ScoredChunk{{Source: "a.json", Text: "vector text", Score: 0.8}}, nil
		},
	}

	r := New(emb, repo, 20, 10, zap.NewNop())
	got, err := r.Retrieve(context.Background(), Input{
		SearchTarget:  "query",
		ForcedSources: []string{"a.json"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gotSources) != 1 || gotSources[0] != "a.json" {
		t.Errorf("search restriction = %v, want pinned files", gotSources)
	}
	for _, c := range got {
		if c.Source != "a.json" {
			t.Errorf("unpinned source leaked: %v", c)
		}
	}
}

func TestRetrieve_RetryKeepsForcedSourceRestriction(t *testing.T) {
	emb := &mockEmbedder{vectors: map[string][]float32{
		"rewritten": {0.1},
		"raw":       {0.2},
	}}
	var sourcesPerCall [][]string
	repo := &mockRepo{
		searchFn: func(_ context.Context, vector []float32, _ int, sources []string) ([]domain.ScoredChunk, error) {
			sourcesPerCall = append(sourcesPerCall, sources)
			if vector[0] == float32(0.1) {
				return nil, nil
			}
			return []domain.ScoredChunk{{Source: "a.json", Text: "hit", Score: 0.5}}, nil
		},
	}

	r := New(emb, repo, 20, 10, zap.NewNop())
	if _, err := r.Retrieve(context.Background(), Input{
		SearchTarget:   "rewritten",
		FallbackTarget: "raw",
		ForcedSources:  []string{"a.json"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sourcesPerCall) != 2 {
		t.Fatalf("search calls = %d", len(sourcesPerCall))
	}
	for i, sources := range sourcesPerCall {
		if len(sources) != 1 || sources[0] != "a.json" {
			t.Errorf("call %d restriction = %v, want pinned files", i, sources)
		}
	}
}

func TestRetrieve_EmptyRewrittenRetriesWithFallback(t *testing.T) {
	emb := &mockEmbedder{vectors: map[string][]float32{
		"rewritten": {0.1},
		"raw":       {0.2},
	}}
	repo := &mockRepo{
		searchFn: func(_ context.Context, vector []float32, _ int, _ []string) ([]domain.ScoredChunk, error) {
			if vector[0] == float32(0.1) {
				return nil, nil // rewritten query finds nothing
			}
			return []domain.ScoredChunk{{Source: "a.json", Text: "hit", Score: 0.5}}, nil
		},
	}

	r := New(emb, repo, 20, 10, zap.NewNop())
	got, err := r.Retrieve(context.Background(), Input{
		SearchTarget:   "rewritten",
		FallbackTarget: "raw",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(emb.calls) != 2 || emb.calls[1] != "raw" {
		t.Errorf("embed calls = %v", emb.calls)
	}
	if len(got) != 1 || got[0].Text != "hit" {
		t.Errorf("candidates = %v", got)
	}
}

func TestRetrieve_NoRetryWhenTargetsEqual(t *testing.T) {
	emb := &mockEmbedder{}
	repo := &mockRepo{}

	r := New(emb, repo, 20, 10, zap.NewNop())
	got, err := r.Retrieve(context.Background(), Input{
		SearchTarget:   "same",
		FallbackTarget: "same",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(emb.calls) != 1 {
		t.Errorf("embed calls = %v", emb.calls)
	}
	if got != nil {
		t.Errorf("candidates = %v", got)
	}
}

func TestRetrieve_EmbedErrorPropagates(t *testing.T) {
	emb := &mockEmbedder{err: errors.New("provider down")}
	r := New(emb, &mockRepo{}, 20, 10, zap.NewNop())

	_, err := r.Retrieve(context.Background(), Input{SearchTarget: "q"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRetrieve_ForcedFetchErrorPropagates(t *testing.T) {
	repo := &mockRepo{
		fetchFn: func(_ context.Context, _ string, _ int) ([]domain.Candidate, error) {
			return nil, errors.New("redis down")
		},
	}
	r := New(&mockEmbedder{}, repo, 20, 10, zap.NewNop())

	_, err := r.Retrieve(context.Background(), Input{
		SearchTarget:  "q",
		ForcedSources: []string{"a.json"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
