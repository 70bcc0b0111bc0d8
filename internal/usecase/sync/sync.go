// Package sync reconciles the Redis chunk index with the corpus directory
// using per-file content hashes, so restarts and corpus edits cost only the
// embeddings that actually changed.
package sync

import (
	"context"
	"fmt"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/corpus"
	"github.com/coverquery/coverquery/internal/domain"
	"github.com/coverquery/coverquery/internal/metrics"
)

// repo is the consumer interface over chunk persistence (ISP).
type repo interface {
	Hashes(ctx context.Context) (map[string]string, error)
	DeleteBySource(ctx context.Context, source string) (int, error)
	Upsert(ctx context.Context, chunks []domain.Chunk) error
}

// loader scans the corpus directory. Swappable in tests.
type loader func(dir string, log *zap.Logger) (*corpus.Snapshot, error)

// Stats summarizes one synchronization pass.
type Stats struct {
	Added     int
	Updated   int
	Unchanged int
	Removed   int
	Failed    int
}

// Synchronizer drives hash-based corpus reconciliation.
type Synchronizer struct {
	mu        gosync.Mutex
	repo      repo
	embedder  domain.BatchEmbedder
	state     *State
	dir       string
	batchSize int
	load      loader
	logger    *zap.Logger
}

// New creates a synchronizer writing fresh tables into state.
func New(r repo, embedder domain.BatchEmbedder, state *State, dir string, batchSize int, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		repo:      r,
		embedder:  embedder,
		state:     state,
		dir:       dir,
		batchSize: batchSize,
		load:      corpus.Load,
		logger:    logger,
	}
}

// Sync runs one reconciliation pass. Passes are serialized: a scheduled
// resync that overlaps a manual one simply waits. One broken document does
// not abort the pass; it is counted and skipped.
func (s *Synchronizer) Sync(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats

	snap, err := s.load(s.dir, s.logger)
	if err != nil {
		return stats, fmt.Errorf("load corpus: %w", err)
	}
	stats.Failed = len(snap.Failed)

	inventory, err := s.repo.Hashes(ctx)
	if err != nil {
		return stats, fmt.Errorf("read chunk inventory: %w", err)
	}

	current := make(map[string]bool, len(snap.Documents))
	for i := range snap.Documents {
		doc := &snap.Documents[i]
		current[doc.Filename] = true

		storedHash, existed := inventory[doc.Filename]
		if existed && storedHash == doc.Hash {
			stats.Unchanged++
			continue
		}

		if err := s.reindex(ctx, doc, existed); err != nil {
			s.logger.Error("document reindex failed",
				zap.String("file", doc.Filename), zap.Error(err))
			stats.Failed++
			continue
		}
		if existed {
			stats.Updated++
		} else {
			stats.Added++
		}
	}

	for filename := range inventory {
		if current[filename] {
			continue
		}
		if _, err := s.repo.DeleteBySource(ctx, filename); err != nil {
			s.logger.Error("stale document removal failed",
				zap.String("file", filename), zap.Error(err))
			stats.Failed++
			continue
		}
		stats.Removed++
	}

	// Tables swap even when some documents failed: the pipeline should see
	// everything that did load.
	s.state.Replace(snap.Summaries, snap.Synonyms)

	recordStats(stats)
	s.logger.Info("corpus synchronized",
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("removed", stats.Removed),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// reindex replaces a document's rows: delete stale rows, embed in batches,
// upsert with the new content hash.
func (s *Synchronizer) reindex(ctx context.Context, doc *corpus.Document, existed bool) error {
	if existed {
		if _, err := s.repo.DeleteBySource(ctx, doc.Filename); err != nil {
			return fmt.Errorf("delete stale chunks: %w", err)
		}
	}

	for start := 0; start < len(doc.Chunks); start += s.batchSize {
		end := min(start+s.batchSize, len(doc.Chunks))
		batch := doc.Chunks[start:end]

		res, err := s.embedder.BatchEmbed(ctx, batch)
		if err != nil {
			return fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}

		chunks := make([]domain.Chunk, len(batch))
		for i, text := range batch {
			chunks[i] = domain.Chunk{
				SourceFile:  doc.Filename,
				ContentHash: doc.Hash,
				Text:        text,
				Vector:      res.Embeddings[i],
			}
		}
		if err := s.repo.Upsert(ctx, chunks); err != nil {
			return fmt.Errorf("upsert batch [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

func recordStats(stats Stats) {
	metrics.SyncDocumentsTotal.WithLabelValues("added").Add(float64(stats.Added))
	metrics.SyncDocumentsTotal.WithLabelValues("updated").Add(float64(stats.Updated))
	metrics.SyncDocumentsTotal.WithLabelValues("unchanged").Add(float64(stats.Unchanged))
	metrics.SyncDocumentsTotal.WithLabelValues("removed").Add(float64(stats.Removed))
	metrics.SyncDocumentsTotal.WithLabelValues("failed").Add(float64(stats.Failed))
}
