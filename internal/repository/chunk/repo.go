// Package chunk persists corpus chunks as Redis hashes behind one FT index
// and answers vector and filename lookups over them.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/coverquery/coverquery/internal/db"
	"github.com/coverquery/coverquery/internal/db/redis"
	"github.com/coverquery/coverquery/internal/domain"
)

const (
	keyPrefix = domain.KeyPrefix + "chunk:"
	indexName = domain.KeyPrefix + "chunks:idx"
	metaKey   = domain.KeyPrefix + "chunks:meta"

	// hashPageSize bounds one FT.SEARCH page while reading the hash inventory.
	hashPageSize = 1000
)

// store is the consumer interface for chunk persistence (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	DelMulti(ctx context.Context, keys []string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, index, query string, offset, limit int, fields []string) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// Repo implements chunk persistence over a Redis FT index.
type Repo struct {
	store store
}

// New creates a chunk repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// IndexParams describe the vector field of the chunk index.
type IndexParams struct {
	Dimensions  int
	M           int
	EFConstruct int
}

// EnsureIndex creates the chunk index when absent. When the index already
// exists its recorded dimension must match; a mismatch means the corpus was
// embedded with a different model and the process must not start.
func (r *Repo) EnsureIndex(ctx context.Context, p IndexParams) error {
	exists, err := r.store.IndexExists(ctx, indexName)
	if err != nil {
		return fmt.Errorf("check index %s: %w", indexName, err)
	}

	if exists {
		meta, err := r.store.HGetAll(ctx, metaKey)
		if err != nil {
			return fmt.Errorf("read index meta: %w", err)
		}
		if dimStr, ok := meta["dim"]; ok {
			dim, err := strconv.Atoi(dimStr)
			if err != nil {
				return fmt.Errorf("parse index meta dim %q: %w", dimStr, err)
			}
			if dim != p.Dimensions {
				return fmt.Errorf("index holds %d-dim vectors, configured %d: %w",
					dim, p.Dimensions, domain.ErrDimensionMismatch)
			}
		}
		return nil
	}

	def := &db.IndexDefinition{
		Name:     indexName,
		Prefixes: []string{keyPrefix},
		Fields: []db.IndexField{
			{Name: "source_file", Type: db.IndexFieldTag, TagSeparator: "|"},
			{Name: "content_hash", Type: db.IndexFieldTag, TagSeparator: "|"},
			{Name: "text", Type: db.IndexFieldText},
			{
				Name:              "vector",
				Type:              db.IndexFieldVector,
				VectorAlgo:        db.VectorHNSW,
				VectorDim:         p.Dimensions,
				VectorDistance:    db.DistanceCosine,
				VectorM:           p.M,
				VectorEFConstruct: p.EFConstruct,
			},
		},
	}

	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", indexName, err)
	}

	meta := map[string]string{"dim": strconv.Itoa(p.Dimensions)}
	if err := r.store.HSet(ctx, metaKey, meta); err != nil {
		return fmt.Errorf("write index meta: %w", err)
	}
	return nil
}

// Hashes returns the stored (source filename → content hash) inventory by
// paging over the index. Every chunk of a file carries the same hash, so the
// last row per file wins harmlessly.
func (r *Repo) Hashes(ctx context.Context) (map[string]string, error) {
	inventory := make(map[string]string)
	fields := []string{"source_file", "content_hash"}

	for offset := 0; ; offset += hashPageSize {
		res, err := r.store.SearchList(ctx, indexName, "*", offset, hashPageSize, fields)
		if err != nil {
			return nil, fmt.Errorf("page chunk inventory: %w", err)
		}
		if res == nil || len(res.Entries) == 0 {
			break
		}
		for _, entry := range res.Entries {
			src := entry.Fields["source_file"]
			if src == "" {
				continue
			}
			inventory[src] = entry.Fields["content_hash"]
		}
		if offset+len(res.Entries) >= res.Total {
			break
		}
	}
	return inventory, nil
}

// Upsert writes chunks as hashes keyed by fresh UUIDs.
func (r *Repo) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	entries := make([]db.HashSetItem, 0, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		entries = append(entries, db.HashSetItem{
			Key: keyPrefix + uuid.NewString(),
			Fields: map[string]string{
				"source_file":  c.SourceFile,
				"content_hash": c.ContentHash,
				"text":         c.Text,
				"vector":       redis.VectorToBlob(c.Vector),
			},
		})
	}

	if err := r.store.HSetMulti(ctx, entries); err != nil {
		return fmt.Errorf("upsert %d chunks: %w", len(chunks), err)
	}
	return nil
}

// DeleteBySource removes every chunk row tagged with the given filename.
func (r *Repo) DeleteBySource(ctx context.Context, source string) (int, error) {
	query := fmt.Sprintf("@source_file:{%s}", escapeTag(source))
	deleted := 0

	for {
		res, err := r.store.SearchList(ctx, indexName, query, 0, hashPageSize, []string{"source_file"})
		if err != nil {
			return deleted, fmt.Errorf("find chunks of %s: %w", source, err)
		}
		if res == nil || len(res.Entries) == 0 {
			return deleted, nil
		}

		keys := make([]string, 0, len(res.Entries))
		for _, entry := range res.Entries {
			keys = append(keys, entry.Key)
		}
		if err := r.store.DelMulti(ctx, keys); err != nil {
			return deleted, fmt.Errorf("delete chunks of %s: %w", source, err)
		}
		deleted += len(keys)

		if len(res.Entries) >= res.Total {
			return deleted, nil
		}
	}
}

// FetchBySource returns up to limit chunks of one file as candidates.
func (r *Repo) FetchBySource(ctx context.Context, source string, limit int) ([]domain.Candidate, error) {
	query := fmt.Sprintf("@source_file:{%s}", escapeTag(source))
	res, err := r.store.SearchList(ctx, indexName, query, 0, limit, []string{"source_file", "text"})
	if err != nil {
		return nil, fmt.Errorf("fetch chunks of %s: %w", source, err)
	}
	if res == nil {
		return nil, nil
	}

	candidates := make([]domain.Candidate, 0, len(res.Entries))
	for _, entry := range res.Entries {
		candidates = append(candidates, domain.Candidate{
			Source: entry.Fields["source_file"],
			Text:   entry.Fields["text"],
		})
	}
	return candidates, nil
}

// SearchKNN returns the k nearest chunks to vector, optionally restricted to
// the given source filenames via a TAG pre-filter.
func (r *Repo) SearchKNN(
	ctx context.Context, vector []float32, k int, sources []string,
) ([]domain.ScoredChunk, error) {
	q := &db.KNNQuery{
		IndexName:    indexName,
		Filter:       sourcesFilter(sources),
		Vector:       vector,
		K:            k,
		ReturnFields: []string{"source_file", "text", "__vector_score"},
	}

	res, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	if res == nil {
		return nil, nil
	}

	chunks := make([]domain.ScoredChunk, 0, len(res.Entries))
	for _, entry := range res.Entries {
		chunks = append(chunks, domain.ScoredChunk{
			Source: entry.Fields["source_file"],
			Text:   entry.Fields["text"],
			Score:  entry.Score,
		})
	}
	return chunks, nil
}

// Count returns the total number of indexed chunks.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, indexName, "*")
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func sourcesFilter(sources []string) string {
	if len(sources) == 0 {
		return ""
	}
	escaped := make([]string, 0, len(sources))
	for _, s := range sources {
		escaped = append(escaped, escapeTag(s))
	}
	return fmt.Sprintf("@source_file:{%s}", strings.Join(escaped, "|"))
}

// escapeTag escapes the punctuation RediSearch treats as syntax inside TAG
// query values. Filenames routinely contain dots and dashes.
func escapeTag(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for _, r := range s {
		switch r {
		case ',', '.', '<', '>', '{', '}', '[', ']', '"', '\'', ':', ';',
			'!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '-', '+',
			'=', '~', '|', '/', '\\', ' ':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
