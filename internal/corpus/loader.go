// Package corpus loads product documents from the JSON directory and derives
// the in-memory summary and synonym tables plus the indexable chunks.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
)

// Document is one parsed corpus file with its content hash and chunks.
type Document struct {
	Filename string
	Hash     string
	Policy   domain.PolicyDocument
	Chunks   []string
}

// Snapshot is the result of one corpus directory scan.
type Snapshot struct {
	Documents []Document
	Summaries domain.SummaryMap
	Synonyms  domain.SynonymTable
	Failed    []string // filenames that could not be parsed
}

// Load scans dir for *.json files in sorted filename order and parses each
// into a Document. Unparseable files are skipped and reported in Failed so
// one bad file never blocks the rest of the corpus.
func Load(dir string, log *zap.Logger) (*Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	// Sorted order keeps synonym collisions deterministic across runs.
	sort.Strings(names)

	snap := &Snapshot{
		Summaries: make(domain.SummaryMap, len(names)),
		Synonyms:  make(domain.SynonymTable),
	}

	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn("corpus file unreadable", zap.String("file", name), zap.Error(err))
			snap.Failed = append(snap.Failed, name)
			continue
		}

		var policy domain.PolicyDocument
		if err := json.Unmarshal(raw, &policy); err != nil {
			log.Warn("corpus file unparseable", zap.String("file", name), zap.Error(err))
			snap.Failed = append(snap.Failed, name)
			continue
		}
		policy.SourceFilename = name
		if err := policy.Validate(); err != nil {
			log.Warn("corpus file invalid", zap.String("file", name), zap.Error(err))
			snap.Failed = append(snap.Failed, name)
			continue
		}

		sum := sha256.Sum256(raw)
		doc := Document{
			Filename: name,
			Hash:     hex.EncodeToString(sum[:]),
			Policy:   policy,
			Chunks:   BuildChunks(&policy),
		}
		snap.Documents = append(snap.Documents, doc)

		snap.Summaries[name] = domain.NewProductSummary(&policy)
		snap.Synonyms.AddSynonyms(policy.RagData.SynonymMapping)
	}

	log.Info("corpus loaded",
		zap.Int("documents", len(snap.Documents)),
		zap.Int("failed", len(snap.Failed)),
		zap.Int("synonyms", len(snap.Synonyms)),
	)
	return snap, nil
}
