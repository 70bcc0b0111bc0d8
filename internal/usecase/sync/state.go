package sync

import (
	"sync"

	"github.com/coverquery/coverquery/internal/domain"
)

// State holds the in-memory corpus tables the query pipeline reads: product
// summaries and the synonym dictionary. A synchronization pass replaces both
// atomically; queries running mid-sync see either the old or the new tables,
// never a mix.
type State struct {
	mu        sync.RWMutex
	summaries domain.SummaryMap
	synonyms  domain.SynonymTable
}

// NewState creates empty corpus state.
func NewState() *State {
	return &State{
		summaries: make(domain.SummaryMap),
		synonyms:  make(domain.SynonymTable),
	}
}

// Tables returns the current summary and synonym tables. Callers must treat
// them as read-only.
func (s *State) Tables() (domain.SummaryMap, domain.SynonymTable) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaries, s.synonyms
}

// Replace swaps in freshly loaded tables.
func (s *State) Replace(summaries domain.SummaryMap, synonyms domain.SynonymTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = summaries
	s.synonyms = synonyms
}
