package health

import (
	"context"

	"github.com/coverquery/coverquery/internal/domain"
)

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// CorpusTables reports the in-memory corpus state the pipeline reads.
type CorpusTables interface {
	Tables() (domain.SummaryMap, domain.SynonymTable)
}
