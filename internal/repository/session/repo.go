// Package session stores per-session conversation history as a Redis list of
// JSON-encoded turns.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
)

const keyPrefix = domain.KeyPrefix + "session:"

// store is the consumer interface for session history (ISP).
type store interface {
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Repo implements conversation history persistence.
type Repo struct {
	store    store
	maxTurns int
	ttl      time.Duration
	logger   *zap.Logger
}

// New creates a session repository. maxTurns caps the stored list; ttl
// expires idle sessions.
func New(s store, maxTurns int, ttl time.Duration, logger *zap.Logger) *Repo {
	return &Repo{store: s, maxTurns: maxTurns, ttl: ttl, logger: logger}
}

// Append adds turns to the session tail, trims to the cap and refreshes TTL.
func (r *Repo) Append(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	if sessionID == "" || len(turns) == 0 {
		return nil
	}
	key := keyPrefix + sessionID

	values := make([]string, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		values = append(values, string(data))
	}

	if err := r.store.RPush(ctx, key, values...); err != nil {
		return fmt.Errorf("append session %s: %w", sessionID, err)
	}
	if err := r.store.LTrim(ctx, key, int64(-r.maxTurns), -1); err != nil {
		return fmt.Errorf("trim session %s: %w", sessionID, err)
	}
	if err := r.store.Expire(ctx, key, r.ttl); err != nil {
		// Expiry is housekeeping; a failed refresh must not fail the turn.
		r.logger.Warn("session TTL refresh failed", zap.String("session", sessionID), zap.Error(err))
	}
	return nil
}

// Recent returns up to n most recent turns in chronological order.
// Undecodable entries are skipped.
func (r *Repo) Recent(ctx context.Context, sessionID string, n int) ([]domain.Turn, error) {
	if sessionID == "" || n <= 0 {
		return nil, nil
	}
	key := keyPrefix + sessionID

	raw, err := r.store.LRange(ctx, key, int64(-n), -1)
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	turns := make([]domain.Turn, 0, len(raw))
	for _, item := range raw {
		var turn domain.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			r.logger.Warn("skipping undecodable history entry",
				zap.String("session", sessionID), zap.Error(err))
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
