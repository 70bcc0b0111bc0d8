package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	rpushFn  func(ctx context.Context, key string, values ...string) error
	lrangeFn func(ctx context.Context, key string, start, stop int64) ([]string, error)
	ltrimFn  func(ctx context.Context, key string, start, stop int64) error
	expireFn func(ctx context.Context, key string, ttl time.Duration) error
}

func (m *mockStore) RPush(ctx context.Context, key string, values ...string) error {
	if m.rpushFn != nil {
		return m.rpushFn(ctx, key, values...)
	}
	return nil
}

func (m *mockStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if m.lrangeFn != nil {
		return m.lrangeFn(ctx, key, start, stop)
	}
	return nil, nil
}

func (m *mockStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if m.ltrimFn != nil {
		return m.ltrimFn(ctx, key, start, stop)
	}
	return nil
}

func (m *mockStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if m.expireFn != nil {
		return m.expireFn(ctx, key, ttl)
	}
	return nil
}

func newTestRepo(ms *mockStore) *Repo {
	return New(ms, 50, 24*time.Hour, zap.NewNop())
}

func TestAppend_PushesTrimsAndExpires(t *testing.T) {
	ms := &mockStore{}
	var pushed []string
	var pushKey string
	ms.rpushFn = func(_ context.Context, key string, values ...string) error {
		pushKey = key
		pushed = values
		return nil
	}
	var trimStart int64 = 0
	ms.ltrimFn = func(_ context.Context, _ string, start, _ int64) error {
		trimStart = start
		return nil
	}
	expired := false
	ms.expireFn = func(_ context.Context, _ string, ttl time.Duration) error {
		if ttl != 24*time.Hour {
			t.Errorf("ttl = %v", ttl)
		}
		expired = true
		return nil
	}

	repo := newTestRepo(ms)
	err := repo.Append(context.Background(), "s1",
		domain.Turn{Role: "user", Content: "你好"},
		domain.Turn{Role: "assistant", Content: "您好"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pushKey != keyPrefix+"s1" {
		t.Errorf("key = %q", pushKey)
	}
	if len(pushed) != 2 {
		t.Fatalf("expected 2 pushed values, got %d", len(pushed))
	}
	var turn domain.Turn
	if err := json.Unmarshal([]byte(pushed[0]), &turn); err != nil {
		t.Fatalf("pushed value not JSON: %v", err)
	}
	if turn.Role != "user" || turn.Content != "你好" {
		t.Errorf("turn = %+v", turn)
	}
	if trimStart != -50 {
		t.Errorf("trim start = %d, want -50", trimStart)
	}
	if !expired {
		t.Error("expected TTL refresh")
	}
}

func TestAppend_EmptySessionIsNoop(t *testing.T) {
	ms := &mockStore{}
	ms.rpushFn = func(_ context.Context, _ string, _ ...string) error {
		t.Fatal("must not push without a session ID")
		return nil
	}

	repo := newTestRepo(ms)
	if err := repo.Append(context.Background(), "", domain.Turn{Role: "user", Content: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAppend_ExpireFailureDoesNotFailTurn(t *testing.T) {
	ms := &mockStore{}
	ms.expireFn = func(_ context.Context, _ string, _ time.Duration) error {
		return errors.New("redis down")
	}

	repo := newTestRepo(ms)
	err := repo.Append(context.Background(), "s1", domain.Turn{Role: "user", Content: "x"})
	if err != nil {
		t.Fatalf("expected nil error when only TTL refresh fails, got %v", err)
	}
}

func TestRecent_ReturnsDecodedTurns(t *testing.T) {
	ms := &mockStore{}
	ms.lrangeFn = func(_ context.Context, key string, start, stop int64) ([]string, error) {
		if key != keyPrefix+"s1" {
			t.Errorf("key = %q", key)
		}
		if start != -4 || stop != -1 {
			t.Errorf("range = [%d, %d]", start, stop)
		}
		return []string{
			`{"role":"user","content":"我是30歲工程師"}`,
			`not json`,
			`{"role":"assistant","content":"好的"}`,
		}, nil
	}

	repo := newTestRepo(ms)
	turns, err := repo.Recent(context.Background(), "s1", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 decoded turns, got %d", len(turns))
	}
	if turns[0].Content != "我是30歲工程師" || turns[1].Role != "assistant" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestRecent_EmptySession(t *testing.T) {
	repo := newTestRepo(&mockStore{})
	turns, err := repo.Recent(context.Background(), "", 4)
	if err != nil || turns != nil {
		t.Fatalf("expected nil, nil; got %v, %v", turns, err)
	}
}
