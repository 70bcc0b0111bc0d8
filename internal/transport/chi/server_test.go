package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
	healthuc "github.com/coverquery/coverquery/internal/usecase/health"
	syncuc "github.com/coverquery/coverquery/internal/usecase/sync"
)

type mockAnswerer struct {
	resp domain.RagResponse
	err  error
	got  struct {
		sessionID string
		query     string
	}
}

func (m *mockAnswerer) Answer(_ context.Context, sessionID, query string) (domain.RagResponse, error) {
	m.got.sessionID = sessionID
	m.got.query = query
	return m.resp, m.err
}

type mockSynchronizer struct {
	stats syncuc.Stats
	err   error
}

func (m *mockSynchronizer) Sync(_ context.Context) (syncuc.Stats, error) {
	return m.stats, m.err
}

type okPinger struct{}

func (okPinger) Ping(_ context.Context) error { return nil }

type failPinger struct{}

func (failPinger) Ping(_ context.Context) error { return errors.New("down") }

func newTestRouter(rag *mockAnswerer, sync *mockSynchronizer, db healthuc.DBPinger) http.Handler {
	srv := NewServer(rag, sync, healthuc.New(db, nil, nil), zap.NewNop())
	r := chirouter.NewRouter()
	srv.Routes(r)
	return r
}

func TestChat_Success(t *testing.T) {
	rag := &mockAnswerer{resp: domain.RagResponse{
		Answer:  "答案",
		Sources: []string{"a.json"},
	}}
	router := newTestRouter(rag, &mockSynchronizer{}, okPinger{})

	body := `{"session_id": "s1", "query": "保單問題"}`
	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp domain.RagResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "答案" || len(resp.Sources) != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if rag.got.sessionID != "s1" || rag.got.query != "保單問題" {
		t.Errorf("forwarded = %+v", rag.got)
	}
}

func TestChat_InvalidBody_400(t *testing.T) {
	router := newTestRouter(&mockAnswerer{}, &mockSynchronizer{}, okPinger{})

	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestChat_BlankQuery_400(t *testing.T) {
	router := newTestRouter(&mockAnswerer{}, &mockSynchronizer{}, okPinger{})

	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"query": "  "}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestChat_GenerationFailure_502(t *testing.T) {
	rag := &mockAnswerer{err: domain.ErrGenerationFailed}
	router := newTestRouter(rag, &mockSynchronizer{}, okPinger{})

	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"query": "q"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d", rr.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Code != codeGenerationFailed {
		t.Errorf("code = %s", errResp.Code)
	}
}

func TestChat_UnknownError_500(t *testing.T) {
	rag := &mockAnswerer{err: errors.New("boom")}
	router := newTestRouter(rag, &mockSynchronizer{}, okPinger{})

	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"query": "q"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rr.Code)
	}
	// Internal details must not leak.
	if strings.Contains(rr.Body.String(), "boom") {
		t.Errorf("body leaks internals: %s", rr.Body.String())
	}
}

func TestTriggerSync_ReturnsStats(t *testing.T) {
	sync := &mockSynchronizer{stats: syncuc.Stats{Added: 2, Unchanged: 5, Removed: 1}}
	router := newTestRouter(&mockAnswerer{}, sync, okPinger{})

	req := httptest.NewRequest("POST", "/api/sync", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp SyncResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Added != 2 || resp.Unchanged != 5 || resp.Removed != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHealth_OK(t *testing.T) {
	router := newTestRouter(&mockAnswerer{}, &mockSynchronizer{}, okPinger{})

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestHealth_Degraded_503(t *testing.T) {
	router := newTestRouter(&mockAnswerer{}, &mockSynchronizer{}, failPinger{})

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rr.Code)
	}
}
