package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
)

func TestRerank_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Query != "醫療險" || len(req.Documents) != 2 {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(Response{
			Indices: []int{1, 0},
			Scores:  []float64{3.2, -1.5},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, zap.NewNop())
	resp, err := c.Rerank(context.Background(), "醫療險", []string{"doc a", "doc b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Indices) != 2 || resp.Indices[0] != 1 {
		t.Errorf("indices = %v", resp.Indices)
	}
	if resp.Scores[0] != 3.2 {
		t.Errorf("scores = %v", resp.Scores)
	}
}

func TestRerank_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, zap.NewNop())
	_, err := c.Rerank(context.Background(), "q", []string{"d"})
	if !errors.Is(err, domain.ErrRerankUnavailable) {
		t.Fatalf("expected ErrRerankUnavailable, got %v", err)
	}
}

func TestRerank_ConnectionRefusedIsUnavailable(t *testing.T) {
	c := New("http://127.0.0.1:1", 500*time.Millisecond, zap.NewNop())
	_, err := c.Rerank(context.Background(), "q", []string{"d"})
	if !errors.Is(err, domain.ErrRerankUnavailable) {
		t.Fatalf("expected ErrRerankUnavailable, got %v", err)
	}
}

func TestRerank_MismatchedLengthsIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{Indices: []int{0, 1}, Scores: []float64{1.0}})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, zap.NewNop())
	_, err := c.Rerank(context.Background(), "q", []string{"a", "b"})
	if !errors.Is(err, domain.ErrRerankUnavailable) {
		t.Fatalf("expected ErrRerankUnavailable, got %v", err)
	}
}
