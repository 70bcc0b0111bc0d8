package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/config"
	dbRedis "github.com/coverquery/coverquery/internal/db/redis"
	"github.com/coverquery/coverquery/internal/domain"
	logpkg "github.com/coverquery/coverquery/internal/logger"
	"github.com/coverquery/coverquery/internal/metrics"
	chunkrepo "github.com/coverquery/coverquery/internal/repository/chunk"
	"github.com/coverquery/coverquery/internal/repository/embcache"
	sessionrepo "github.com/coverquery/coverquery/internal/repository/session"
	chiTransport "github.com/coverquery/coverquery/internal/transport/chi"
	"github.com/coverquery/coverquery/internal/transport/gemini"
	openaiTransport "github.com/coverquery/coverquery/internal/transport/openai"
	rerankclient "github.com/coverquery/coverquery/internal/transport/rerank"
	healthuc "github.com/coverquery/coverquery/internal/usecase/health"
	raguc "github.com/coverquery/coverquery/internal/usecase/rag"
	rerankuc "github.com/coverquery/coverquery/internal/usecase/rerank"
	retrieveuc "github.com/coverquery/coverquery/internal/usecase/retrieve"
	rewriteuc "github.com/coverquery/coverquery/internal/usecase/rewrite"
	syncuc "github.com/coverquery/coverquery/internal/usecase/sync"
	"github.com/coverquery/coverquery/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting coverquery API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("llm_provider", cfg.LLM.Provider),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	// Embedder chain: OpenAI-compatible provider -> cache -> lock. The lock
	// serializes query embedding against corpus synchronization.
	base := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})
	cached := embcache.New(base, store, metrics.EmbeddingCacheTotal, logger)
	embedder := domain.NewLockedEmbedder(cached)
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Chunk repository and index. A dimension mismatch means the stored
	// vectors came from a different model; refusing to start beats serving
	// garbage similarity scores.
	chunks := chunkrepo.New(store)
	if err := chunks.EnsureIndex(ctx, chunkrepo.IndexParams{
		Dimensions:  cfg.Embedding.Dimensions,
		M:           cfg.Embedding.HNSWM,
		EFConstruct: cfg.Embedding.HNSWEFConstruct,
	}); err != nil {
		if errors.Is(err, domain.ErrDimensionMismatch) {
			logger.Fatal("Embedding dimension mismatch with existing index; flush the index or restore the previous model",
				zap.Error(err))
		}
		logger.Fatal("Failed to ensure chunk index", zap.Error(err))
	}

	sessions := sessionrepo.New(store, cfg.Session.MaxTurns,
		time.Duration(cfg.Session.TTLHours)*time.Hour, logger)

	// Corpus synchronization: once at startup, then on schedule if configured.
	state := syncuc.NewState()
	synchronizer := syncuc.New(chunks, embedder, state, cfg.Corpus.Dir, cfg.Corpus.BatchSize, logger)
	if _, err := synchronizer.Sync(ctx); err != nil {
		logger.Fatal("Initial corpus synchronization failed", zap.Error(err))
	}

	var scheduler *cron.Cron
	if cfg.Corpus.SyncSchedule != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.Corpus.SyncSchedule, func() {
			if _, err := synchronizer.Sync(context.Background()); err != nil {
				logger.Error("Scheduled corpus synchronization failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Fatal("Invalid sync schedule", zap.String("schedule", cfg.Corpus.SyncSchedule), zap.Error(err))
		}
		scheduler.Start()
		logger.Info("Scheduled corpus resync", zap.String("schedule", cfg.Corpus.SyncSchedule))
	}

	// Generation provider: a static per-deployment choice.
	generator, err := buildGenerator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create generation provider", zap.Error(err))
	}

	// Pipeline services
	rewriter := rewriteuc.New(generator, cfg.RAG.RewriteMaxRunes, logger)
	retriever := retrieveuc.New(embedder, chunks, cfg.RAG.RecallLimit, cfg.RAG.ForcedFetchLimit, logger)
	scorer := rerankclient.New(cfg.Rerank.URL, time.Duration(cfg.Rerank.TimeoutSec)*time.Second, logger)
	reranker := rerankuc.New(scorer, cfg.Rerank.ScoreFloor, cfg.Rerank.MaxPerSource, logger)

	ragSvc := raguc.New(sessions, rewriter, retriever, reranker, generator, state, raguc.Config{
		HistoryTurns: cfg.RAG.HistoryTurns,
		RerankLimit:  cfg.RAG.RerankLimit,
		SystemPrompt: raguc.LoadSystemPrompt(cfg.LLM.SystemPromptPath, logger),
		Provider:     cfg.LLM.Provider,
	}, logger)

	healthSvc := healthuc.New(store, base, state)

	server := chiTransport.NewServer(ragSvc, synchronizer, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// generator produces one completion for a system+user exchange.
type generator interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// timeoutGenerator bounds each completion call.
type timeoutGenerator struct {
	inner   generator
	timeout time.Duration
}

func (g *timeoutGenerator) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.inner.Complete(ctx, system, user)
}

// buildGenerator selects the generation provider from config.
func buildGenerator(ctx context.Context, cfg config.Config, logger *zap.Logger) (generator, error) {
	var inner generator
	switch cfg.LLM.Provider {
	case "gemini":
		client, err := gemini.New(ctx, &gemini.Config{
			APIKey: cfg.LLM.Gemini.APIKey,
			Model:  cfg.LLM.Gemini.Model,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		inner = client
	default:
		inner = openaiTransport.NewChatClient(&openaiTransport.ChatConfig{
			BaseURL: cfg.LLM.Local.BaseURL,
			Model:   cfg.LLM.Local.Model,
			Token:   cfg.LLM.Local.Token,
			Logger:  logger,
		})
	}
	return &timeoutGenerator{
		inner:   inner,
		timeout: time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	}, nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
