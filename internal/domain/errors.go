package domain

import "errors"

var (
	// ErrInvalidDocument signals a document payload failing validation.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrDimensionMismatch signals the configured embedding dimension
	// disagreeing with the existing index schema.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrMissingCredential signals a missing API key or token.
	ErrMissingCredential = errors.New("missing credential")
	// ErrGenerationFailed signals a generation provider failure.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrRerankUnavailable signals the rerank service being unreachable or
	// returning an unusable response. Callers degrade, never fail on it.
	ErrRerankUnavailable = errors.New("rerank service unavailable")
)
