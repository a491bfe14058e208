package domain

import "errors"

var (
	// ErrEmbeddingProviderError signals an embedding provider failure (timeout, 5xx, malformed body).
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrLLMProviderError signals a completion provider failure.
	ErrLLMProviderError = errors.New("llm provider error")
	// ErrMalformedLLMResponse signals an unparsable completion response.
	ErrMalformedLLMResponse = errors.New("malformed llm response")
	// ErrVectorStoreUnavailable signals a vector database transport failure.
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")
	// ErrConfiguration signals an invalid configuration. Fatal at startup only.
	ErrConfiguration = errors.New("invalid configuration")
)
