// Package retriever is the thin, stateless composition over the vector
// index: embed the query, search the tenant namespace, keep matches above
// the similarity threshold.
package retriever

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lexhaus/briefcase/internal/models"
	"github.com/lexhaus/briefcase/internal/types"
)

type RetrieverConfig struct {
	TopK                int
	SimilarityThreshold float32
	// SearchRetries bounds retries of the search call. Searches are
	// idempotent reads, the only place in the pipeline where retrying is
	// allowed.
	SearchRetries uint64
	// EmbeddingCacheSize caps the query-embedding LRU cache. Identical
	// queries (common with rewritten follow-ups) skip the provider.
	EmbeddingCacheSize int
}

type Retriever struct {
	config   RetrieverConfig
	embedder types.Embedder
	index    types.VectorIndex
	cache    *lru.Cache[string, []float32]
}

func New(embedder types.Embedder, index types.VectorIndex, config RetrieverConfig) (*Retriever, error) {
	if config.TopK == 0 {
		config.TopK = 5
	}
	if config.SimilarityThreshold == 0 {
		config.SimilarityThreshold = 0.7
	}
	if config.SearchRetries == 0 {
		config.SearchRetries = 2
	}
	if config.EmbeddingCacheSize == 0 {
		config.EmbeddingCacheSize = 256
	}

	cache, err := lru.New[string, []float32](config.EmbeddingCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	return &Retriever{
		config:   config,
		embedder: embedder,
		index:    index,
		cache:    cache,
	}, nil
}

// Retrieve returns the chunks most similar to the query, scoped to one tenant
// and optionally one document. It never mutates state; an empty result means
// the document has no relevant content for this query, which is a normal
// outcome, not an error.
func (r *Retriever) Retrieve(ctx context.Context, tenantID, documentID, query string) ([]models.ScoredChunk, error) {
	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	params := types.SearchParams{
		TopK:       r.config.TopK,
		Threshold:  r.config.SimilarityThreshold,
		DocumentID: documentID,
	}

	var results []models.ScoredChunk
	operation := func() error {
		var searchErr error
		results, searchErr = r.index.Search(ctx, tenantID, vector, params)
		return searchErr
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.config.SearchRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	return results, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if vector, ok := r.cache.Get(query); ok {
		return vector, nil
	}

	vectors, err := r.embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned for query", models.ErrProviderUnavailable)
	}

	r.cache.Add(query, vectors[0])
	return vectors[0], nil
}
