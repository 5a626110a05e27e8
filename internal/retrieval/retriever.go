// Package retrieval ranks a schema's documentation chunks against a question
// so that large schemas can be rendered as a focused subset.
package retrieval

import (
	"context"
	"errors"
	"sync"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/types"
)

// ErrNoChunks is returned for a schema without documentation chunks
var ErrNoChunks = errors.New("schema has no documentation chunks")

// Retriever owns one BM25 index per loaded schema instance
type Retriever struct {
	cfg    config.RetrievalConfig
	logger *logging.Logger

	mu      sync.Mutex
	indexes map[*types.Schema]*Index
}

// New creates a retriever
func New(cfg config.RetrievalConfig, logger *logging.Logger) *Retriever {
	return &Retriever{
		cfg:     cfg,
		logger:  logging.OrNop(logger).WithField("component", "retrieval"),
		indexes: make(map[*types.Schema]*Index),
	}
}

// Threshold is the table count at which retrieval activates
func (r *Retriever) Threshold() int {
	return r.cfg.Threshold
}

// ShouldRetrieve reports whether schema is large enough for retrieval.
// The threshold is inclusive.
func (r *Retriever) ShouldRetrieve(schema *types.Schema) bool {
	return schema != nil && len(schema.Tables) >= r.cfg.Threshold
}

// Retrieve returns the top-ranked chunks for question
func (r *Retriever) Retrieve(ctx context.Context, schema *types.Schema, question string) ([]types.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if schema == nil {
		return nil, errors.New("schema is required")
	}

	idx, err := r.index(schema)
	if err != nil {
		return nil, err
	}

	results := idx.Search(question, r.cfg.TopK, r.cfg.MinScore)

	r.logger.WithFields(map[string]interface{}{
		"schema":  schema.Name,
		"indexed": idx.Len(),
		"matched": len(results),
	}).Debug("retrieved schema documentation")

	return results, nil
}

func (r *Retriever) index(schema *types.Schema) (*Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.indexes[schema]; ok {
		return idx, nil
	}

	if len(schema.Chunks) == 0 {
		return nil, ErrNoChunks
	}

	idx := NewIndex(schema.Chunks, r.cfg.K1, r.cfg.B)
	r.indexes[schema] = idx

	return idx, nil
}

// Forget drops the cached index for a schema that is no longer in use
func (r *Retriever) Forget(schema *types.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.indexes, schema)
}

// Cached returns the number of cached indexes
func (r *Retriever) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.indexes)
}
