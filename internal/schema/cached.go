package schema

import (
	"context"
	"encoding/json"

	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/monitor"
)

// DocumentCache is the byte cache CachedStore keeps documents in
type DocumentCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
}

// CachedStore serves Fetch from a cache before asking the wrapped store.
// Missing schemas are never cached, and List always goes to the wrapped store.
type CachedStore struct {
	inner  Store
	cache  DocumentCache
	logger *logging.Logger
}

func NewCachedStore(inner Store, cache DocumentCache, logger *logging.Logger) *CachedStore {
	return &CachedStore{inner: inner, cache: cache, logger: logging.OrNop(logger)}
}

func (s *CachedStore) Fetch(ctx context.Context, name string) (Document, error) {
	if err := ValidateName(name); err != nil {
		return Document{}, err
	}

	key := "schema/" + name

	if data, err := s.cache.Get(ctx, key); err == nil {
		var doc Document
		if err := json.Unmarshal(data, &doc); err == nil {
			monitor.RecordSchemaCache(true)
			return doc, nil
		}
	}

	monitor.RecordSchemaCache(false)

	doc, err := s.inner.Fetch(ctx, name)
	if err != nil {
		return Document{}, err
	}

	if data, err := json.Marshal(doc); err == nil {
		if err := s.cache.Set(ctx, key, data); err != nil {
			s.logger.WithError(err).WithField("schema", name).Warn("failed to cache schema document")
		}
	}

	return doc, nil
}

func (s *CachedStore) List(ctx context.Context) ([]string, error) {
	return s.inner.List(ctx)
}
