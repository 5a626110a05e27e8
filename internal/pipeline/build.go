package pipeline

import (
	"context"
	"fmt"

	"github.com/kyleking/askdb/internal/cache"
	"github.com/kyleking/askdb/internal/config"
	apperrors "github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/executor"
	"github.com/kyleking/askdb/internal/generator"
	"github.com/kyleking/askdb/internal/llm"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/refiner"
	"github.com/kyleking/askdb/internal/retrieval"
	"github.com/kyleking/askdb/internal/schema"
	"github.com/kyleking/askdb/internal/storage"
	"github.com/kyleking/askdb/internal/validator"
)

const schemaCacheBytes = 32 << 20

// NewSchemaStore returns the schema store selected by configuration
func NewSchemaStore(cfg *config.Config) (schema.Store, error) {
	switch cfg.Schema.Source {
	case "", "dir":
		return schema.NewDirStore(cfg.Schema.Directory), nil
	case "s3":
		if !cfg.S3.Configured() {
			return nil, apperrors.NewConfigError("schema source s3 requires an endpoint and bucket", "s3")
		}

		remote, err := schema.NewS3Store(cfg.S3, cfg.Schema.S3Prefix)
		if err != nil {
			return nil, err
		}

		ttl := cfg.Schema.CacheTTLDuration()
		if ttl <= 0 || cfg.Schema.CacheDir == "" {
			return remote, nil
		}

		files, err := cache.NewFileCache(cfg.Schema.CacheDir, schemaCacheBytes, ttl)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeFileSystem, "failed to open schema cache")
		}

		return schema.NewCachedStore(remote, files, nil), nil
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown schema source %q", cfg.Schema.Source), "schema.source")
	}
}

// Built is a pipeline assembled from configuration together with the resources it holds
type Built struct {
	*Pipeline

	LLM    *llm.Manager
	Stores *storage.Manager
	Loader *schema.Loader
}

// Close releases sessions and database handles
func (b *Built) Close() error {
	b.Sessions().CloseAll()
	return b.Stores.Close()
}

// NewFromConfig assembles every stage from configuration
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Built, error) {
	logger = logging.OrNop(logger)

	store, err := NewSchemaStore(cfg)
	if err != nil {
		return nil, err
	}

	service, err := llm.NewManagerFromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeConfig, "failed to configure language model providers")
	}

	loader := schema.NewLoader(store, logger)
	stores := storage.NewManager(cfg.Executor, logger)

	p := New(Components{
		Loader:    loader,
		Generator: generator.New(service, retrieval.New(cfg.Retrieval, logger), generator.OptionsFromConfig(cfg), logger),
		Validator: validator.New(service, validator.OptionsFromConfig(cfg), logger),
		Executor:  executor.New(stores, executor.OptionsFromConfig(cfg), logger),
		Refiner:   refiner.New(service, refiner.OptionsFromConfig(cfg), logger),
	}, cfg.Dialog, logger)

	return &Built{Pipeline: p, LLM: service, Stores: stores, Loader: loader}, nil
}
