package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kyleking/askdb/internal/config"
	apperrors "github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/schema"
)

// Sink persists a finalized run and returns where it went
type Sink interface {
	Write(ctx context.Context, run *Run) (string, error)
}

// FileName is the object or file name a run is stored under
func FileName(run *Run) string {
	return fmt.Sprintf("%s_%s.json", run.FinishedAt.UTC().Format("20060102T150405Z"), run.ExperimentID)
}

func encodeRun(run *Run) ([]byte, error) {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeInternal, "failed to encode evaluation run")
	}

	return append(data, '\n'), nil
}

// LocalSink writes one JSON file per run into a directory
type LocalSink struct {
	dir string
}

func NewLocalSink(dir string) *LocalSink {
	return &LocalSink{dir: dir}
}

func (s *LocalSink) Write(_ context.Context, run *Run) (string, error) {
	if strings.TrimSpace(s.dir) == "" {
		return "", apperrors.NewConfigError("evaluation output directory is not set", "evaluation.output_dir")
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrTypeFileSystem, "failed to create evaluation output directory")
	}

	data, err := encodeRun(run)
	if err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, FileName(run))

	tmp, err := os.CreateTemp(s.dir, ".run-*.json")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrTypeFileSystem, "failed to create evaluation file")
	}

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return "", apperrors.Wrap(err, apperrors.ErrTypeFileSystem, "failed to write evaluation file")
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return "", apperrors.Wrap(err, apperrors.ErrTypeFileSystem, "failed to write evaluation file")
	}

	return target, nil
}

// S3Sink uploads each run as an object under a prefix
type S3Sink struct {
	client schema.ObjectClient
	bucket string
	prefix string
}

func NewS3Sink(client schema.ObjectClient, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: schema.CleanPrefix(prefix)}
}

func (s *S3Sink) Write(ctx context.Context, run *Run) (string, error) {
	data, err := encodeRun(run)
	if err != nil {
		return "", err
	}

	key := path.Join(s.prefix, FileName(run))

	if err := s.client.Put(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return "", apperrors.Wrapf(err, apperrors.ErrTypeNetwork, "failed to upload evaluation run to %s", s.bucket)
	}

	return "s3://" + s.bucket + "/" + key, nil
}

// FallbackSink tries the remote sink and writes locally when it is missing or fails
type FallbackSink struct {
	remote Sink
	local  Sink
	logger *logging.Logger
}

// NewFallbackSink builds a sink; remote may be nil
func NewFallbackSink(remote, local Sink, logger *logging.Logger) *FallbackSink {
	return &FallbackSink{remote: remote, local: local, logger: logging.OrNop(logger)}
}

func (s *FallbackSink) Write(ctx context.Context, run *Run) (string, error) {
	if s.remote != nil {
		location, err := s.remote.Write(ctx, run)
		if err == nil {
			return location, nil
		}

		s.logger.WithError(err).Warn("remote evaluation sink failed, writing locally")
	}

	return s.local.Write(ctx, run)
}

// NewSinkFromConfig returns the local sink, fronted by S3 when remote tracking is enabled
func NewSinkFromConfig(cfg *config.Config, logger *logging.Logger) Sink {
	logger = logging.OrNop(logger)
	local := NewLocalSink(cfg.Evaluation.OutputDir)

	if !cfg.Evaluation.Remote {
		return NewFallbackSink(nil, local, logger)
	}

	if !cfg.S3.Configured() {
		logger.Warn("remote evaluation tracking is enabled but s3 is not configured, writing locally")
		return NewFallbackSink(nil, local, logger)
	}

	client, err := schema.NewMinioClient(cfg.S3)
	if err != nil {
		logger.WithError(err).Warn("failed to create s3 client, writing locally")
		return NewFallbackSink(nil, local, logger)
	}

	return NewFallbackSink(NewS3Sink(client, cfg.S3.Bucket, cfg.Evaluation.S3Prefix), local, logger)
}
