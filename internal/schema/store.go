package schema

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrSchemaNotFound is returned by a Store when no document exists for a name
var ErrSchemaNotFound = errors.New("schema not found")

// Format is the encoding of a schema document
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Document is a raw schema definition fetched from a store
type Document struct {
	Name   string
	Format Format
	Data   []byte
	Source string
}

// Store resolves schema names to raw documents
type Store interface {
	Fetch(ctx context.Context, name string) (Document, error)
	List(ctx context.Context) ([]string, error)
}

var schemaNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateName rejects names that could escape the store's namespace
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("schema name is required")
	}

	if !schemaNamePattern.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid schema name %q: use letters, digits, '.', '_' or '-'", name)
	}

	return nil
}

// extensions are tried in order; the first existing document wins
var extensions = []struct {
	ext    string
	format Format
}{
	{".json", FormatJSON},
	{".yaml", FormatYAML},
	{".yml", FormatYAML},
}

func formatForKey(key string) (Format, bool) {
	for _, e := range extensions {
		if strings.HasSuffix(key, e.ext) {
			return e.format, true
		}
	}

	return "", false
}

// DirStore reads schema documents from a local directory
type DirStore struct {
	dir string
}

// NewDirStore creates a store over dir; the directory is not required to exist yet
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Fetch reads <dir>/<name>.json, .yaml or .yml
func (s *DirStore) Fetch(ctx context.Context, name string) (Document, error) {
	if err := ValidateName(name); err != nil {
		return Document{}, err
	}

	for _, e := range extensions {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}

		path := filepath.Join(s.dir, name+e.ext)

		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err != nil {
			return Document{}, fmt.Errorf("read schema %q: %w", path, err)
		}

		return Document{Name: name, Format: e.format, Data: data, Source: path}, nil
	}

	return Document{}, ErrSchemaNotFound
}

// List returns the schema names available in the directory
func (s *DirStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("list schemas in %q: %w", s.dir, err)
	}

	return uniqueNames(entries, func(e os.DirEntry) (string, bool) {
		return e.Name(), !e.IsDir()
	}), nil
}

func uniqueNames[T any](items []T, key func(T) (string, bool)) []string {
	seen := make(map[string]bool)

	var names []string

	for _, item := range items {
		k, ok := key(item)
		if !ok {
			continue
		}

		if _, known := formatForKey(k); !known {
			continue
		}

		name := strings.TrimSuffix(k, filepath.Ext(k))
		if seen[name] || ValidateName(name) != nil {
			continue
		}

		seen[name] = true
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
