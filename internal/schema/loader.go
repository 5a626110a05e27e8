package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/types"
)

// LoadStatus is the outcome of a load attempt
type LoadStatus string

const (
	StatusValid   LoadStatus = "valid"
	StatusInvalid LoadStatus = "invalid"
)

// LoadResult never exposes a partially valid schema: Schema is nil unless Status is valid
type LoadResult struct {
	Status LoadStatus    `json:"status"`
	Name   string        `json:"name"`
	Schema *types.Schema `json:"schema,omitempty"`
	Errors []string      `json:"errors,omitempty"`
}

// Valid reports whether the schema loaded
func (r LoadResult) Valid() bool {
	return r.Status == StatusValid
}

// Err converts an invalid result into a load error
func (r LoadResult) Err() error {
	if r.Valid() {
		return nil
	}

	return apperrors.NewLoadError(r.Name, r.Errors)
}

// Schemas describe structure only; a definition mentioning these is rejected outright
var mutationKeywordPattern = regexp.MustCompile(`(?i)\b(trigger|procedure|drop|insert|update|delete|truncate)\b`)

// allowedTypes is matched after lowercasing and removing any (precision) suffix
var allowedTypes = map[string]bool{
	// integer
	"integer": true, "int": true, "int2": true, "int4": true, "int8": true,
	"smallint": true, "bigint": true, "tinyint": true, "hugeint": true,
	"serial": true, "bigserial": true, "smallserial": true,
	// text
	"text": true, "varchar": true, "char": true, "character": true,
	"character varying": true, "string": true, "citext": true,
	// boolean
	"boolean": true, "bool": true,
	// date/time
	"date": true, "time": true, "timestamp": true, "timestamptz": true, "datetime": true,
	"timestamp with time zone": true, "timestamp without time zone": true,
	"time with time zone": true, "interval": true,
	// json
	"json": true, "jsonb": true,
	// uuid
	"uuid": true,
	// binary
	"blob": true, "bytea": true, "binary": true, "varbinary": true,
	// numeric
	"numeric": true, "decimal": true, "real": true, "float": true, "float4": true,
	"float8": true, "double": true, "double precision": true, "money": true,
}

var typeParamsPattern = regexp.MustCompile(`\s*\([^)]*\)`)

// NormalizeType lowercases a declared type and drops precision or length parameters
func NormalizeType(declared string) string {
	t := typeParamsPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(declared)), "")
	return strings.Join(strings.Fields(t), " ")
}

// IsAllowedType reports whether a declared column type is on the allow-list
func IsAllowedType(declared string) bool {
	return allowedTypes[NormalizeType(declared)]
}

// Loader resolves schema names on a Store and validates the definitions
type Loader struct {
	store  Store
	logger *logging.Logger
}

// NewLoader creates a loader over store
func NewLoader(store Store, logger *logging.Logger) *Loader {
	return &Loader{store: store, logger: logging.OrNop(logger).WithField("component", "schema")}
}

// Load fetches, parses and validates the named schema. Every failure, including a
// missing document, is reported through the result rather than as an error.
func (l *Loader) Load(ctx context.Context, name string) LoadResult {
	result := LoadResult{Status: StatusInvalid, Name: name}

	if err := ValidateName(name); err != nil {
		result.Errors = []string{err.Error()}
		return result
	}

	doc, err := l.store.Fetch(ctx, name)
	if err != nil {
		if errors.Is(err, ErrSchemaNotFound) {
			result.Errors = []string{fmt.Sprintf("schema not found: %s", name)}
		} else {
			result.Errors = []string{fmt.Sprintf("failed to read schema %s: %v", name, err)}
		}

		l.logger.WithField("schema", name).Warnf("schema load failed: %s", result.Errors[0])

		return result
	}

	schema, problems := Parse(doc)
	if len(problems) > 0 {
		result.Errors = problems
		l.logger.WithFields(map[string]interface{}{
			"schema":   name,
			"problems": len(problems),
		}).Warn("schema rejected")

		return result
	}

	schema.Chunks = BuildChunks(schema)

	l.logger.WithFields(map[string]interface{}{
		"schema": name,
		"tables": len(schema.Tables),
		"chunks": len(schema.Chunks),
	}).Debug("schema loaded")

	result.Status = StatusValid
	result.Schema = schema

	return result
}

// Parse decodes and validates a raw document, returning every problem found
func Parse(doc Document) (*types.Schema, []string) {
	var problems []string

	for _, kw := range uniqueMatches(mutationKeywordPattern, doc.Data) {
		problems = append(problems, fmt.Sprintf("definition contains mutation keyword %q", kw))
	}

	schema := &types.Schema{}

	var err error

	switch doc.Format {
	case FormatYAML:
		err = yaml.Unmarshal(doc.Data, schema)
	default:
		dec := json.NewDecoder(bytes.NewReader(doc.Data))
		err = dec.Decode(schema)
	}

	if err != nil {
		return nil, append(problems, fmt.Sprintf("failed to parse %s document: %v", doc.Format, err))
	}

	problems = append(problems, Validate(schema)...)
	if len(problems) > 0 {
		return nil, problems
	}

	return schema, nil
}

// Validate checks the structural rules a schema must satisfy
func Validate(schema *types.Schema) []string {
	var problems []string

	if strings.TrimSpace(schema.Name) == "" {
		problems = append(problems, "schema name is missing")
	}

	if len(schema.Tables) == 0 {
		problems = append(problems, "schema must declare at least one table")
	}

	tables := make(map[string]types.Table)

	for i, table := range schema.Tables {
		label := strings.TrimSpace(table.Name)
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
			problems = append(problems, fmt.Sprintf("table %s has no name", label))
		}

		key := strings.ToLower(label)
		if _, dup := tables[key]; dup {
			problems = append(problems, fmt.Sprintf("duplicate table %q", table.Name))
		}

		tables[key] = table

		if len(table.Columns) == 0 {
			problems = append(problems, fmt.Sprintf("table %s has no columns", label))
		}

		seen := make(map[string]bool)

		for j, col := range table.Columns {
			colLabel := strings.TrimSpace(col.Name)
			if colLabel == "" {
				colLabel = fmt.Sprintf("#%d", j+1)
				problems = append(problems, fmt.Sprintf("column %s.%s has no name", label, colLabel))
			} else if seen[strings.ToLower(colLabel)] {
				problems = append(problems, fmt.Sprintf("duplicate column %s.%s", label, colLabel))
			}

			seen[strings.ToLower(colLabel)] = true

			switch {
			case strings.TrimSpace(col.Type) == "":
				problems = append(problems, fmt.Sprintf("column %s.%s has no type", label, colLabel))
			case !IsAllowedType(col.Type):
				problems = append(problems, fmt.Sprintf("column %s.%s has unsupported type %q", label, colLabel, col.Type))
			}
		}
	}

	for _, table := range schema.Tables {
		for _, col := range table.Columns {
			if col.ForeignKey == nil {
				continue
			}

			if !columnExists(tables, col.ForeignKey.Table, col.ForeignKey.Column) {
				problems = append(problems, fmt.Sprintf(
					"column %s.%s references unknown column %s.%s",
					table.Name, col.Name, col.ForeignKey.Table, col.ForeignKey.Column,
				))
			}
		}
	}

	for _, rel := range schema.Relationships {
		if !columnExists(tables, rel.FromTable, rel.FromColumn) {
			problems = append(problems, fmt.Sprintf(
				"relationship %s references unknown column %s.%s", rel.Name, rel.FromTable, rel.FromColumn,
			))
		}

		if !columnExists(tables, rel.ToTable, rel.ToColumn) {
			problems = append(problems, fmt.Sprintf(
				"relationship %s references unknown column %s.%s", rel.Name, rel.ToTable, rel.ToColumn,
			))
		}
	}

	return problems
}

func columnExists(tables map[string]types.Table, table, column string) bool {
	t, ok := tables[strings.ToLower(strings.TrimSpace(table))]
	if !ok {
		return false
	}

	_, ok = t.Column(column)

	return ok
}

func uniqueMatches(pattern *regexp.Regexp, data []byte) []string {
	seen := make(map[string]bool)

	var out []string

	for _, m := range pattern.FindAll(data, -1) {
		kw := strings.ToLower(string(m))
		if !seen[kw] {
			seen[kw] = true
			out = append(out, kw)
		}
	}

	return out
}
