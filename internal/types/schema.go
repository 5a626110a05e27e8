package types

import "strings"

// Schema is the structural description of the tables a question may be answered from.
// A loaded Schema is never mutated; reloading produces a new value.
type Schema struct {
	Name          string         `json:"name"                    yaml:"name"`
	Description   string         `json:"description,omitempty"   yaml:"description,omitempty"`
	Tables        []Table        `json:"tables"                  yaml:"tables"`
	Relationships []Relationship `json:"relationships,omitempty" yaml:"relationships,omitempty"`

	// Chunks is filled by the loader and is not part of the document
	Chunks []DocumentationChunk `json:"-" yaml:"-"`
}

// Table represents a database table
type Table struct {
	Name        string   `json:"name"                  yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Columns     []Column `json:"columns"               yaml:"columns"`
}

// Column represents a database column
type Column struct {
	Name        string      `json:"name"                  yaml:"name"`
	Type        string      `json:"type"                  yaml:"type"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	PrimaryKey  bool        `json:"primaryKey,omitempty"  yaml:"primaryKey,omitempty"`
	Unique      bool        `json:"unique,omitempty"      yaml:"unique,omitempty"`
	Nullable    *bool       `json:"nullable,omitempty"    yaml:"nullable,omitempty"`
	Default     any         `json:"default,omitempty"     yaml:"default,omitempty"`
	ForeignKey  *ForeignKey `json:"foreignKey,omitempty"  yaml:"foreignKey,omitempty"`
}

// ForeignKey points a column at another table's column
type ForeignKey struct {
	Table  string `json:"table"  yaml:"table"`
	Column string `json:"column" yaml:"column"`
}

// Relationship documents a join path between two tables
type Relationship struct {
	Name        string `json:"name"                  yaml:"name"`
	FromTable   string `json:"fromTable"             yaml:"fromTable"`
	FromColumn  string `json:"fromColumn"            yaml:"fromColumn"`
	ToTable     string `json:"toTable"               yaml:"toTable"`
	ToColumn    string `json:"toColumn"              yaml:"toColumn"`
	Type        string `json:"type"                  yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ChunkType classifies a documentation chunk
type ChunkType string

const (
	ChunkTable        ChunkType = "table"
	ChunkColumn       ChunkType = "column"
	ChunkRelationship ChunkType = "relationship"
)

// DocumentationChunk is one retrievable piece of schema documentation
type DocumentationChunk struct {
	Table     string    `json:"table"`
	Column    string    `json:"column,omitempty"`
	ChunkType ChunkType `json:"chunkType"`
	Content   string    `json:"content"`
}

// ScoredChunk pairs a chunk with its relevance for one retrieval call
type ScoredChunk struct {
	Chunk DocumentationChunk `json:"chunk"`
	Score float64            `json:"score"`
}

// Table returns the table with the given name, compared case-insensitively
func (s *Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}

	return Table{}, false
}

// HasTable reports whether the schema declares the table
func (s *Schema) HasTable(name string) bool {
	_, ok := s.Table(name)
	return ok
}

// TableNames returns table names in declaration order
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}

	return names
}

// Column returns the column with the given name, compared case-insensitively
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}

	return Column{}, false
}

// IsNullable reports the declared nullability; undeclared columns are nullable
func (c Column) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}
