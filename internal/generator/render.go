package generator

import (
	"fmt"
	"strings"

	"github.com/kyleking/askdb/internal/types"
)

// RenderSchema renders every table and relationship of a schema as prompt text
func RenderSchema(schema *types.Schema) string {
	return renderTables(schema, nil)
}

// RenderFocused renders only the named tables, the relationships among them and the
// retrieved documentation they were selected from
func RenderFocused(schema *types.Schema, tables []string, chunks []types.ScoredChunk) string {
	include := make(map[string]bool, len(tables))
	for _, t := range tables {
		include[strings.ToLower(t)] = true
	}

	var sb strings.Builder

	sb.WriteString(renderTables(schema, include))

	if len(chunks) > 0 {
		sb.WriteString("\nRelevant documentation:\n")

		for _, c := range chunks {
			fmt.Fprintf(&sb, "- %s\n", c.Chunk.Content)
		}
	}

	return sb.String()
}

// renderTables renders the tables in include, or all tables when include is nil
func renderTables(schema *types.Schema, include map[string]bool) string {
	keep := func(name string) bool {
		return include == nil || include[strings.ToLower(name)]
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "Schema: %s\n", schema.Name)

	if schema.Description != "" {
		sb.WriteString(schema.Description + "\n")
	}

	for _, table := range schema.Tables {
		if !keep(table.Name) {
			continue
		}

		sb.WriteString("\n")
		sb.WriteString("Table: " + table.Name)

		if table.Description != "" {
			sb.WriteString(" -- " + table.Description)
		}

		sb.WriteString("\nColumns:\n")

		for _, col := range table.Columns {
			sb.WriteString("  - " + renderColumn(col) + "\n")
		}
	}

	var rels []string

	for _, rel := range schema.Relationships {
		if !keep(rel.FromTable) || !keep(rel.ToTable) {
			continue
		}

		line := fmt.Sprintf("  - %s: %s.%s -> %s.%s (%s)",
			rel.Name, rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn, rel.Type)
		if rel.Description != "" {
			line += " " + rel.Description
		}

		rels = append(rels, line)
	}

	if len(rels) > 0 {
		sb.WriteString("\nRelationships:\n")
		sb.WriteString(strings.Join(rels, "\n"))
		sb.WriteString("\n")
	}

	return sb.String()
}

func renderColumn(col types.Column) string {
	parts := []string{col.Name, col.Type}

	if col.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}

	if col.Unique {
		parts = append(parts, "UNIQUE")
	}

	if !col.IsNullable() {
		parts = append(parts, "NOT NULL")
	}

	if col.Default != nil {
		parts = append(parts, fmt.Sprintf("DEFAULT %v", col.Default))
	}

	if col.ForeignKey != nil {
		parts = append(parts, fmt.Sprintf("REFERENCES %s(%s)", col.ForeignKey.Table, col.ForeignKey.Column))
	}

	line := strings.Join(parts, " ")

	if col.Description != "" {
		line += " -- " + col.Description
	}

	return line
}

// FocusTables returns the tables named by the retrieved chunks plus every table one
// forward foreign-key hop away, in schema declaration order
func FocusTables(schema *types.Schema, chunks []types.ScoredChunk) []string {
	selected := make(map[string]bool)

	for _, c := range chunks {
		if t, ok := schema.Table(c.Chunk.Table); ok {
			selected[strings.ToLower(t.Name)] = true
		}
	}

	hop := make(map[string]bool)

	for _, table := range schema.Tables {
		if !selected[strings.ToLower(table.Name)] {
			continue
		}

		for _, col := range table.Columns {
			if col.ForeignKey != nil {
				hop[strings.ToLower(col.ForeignKey.Table)] = true
			}
		}
	}

	for _, rel := range schema.Relationships {
		if selected[strings.ToLower(rel.FromTable)] {
			hop[strings.ToLower(rel.ToTable)] = true
		}
	}

	for t := range hop {
		selected[t] = true
	}

	var out []string

	for _, table := range schema.Tables {
		if selected[strings.ToLower(table.Name)] {
			out = append(out, table.Name)
		}
	}

	return out
}
