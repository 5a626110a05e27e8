package schema

import (
	"fmt"
	"strings"

	"github.com/kyleking/askdb/internal/types"
)

// BuildChunks produces the retrievable documentation for a schema: one chunk per
// table, one per column and one per relationship, in declaration order.
func BuildChunks(schema *types.Schema) []types.DocumentationChunk {
	var chunks []types.DocumentationChunk

	for _, table := range schema.Tables {
		chunks = append(chunks, types.DocumentationChunk{
			Table:     table.Name,
			ChunkType: types.ChunkTable,
			Content:   tableDoc(table),
		})

		for _, col := range table.Columns {
			chunks = append(chunks, types.DocumentationChunk{
				Table:     table.Name,
				Column:    col.Name,
				ChunkType: types.ChunkColumn,
				Content:   columnDoc(table.Name, col),
			})
		}
	}

	for _, rel := range schema.Relationships {
		chunks = append(chunks, types.DocumentationChunk{
			Table:     rel.FromTable,
			ChunkType: types.ChunkRelationship,
			Content:   relationshipDoc(rel),
		})
	}

	return chunks
}

func tableDoc(table types.Table) string {
	names := make([]string, 0, len(table.Columns))
	for _, c := range table.Columns {
		names = append(names, c.Name)
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "Table %s", table.Name)

	if table.Description != "" {
		fmt.Fprintf(&sb, ": %s", strings.TrimSpace(table.Description))
	}

	fmt.Fprintf(&sb, ". Columns: %s.", strings.Join(names, ", "))

	return sb.String()
}

func columnDoc(table string, col types.Column) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Column %s.%s (%s)", table, col.Name, col.Type)

	if col.Description != "" {
		fmt.Fprintf(&sb, ": %s", strings.TrimSpace(col.Description))
	}

	if col.ForeignKey != nil {
		fmt.Fprintf(&sb, ". References %s.%s", col.ForeignKey.Table, col.ForeignKey.Column)
	}

	return sb.String()
}

func relationshipDoc(rel types.Relationship) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Relationship %s: %s.%s -> %s.%s (%s)",
		rel.Name, rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn, rel.Type)

	if rel.Description != "" {
		fmt.Fprintf(&sb, ". %s", strings.TrimSpace(rel.Description))
	}

	return sb.String()
}
