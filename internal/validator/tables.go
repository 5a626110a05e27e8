package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kyleking/askdb/internal/types"
)

var (
	// FROM/JOIN followed by a (possibly qualified or quoted) name; a trailing "(" marks a table function
	tableRefPattern = regexp.MustCompile(`(?i)\b(?:from|join)\s+("[^"]+"|[A-Za-z_][\w$]*(?:\.[A-Za-z_][\w$]*)*)(\s*\()?`)

	cteNamePattern = regexp.MustCompile(`(?i)(?:\bwith\s+(?:recursive\s+)?|,\s*)([A-Za-z_]\w*)\s*(?:\([^)]*\)\s*)?as\s*(?:(?:not\s+)?materialized\s+)?\(`)
)

// ReferencedTables returns the relation names read in FROM and JOIN clauses,
// excluding table functions, lowercased and unqualified
func ReferencedTables(query string) []string {
	seen := make(map[string]bool)

	var out []string

	for _, m := range tableRefPattern.FindAllStringSubmatch(query, -1) {
		if strings.TrimSpace(m[2]) != "" {
			continue
		}

		name := strings.Trim(m[1], `"`)
		if i := strings.LastIndexByte(name, '.'); i >= 0 && !strings.HasPrefix(m[1], `"`) {
			name = name[i+1:]
		}

		name = strings.ToLower(name)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	return out
}

// CTENames returns the lowercased names defined by WITH clauses
func CTENames(query string) map[string]bool {
	names := make(map[string]bool)

	for _, m := range cteNamePattern.FindAllStringSubmatch(query, -1) {
		names[strings.ToLower(m[1])] = true
	}

	return names
}

// UnknownTables reports referenced relations that are neither schema tables nor CTEs.
// Names that match a schema column are skipped, since FROM also appears in
// expressions such as EXTRACT(YEAR FROM placed_at).
func UnknownTables(query string, schema *types.Schema) []string {
	if schema == nil {
		return nil
	}

	ctes := CTENames(query)
	columns := make(map[string]bool)

	for _, t := range schema.Tables {
		for _, c := range t.Columns {
			columns[strings.ToLower(c.Name)] = true
		}
	}

	var problems []string

	for _, name := range ReferencedTables(query) {
		if ctes[name] || columns[name] || schema.HasTable(name) {
			continue
		}

		problems = append(problems, fmt.Sprintf("unknown table: %s", name))
	}

	return problems
}
