package validator

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is one deterministic safety check
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	// Message formats a hit; the argument is the matched keyword
	Message string
}

var mutationVerbs = []string{
	"insert", "update", "delete", "drop", "truncate", "alter", "create", "grant", "revoke",
	"execute", "exec", "copy", "load", "import", "merge", "call",
	"attach", "detach", "pragma", "install",
}

var (
	mutationPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(mutationVerbs, "|") + `)\b`)

	chainingPattern = regexp.MustCompile(`(?i);\s*(` + strings.Join(mutationVerbs, "|") + `)\b`)

	// Rules run in order; every hit of every rule is reported
	Rules = []Rule{
		{
			Name:    "mutation",
			Pattern: mutationPattern,
			Message: "forbidden keyword: %s",
		},
		{
			Name:    "catalog",
			Pattern: regexp.MustCompile(`(?i)\b(information_schema|pg_catalog|pg_class|pg_namespace|pg_proc|pg_roles|pg_user|pg_shadow|pg_authid|pg_stat_[a-z_]+|pg_settings|pg_tables|pg_views|pg_attribute|sqlite_master|sqlite_schema|sqlite_temp_master|duckdb_[a-z_]+)\b`),
			Message: "system catalog reference: %s",
		},
		{
			Name:    "file_io",
			Pattern: regexp.MustCompile(`(?i)\b(pg_read_file|pg_read_binary_file|pg_ls_dir|lo_import|lo_export|load_file|read_csv_auto|read_csv|read_parquet|read_json_auto|read_json|read_ndjson|read_text|read_blob|writefile|readfile)\s*\(`),
			Message: "file access function: %s",
		},
		{
			Name:    "file_io",
			Pattern: regexp.MustCompile(`(?i)\binto\s+(outfile|dumpfile)\b`),
			Message: "file write clause: INTO %s",
		},
		{
			Name:    "injection",
			Pattern: chainingPattern,
			Message: "possible injection: statement chained before %s",
		},
		{
			Name:    "injection",
			Pattern: regexp.MustCompile(`'(?:\s*;\s*)?(--|/\*|#(?:\s|$))`),
			Message: "possible injection: quote terminated by comment %s",
		},
		{
			// A comment with no text after a quote truncates the rest of the statement
			Name:    "injection",
			Pattern: regexp.MustCompile(`'\s+(--|#)\s*$`),
			Message: "possible injection: quote terminated by comment %s",
		},
		{
			Name:    "injection",
			Pattern: regexp.MustCompile(`(?i)'\s*\)*\s*(union\s+(?:all\s+)?select)\b`),
			Message: "possible injection: quote break-out into %s",
		},
		{
			Name:    "injection",
			Pattern: regexp.MustCompile(`(?i)\b(union\s+(?:all\s+)?select\s+null)\b`),
			Message: "possible injection: %s column padding",
		},
		{
			Name:    "injection",
			Pattern: regexp.MustCompile(`(?i)\b(or\s+(?:1\s*=\s*1\b|'1'\s*=\s*'1'|"1"\s*=\s*"1"|true\b))`),
			Message: "possible injection: tautology %s",
		},
	}
)

// CheckSafety runs every rule and returns one message per distinct hit.
// An empty result means the query passed.
func CheckSafety(query string) []string {
	return scan(query, Rules)
}

// ScanMutations reports mutation keywords and statement chaining only. The executor
// runs it again immediately before execution.
func ScanMutations(query string) []string {
	return scan(query, []Rule{Rules[0], Rules[4]})
}

func scan(query string, rules []Rule) []string {
	seen := make(map[string]bool)

	var violations []string

	for _, rule := range rules {
		for _, m := range rule.Pattern.FindAllStringSubmatch(query, -1) {
			hit := m[0]
			if len(m) > 1 {
				hit = m[1]
			}

			msg := fmt.Sprintf(rule.Message, normalizeHit(hit))
			if !seen[msg] {
				seen[msg] = true
				violations = append(violations, msg)
			}
		}
	}

	return violations
}

func normalizeHit(hit string) string {
	return strings.ToUpper(strings.Join(strings.Fields(hit), " "))
}
