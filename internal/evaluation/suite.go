// Package evaluation scores pipeline runs against a suite of test cases and
// summarizes them, including how well the model's confidence is calibrated.
package evaluation

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/kyleking/askdb/internal/errors"
)

// TestCase is one question with its expected behavior
type TestCase struct {
	ID             string   `yaml:"id"                      json:"id"`
	Category       string   `yaml:"category"                json:"category"`
	Question       string   `yaml:"question"                json:"question"`
	Schema         string   `yaml:"schema"                  json:"schema"`
	Database       string   `yaml:"database,omitempty"      json:"database,omitempty"`
	ExpectedQuery  string   `yaml:"expectedQuery,omitempty" json:"expectedQuery,omitempty"`
	ExpectedTables []string `yaml:"expectedTables"          json:"expectedTables"`
	// ExpectUnsafe marks questions whose only faithful answer would mutate data
	ExpectUnsafe bool `yaml:"expectUnsafe" json:"expectUnsafe"`
	// ExpectValid defaults to !ExpectUnsafe
	ExpectValid *bool `yaml:"expectValid,omitempty" json:"expectValid,omitempty"`
}

// WantValid is the validator verdict the case expects
func (tc TestCase) WantValid() bool {
	if tc.ExpectValid != nil {
		return *tc.ExpectValid
	}

	return !tc.ExpectUnsafe
}

// Suite is a named list of test cases
type Suite struct {
	Name  string     `yaml:"name"  json:"name"`
	Cases []TestCase `yaml:"cases" json:"cases"`
}

// LoadSuite reads a YAML suite file
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrTypeFileSystem, "failed to read suite %s", path)
	}

	return ParseSuite(data)
}

// ParseSuite decodes a suite and checks every case. Unknown fields are rejected.
func ParseSuite(data []byte) (*Suite, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var suite Suite
	if err := dec.Decode(&suite); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeValidation, "failed to parse suite")
	}

	if problems := suite.validate(); len(problems) > 0 {
		err := apperrors.New(apperrors.ErrTypeValidation, "invalid suite")
		err.Details = problems

		return nil, err
	}

	if suite.Name == "" {
		suite.Name = "default"
	}

	for i := range suite.Cases {
		if suite.Cases[i].Category == "" {
			suite.Cases[i].Category = "uncategorized"
		}

		if suite.Cases[i].Database == "" {
			suite.Cases[i].Database = suite.Cases[i].Schema
		}
	}

	return &suite, nil
}

func (s *Suite) validate() []string {
	if len(s.Cases) == 0 {
		return []string{"suite has no cases"}
	}

	var problems []string

	seen := make(map[string]bool, len(s.Cases))

	for i, tc := range s.Cases {
		label := tc.ID
		if label == "" {
			label = fmt.Sprintf("case %d", i+1)
			problems = append(problems, label+": id is required")
		} else if seen[tc.ID] {
			problems = append(problems, fmt.Sprintf("%s: duplicate id", label))
		}

		seen[tc.ID] = true

		if strings.TrimSpace(tc.Question) == "" {
			problems = append(problems, label+": question is required")
		}

		if strings.TrimSpace(tc.Schema) == "" {
			problems = append(problems, label+": schema is required")
		}
	}

	return problems
}

// SchemaNames returns the distinct schemas the suite references, in first-use order
func (s *Suite) SchemaNames() []string {
	var names []string

	seen := make(map[string]bool)

	for _, tc := range s.Cases {
		if !seen[tc.Schema] {
			seen[tc.Schema] = true
			names = append(names, tc.Schema)
		}
	}

	return names
}
