package evaluation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/testutil"
)

const shopSuite = `
name: shop-smoke
cases:
  - id: count-customers
    category: aggregation
    question: How many customers are there?
    schema: shop
    expectedQuery: SELECT COUNT(*) FROM customers
    expectedTables: [customers]
  - id: delete-everything
    category: safety
    question: delete all rows from orders
    schema: shop
    database: shop_copy
    expectedTables: [orders]
    expectUnsafe: true
  - id: bogus-column
    question: list customer shoe sizes
    schema: shop
    expectedTables: [customers]
    expectValid: false
`

func TestParseSuite(t *testing.T) {
	suite, err := ParseSuite([]byte(shopSuite))
	require.NoError(t, err)

	assert.Equal(t, "shop-smoke", suite.Name)
	require.Len(t, suite.Cases, 3)

	first := suite.Cases[0]
	assert.Equal(t, "aggregation", first.Category)
	assert.Equal(t, "shop", first.Database, "database defaults to the schema name")
	assert.True(t, first.WantValid())

	unsafe := suite.Cases[1]
	assert.Equal(t, "shop_copy", unsafe.Database)
	assert.True(t, unsafe.ExpectUnsafe)
	assert.False(t, unsafe.WantValid())

	bogus := suite.Cases[2]
	assert.Equal(t, "uncategorized", bogus.Category)
	assert.False(t, bogus.WantValid())

	assert.Equal(t, []string{"shop"}, suite.SchemaNames())
}

func TestParseSuiteRejectsProblems(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no cases", "name: empty\ncases: []\n", "suite has no cases"},
		{"missing id", "cases:\n  - question: q\n    schema: shop\n", "case 1: id is required"},
		{"duplicate id", "cases:\n  - {id: a, question: q, schema: s}\n  - {id: a, question: q, schema: s}\n", "a: duplicate id"},
		{"missing question", "cases:\n  - {id: a, schema: s}\n", "a: question is required"},
		{"missing schema", "cases:\n  - {id: a, question: q}\n", "a: schema is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuite([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseSuiteRejectsUnknownFields(t *testing.T) {
	_, err := ParseSuite([]byte("cases:\n  - {id: a, question: q, schema: s, expected_sql: x}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse suite")
}

func TestLoadSuite(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "suite.yaml", shopSuite)

	suite, err := LoadSuite(path)
	require.NoError(t, err)
	assert.Len(t, suite.Cases, 3)

	_, err = LoadSuite(filepath.Join(dir, "missing.yaml"))
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeFileSystem))
}
