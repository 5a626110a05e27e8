package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/kyleking/askdb/internal/schema"
	"github.com/kyleking/askdb/internal/types"
)

// SchemaOption is a functional option for configuring test schemas
type SchemaOption func(*types.Schema)

// WithTable appends a table
func WithTable(name, description string, columns ...types.Column) SchemaOption {
	return func(s *types.Schema) {
		s.Tables = append(s.Tables, types.Table{Name: name, Description: description, Columns: columns})
	}
}

// WithRelationship appends a relationship
func WithRelationship(name, from, fromCol, to, toCol, kind string) SchemaOption {
	return func(s *types.Schema) {
		s.Relationships = append(s.Relationships, types.Relationship{
			Name: name, FromTable: from, FromColumn: fromCol, ToTable: to, ToColumn: toCol, Type: kind,
		})
	}
}

// NewSchema builds a schema and attaches its documentation chunks
func NewSchema(name string, opts ...SchemaOption) *types.Schema {
	s := &types.Schema{Name: name}

	for _, opt := range opts {
		opt(s)
	}

	s.Chunks = schema.BuildChunks(s)

	return s
}

// Col creates a column
func Col(name, typ string) types.Column {
	return types.Column{Name: name, Type: typ}
}

// PK creates a primary key column
func PK(name, typ string) types.Column {
	return types.Column{Name: name, Type: typ, PrimaryKey: true}
}

// FK creates a column referencing table.column
func FK(name, typ, table, column string) types.Column {
	return types.Column{Name: name, Type: typ, ForeignKey: &types.ForeignKey{Table: table, Column: column}}
}

// ShopSchema is a small customers/orders/products schema
func ShopSchema() *types.Schema {
	return NewSchema(TestSchemaName,
		WithTable("customers", "People who have registered an account",
			PK("id", "integer"), Col("name", "text"), Col("email", "text"), Col("country", "text")),
		WithTable("orders", "Purchases placed by customers",
			PK("id", "integer"), FK("customer_id", "integer", "customers", "id"),
			Col("total", "numeric"), Col("placed_at", "timestamp")),
		WithTable("products", "Items available for sale",
			PK("id", "integer"), Col("title", "text"), Col("price", "numeric")),
		WithRelationship("customer_orders", "orders", "customer_id", "customers", "id", "many-to-one"),
	)
}

// ShopSchemaJSON is ShopSchema as a schema document
func ShopSchemaJSON() string {
	data, err := json.Marshal(ShopSchema())
	if err != nil {
		panic(err)
	}

	return string(data)
}

// WideSchema has WideTableCount tables. Only invoices references another table
// (customers), so retrieval over "invoice" focuses on those two.
func WideSchema() *types.Schema {
	opts := []SchemaOption{
		WithTable("customers", "People who buy things", PK("id", "integer"), Col("name", "text")),
		WithTable("invoices", "Billing invoice issued to a customer",
			PK("id", "integer"), FK("customer_id", "integer", "customers", "id"), Col("amount", "numeric")),
	}

	for i := len(opts); i < WideTableCount; i++ {
		opts = append(opts, WithTable(
			fmt.Sprintf("sensor_%02d", i),
			fmt.Sprintf("Telemetry readings from station %d", i),
			PK("id", "integer"), Col("reading", "double"),
		))
	}

	return NewSchema("wide", opts...)
}

// GenerationJSON renders a generator reply
func GenerationJSON(query, confidence string, tables ...string) string {
	return mustJSON(map[string]any{
		"query":       query,
		"explanation": "test explanation",
		"confidence":  confidence,
		"tablesUsed":  nonNil(tables),
		"assumptions": []string{},
	})
}

// ValidationJSON renders a semantic validator reply
func ValidationJSON(syntaxValid, schemaValid bool, complexity string, errs ...string) string {
	return mustJSON(map[string]any{
		"syntaxValid":     syntaxValid,
		"schemaValid":     schemaValid,
		"complexityScore": complexity,
		"errors":          nonNil(errs),
		"warnings":        []string{},
		"suggestions":     []string{},
	})
}

// RefinementJSON renders a refiner reply
func RefinementJSON(query, changes, confidence string, tables ...string) string {
	return mustJSON(map[string]any{
		"query":       query,
		"changes":     changes,
		"confidence":  confidence,
		"explanation": "refined",
		"tablesUsed":  nonNil(tables),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return string(data)
}
