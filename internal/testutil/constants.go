// Package testutil provides common constants, builders and mocks for tests
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// ShortTestTimeout is a shorter timeout for quick operations
	ShortTestTimeout = 5 * time.Second
)

// Common test strings
const (
	// TestSchemaName is the name of the schema returned by ShopSchema
	TestSchemaName = "shop"

	// TestDatabase is the database name paired with the shop schema
	TestDatabase = "shop"

	// TestQuestion is a question the shop schema can answer
	TestQuestion = "How many orders has each customer placed?"

	// TestQuery answers TestQuestion
	TestQuery = "SELECT c.name, COUNT(o.id) AS order_count FROM customers c JOIN orders o ON o.customer_id = c.id GROUP BY c.name"
)

// WideTableCount is the table count of WideSchema, above the default retrieval threshold
const WideTableCount = 12
