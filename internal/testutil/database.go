package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite" // SQLite driver
)

// ShopSeed creates and fills the tables of ShopSchema
var ShopSeed = []string{
	"CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT, country TEXT)",
	"CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers(id), total NUMERIC, placed_at TIMESTAMP)",
	"CREATE TABLE products (id INTEGER PRIMARY KEY, title TEXT, price NUMERIC)",
	`INSERT INTO customers (id, name, email, country) VALUES
		(1, 'Ada', 'ada@example.com', 'UK'),
		(2, 'Grace', 'grace@example.com', 'US'),
		(3, 'Linus', NULL, 'FI')`,
	`INSERT INTO orders (id, customer_id, total, placed_at) VALUES
		(1, 1, 20.5, '2024-01-03 10:00:00'),
		(2, 1, 12.0, '2024-02-11 09:30:00'),
		(3, 2, 99.9, '2024-02-12 17:45:00')`,
	"INSERT INTO products (id, title, price) VALUES (1, 'Notebook', 4.5), (2, 'Pen', 1.25)",
}

// SeedSQLite creates dir/<name>.db with a writable connection, runs stmts and returns dir
func SeedSQLite(t *testing.T, dir, name string, stmts ...string) string {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(dir, name+".db"))
	if err != nil {
		t.Fatalf("open seed database: %v", err)
	}

	defer db.Close()

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}

	return dir
}
