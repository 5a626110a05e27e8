package executor

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/storage"
	"github.com/kyleking/askdb/internal/testutil"
	"github.com/kyleking/askdb/internal/types"
)

type storeOpener struct {
	store *storage.Store
	err   error
	calls int
}

func (o *storeOpener) Open(context.Context, string) (*storage.Store, error) {
	o.calls++
	return o.store, o.err
}

type panickingOpener struct{}

func (panickingOpener) Open(context.Context, string) (*storage.Store, error) {
	panic("driver exploded")
}

var passed = &types.ValidationResult{IsValid: true, SafetyValid: true, SyntaxValid: true, SchemaValid: true, Stage: types.StageValid}

func newMockExecutor(t *testing.T, opts Options) (*Executor, sqlmock.Sqlmock, *storeOpener) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	opener := &storeOpener{store: storage.NewStore(db, storage.DriverSQLite, testutil.TestDatabase, opts.Timeout)}

	return New(opener, opts, nil), mock, opener
}

func TestExecuteRefusesUnvalidatedQueries(t *testing.T) {
	exec, mock, opener := newMockExecutor(t, Options{})

	for _, validation := range []*types.ValidationResult{nil, {IsValid: false, Stage: types.StageSemanticRejected}} {
		result := exec.Execute(testutil.Context(t), testutil.TestDatabase, "SELECT 1", validation)

		assert.False(t, result.Success)
		assert.Equal(t, "query has not passed validation", result.Error)
	}

	assert.Zero(t, opener.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRescansForMutations(t *testing.T) {
	exec, mock, opener := newMockExecutor(t, Options{})

	// A validator bypass still cannot reach the store
	result := exec.Execute(testutil.Context(t), testutil.TestDatabase, "DELETE FROM orders", passed)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "forbidden keyword: DELETE")
	assert.Zero(t, opener.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRejectsMultipleStatements(t *testing.T) {
	exec, _, opener := newMockExecutor(t, Options{})

	result := exec.Execute(testutil.Context(t), testutil.TestDatabase, "SELECT 1; SELECT 2", passed)

	assert.False(t, result.Success)
	assert.Equal(t, "multiple statements are not allowed", result.Error)
	assert.Zero(t, opener.calls)
}

func TestExecuteCapsRows(t *testing.T) {
	tests := []struct {
		name          string
		rows          int
		wantKept      int
		wantTruncated bool
	}{
		{name: "under cap", rows: 1, wantKept: 1},
		{name: "at cap", rows: 2, wantKept: 2},
		{name: "over cap", rows: 3, wantKept: 2, wantTruncated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, mock, _ := newMockExecutor(t, Options{MaxRows: 2, Timeout: time.Second})

			rows := sqlmock.NewRows([]string{"id", "name"})
			for i := 1; i <= tt.rows; i++ {
				rows.AddRow(int64(i), []byte("customer"))
			}

			mock.ExpectPrepare(regexp.QuoteMeta("SELECT id, name FROM customers")).ExpectQuery().WillReturnRows(rows)

			result := exec.Execute(testutil.Context(t), testutil.TestDatabase, "SELECT id, name FROM customers;", passed)

			require.True(t, result.Success, result.Error)
			assert.Equal(t, tt.rows, result.RowCount)
			assert.Len(t, result.Data, tt.wantKept)
			assert.Equal(t, tt.wantTruncated, result.Truncated)
			assert.Equal(t, []string{"id", "name"}, result.Columns)
			assert.Equal(t, "customer", result.Data[0][1], "byte slices are returned as strings")
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecuteTimeout(t *testing.T) {
	exec, mock, _ := newMockExecutor(t, Options{Timeout: 20 * time.Millisecond})

	mock.ExpectPrepare("SELECT").ExpectQuery().
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(1)))

	result := exec.Execute(testutil.Context(t), testutil.TestDatabase, "SELECT n FROM numbers", passed)

	assert.False(t, result.Success)
	assert.Equal(t, "query timed out after 20ms", result.Error)
	assert.Nil(t, result.Data)
}

func TestExecuteCallerCancellationIsNotATimeout(t *testing.T) {
	exec, _, _ := newMockExecutor(t, Options{Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := exec.Execute(ctx, testutil.TestDatabase, "SELECT 1", passed)

	assert.False(t, result.Success)
	assert.NotContains(t, result.Error, "timed out")
}

func TestExecuteDriverErrorsBecomeResults(t *testing.T) {
	t.Run("prepare", func(t *testing.T) {
		exec, mock, _ := newMockExecutor(t, Options{})
		mock.ExpectPrepare("SELECT").WillReturnError(errors.New("no such column: nme"))

		result := exec.Execute(testutil.Context(t), testutil.TestDatabase, "SELECT nme FROM customers", passed)

		assert.False(t, result.Success)
		assert.Equal(t, "failed to prepare query: no such column: nme", result.Error)
	})

	t.Run("query", func(t *testing.T) {
		exec, mock, _ := newMockExecutor(t, Options{})
		mock.ExpectPrepare("SELECT").ExpectQuery().WillReturnError(errors.New("division by zero"))

		result := exec.Execute(testutil.Context(t), testutil.TestDatabase, "SELECT 1/0", passed)

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "division by zero")
	})

	t.Run("open", func(t *testing.T) {
		exec := New(&storeOpener{err: errors.New(`database "nope" not found`)}, Options{}, nil)

		result := exec.Execute(testutil.Context(t), "nope", "SELECT 1", passed)

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not found")
	})
}

func TestExecuteRecoversPanics(t *testing.T) {
	exec := New(panickingOpener{}, Options{}, nil)

	var result *types.ExecutionResult

	assert.NotPanics(t, func() {
		result = exec.Execute(testutil.Context(t), testutil.TestDatabase, "SELECT 1", passed)
	})

	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, "execution panicked: driver exploded", result.Error)
}

func TestExecuteAgainstSQLite(t *testing.T) {
	dir := testutil.SeedSQLite(t, t.TempDir(), testutil.TestDatabase, testutil.ShopSeed...)
	cfg := config.DefaultConfig()
	cfg.Executor.Driver = storage.DriverSQLite
	cfg.Executor.DataDir = dir
	cfg.Executor.MaxRows = 2

	stores := storage.NewManager(cfg.Executor, nil)
	t.Cleanup(func() { _ = stores.Close() })

	exec := New(stores, OptionsFromConfig(cfg), nil)

	result := exec.Execute(testutil.Context(t), testutil.TestDatabase, "SELECT id, name FROM customers ORDER BY id", passed)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, 3, result.RowCount)
	assert.True(t, result.Truncated)

	if diff := cmp.Diff([][]any{{int64(1), "Ada"}, {int64(2), "Grace"}}, result.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}

	grouped := exec.Execute(testutil.Context(t), testutil.TestDatabase, testutil.TestQuery+" ORDER BY c.name", passed)
	require.True(t, grouped.Success, grouped.Error)
	assert.Equal(t, []string{"name", "order_count"}, grouped.Columns)
	assert.Equal(t, 2, grouped.RowCount)
	assert.False(t, grouped.Truncated)
}

func TestMultipleStatements(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT 1", false},
		{"SELECT 1;", false},
		{"SELECT 1 ;\n", false},
		{"SELECT ';' AS semi", false},
		{`SELECT "a;b" FROM t`, false},
		{"SELECT 'it''s; fine'", false},
		{"SELECT 1 -- trailing; comment\nFROM t", false},
		{"SELECT /* ; */ 1", false},
		{"SELECT 1; SELECT 2", true},
		{"SELECT 1;SELECT 2;", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MultipleStatements(tt.query), tt.query)
	}
}
