package generator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/llm"
	"github.com/kyleking/askdb/internal/retrieval"
	"github.com/kyleking/askdb/internal/testutil"
	"github.com/kyleking/askdb/internal/types"
)

func testOptions() Options {
	return Options{Dialect: "DuckDB", Temperature: 0.3, MaxTokens: 512, RetrievalEnabled: true}
}

func testRetriever() *retrieval.Retriever {
	return retrieval.New(config.DefaultConfig().Retrieval, nil)
}

func TestGenerateHappyPath(t *testing.T) {
	svc := testutil.NewScriptedLLM(testutil.WithReplies(
		testutil.GenerationJSON(testutil.TestQuery, "high", "customers", "orders"),
	))
	gen := New(svc, testRetriever(), testOptions(), nil)

	resp := gen.Generate(testutil.Context(t), types.GenerationRequest{
		Question: testutil.TestQuestion,
		Schema:   testutil.ShopSchema(),
	})

	assert.Equal(t, testutil.TestQuery, resp.Query)
	assert.Equal(t, types.ConfidenceHigh, resp.Confidence)
	assert.Equal(t, []string{"customers", "orders"}, resp.TablesUsed)
	require.NotNil(t, resp.RetrievalMetadata)
	assert.False(t, resp.RetrievalMetadata.Attempted, "three tables is below the threshold")

	reqs := svc.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].System, "DuckDB")
	assert.Contains(t, reqs[0].User, "Table: products", "full schema is rendered")
	assert.Contains(t, reqs[0].User, testutil.TestQuestion)
	assert.InDelta(t, 0.3, reqs[0].Temperature, 1e-9)
	assert.True(t, reqs[0].JSON)
}

func TestGenerateStripsFencesAndSemicolons(t *testing.T) {
	reply := "```json\n" + testutil.GenerationJSON("```sql\nSELECT * FROM products;\n```", "medium") + "\n```"
	gen := New(testutil.NewScriptedLLM(testutil.WithReplies(reply)), nil, testOptions(), nil)

	resp := gen.Generate(testutil.Context(t), types.GenerationRequest{Question: "all products", Schema: testutil.ShopSchema()})

	assert.Equal(t, "SELECT * FROM products", resp.Query)
	assert.Equal(t, types.ConfidenceMedium, resp.Confidence)
}

func TestGenerateFailuresNeverEscape(t *testing.T) {
	tests := []struct {
		name    string
		opts    []testutil.MockOption
		wantMsg string
	}{
		{
			name:    "transport failure",
			opts:    []testutil.MockOption{testutil.WithFailure(errors.New("connection reset"))},
			wantMsg: "connection reset",
		},
		{
			name:    "not json",
			opts:    []testutil.MockOption{testutil.WithReplies("SELECT 1")},
			wantMsg: "no JSON object",
		},
		{
			name:    "missing confidence",
			opts:    []testutil.MockOption{testutil.WithReplies(`{"query":"SELECT 1","explanation":"x"}`)},
			wantMsg: "confidence",
		},
		{
			name:    "confidence outside the enum",
			opts:    []testutil.MockOption{testutil.WithReplies(`{"query":"SELECT 1","explanation":"x","confidence":"certain"}`)},
			wantMsg: "invalid confidence",
		},
		{
			name:    "tablesUsed not strings",
			opts:    []testutil.MockOption{testutil.WithReplies(`{"query":"SELECT 1","explanation":"x","confidence":"high","tablesUsed":[1]}`)},
			wantMsg: "tablesUsed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := New(testutil.NewScriptedLLM(tt.opts...), nil, testOptions(), nil)

			resp := gen.Generate(testutil.Context(t), types.GenerationRequest{Question: "q", Schema: testutil.ShopSchema()})

			require.NotNil(t, resp)
			assert.Empty(t, resp.Query)
			assert.False(t, resp.Generated())
			assert.Equal(t, types.ConfidenceLow, resp.Confidence)
			assert.Contains(t, resp.Explanation, tt.wantMsg)
		})
	}
}

func TestGenerateRejectsMissingInputs(t *testing.T) {
	svc := testutil.NewScriptedLLM()
	gen := New(svc, nil, testOptions(), nil)

	assert.False(t, gen.Generate(testutil.Context(t), types.GenerationRequest{Question: "q"}).Generated())
	assert.False(t, gen.Generate(testutil.Context(t), types.GenerationRequest{Question: "  ", Schema: testutil.ShopSchema()}).Generated())
	assert.Zero(t, svc.CallCount())
}

func TestGenerateUsesFocusedContextForWideSchema(t *testing.T) {
	svc := testutil.NewScriptedLLM(testutil.WithReplies(
		testutil.GenerationJSON("SELECT SUM(amount) FROM invoices", "high", "invoices"),
	))
	gen := New(svc, testRetriever(), testOptions(), nil)

	resp := gen.Generate(testutil.Context(t), types.GenerationRequest{
		Question: "total invoice amount",
		Schema:   testutil.WideSchema(),
	})

	require.True(t, resp.Generated())

	meta := resp.RetrievalMetadata
	require.NotNil(t, meta)
	assert.True(t, meta.Attempted)
	assert.True(t, meta.Used)
	assert.Empty(t, meta.FallbackReason)
	assert.Equal(t, testutil.WideTableCount, meta.TableCount)
	assert.Equal(t, 10, meta.Threshold)
	assert.Equal(t, []string{"customers", "invoices"}, meta.FocusedTables, "foreign-key hop adds customers")
	assert.Positive(t, meta.TopScore)

	user := svc.Requests()[0].User
	assert.Contains(t, user, "Table: invoices")
	assert.Contains(t, user, "Table: customers")
	assert.NotContains(t, user, "Table: sensor_05")
	assert.Contains(t, user, "Relevant documentation:")
}

func TestReleaseForgetsCachedIndex(t *testing.T) {
	svc := testutil.NewScriptedLLM(testutil.WithReplies(
		testutil.GenerationJSON("SELECT SUM(amount) FROM invoices", "high", "invoices"),
	))
	retriever := testRetriever()
	gen := New(svc, retriever, testOptions(), nil)
	wide := testutil.WideSchema()

	gen.Generate(testutil.Context(t), types.GenerationRequest{Question: "total invoice amount", Schema: wide})
	require.Equal(t, 1, retriever.Cached())

	gen.Release(wide)
	assert.Zero(t, retriever.Cached())

	New(svc, nil, testOptions(), nil).Release(wide)
}

func TestGenerateFallsBackWhenNothingMatches(t *testing.T) {
	svc := testutil.NewScriptedLLM(testutil.WithReplies(testutil.GenerationJSON("SELECT 1", "low")))
	gen := New(svc, testRetriever(), testOptions(), nil)

	resp := gen.Generate(testutil.Context(t), types.GenerationRequest{
		Question: "zebra giraffe",
		Schema:   testutil.WideSchema(),
	})

	meta := resp.RetrievalMetadata
	require.NotNil(t, meta)
	assert.True(t, meta.Attempted)
	assert.False(t, meta.Used)
	assert.Equal(t, "no documentation matched the question", meta.FallbackReason)
	assert.Contains(t, svc.Requests()[0].User, "Table: sensor_05", "full schema is rendered")
}

func TestGenerateFallsBackOnRetrievalError(t *testing.T) {
	wide := testutil.WideSchema()
	wide.Chunks = nil

	svc := testutil.NewScriptedLLM(testutil.WithReplies(testutil.GenerationJSON("SELECT 1", "low")))
	gen := New(svc, testRetriever(), testOptions(), nil)

	resp := gen.Generate(testutil.Context(t), types.GenerationRequest{Question: "invoice", Schema: wide})

	require.NotNil(t, resp.RetrievalMetadata)
	assert.Contains(t, resp.RetrievalMetadata.FallbackReason, "retrieval failed")
	assert.True(t, resp.Generated())
}

func TestGenerateRetrievalOverride(t *testing.T) {
	svc := &testutil.MockService{}
	svc.On("Complete", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
		return strings.Contains(req.User, "Table: sensor_05")
	})).Return(testutil.Text(testutil.GenerationJSON("SELECT 1", "low")), nil).Once()

	gen := New(svc, testRetriever(), testOptions(), nil)
	off := false

	resp := gen.Generate(testutil.Context(t), types.GenerationRequest{
		Question:     "invoice",
		Schema:       testutil.WideSchema(),
		UseRetrieval: &off,
	})

	assert.False(t, resp.RetrievalMetadata.Attempted)
	svc.AssertExpectations(t)
}

func TestRenderSchema(t *testing.T) {
	notNull := false
	s := testutil.NewSchema("s", testutil.WithTable("t", "things",
		types.Column{Name: "id", Type: "integer", PrimaryKey: true},
		types.Column{Name: "code", Type: "text", Unique: true, Nullable: &notNull, Default: "x", Description: "short code"},
		testutil.FK("owner_id", "integer", "t", "id"),
	))

	text := RenderSchema(s)

	assert.Contains(t, text, "Table: t -- things")
	assert.Contains(t, text, "  - id integer PRIMARY KEY\n")
	assert.Contains(t, text, "  - code text UNIQUE NOT NULL DEFAULT x -- short code\n")
	assert.Contains(t, text, "  - owner_id integer REFERENCES t(id)\n")
}

func TestFocusTablesFollowsRelationshipsForwardOnly(t *testing.T) {
	shop := testutil.ShopSchema()

	fromOrders := FocusTables(shop, []types.ScoredChunk{{Chunk: types.DocumentationChunk{Table: "orders"}}})
	assert.Equal(t, []string{"customers", "orders"}, fromOrders)

	fromCustomers := FocusTables(shop, []types.ScoredChunk{{Chunk: types.DocumentationChunk{Table: "customers"}}})
	assert.Equal(t, []string{"customers"}, fromCustomers, "reverse references are not followed")

	assert.Empty(t, FocusTables(shop, []types.ScoredChunk{{Chunk: types.DocumentationChunk{Table: "ghost"}}}))
}

func TestParseResponseAllowsEmptyQuery(t *testing.T) {
	resp, err := ParseResponse(`{"query":"","explanation":"no table holds weather data","confidence":"low"}`)
	require.NoError(t, err)
	assert.False(t, resp.Generated())
	assert.Equal(t, "no table holds weather data", resp.Explanation)
}
