package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```":     `{"a":1}`,
		"```sql\nSELECT 1;\n```":       "SELECT 1;",
		"```\nSELECT 1\n```":           "SELECT 1",
		"  SELECT 1  ":                 "SELECT 1",
		"```SELECT * FROM t```":        "SELECT * FROM t",
		"no fences here ``` inside":    "no fences here ``` inside",
	}

	for in, want := range tests {
		assert.Equal(t, want, StripCodeFences(in), in)
	}
}

func TestDecodeObject(t *testing.T) {
	obj, err := DecodeObject("Sure! Here it is:\n{\"query\": \"SELECT 1\", \"tags\": [\"a\", \"b\"], \"ok\": true} trailing words", "query")
	require.NoError(t, err)

	q, err := obj.String("query")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", q)

	tags, err := obj.Strings("tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tags)

	ok, err := obj.Bool("ok")
	require.NoError(t, err)
	assert.True(t, ok)

	none, err := obj.Strings("absent")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDecodeObjectFenced(t *testing.T) {
	obj, err := DecodeObject("```json\n{\"query\": \"SELECT 2\"}\n```", "query")
	require.NoError(t, err)
	assert.True(t, obj.Has("query"))
}

func TestDecodeObjectFailures(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		required []string
		wantErr  string
	}{
		{name: "no object", text: "I cannot help with that", wantErr: "no JSON object"},
		{name: "truncated", text: `{"query": "SELECT`, wantErr: "malformed JSON"},
		{name: "missing keys", text: `{"query": "x"}`, required: []string{"query", "explanation", "confidence"}, wantErr: "explanation, confidence"},
		{name: "null counts as missing", text: `{"query": null}`, required: []string{"query"}, wantErr: "query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeObject(tt.text, tt.required...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestObjectTypeChecks(t *testing.T) {
	obj, err := DecodeObject(`{"n": 3, "arr": [1, 2], "s": "x"}`)
	require.NoError(t, err)

	_, err = obj.String("n")
	assert.EqualError(t, err, `field "n" must be a string`)

	_, err = obj.Strings("arr")
	assert.EqualError(t, err, `field "arr" must be an array of strings`)

	_, err = obj.Bool("s")
	assert.Error(t, err)

	_, err = obj.String("missing")
	assert.Error(t, err)
}
