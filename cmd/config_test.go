package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/config"
)

// captureStdout redirects the package writer for the duration of the test
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer

	old := stdout
	stdout = &buf

	t.Cleanup(func() { stdout = old })

	return &buf
}

func TestRunConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         func() *config.Config
		wantErr     bool
		contains    []string
		notContains []string
	}{
		{
			name: "defaults",
			cfg:  config.DefaultConfig,
			contains: []string{
				"Active Configuration:",
				"LLM:",
				"Provider: openai",
				"API Key: (unset)",
				"Schema:",
				"Source: dir",
				"Retrieval:",
				"Threshold: 10 tables",
				"Executor:",
				"Driver: duckdb",
				"Max Rows: 1000",
				"Dialog:",
				"Evaluation:",
				"Concurrency: 4",
				"S3:",
				"(not configured)",
				"Logging:",
				"Level: info",
				"Debug:",
				"Enabled: false",
			},
			notContains: []string{"Raw Configuration (JSON):"},
		},
		{
			name: "debug with secrets",
			cfg: func() *config.Config {
				cfg := config.DefaultConfig()
				cfg.LLM.APIKey = "sk-abcdefgh1234"
				cfg.S3 = config.S3Config{
					Endpoint:        "localhost:9000",
					Bucket:          "askdb",
					AccessKeyID:     "minioadmin",
					SecretAccessKey: "supersecretvalue",
				}
				cfg.Logging.Output = "file"
				cfg.Logging.File = "/tmp/askdb.log"
				cfg.Debug.Enabled = true

				return cfg
			},
			contains: []string{
				"API Key: ****1234",
				"Endpoint: localhost:9000",
				"Bucket: askdb",
				"Secret Key: ****alue",
				"File: /tmp/askdb.log",
				"Enabled: true",
				"Raw Configuration (JSON):",
			},
			notContains: []string{"sk-abcdefgh1234", "supersecretvalue", "minioadmin"},
		},
		{
			name:    "nil configuration",
			cfg:     func() *config.Config { return nil },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureStdout(t)

			err := RunConfigWithConfig(tt.cfg())
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)

			output := buf.String()
			for _, expected := range tt.contains {
				assert.Contains(t, output, expected)
			}

			for _, unexpected := range tt.notContains {
				assert.False(t, strings.Contains(output, unexpected), "output leaks %q", unexpected)
			}
		})
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "(unset)", mask(""))
	assert.Equal(t, "****", mask("abc"))
	assert.Equal(t, "****6789", mask("123456789"))
}
