package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Configure(t *testing.T) {
	tests := []struct {
		name    string
		config  ProviderConfig
		wantErr bool
		wantURL string
	}{
		{
			name:    "valid OpenAI config",
			config:  ProviderConfig{Provider: ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "test-key"},
			wantURL: DefaultOpenAIBaseURL,
		},
		{
			name:    "OpenAI-compatible endpoint without key",
			config:  ProviderConfig{Provider: ProviderOpenAI, Model: "local", BaseURL: "http://localhost:8080/v1/"},
			wantURL: "http://localhost:8080/v1",
		},
		{
			name:    "valid Anthropic config",
			config:  ProviderConfig{Provider: ProviderAnthropic, Model: "claude-sonnet", APIKey: "test-key"},
			wantURL: DefaultAnthropicBaseURL,
		},
		{
			name:    "valid Ollama config",
			config:  ProviderConfig{Provider: ProviderOllama, Model: "llama3"},
			wantURL: DefaultOllamaBaseURL,
		},
		{
			name:    "missing provider",
			config:  ProviderConfig{Model: "gpt-4o-mini", APIKey: "test-key"},
			wantErr: true,
		},
		{
			name:    "missing model",
			config:  ProviderConfig{Provider: ProviderOpenAI, APIKey: "test-key"},
			wantErr: true,
		},
		{
			name:    "Anthropic without key",
			config:  ProviderConfig{Provider: ProviderAnthropic, Model: "claude-sonnet"},
			wantErr: true,
		},
		{
			name:    "unsupported provider",
			config:  ProviderConfig{Provider: "mystery", Model: "m"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, client.config.BaseURL)
		})
	}
}

func TestClient_CompleteOpenAI(t *testing.T) {
	var got openAIRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(ProviderConfig{Provider: ProviderOpenAI, Model: "gpt-test", APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{
		System:      "be terse",
		User:        "hello",
		Temperature: 0,
		JSON:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, ProviderOpenAI, resp.Provider)
	assert.Equal(t, "gpt-test", resp.Model)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[1].Content)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
}

func TestClient_CompleteAnthropic(t *testing.T) {
	var got anthropicRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(ProviderConfig{Provider: ProviderAnthropic, Model: "claude-test", APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{System: "sys", User: "hi", MaxTokens: 64})
	require.NoError(t, err)

	assert.Equal(t, "part one part two", resp.Text)
	assert.Equal(t, "sys", got.System)
	assert.Equal(t, 64, got.MaxTokens)
}

func TestClient_CompleteOllama(t *testing.T) {
	var got ollamaRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"response":"SELECT 1","done":true}`))
	}))
	defer server.Close()

	client, err := NewClient(ProviderConfig{Provider: ProviderOllama, Model: "llama3", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{User: "q", Temperature: 0.2, JSON: true})
	require.NoError(t, err)

	assert.Equal(t, "SELECT 1", resp.Text)
	assert.False(t, got.Stream)
	assert.Equal(t, "json", got.Format)
	assert.InDelta(t, 0.2, got.Options.Temperature, 1e-9)
}

func TestClient_CompleteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "http status", status: http.StatusTooManyRequests, body: `rate limited`, wantErr: "status 429"},
		{name: "api error", status: http.StatusOK, body: `{"error":{"message":"bad model"}}`, wantErr: "bad model"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantErr: "no response"},
		{name: "garbage", status: http.StatusOK, body: `<html>`, wantErr: "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewClient(ProviderConfig{Provider: ProviderOpenAI, Model: "m", APIKey: "k", BaseURL: server.URL})
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), Request{User: "x"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClient_CompleteHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":"late"}`))
	}))
	defer server.Close()

	client, err := NewClient(ProviderConfig{Provider: ProviderOllama, Model: "m", BaseURL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.Complete(ctx, Request{User: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), ProviderConfig{Provider: ProviderGemini, Model: "gemini-2.0-flash"})
	assert.Error(t, err)

	_, err = NewProvider(context.Background(), ProviderConfig{Provider: ProviderGemini, APIKey: "k"})
	assert.Error(t, err, "model is required")
}
