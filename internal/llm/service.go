package llm

import (
	"context"
)

// Service is a black-box text completion boundary
type Service interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is one completion call: system instructions plus a single user message
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	// JSON asks the provider for a JSON object response where it supports that
	JSON bool
}

// Response carries the raw completion text
type Response struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ProviderConfig describes one completion provider
type ProviderConfig struct {
	Provider string `json:"provider"` // openai, anthropic, ollama, gemini
	Model    string `json:"model"`
	APIKey   string `json:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
}

// Provider constants for different LLM providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

// Default endpoints
const (
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	DefaultOllamaBaseURL    = "http://localhost:11434"
)

const defaultMaxTokens = 1024
