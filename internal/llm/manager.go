package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/logging"
)

// Manager routes completions to a default provider and then to fallback providers
type Manager struct {
	providers map[string]Service
	config    ManagerConfig
	logger    *logging.Logger
}

// ManagerConfig configures the LLM manager behavior
type ManagerConfig struct {
	DefaultProvider   string        `json:"default_provider"`
	FallbackProviders []string      `json:"fallback_providers"`
	RetryAttempts     int           `json:"retry_attempts"`
	RetryDelay        time.Duration `json:"retry_delay"`
	Timeout           time.Duration `json:"timeout"`
}

// NewManager creates a new LLM manager with the given configuration
func NewManager(config ManagerConfig, logger *logging.Logger) *Manager {
	return &Manager{
		providers: make(map[string]Service),
		config:    config,
		logger:    logging.OrNop(logger).WithField("component", "llm"),
	}
}

// NewManagerFromConfig builds the configured primary and optional fallback providers
func NewManagerFromConfig(ctx context.Context, cfg config.LLMConfig, logger *logging.Logger) (*Manager, error) {
	primary := ProviderConfig{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
	}

	primaryName := providerKey(primary)

	mc := DefaultManagerConfig()
	mc.DefaultProvider = primaryName
	mc.RetryAttempts = cfg.RetryAttempts
	mc.Timeout = cfg.TimeoutDuration()

	m := NewManager(mc, logger)

	svc, err := NewProvider(ctx, primary)
	if err != nil {
		return nil, fmt.Errorf("configure %s provider: %w", cfg.Provider, err)
	}

	if err := m.RegisterProvider(primaryName, svc); err != nil {
		return nil, err
	}

	if cfg.FallbackProvider == "" {
		return m, nil
	}

	fallback := ProviderConfig{
		Provider: cfg.FallbackProvider,
		Model:    cfg.FallbackModel,
		APIKey:   cfg.FallbackAPIKey,
		BaseURL:  cfg.FallbackBaseURL,
	}

	if fallback.Model == "" {
		fallback.Model = cfg.Model
	}

	fsvc, err := NewProvider(ctx, fallback)
	if err != nil {
		return nil, fmt.Errorf("configure fallback %s provider: %w", cfg.FallbackProvider, err)
	}

	fallbackName := providerKey(fallback)
	if err := m.RegisterProvider(fallbackName, fsvc); err != nil {
		return nil, err
	}

	m.config.FallbackProviders = append(m.config.FallbackProviders, fallbackName)

	return m, nil
}

// NewProvider creates the Service for one provider configuration
func NewProvider(ctx context.Context, pc ProviderConfig) (Service, error) {
	if pc.Provider == ProviderGemini {
		return NewGeminiClient(ctx, pc)
	}

	return NewClient(pc)
}

func providerKey(pc ProviderConfig) string {
	return pc.Provider + "/" + pc.Model
}

// RegisterProvider registers a new LLM provider
func (m *Manager) RegisterProvider(name string, service Service) error {
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	if service == nil {
		return errors.New("service cannot be nil")
	}

	m.providers[name] = service

	return nil
}

// Complete tries the default provider, then each fallback provider in order
func (m *Manager) Complete(ctx context.Context, req Request) (*Response, error) {
	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	order := make([]string, 0, 1+len(m.config.FallbackProviders))
	if m.config.DefaultProvider != "" {
		order = append(order, m.config.DefaultProvider)
	}

	order = append(order, m.config.FallbackProviders...)

	var errs []error

	for i, name := range order {
		provider, exists := m.providers[name]
		if !exists {
			continue
		}

		response, err := m.tryProvider(ctx, provider, req)
		if err == nil {
			return response, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", name, err))

		role := "default"
		if i > 0 || m.config.DefaultProvider == "" {
			role = "fallback"
		}

		m.logger.WithFields(map[string]interface{}{
			"provider": name,
			"role":     role,
		}).WithError(err).Warn("completion provider failed")

		if ctx.Err() != nil {
			break
		}
	}

	if len(errs) == 0 {
		return nil, errors.New("no LLM providers registered")
	}

	return nil, fmt.Errorf("all LLM providers failed: %w", errors.Join(errs...))
}

// tryProvider calls a provider with the configured number of retries
func (m *Manager) tryProvider(ctx context.Context, provider Service, req Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= m.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.config.RetryDelay):
			}
		}

		response, err := provider.Complete(ctx, req)
		if err == nil {
			return response, nil
		}

		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			break
		}
	}

	if m.config.RetryAttempts == 0 {
		return nil, lastErr
	}

	return nil, fmt.Errorf("provider failed after %d attempts: %w", m.config.RetryAttempts+1, lastErr)
}

// GetAvailableProviders returns the registered provider names, sorted
func (m *Manager) GetAvailableProviders() []string {
	providers := make([]string, 0, len(m.providers))
	for name := range m.providers {
		providers = append(providers, name)
	}

	sort.Strings(providers)

	return providers
}

// IsProviderRegistered checks if a provider is registered
func (m *Manager) IsProviderRegistered(name string) bool {
	_, exists := m.providers[name]
	return exists
}

// DefaultManagerConfig returns a configuration with no automatic retries
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RetryAttempts: 0,
		RetryDelay:    time.Second,
		Timeout:       time.Minute,
	}
}
