// Package genai is the model gateway for ICAPP.
//
// It sends chat prompts to an LLM provider on one of two tiers, rotating
// through a pool of API keys when the provider throttles a request.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Tier selects the model used for a call.
type Tier string

const (
	// TierFast is used for case generation.
	TierFast Tier = "fast"
	// TierQuality is used for conversation turns.
	TierQuality Tier = "quality"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a provider-neutral chat message.
type Message struct {
	Role    Role
	Content string
}

// SystemMessage returns a system message.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage returns a user message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage returns an assistant message.
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Request is a single completion call handed to a Completer.
type Request struct {
	APIKey      string
	Model       string
	Messages    []Message
	Temperature float64
}

// Completer performs one completion call against a concrete provider.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientInterface is implemented by Client and by test doubles.
type ClientInterface interface {
	Invoke(ctx context.Context, messages []Message, temperature float64, tier Tier) (string, error)
}

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Default models per provider. The OpenAI-compatible defaults target Groq.
const (
	DefaultBaseURL            = "https://api.groq.com/openai/v1"
	DefaultOpenAIFastModel    = "llama-3.1-8b-instant"
	DefaultOpenAIQualityModel = "llama-3.3-70b-versatile"
	DefaultGeminiFastModel    = "gemini-2.0-flash-lite"
	DefaultGeminiQualityModel = "gemini-2.0-flash"
)

// Opts holds configuration for the gateway client.
type Opts struct {
	APIKeys      []string
	Provider     string
	BaseURL      string
	FastModel    string
	QualityModel string
	Completer    Completer
}

// Option configures the gateway client.
type Option func(*Opts)

// WithAPIKey adds a single API key to the pool.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKeys = append(o.APIKeys, key) }
}

// WithAPIKeys adds several API keys to the pool, in rotation order.
func WithAPIKeys(keys []string) Option {
	return func(o *Opts) { o.APIKeys = append(o.APIKeys, keys...) }
}

// WithProvider selects the provider ("openai" or "gemini").
func WithProvider(name string) Option {
	return func(o *Opts) { o.Provider = name }
}

// WithBaseURL overrides the OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithFastModel overrides the model used on the fast tier.
func WithFastModel(model string) Option {
	return func(o *Opts) { o.FastModel = model }
}

// WithQualityModel overrides the model used on the quality tier.
func WithQualityModel(model string) Option {
	return func(o *Opts) { o.QualityModel = model }
}

// WithCompleter injects a provider implementation, bypassing provider construction.
func WithCompleter(c Completer) Option {
	return func(o *Opts) { o.Completer = c }
}

// Client routes calls to the configured provider through the credential pool.
type Client struct {
	pool      *CredentialPool
	completer Completer
	models    map[Tier]string
}

// NewClient builds a gateway client from options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))

	pool := NewCredentialPool(cfg.APIKeys)
	slog.Debug("Client.NewClient: creating gateway client", "provider", cfg.Provider, "credentials", pool.Len(), "customCompleter", cfg.Completer != nil)
	if pool.Len() == 0 {
		slog.Error("Client.NewClient: no API keys configured")
		return nil, ErrNoCredentials
	}

	fast, quality := cfg.FastModel, cfg.QualityModel
	completer := cfg.Completer
	switch cfg.Provider {
	case ProviderOpenAI:
		if fast == "" {
			fast = DefaultOpenAIFastModel
		}
		if quality == "" {
			quality = DefaultOpenAIQualityModel
		}
		if completer == nil {
			baseURL := cfg.BaseURL
			if baseURL == "" {
				baseURL = DefaultBaseURL
			}
			completer = newOpenAICompleter(baseURL)
		}
	case ProviderGemini:
		if fast == "" {
			fast = DefaultGeminiFastModel
		}
		if quality == "" {
			quality = DefaultGeminiQualityModel
		}
		if completer == nil {
			completer = newGeminiCompleter()
		}
	default:
		slog.Error("Client.NewClient: unsupported provider", "provider", cfg.Provider)
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}

	slog.Info("Client.NewClient: gateway ready", "provider", cfg.Provider, "fastModel", fast, "qualityModel", quality, "credentials", pool.Len())
	return &Client{
		pool:      pool,
		completer: completer,
		models:    map[Tier]string{TierFast: fast, TierQuality: quality},
	}, nil
}

// Invoke sends messages to the model for the given tier and returns the raw text.
// A rate-limited call is retried exactly once on the next credential when the
// pool holds more than one key. Every other failure is returned to the caller.
func (c *Client) Invoke(ctx context.Context, messages []Message, temperature float64, tier Tier) (string, error) {
	model, ok := c.models[tier]
	if !ok {
		model = c.models[TierQuality]
	}

	key, idx, ok := c.pool.Current()
	if !ok {
		return "", ErrNoCredentials
	}
	slog.Debug("Client.Invoke: calling model", "tier", tier, "model", model, "messages", len(messages), "temperature", temperature, "credentialIndex", idx)

	req := Request{APIKey: key, Model: model, Messages: messages, Temperature: temperature}
	out, err := c.completer.Complete(ctx, req)
	if err == nil {
		slog.Debug("Client.Invoke: model call succeeded", "tier", tier, "responseLength", len(out))
		return out, nil
	}

	if !IsRateLimited(err) || c.pool.Len() < 2 {
		slog.Error("Client.Invoke: model call failed", "tier", tier, "credentialIndex", idx, "error", err)
		return "", fmt.Errorf("model call failed: %w", err)
	}

	slog.Warn("Client.Invoke: rate limited, rotating credential", "tier", tier, "credentialIndex", idx, "error", err)
	c.pool.Rotate()
	req.APIKey, idx, _ = c.pool.Current()
	out, err = c.completer.Complete(ctx, req)
	if err != nil {
		slog.Error("Client.Invoke: retry after rotation failed", "tier", tier, "credentialIndex", idx, "error", err)
		return "", fmt.Errorf("model call failed after credential rotation: %w", err)
	}
	slog.Debug("Client.Invoke: retry after rotation succeeded", "tier", tier, "credentialIndex", idx)
	return out, nil
}

// Model returns the model name configured for a tier.
func (c *Client) Model(tier Tier) string {
	return c.models[tier]
}
