// Package llm provides the language models the planner and summarizer talk to.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// Provider names.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderLocal      = "local"
	ProviderAnthropic  = "anthropic"
)

// Defaults applied when the configuration leaves a field empty.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultMaxTokens      = 2048
)

// Config selects and configures one model.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	// MaxRetries is handed to the SDK client; negative keeps its default.
	MaxRetries int
}

// NewModel creates the model for cfg.
func NewModel(cfg Config) (mcpdesk.LanguageModel, error) {
	switch cfg.Provider {
	case ProviderOpenAI, ProviderOpenRouter, ProviderLocal:
		if cfg.APIKey == "" && cfg.Provider != ProviderLocal {
			return nil, mcpdesk.NewConfigurationError(fmt.Sprintf("no API key for provider %q", cfg.Provider), nil)
		}
		return NewOpenAIModel(cfg), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, mcpdesk.NewConfigurationError("no API key for provider \"anthropic\"", nil)
		}
		return NewAnthropicModel(cfg), nil
	default:
		return nil, mcpdesk.NewConfigurationError(fmt.Sprintf("unknown LLM provider: %s", cfg.Provider), nil)
	}
}

// ErrorType classifies provider failures.
type ErrorType string

const (
	ErrorAuth         ErrorType = "auth"
	ErrorRateLimit    ErrorType = "rate_limit"
	ErrorInvalidInput ErrorType = "invalid_input"
	ErrorServerError  ErrorType = "server_error"
	ErrorTimeout      ErrorType = "timeout"
	ErrorNetwork      ErrorType = "network"
	ErrorUnknown      ErrorType = "unknown"
)

// ProviderError is a classified provider failure.
type ProviderError struct {
	Type ErrorType
	Err  error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("%s: %v", e.Type, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether another provider might succeed.
func (e *ProviderError) Retryable() bool {
	return e.Type != ErrorAuth && e.Type != ErrorInvalidInput
}

func classify(err error) *ProviderError {
	return &ProviderError{Type: errorType(err), Err: err}
}

func errorType(err error) ErrorType {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return statusType(oaErr.StatusCode)
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return statusType(anErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTimeout
		}
		return ErrorNetwork
	}
	return ErrorUnknown
}

func statusType(code int) ErrorType {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorAuth
	case code == http.StatusTooManyRequests:
		return ErrorRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrorTimeout
	case code >= http.StatusInternalServerError:
		return ErrorServerError
	case code >= http.StatusBadRequest:
		return ErrorInvalidInput
	default:
		return ErrorUnknown
	}
}

// Fallback tries models in order, moving on only after retryable failures.
type Fallback struct {
	models []mcpdesk.LanguageModel
}

// NewFallback creates a model chain. The first model is the primary.
func NewFallback(models ...mcpdesk.LanguageModel) *Fallback {
	return &Fallback{models: models}
}

// Generate implements mcpdesk.LanguageModel.
func (f *Fallback) Generate(ctx context.Context, p mcpdesk.Prompt) (string, error) {
	if len(f.models) == 0 {
		return "", mcpdesk.NewConfigurationError("no language model configured", nil)
	}
	var lastErr error
	for i, m := range f.models {
		out, err := m.Generate(ctx, p)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", err
		}
		var pe *ProviderError
		if errors.As(err, &pe) && !pe.Retryable() {
			return "", err
		}
		if i < len(f.models)-1 {
			log.Printf("Language model failed, trying next (position: %d, error: %v)", i, err)
		}
	}
	return "", lastErr
}
