package llm

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// OpenAIModel generates text through the OpenAI chat completions API. It
// also serves compatible endpoints (OpenRouter, Ollama, vLLM) via BaseURL.
type OpenAIModel struct {
	client      openai.Client
	provider    string
	model       string
	maxTokens   int
	temperature float64
}

// NewOpenAIModel creates an OpenAI-compatible model.
func NewOpenAIModel(cfg Config) *OpenAIModel {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}
	return &OpenAIModel{
		client:      openai.NewClient(opts...),
		provider:    provider,
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Name returns the provider name.
func (m *OpenAIModel) Name() string { return m.provider }

// Generate implements mcpdesk.LanguageModel.
func (m *OpenAIModel) Generate(ctx context.Context, p mcpdesk.Prompt) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if p.System != "" {
		messages = append(messages, openai.SystemMessage(p.System))
	}
	messages = append(messages, openai.UserMessage(p.User))

	params := openai.ChatCompletionNewParams{
		Model:    m.model,
		Messages: messages,
	}
	if m.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(m.maxTokens))
	}
	if m.temperature > 0 {
		params.Temperature = openai.Float(m.temperature)
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", mcpdesk.NewLanguageModelError(m.provider, classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", mcpdesk.NewLanguageModelError(m.provider, errors.New("response has no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}
