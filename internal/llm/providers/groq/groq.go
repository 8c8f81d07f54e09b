// internal/llm/providers/groq/groq.go
package groq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Corphon/TranscriptQA/internal/llm"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultModel   = "llama-3.3-70b-versatile"
)

func init() {
	llm.Register("groq", func() llm.Provider {
		return &Provider{
			supportedModels: []string{
				"llama-3.3-70b-versatile",
				"llama-3.1-8b-instant",
				"llama3-8b-8192",
				"mixtral-8x7b-32768",
				"gemma2-9b-it",
			},
		}
	})
}

// Provider Groq 的 OpenAI 兼容接口
type Provider struct {
	client          *openai.Client
	defaultModel    string
	supportedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config[llm.ConfigAPIKey]
	if apiKey == "" {
		return fmt.Errorf("Groq: %w", llm.ErrMissingAPIKey)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = defaultBaseURL
	if baseURL := config[llm.ConfigBaseURL]; baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	timeout := 60 * time.Second
	if seconds, err := strconv.Atoi(config[llm.ConfigTimeout]); err == nil && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	p.client = openai.NewClientWithConfig(clientConfig)

	p.defaultModel = defaultModel
	if model := config[llm.ConfigDefaultModel]; model != "" {
		p.defaultModel = model
	}
	return nil
}

func (p *Provider) GetName() string {
	return "Groq"
}

func (p *Provider) GetSupportedModels() []string {
	return p.supportedModels
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if p.client == nil {
		return nil, errors.New("Groq 提供者未初始化")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("Groq API错误(%d): %s: %w", apiErr.HTTPStatusCode, apiErr.Message, err)
		}
		return nil, fmt.Errorf("Groq 请求失败: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, llm.ErrEmptyResponse
	}

	modelName := resp.Model
	if modelName == "" {
		modelName = model
	}

	return &llm.CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		TokensUsed:   resp.Usage.TotalTokens,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		ModelName:    modelName,
		ProviderName: p.GetName(),
	}, nil
}
