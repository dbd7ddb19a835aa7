package conversation

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	openRouterProvider     = "openrouter"
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "nvidia/nemotron-nano-12b-v2-vl:free"
)

type chatCompletionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenRouterLLMClient talks to OpenRouter through its OpenAI-compatible API.
type OpenRouterLLMClient struct {
	api   chatCompletionAPI
	model string
}

func NewOpenRouterLLMClient(apiKey, baseURL, model string) (*OpenRouterLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: openrouter api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = defaultOpenRouterURL
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return newOpenRouterLLMClient(openai.NewClientWithConfig(cfg), model), nil
}

func newOpenRouterLLMClient(api chatCompletionAPI, model string) *OpenRouterLLMClient {
	if api == nil {
		panic("conversation: openai-compatible client cannot be nil")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOpenRouterModel
	}
	return &OpenRouterLLMClient{api: api, model: model}
}

func (c *OpenRouterLLMClient) Name() string { return openRouterProvider }

func (c *OpenRouterLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if systemText := strings.TrimSpace(strings.Join(req.System, "\n\n")); systemText != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemText})
	}
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case ChatRoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case ChatRoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	model := c.model
	if strings.TrimSpace(req.Model) != "" {
		model = req.Model
	}
	completion := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		completion.MaxTokens = int(req.MaxTokens)
	}

	resp, err := c.api.CreateChatCompletion(ctx, completion)
	if err != nil {
		return LLMResponse{}, newProviderError(openRouterProvider, classifyOpenAIError(err), err)
	}
	if len(resp.Choices) == 0 {
		return LLMResponse{}, newProviderError(openRouterProvider, KindOther, errors.New("empty choices"))
	}

	choice := resp.Choices[0]
	return LLMResponse{
		Text:       strings.TrimSpace(choice.Message.Content),
		StopReason: string(choice.FinishReason),
		Provider:   openRouterProvider,
		Usage: TokenUsage{
			InputTokens:  int32(resp.Usage.PromptTokens),
			OutputTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
	}, nil
}

func classifyOpenAIError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindOverload
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return kindFromStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return kindFromStatus(reqErr.HTTPStatusCode)
	}
	return KindOther
}
