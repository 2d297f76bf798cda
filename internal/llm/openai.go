package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/snapbuy/snapbuy/internal/config"
	"github.com/snapbuy/snapbuy/internal/logger"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint that
// accepts image_url parts.
type OpenAIClient struct {
	client    *openai.Client
	modelName string
}

func NewOpenAIClient(cfg *config.Config, httpClient *http.Client) (*OpenAIClient, error) {
	if cfg == nil || cfg.LLMToken == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.LLMToken)
	if cfg.LLMEndpoint != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.LLMEndpoint, "/")
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}

	modelName := cfg.LLMModel
	if modelName == "" {
		modelName = config.DefaultOpenAIModel
	}

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(clientConfig),
		modelName: modelName,
	}, nil
}

func (oc *OpenAIClient) Name() string {
	return config.ProviderOpenAI
}

func (oc *OpenAIClient) Describe(ctx context.Context, prompt, mimeType string, image []byte) (string, *Usage, error) {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	req := openai.ChatCompletionRequest{
		Model:       oc.modelName,
		Temperature: 0.1,
		MaxTokens:   100,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailLow,
					},
				},
			},
		}},
	}

	resp, err := oc.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create chat completion: %w", err)
	}

	var usage *Usage
	if resp.Usage.TotalTokens > 0 {
		usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	logger.Debug("OpenAI Image Analysis Response", map[string]interface{}{
		"choices_count": len(resp.Choices),
		"image_size":    len(image),
		"mime_type":     mimeType,
	})

	if len(resp.Choices) == 0 {
		return "", usage, nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), usage, nil
}
