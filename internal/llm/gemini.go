package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/snapbuy/snapbuy/internal/config"
	"github.com/snapbuy/snapbuy/internal/logger"
	"google.golang.org/genai"
)

// GeminiSDKClient wraps the official Google Gemini Go SDK
type GeminiSDKClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiSDKClient creates a new Gemini client using the official Google SDK.
// cfg.LLMEndpoint, when set, replaces the public API base URL.
func NewGeminiSDKClient(cfg *config.Config, httpClient *http.Client) (*GeminiSDKClient, error) {
	if cfg == nil || cfg.LLMToken == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.LLMToken,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.LLMEndpoint != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.LLMEndpoint}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	modelName := cfg.LLMModel
	if modelName == "" {
		modelName = config.DefaultGeminiModel
	}

	return &GeminiSDKClient{
		client:    client,
		modelName: modelName,
	}, nil
}

func (gc *GeminiSDKClient) Name() string {
	return config.ProviderGemini
}

// Describe sends the prompt and the image as one multimodal content.
func (gc *GeminiSDKClient) Describe(ctx context.Context, prompt, mimeType string, image []byte) (string, *Usage, error) {
	if gc.client == nil {
		return "", nil, fmt.Errorf("gemini SDK client not initialized")
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
		},
	}}

	// Create generation config with thinking disabled
	generateConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(0.1)),
		TopK:            genai.Ptr(float32(1)),
		TopP:            genai.Ptr(float32(0.8)),
		MaxOutputTokens: 100,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget:  genai.Ptr(int32(0)), // Disable thinking mode
			IncludeThoughts: false,
		},
	}

	resp, err := gc.client.Models.GenerateContent(ctx, gc.modelName, contents, generateConfig)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate content from image: %w", err)
	}

	usage := geminiUsage(resp)

	logger.Debug("Gemini SDK Image Analysis Response", map[string]interface{}{
		"candidates_count": len(resp.Candidates),
		"image_size":       len(image),
		"mime_type":        mimeType,
	})

	// An empty candidate list is a valid reply; the caller maps it to an
	// empty response.
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", usage, nil
	}

	var content strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			content.WriteString(part.Text)
		}
	}

	return strings.TrimSpace(content.String()), usage, nil
}

func geminiUsage(resp *genai.GenerateContentResponse) *Usage {
	if resp.UsageMetadata == nil {
		return nil
	}
	usage := &Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}

	logger.Debug("Gemini SDK Image Token Usage Extracted", map[string]interface{}{
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
	})
	return usage
}
