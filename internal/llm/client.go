package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/snapbuy/snapbuy/internal/config"
	"github.com/snapbuy/snapbuy/internal/logger"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const identifyPrompt = "Identify the product in this image. Reply with only the short commercial name suitable for an Amazon search, no description."

const fallbackMIMEType = "image/jpeg"

// Reason explains why a product was not identified.
type Reason string

const (
	ReasonUnconfigured  Reason = "unconfigured"
	ReasonEmptyImage    Reason = "empty_image"
	ReasonRequestFailed Reason = "request_failed"
	ReasonEmptyResponse Reason = "empty_response"
)

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is either an identified product name or a Reason, never both.
type Result struct {
	ProductName string
	Reason      Reason
	Usage       *Usage
}

func (r Result) Identified() bool {
	return r.Reason == "" && r.ProductName != ""
}

func notIdentified(reason Reason, usage *Usage) Result {
	return Result{Reason: reason, Usage: usage}
}

// visionProvider sends one prompt plus one image and returns the raw reply.
type visionProvider interface {
	Name() string
	Describe(ctx context.Context, prompt, mimeType string, image []byte) (string, *Usage, error)
}

type Client struct {
	cfg      *config.Config
	provider visionProvider
	timeout  time.Duration
}

// NewClient returns a client that reports ReasonUnconfigured for every call
// when no provider credential is available.
func NewClient(cfg *config.Config) *Client {
	client := &Client{cfg: cfg, timeout: config.DefaultLLMTimeout}
	if cfg == nil {
		return client
	}
	if cfg.LLMTimeout > 0 {
		client.timeout = cfg.LLMTimeout
	}
	if !cfg.HasLLMConfig() {
		return client
	}

	httpClient := &http.Client{Timeout: client.timeout}

	var (
		provider visionProvider
		err      error
	)
	switch strings.ToLower(cfg.LLMProvider) {
	case config.ProviderOpenAI:
		provider, err = NewOpenAIClient(cfg, httpClient)
	default:
		provider, err = NewGeminiSDKClient(cfg, httpClient)
	}
	if err != nil {
		logger.Warn("Failed to initialize LLM provider", map[string]interface{}{
			"provider": cfg.LLMProvider,
			"error":    err.Error(),
		})
		return client
	}

	client.provider = provider
	return client
}

func (c *Client) Configured() bool {
	return c.provider != nil
}

// Provider names the backend for logs and metrics.
func (c *Client) Provider() string {
	if c.provider == nil {
		return "none"
	}
	return c.provider.Name()
}

// IdentifyProduct makes a single attempt bounded by the configured timeout.
// Failures are folded into Result.Reason.
func (c *Client) IdentifyProduct(ctx context.Context, image []byte, languageHint string) Result {
	if c.provider == nil {
		return notIdentified(ReasonUnconfigured, nil)
	}
	if len(image) == 0 {
		return notIdentified(ReasonEmptyImage, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	mimeType := detectImageType(image)
	text, usage, err := c.provider.Describe(ctx, buildPrompt(languageHint), mimeType, image)
	if err != nil {
		logger.Warn("Product identification request failed", map[string]interface{}{
			"provider":   c.provider.Name(),
			"mime_type":  mimeType,
			"image_size": len(image),
			"error":      err.Error(),
		})
		return notIdentified(ReasonRequestFailed, usage)
	}

	name := firstLine(text)
	if name == "" {
		return notIdentified(ReasonEmptyResponse, usage)
	}

	return Result{ProductName: name, Usage: usage}
}

func (c *Client) Close() error {
	if closer, ok := c.provider.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func buildPrompt(languageHint string) string {
	if languageHint == "" {
		return identifyPrompt
	}
	tag, err := language.Parse(languageHint)
	if err != nil {
		return identifyPrompt
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return identifyPrompt
	}
	return fmt.Sprintf("%s The shopper speaks %s; keep brand and model names as printed.", identifyPrompt, name)
}

func detectImageType(image []byte) string {
	detected := mimetype.Detect(image).String()
	if strings.HasPrefix(detected, "image/") {
		return detected
	}
	return fallbackMIMEType
}

// firstLine keeps the first non-empty line. Only a matched pair of quotes or
// markdown emphasis wrapping the whole line is removed, so trailing inch
// marks and apostrophes survive.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = unwrap(strings.TrimSpace(line)); line != "" {
			return line
		}
	}
	return ""
}

var wrappers = []string{"**", "__", "`", "\"", "'"}

func unwrap(line string) string {
	for _, w := range wrappers {
		if len(line) > 2*len(w) && strings.HasPrefix(line, w) && strings.HasSuffix(line, w) {
			return strings.TrimSpace(line[len(w) : len(line)-len(w)])
		}
	}
	return line
}
