// Package ai isolates the chat core from a specific generative provider.
package ai

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"
)

const SystemPrompt = `You are Cloutopia AI, an expert meteorologist and atmospheric scientist specializing in cloud identification and geographic analysis based on atmospheric patterns.

When analyzing cloud images:
1. Identify cloud types (cumulus, stratus, cirrus, nimbus, cumulonimbus, stratocumulus, etc.)
2. Describe atmospheric conditions visible in the image
3. Make educated guesses about the photo location based on:
   - Cloud formations typical to certain climates (temperate, tropical, subtropical, continental, maritime, etc.)
   - Lighting conditions and sun angle
   - Vegetation or landscape visible (if any)
   - Weather patterns and atmospheric moisture levels
   - Time of day estimates based on lighting

Provide detailed, engaging explanations. Be conversational and educational. If the user uploads an image, analyze it thoroughly. If they ask a question without an image, help them understand cloud formations and atmospheric phenomena.

Always be enthusiastic about clouds and weather patterns!`

// Sampling parameters shared by every provider.
const (
	Temperature     float32 = 0.7
	TopP            float32 = 0.95
	TopK            float32 = 40
	MaxOutputTokens int32   = 2048
)

var placeholderKeys = []string{
	"your_gemini_api_key_here",
	"your_api_key_here",
	"change-me",
	"changeme",
}

type InlineImage struct {
	MIMEType string
	Data     []byte
}

type Prompt struct {
	Message string
	Image   *InlineImage
}

// Generator is implemented by every provider adapter.
type Generator interface {
	// Initialize validates credentials and binds the system instruction.
	// It is idempotent and safe for concurrent use.
	Initialize(ctx context.Context) error
	// GenerateStream returns a lazy, single-use sequence of text fragments.
	// Stopping the range early aborts the provider call.
	GenerateStream(ctx context.Context, prompt Prompt) iter.Seq2[string, error]
	GenerateComplete(ctx context.Context, prompt Prompt) (string, error)
	Model() string
}

type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

func NewGenerator(cfg Config) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		return NewGeminiGenerator(cfg), nil
	case "openai":
		return NewOpenAICompatibleGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func validateAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrConfig
	}
	lower := strings.ToLower(key)
	for _, p := range placeholderKeys {
		if lower == p {
			return ErrConfig
		}
	}
	return nil
}

// withTimeout bounds a provider call when a timeout is configured.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// singleUse wraps seq so that only the first range over it produces values.
func singleUse(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	used := false
	return func(yield func(string, error) bool) {
		if used {
			yield("", ErrStreamConsumed)
			return
		}
		used = true
		seq(yield)
	}
}
