package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"google.golang.org/genai"
)

type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// GeminiGenerator talks to the Gemini API through google.golang.org/genai.
type GeminiGenerator struct {
	cfg Config

	mu        sync.Mutex
	models    geminiModels
	genConfig *genai.GenerateContentConfig

	dial func(ctx context.Context, apiKey string) (geminiModels, error)
}

func NewGeminiGenerator(cfg Config) *GeminiGenerator {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	return &GeminiGenerator{
		cfg:  cfg,
		dial: dialGemini,
	}
}

func dialGemini(ctx context.Context, apiKey string) (geminiModels, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client failed: %w", err)
	}
	return client.Models, nil
}

func (g *GeminiGenerator) Model() string {
	return g.cfg.Model
}

func (g *GeminiGenerator) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.models != nil {
		return nil
	}
	if err := validateAPIKey(g.cfg.APIKey); err != nil {
		return err
	}

	models, err := g.dial(ctx, strings.TrimSpace(g.cfg.APIKey))
	if err != nil {
		return err
	}
	g.models = models
	g.genConfig = &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(Temperature),
		TopP:              genai.Ptr(TopP),
		TopK:              genai.Ptr(TopK),
		MaxOutputTokens:   MaxOutputTokens,
	}
	return nil
}

func (g *GeminiGenerator) ready() (geminiModels, *genai.GenerateContentConfig, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.models == nil {
		return nil, nil, ErrConfig
	}
	return g.models, g.genConfig, nil
}

func (g *GeminiGenerator) GenerateComplete(ctx context.Context, prompt Prompt) (string, error) {
	models, genConfig, err := g.ready()
	if err != nil {
		return "", err
	}

	callCtx, cancel := withTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	resp, err := models.GenerateContent(callCtx, g.cfg.Model, geminiContents(prompt), genConfig)
	if err != nil {
		return "", mapError(ctx, err, classifyGeminiError)
	}
	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (g *GeminiGenerator) GenerateStream(ctx context.Context, prompt Prompt) iter.Seq2[string, error] {
	return singleUse(func(yield func(string, error) bool) {
		models, genConfig, err := g.ready()
		if err != nil {
			yield("", err)
			return
		}

		callCtx, cancel := withTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		for resp, err := range models.GenerateContentStream(callCtx, g.cfg.Model, geminiContents(prompt), genConfig) {
			if err != nil {
				yield("", mapError(ctx, err, classifyGeminiError))
				return
			}
			text := responseText(resp)
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	})
}

func geminiContents(prompt Prompt) []*genai.Content {
	parts := make([]*genai.Part, 0, 2)
	if prompt.Image != nil && len(prompt.Image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(prompt.Image.Data, prompt.Image.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(prompt.Message))
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

func classifyGeminiError(err error) (error, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, apiErr.Status)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyStatus(apiErrPtr.Code, apiErrPtr.Status)
	}
	return nil, false
}
