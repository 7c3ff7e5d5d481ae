package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float32       `json:"temperature"`
	TopP        float32       `json:"top_p"`
	MaxTokens   int32         `json:"max_tokens"`
}

// statusError keeps the HTTP status of a failed call for classification.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("llm response status %d: %s", e.Code, e.Body)
}

// OpenAICompatibleGenerator speaks the /chat/completions protocol shared by
// OpenAI, Azure OpenAI deployments, DashScope and most gateways. top_k is
// not part of that protocol and is not sent.
type OpenAICompatibleGenerator struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.Mutex
	initialized bool
}

func NewOpenAICompatibleGenerator(cfg Config) *OpenAICompatibleGenerator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	// Per-call deadlines come from the request context.
	return &OpenAICompatibleGenerator{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

func (c *OpenAICompatibleGenerator) Model() string {
	return c.cfg.Model
}

func (c *OpenAICompatibleGenerator) Initialize(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	if err := validateAPIKey(c.cfg.APIKey); err != nil {
		return err
	}
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return ErrConfig
	}
	c.initialized = true
	return nil
}

func (c *OpenAICompatibleGenerator) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *OpenAICompatibleGenerator) GenerateComplete(ctx context.Context, prompt Prompt) (string, error) {
	if !c.isInitialized() {
		return "", ErrConfig
	}
	callCtx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.do(callCtx, prompt, false)
	if err != nil {
		return "", mapError(ctx, err, classifyHTTPError)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", mapError(ctx, fmt.Errorf("read llm response failed: %w", err), nil)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: parse llm json failed: %v", ErrUpstream, err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *OpenAICompatibleGenerator) GenerateStream(ctx context.Context, prompt Prompt) iter.Seq2[string, error] {
	return singleUse(func(yield func(string, error) bool) {
		if !c.isInitialized() {
			yield("", ErrConfig)
			return
		}
		callCtx, cancel := withTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.do(callCtx, prompt, true)
		if err != nil {
			yield("", mapError(ctx, err, classifyHTTPError))
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
				Error *struct {
					Message string `json:"message"`
					Code    any    `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				yield("", mapError(ctx, fmt.Errorf("llm stream error: %s", chunk.Error.Message), nil))
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", mapError(ctx, fmt.Errorf("scan llm stream failed: %w", err), nil))
		}
	})
}

func (c *OpenAICompatibleGenerator) do(ctx context.Context, prompt Prompt, stream bool) (*http.Response, error) {
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: userContent(prompt)},
		},
		Stream:      stream,
		Temperature: Temperature,
		TopP:        TopP,
		MaxTokens:   MaxOutputTokens,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal llm request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build llm request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &statusError{Code: resp.StatusCode, Body: string(raw)}
	}
	return resp, nil
}

func userContent(prompt Prompt) any {
	if prompt.Image == nil || len(prompt.Image.Data) == 0 {
		return prompt.Message
	}
	dataURI := "data:" + prompt.Image.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(prompt.Image.Data)
	return []contentPart{
		{Type: "image_url", ImageURL: &imageURL{URL: dataURI}},
		{Type: "text", Text: prompt.Message},
	}
}

func classifyHTTPError(err error) (error, bool) {
	var se *statusError
	if !errors.As(err, &se) {
		return nil, false
	}
	return classifyStatus(se.Code, "")
}
