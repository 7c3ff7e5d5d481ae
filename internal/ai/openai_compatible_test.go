package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *OpenAICompatibleGenerator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g := NewOpenAICompatibleGenerator(Config{
		BaseURL: srv.URL + "/v1",
		APIKey:  "sk-test",
		Model:   "test-model",
		Timeout: 2 * time.Second,
	})
	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return g
}

func TestOpenAIInitialize_RequiresKeyAndBaseURL(t *testing.T) {
	if err := NewOpenAICompatibleGenerator(Config{BaseURL: "http://x"}).Initialize(context.Background()); !errors.Is(err, ErrConfig) {
		t.Errorf("missing key: expected ErrConfig, got %v", err)
	}
	if err := NewOpenAICompatibleGenerator(Config{APIKey: "sk"}).Initialize(context.Background()); !errors.Is(err, ErrConfig) {
		t.Errorf("missing base url: expected ErrConfig, got %v", err)
	}
}

func TestOpenAIGenerateComplete(t *testing.T) {
	requests := make(chan chatRequest, 1)
	g := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		var got chatRequest
		got.Model, _ = raw["model"].(string)
		got.Stream, _ = raw["stream"].(bool)
		requests <- got
		msgs, _ := raw["messages"].([]any)
		if len(msgs) != 2 {
			t.Errorf("Expected system + user messages, got %d", len(msgs))
			return
		}
		user := msgs[1].(map[string]any)
		parts, ok := user["content"].([]any)
		if !ok || len(parts) != 2 {
			t.Errorf("Expected multimodal user content, got %v", user["content"])
			return
		}
		img := parts[0].(map[string]any)["image_url"].(map[string]any)["url"].(string)
		if !strings.HasPrefix(img, "data:image/jpeg;base64,") {
			t.Errorf("Expected data URI image, got %q", img)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Stratus, low and grey."}}]}`)
	})

	text, err := g.GenerateComplete(context.Background(), Prompt{
		Message: "what is this",
		Image:   &InlineImage{MIMEType: "image/jpeg", Data: []byte{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if text != "Stratus, low and grey." {
		t.Errorf("unexpected text %q", text)
	}
	if got := <-requests; got.Model != "test-model" || got.Stream {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestOpenAIGenerateStream(t *testing.T) {
	g := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Cirrus ", "", "is wispy."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", chunk)
		}
		fmt.Fprint(w, ": comment line\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var b strings.Builder
	for chunk, err := range g.GenerateStream(context.Background(), Prompt{Message: "hi"}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b.WriteString(chunk)
	}
	if b.String() != "Cirrus is wispy." {
		t.Errorf("unexpected stream text %q", b.String())
	}
}

func TestOpenAIStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimit},
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusBadGateway, ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			g := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"message":"nope"}}`, tt.status)
			})
			_, err := g.GenerateComplete(context.Background(), Prompt{Message: "hi"})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestOpenAIStream_InBandError(t *testing.T) {
	g := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"quota exceeded\"}}\n\n")
	})

	var lastErr error
	for _, err := range g.GenerateStream(context.Background(), Prompt{Message: "hi"}) {
		if err != nil {
			lastErr = err
		}
	}
	if !errors.Is(lastErr, ErrRateLimit) {
		t.Errorf("Expected ErrRateLimit, got %v", lastErr)
	}
}

func TestOpenAIGenerateComplete_EmptyChoices(t *testing.T) {
	g := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})
	if _, err := g.GenerateComplete(context.Background(), Prompt{Message: "hi"}); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}
