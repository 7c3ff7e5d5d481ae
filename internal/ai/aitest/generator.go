// Package aitest provides an in-memory ai.Generator for tests.
package aitest

import (
	"context"
	"iter"
	"sync"

	"cloutopia/internal/ai"
)

type Generator struct {
	InitErr     error
	Fragments   []string
	StreamErr   error
	Text        string
	CompleteErr error
	ModelName   string

	// OnFragment, when set, runs before each fragment is handed out.
	OnFragment func(i int)

	mu      sync.Mutex
	prompts []ai.Prompt
	pulled  int
	calls   int
}

var _ ai.Generator = (*Generator)(nil)

func (g *Generator) Initialize(context.Context) error {
	return g.InitErr
}

func (g *Generator) Model() string {
	if g.ModelName == "" {
		return "fake-model"
	}
	return g.ModelName
}

func (g *Generator) GenerateStream(ctx context.Context, prompt ai.Prompt) iter.Seq2[string, error] {
	g.record(prompt)
	return func(yield func(string, error) bool) {
		for i, f := range g.Fragments {
			if g.OnFragment != nil {
				g.OnFragment(i)
			}
			if ctx.Err() != nil {
				yield("", context.Canceled)
				return
			}
			g.mu.Lock()
			g.pulled++
			g.mu.Unlock()
			if !yield(f, nil) {
				return
			}
		}
		if g.StreamErr != nil {
			yield("", g.StreamErr)
		}
	}
}

func (g *Generator) GenerateComplete(ctx context.Context, prompt ai.Prompt) (string, error) {
	g.record(prompt)
	if g.CompleteErr != nil {
		return "", g.CompleteErr
	}
	if err := ctx.Err(); err != nil {
		return "", context.Canceled
	}
	return g.Text, nil
}

func (g *Generator) record(p ai.Prompt) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	g.calls++
}

// Calls reports how many generation calls were issued.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Pulled reports how many stream fragments were consumed.
func (g *Generator) Pulled() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pulled
}

func (g *Generator) LastPrompt() (ai.Prompt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ai.Prompt{}, false
	}
	return g.prompts[len(g.prompts)-1], true
}
