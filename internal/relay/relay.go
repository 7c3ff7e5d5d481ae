// Package relay turns a generative text stream into an ordered, paced
// sequence of chat events: one start, zero or more tokens, one terminal.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"cloutopia/internal/ai"
	"cloutopia/internal/imageprep"
)

const (
	DefaultPacing = 10 * time.Millisecond

	GenericErrorMessage = "An error occurred while generating response"
)

type EventType string

const (
	EventStart EventType = "start"
	EventToken EventType = "token"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Sink receives events in order. A Send error is treated as the client
// going away.
type Sink interface {
	Send(Event) error
}

// Preparer is the image half of prompt construction.
type Preparer interface {
	Prepare(ctx context.Context, raw string) (*imageprep.PreparedImage, error)
}

type Request struct {
	Message string
	Image   string
}

type Result struct {
	Text          string
	Tokens        int
	Terminal      EventType
	ImageAttached bool
	Elapsed       time.Duration
}

type Options struct {
	Pacing time.Duration
	Logger *slog.Logger
}

type Relay struct {
	generator ai.Generator
	preparer  Preparer
	pacing    time.Duration
	logger    *slog.Logger
}

var tokenPattern = regexp.MustCompile(`\s+|\S+`)

func New(generator ai.Generator, preparer Preparer, opts Options) *Relay {
	if opts.Pacing < 0 {
		opts.Pacing = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Relay{
		generator: generator,
		preparer:  preparer,
		pacing:    opts.Pacing,
		logger:    opts.Logger,
	}
}

// Prompt validates the generator configuration and prepares the optional
// image. The decoded bitmap is released as soon as it is encoded for the
// provider, so only the compressed bytes outlive this call.
func (r *Relay) Prompt(ctx context.Context, req Request) (ai.Prompt, error) {
	prompt := ai.Prompt{Message: req.Message}

	if strings.TrimSpace(req.Image) != "" {
		img, err := r.preparer.Prepare(ctx, req.Image)
		if err != nil {
			return prompt, err
		}
		data, mimeType, err := img.Encode()
		img.Release()
		if err != nil {
			return prompt, err
		}
		prompt.Image = &ai.InlineImage{MIMEType: mimeType, Data: data}
	}

	if err := r.generator.Initialize(ctx); err != nil {
		return prompt, err
	}
	return prompt, nil
}

// Run drives one streamed exchange into sink. It returns the failure that
// ended the stream, if any; context.Canceled means the client went away and
// nothing further was written.
func (r *Relay) Run(ctx context.Context, sink Sink, req Request) (Result, error) {
	started := time.Now()
	res := Result{ImageAttached: strings.TrimSpace(req.Image) != ""}

	if err := sink.Send(Event{Type: EventStart}); err != nil {
		res.Elapsed = time.Since(started)
		return res, fmt.Errorf("%w: send start failed: %v", context.Canceled, err)
	}

	prompt, err := r.Prompt(ctx, req)
	if err != nil {
		return r.fail(ctx, sink, &res, started, err)
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := r.generator.GenerateStream(genCtx, prompt)

	var text strings.Builder
	for fragment, err := range stream {
		if err != nil {
			res.Text = text.String()
			return r.fail(ctx, sink, &res, started, err)
		}
		text.WriteString(fragment)

		for _, token := range Tokenize(fragment) {
			if res.Tokens > 0 {
				if err := r.pause(ctx); err != nil {
					res.Text = text.String()
					res.Elapsed = time.Since(started)
					return res, err
				}
			}
			if err := sink.Send(Event{Type: EventToken, Content: token}); err != nil {
				res.Text = text.String()
				res.Elapsed = time.Since(started)
				return res, fmt.Errorf("%w: send token failed: %v", context.Canceled, err)
			}
			res.Tokens++
		}
	}

	res.Text = text.String()
	res.Elapsed = time.Since(started)
	if err := ctx.Err(); err != nil {
		return res, context.Canceled
	}
	if err := sink.Send(Event{Type: EventDone}); err != nil {
		return res, fmt.Errorf("%w: send done failed: %v", context.Canceled, err)
	}
	res.Terminal = EventDone
	return res, nil
}

func (r *Relay) fail(ctx context.Context, sink Sink, res *Result, started time.Time, cause error) (Result, error) {
	res.Elapsed = time.Since(started)
	if errors.Is(cause, context.Canceled) || ctx.Err() != nil {
		return *res, context.Canceled
	}

	r.logger.Error("chat stream failed", "error", cause, "tokens", res.Tokens)
	if err := sink.Send(Event{Type: EventError, Message: ErrorMessage(cause)}); err != nil {
		return *res, fmt.Errorf("%w: send error failed: %v", context.Canceled, err)
	}
	res.Terminal = EventError
	return *res, cause
}

func (r *Relay) pause(ctx context.Context) error {
	if r.pacing <= 0 {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return nil
	}
	timer := time.NewTimer(r.pacing)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Canceled
	case <-timer.C:
		return nil
	}
}

// ErrorMessage is the user-facing text for a failed exchange. Only
// validation and rate-limit failures are worded specifically.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ai.ErrConfig):
		return ai.ErrConfig.Error()
	case errors.Is(err, imageprep.ErrDecode), errors.Is(err, imageprep.ErrTooLarge):
		return err.Error()
	case errors.Is(err, ai.ErrRateLimit):
		return ai.ErrRateLimit.Error()
	default:
		return GenericErrorMessage
	}
}

// IsValidation reports whether err should be answered as a bad request.
func IsValidation(err error) bool {
	return ai.IsValidation(err) || errors.Is(err, imageprep.ErrDecode) || errors.Is(err, imageprep.ErrTooLarge)
}

// Tokenize splits text into alternating runs of whitespace and
// non-whitespace. Concatenating the result yields text unchanged.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}
