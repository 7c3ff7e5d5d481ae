package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var (
	ErrConfig = errors.New("Google Gemini API key is not configured. Please set GOOGLE_GEMINI_API_KEY in .env file.")
	ErrAuth   = errors.New("API key error. Please check your Gemini API configuration.")
	// ErrRateLimit's text is safe to show to end users.
	ErrRateLimit      = errors.New("API rate limit exceeded. Please try again in a moment.")
	ErrUpstream       = errors.New("failed to generate response")
	ErrEmptyResponse  = fmt.Errorf("%w: the model returned an empty response", ErrUpstream)
	ErrStreamConsumed = errors.New("generation stream already consumed")
)

// IsValidation reports whether err is attributable to deployment
// configuration rather than the provider.
func IsValidation(err error) bool {
	return errors.Is(err, ErrConfig)
}

// classifyStatus maps an HTTP-style status code and provider status string
// onto the error taxonomy. ok is false when neither is conclusive.
func classifyStatus(code int, status string) (error, bool) {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden,
		status == "UNAUTHENTICATED", status == "PERMISSION_DENIED":
		return ErrAuth, true
	case code == http.StatusTooManyRequests, status == "RESOURCE_EXHAUSTED":
		return ErrRateLimit, true
	}
	return nil, false
}

// rateWord matches "rate" as a word of its own, so "Rate exceeded" and
// "rate-limited" count while "generate" does not.
var rateWord = regexp.MustCompile(`(?i)\brate\b`)

// classifyMessage is the fallback for errors that carry no structured code.
func classifyMessage(msg string) error {
	upper := strings.ToUpper(msg)
	switch {
	case strings.Contains(upper, "API_KEY"), strings.Contains(upper, "API KEY"):
		return ErrAuth
	case strings.Contains(upper, "QUOTA"), strings.Contains(upper, "RATELIMIT"),
		strings.Contains(upper, "RATE_LIMIT"), strings.Contains(upper, "TOO MANY REQUESTS"),
		rateWord.MatchString(msg):
		return ErrRateLimit
	}
	return nil
}

// mapError normalizes a provider failure. Caller cancellation is passed
// through untouched so the relay can stop silently.
func mapError(ctx context.Context, err error, structured func(error) (error, bool)) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUpstream) || errors.Is(err, ErrConfig) {
		return err
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out", ErrUpstream)
	}
	if structured != nil {
		if mapped, ok := structured(err); ok {
			return fmt.Errorf("%w (%v)", mapped, err)
		}
	}
	if mapped := classifyMessage(err.Error()); mapped != nil {
		return fmt.Errorf("%w (%v)", mapped, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}
