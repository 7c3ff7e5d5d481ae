// Package sse frames relay events as server-sent events.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloutopia/internal/relay"
)

var ErrStreamingUnsupported = errors.New("streaming unsupported by response writer")

// SetHeaders prepares a response for an event stream. Proxies must not
// buffer it.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer serializes event frames and keep-alive comments onto one
// connection. Every frame is written and flushed under a single lock, so a
// keep-alive can never land inside an event.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one `data: <json>` frame and flushes it.
func (s *Writer) Send(e relay.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return s.write(frame)
}

// WriteKeepAlive writes an SSE comment that clients ignore.
func (s *Writer) WriteKeepAlive() error {
	return s.write([]byte(": keepalive\n\n"))
}

func (s *Writer) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, err := s.w.Write(frame); err != nil {
		s.err = fmt.Errorf("write sse frame failed: %w", err)
		return s.err
	}
	s.flusher.Flush()
	return nil
}

// KeepAlive sends keep-alive comments every interval until ctx is done or
// the returned stop function is called. stop waits for the ticker goroutine
// to exit, after which no further writes happen.
func (s *Writer) KeepAlive(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.WriteKeepAlive(); err != nil {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
