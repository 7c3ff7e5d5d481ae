// Package imageprep turns a base64 image payload from a chat request into a
// bounded, normalized bitmap ready to be handed to a generative provider.
package imageprep

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"runtime"
	"strings"

	// Registered decoders.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
	"golang.org/x/sync/semaphore"
)

const (
	MaxPayloadBytes = 10 << 20
	DefaultMaxEdge  = 1024
	// 40 megapixels covers any real phone camera.
	DefaultMaxPixels = 40_000_000

	jpegQuality = 90
)

var (
	ErrDecode   = errors.New("failed to decode base64 image")
	ErrTooLarge = errors.New("image is too large")
)

type PreparedImage struct {
	img       image.Image
	Width     int
	Height    int
	Format    string
	Grayscale bool
}

// Image returns the normalized bitmap, or nil after Release.
func (p *PreparedImage) Image() image.Image {
	return p.img
}

// Encode serializes the bitmap as JPEG for the provider call.
func (p *PreparedImage) Encode() ([]byte, string, error) {
	if p.img == nil {
		return nil, "", fmt.Errorf("encode image failed: image already released")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, p.img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encode image failed: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// Release drops the bitmap so its backing memory can be collected while the
// response is still streaming.
func (p *PreparedImage) Release() {
	if p != nil {
		p.img = nil
	}
}

type Preparer struct {
	maxEdge   int
	maxPixels int
	sem       *semaphore.Weighted
}

type Options struct {
	MaxEdge        int
	MaxPixels      int
	MaxConcurrency int
}

func NewPreparer(opts Options) *Preparer {
	if opts.MaxEdge <= 0 {
		opts.MaxEdge = DefaultMaxEdge
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = runtime.GOMAXPROCS(0)
	}
	return &Preparer{
		maxEdge:   opts.MaxEdge,
		maxPixels: opts.MaxPixels,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrency)),
	}
}

// Prepare decodes raw (plain base64 or a data URI), bounds it to the
// configured edge length and normalizes its color model. Decoding runs under
// a semaphore so a burst of large uploads cannot starve in-flight streams.
func (p *Preparer) Prepare(ctx context.Context, raw string) (*PreparedImage, error) {
	data, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	if cfg.Width*cfg.Height > p.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, p.maxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	out := normalize(bound(src, p.maxEdge))
	_, gray := out.(*image.Gray)
	b := out.Bounds()
	return &PreparedImage{
		img:       out,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Format:    format,
		Grayscale: gray,
	}, nil
}

func decodePayload(raw string) ([]byte, error) {
	payload := strings.TrimSpace(raw)
	if strings.HasPrefix(payload, "data:") {
		idx := strings.IndexByte(payload, ',')
		if idx < 0 {
			return nil, fmt.Errorf("%w: malformed data URI", ErrDecode)
		}
		payload = payload[idx+1:]
	}
	payload = stripWhitespace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	if base64.StdEncoding.DecodedLen(len(payload)) > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrTooLarge, MaxPayloadBytes)
	}

	enc := base64.StdEncoding
	if len(payload)%4 != 0 {
		enc = base64.RawStdEncoding
		payload = strings.TrimRight(payload, "=")
	}
	data, err := enc.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return data, nil
}

func stripWhitespace(s string) string {
	if !strings.ContainsAny(s, " \t\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

// bound scales src down so neither side exceeds maxEdge, keeping aspect ratio.
func bound(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxEdge && h <= maxEdge {
		return src
	}

	var dw, dh int
	if w >= h {
		dw = maxEdge
		dh = max(1, int(float64(h)*float64(maxEdge)/float64(w)+0.5))
	} else {
		dh = maxEdge
		dw = max(1, int(float64(w)*float64(maxEdge)/float64(h)+0.5))
	}

	rect := image.Rect(0, 0, dw, dh)
	if isGray(src) {
		dst := image.NewGray(rect)
		draw.CatmullRom.Scale(dst, rect, src, b, draw.Src, nil)
		return dst
	}
	dst := image.NewRGBA(rect)
	draw.CatmullRom.Scale(dst, rect, src, b, draw.Src, nil)
	return dst
}

// normalize converts to 8-bit gray for grayscale sources and to an opaque
// RGBA composited on white for everything else.
func normalize(src image.Image) image.Image {
	b := src.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())

	if isGray(src) {
		if g, ok := src.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
			return g
		}
		dst := image.NewGray(rect)
		draw.Draw(dst, rect, src, b.Min, draw.Src)
		return dst
	}

	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, rect, src, b.Min, draw.Over)
	return dst
}

func isGray(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	return false
}
