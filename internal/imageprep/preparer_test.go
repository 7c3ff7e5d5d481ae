package imageprep

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func rgbaImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 200, 255})
		}
	}
	return img
}

func TestPrepare_WithinBoundKeepsDimensions(t *testing.T) {
	p := NewPreparer(Options{})
	raw := encodePNG(t, rgbaImage(320, 200))

	first, err := p.Prepare(context.Background(), raw)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if first.Width != 320 || first.Height != 200 {
		t.Fatalf("Expected 320x200, got %dx%d", first.Width, first.Height)
	}

	// Feed the prepared output back through: dimensions must not drift.
	second, err := p.Prepare(context.Background(), encodePNG(t, first.Image()))
	if err != nil {
		t.Fatalf("Expected no error on second pass, got %v", err)
	}
	if second.Width != first.Width || second.Height != first.Height {
		t.Errorf("Expected %dx%d after second pass, got %dx%d", first.Width, first.Height, second.Width, second.Height)
	}
}

func TestPrepare_DownscalesPreservingAspect(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		maxEdge      int
		wantW, wantH int
	}{
		{"landscape", 2048, 1024, 1024, 1024, 512},
		{"portrait", 600, 1500, 1024, 410, 1024},
		{"square small bound", 300, 300, 100, 100, 100},
		{"exactly on bound", 1024, 768, 1024, 1024, 768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPreparer(Options{MaxEdge: tt.maxEdge})
			got, err := p.Prepare(context.Background(), encodePNG(t, rgbaImage(tt.w, tt.h)))
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got.Width != tt.wantW || got.Height != tt.wantH {
				t.Errorf("Expected %dx%d, got %dx%d", tt.wantW, tt.wantH, got.Width, got.Height)
			}
		})
	}
}

func TestPrepare_DataURIPrefix(t *testing.T) {
	p := NewPreparer(Options{})
	raw := "data:image/png;base64," + encodePNG(t, rgbaImage(10, 10))

	got, err := p.Prepare(context.Background(), raw)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.Format != "png" {
		t.Errorf("Expected png format, got %q", got.Format)
	}
}

func TestPrepare_NormalizesColorModel(t *testing.T) {
	p := NewPreparer(Options{})

	gray := image.NewGray(image.Rect(0, 0, 8, 8))
	got, err := p.Prepare(context.Background(), encodePNG(t, gray))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !got.Grayscale {
		t.Error("Expected grayscale source to stay single-channel")
	}
	if _, ok := got.Image().(*image.Gray); !ok {
		t.Errorf("Expected *image.Gray, got %T", got.Image())
	}

	translucent := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	translucent.Set(0, 0, color.NRGBA{255, 0, 0, 0})
	got, err = p.Prepare(context.Background(), encodePNG(t, translucent))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	rgba, ok := got.Image().(*image.RGBA)
	if !ok {
		t.Fatalf("Expected *image.RGBA, got %T", got.Image())
	}
	if a := rgba.RGBAAt(0, 0).A; a != 255 {
		t.Errorf("Expected opaque pixel, got alpha %d", a)
	}
	if c := rgba.RGBAAt(0, 0); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Errorf("Expected transparent pixel composited on white, got %v", c)
	}
}

func TestPrepare_CorruptBase64(t *testing.T) {
	p := NewPreparer(Options{})
	for _, raw := range []string{"not-base64!!", "data:image/png;base64,%%%%", "", "data:image/png;base64"} {
		_, err := p.Prepare(context.Background(), raw)
		if !errors.Is(err, ErrDecode) {
			t.Errorf("Prepare(%q): expected ErrDecode, got %v", raw, err)
		}
	}
}

func TestPrepare_ValidBase64ButNotImage(t *testing.T) {
	p := NewPreparer(Options{})
	raw := base64.StdEncoding.EncodeToString([]byte("hello, clouds"))

	_, err := p.Prepare(context.Background(), raw)
	if !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode, got %v", err)
	}
}

func TestPrepare_PayloadTooLarge(t *testing.T) {
	p := NewPreparer(Options{})
	raw := strings.Repeat("A", (MaxPayloadBytes/3+1)*4)

	_, err := p.Prepare(context.Background(), raw)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
}

func TestPrepare_PixelCap(t *testing.T) {
	p := NewPreparer(Options{MaxPixels: 100})

	_, err := p.Prepare(context.Background(), encodePNG(t, rgbaImage(20, 20)))
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
}

func TestPrepare_UnpaddedBase64(t *testing.T) {
	p := NewPreparer(Options{})
	raw := strings.TrimRight(encodePNG(t, rgbaImage(5, 3)), "=")

	if _, err := p.Prepare(context.Background(), raw); err != nil {
		t.Fatalf("Expected unpadded payload to decode, got %v", err)
	}
}

func TestPrepare_CancelledWhileWaiting(t *testing.T) {
	p := NewPreparer(Options{MaxConcurrency: 1})
	if err := p.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Prepare(ctx, encodePNG(t, rgbaImage(2, 2)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPreparedImage_EncodeAndRelease(t *testing.T) {
	p := NewPreparer(Options{})
	got, err := p.Prepare(context.Background(), encodePNG(t, rgbaImage(16, 9)))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	data, mime, err := got.Encode()
	if err != nil {
		t.Fatalf("Expected encode to succeed, got %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %q", mime)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Expected valid jpeg, got %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 16 || b.Dy() != 9 {
		t.Errorf("Expected 16x9 jpeg, got %dx%d", b.Dx(), b.Dy())
	}

	got.Release()
	if got.Image() != nil {
		t.Error("Expected bitmap to be dropped after Release")
	}
	if _, _, err := got.Encode(); err == nil {
		t.Error("Expected encode after release to fail")
	}
}
