package handler

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"cloutopia/internal/app"
)

func newMediaRouter(dir string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := app.NewImageService(nil, nil, dir, 1<<20, quietLogger())
	h := NewMediaHandler(svc, quietLogger())
	router := gin.New()
	router.POST("/api/upload", h.Upload)
	router.GET("/api/images/:id", h.GetImage)
	return router
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func upload(router http.Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestUpload_Image(t *testing.T) {
	dir := t.TempDir()
	var img bytes.Buffer
	if err := png.Encode(&img, image.NewGray(image.Rect(0, 0, 8, 6))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	body, ct := multipartBody(t, "file", "sky.png", img.Bytes())

	rec := upload(newMediaRouter(dir), body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var res app.UploadResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(res.FileURL, "/uploads/") || res.Image.Width != 8 || res.Image.Height != 6 {
		t.Errorf("unexpected result %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.Base(res.FileURL))); err != nil {
		t.Errorf("Expected stored file: %v", err)
	}
}

func TestUpload_Rejections(t *testing.T) {
	router := newMediaRouter(t.TempDir())

	body, ct := multipartBody(t, "file", "notes.txt", []byte("just some text"))
	if rec := upload(router, body, ct); rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("text upload: expected 415, got %d", rec.Code)
	}

	body, ct = multipartBody(t, "other", "sky.png", []byte("x"))
	if rec := upload(router, body, ct); rec.Code != http.StatusBadRequest {
		t.Errorf("missing field: expected 400, got %d", rec.Code)
	}
}

func TestGetImage_PersistenceDisabled(t *testing.T) {
	router := newMediaRouter(t.TempDir())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/images/6a1f6d52-8f0e-4b8c-9b1a-2d4a8e9c0f11", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}
