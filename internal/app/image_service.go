package app

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"cloutopia/internal/model"
)

const UploadURLPrefix = "/uploads"

// uploadTypes maps accepted sniffed MIME types to the stored extension.
var uploadTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type ImageStore interface {
	Create(image *model.Image) error
	GetPublicByUUID(id string) (*model.Image, error)
	IncrementViews(imageID uint) error
}

type UploadInput struct {
	Filename string
	// Size is the size declared by the client; -1 when unknown.
	Size    int64
	Content io.Reader
	UserID  string
}

type UploadResult struct {
	Message  string       `json:"message"`
	FileURL  string       `json:"file_url"`
	FileSize int64        `json:"file_size"`
	Image    *model.Image `json:"image"`
}

type ImageService struct {
	store   ImageStore
	users   UserStore
	dir     string
	maxSize int64
	logger  *slog.Logger
}

// NewImageService stores uploads under dir. store and users may be nil when
// MySQL is disabled; files are then kept without a database record.
func NewImageService(store ImageStore, users UserStore, dir string, maxSize int64, logger *slog.Logger) *ImageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageService{
		store:   store,
		users:   users,
		dir:     dir,
		maxSize: maxSize,
		logger:  logger.With("component", "image_service"),
	}
}

func (s *ImageService) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if in.Size > s.maxSize {
		return nil, ErrUploadTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(in.Content, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload failed: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, ErrUploadTooLarge
	}

	mtype := mimetype.Detect(data)
	ext, ok := uploadTypes[mtype.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, mtype.String())
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	id := uuid.NewString()
	filename := id + ext
	filePath := filepath.Join(s.dir, filename)
	if err := s.writeFile(filePath, data); err != nil {
		return nil, err
	}

	img := &model.Image{
		UUID:             id,
		Filename:         filename,
		OriginalFilename: originalName(in.Filename),
		FilePath:         filePath,
		FileSize:         int64(len(data)),
		MimeType:         mtype.String(),
		Width:            cfg.Width,
		Height:           cfg.Height,
		Format:           format,
		AnalysisStatus:   model.AnalysisPending,
		IsPublic:         true,
		UserID:           resolveUserID(s.users, in.UserID, s.logger),
	}
	if s.store != nil {
		if err := s.store.Create(img); err != nil {
			if rmErr := os.Remove(filePath); rmErr != nil {
				s.logger.Warn("remove orphaned upload failed", "path", filePath, "error", rmErr)
			}
			return nil, err
		}
	}

	s.logger.InfoContext(ctx, "image uploaded", "image_id", id, "bytes", len(data), "format", format)
	return &UploadResult{
		Message:  "File uploaded successfully",
		FileURL:  path.Join(UploadURLPrefix, filename),
		FileSize: int64(len(data)),
		Image:    img,
	}, nil
}

// Get returns a public image record and counts the view.
func (s *ImageService) Get(ctx context.Context, id string) (*model.Image, error) {
	if s.store == nil {
		return nil, ErrPersistenceDisabled
	}
	id = strings.ToLower(id)
	if err := validation.Validate(id, validation.Required, is.UUID); err != nil {
		return nil, fmt.Errorf("%w: image id %v", ErrInvalidInput, err)
	}

	img, err := s.store.GetPublicByUUID(id)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, ErrImageNotFound
	}
	if err := s.store.IncrementViews(img.ID); err != nil {
		s.logger.WarnContext(ctx, "count image view failed", "image_id", id, "error", err)
	} else {
		img.ViewCount++
	}
	return img, nil
}

// writeFile writes through a temp file; dst only ever holds a complete image.
func (s *ImageService) writeFile(dst string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create upload dir failed: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp upload failed: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write upload failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close upload failed: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store upload failed: %w", err)
	}
	return nil
}

func originalName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}
