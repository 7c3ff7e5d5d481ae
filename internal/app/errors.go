package app

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrSessionNotFound     = errors.New("chat session not found")
	ErrImageNotFound       = errors.New("image not found")
	ErrBlogNotFound        = errors.New("blog not found")
	ErrUnsupportedImage    = errors.New("unsupported image type")
	ErrUploadTooLarge      = errors.New("uploaded file is too large")
	ErrPersistenceDisabled = errors.New("persistence is not enabled on this server")
)
