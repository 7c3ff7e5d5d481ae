package response

import "github.com/gin-gonic/gin"

const (
	CodeBadRequest       = "bad_request"
	CodeUnauthorized     = "unauthorized"
	CodeNotFound         = "not_found"
	CodeTooLarge         = "request_too_large"
	CodeUnsupportedMedia = "unsupported_media_type"
	CodeInternalServer   = "internal_error"
	CodeUnavailable      = "service_unavailable"
)

// ErrorBody is the envelope of every failed request.
type ErrorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func OK(c *gin.Context, data any) {
	c.JSON(200, data)
}

func Error(c *gin.Context, httpStatus int, code, detail string) {
	c.JSON(httpStatus, ErrorBody{
		Error:  code,
		Detail: detail,
	})
}
