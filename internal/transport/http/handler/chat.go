package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"cloutopia/internal/ai"
	"cloutopia/internal/app"
	"cloutopia/internal/relay"
	"cloutopia/internal/transport/http/middleware"
	"cloutopia/internal/transport/http/response"
	"cloutopia/internal/transport/http/sse"
)

const (
	SessionHeader = "X-Chat-Session-ID"

	generateFailedDetail = "Failed to generate response. Please try again."
)

type ChatHandler struct {
	chatService *app.ChatService
	keepAlive   time.Duration
	logger      *slog.Logger
}

type ChatRequest struct {
	Message   string `json:"message" binding:"required,min=1,max=5000"`
	Image     string `json:"image"`
	SessionID string `json:"session_id"`
}

func NewChatHandler(chatService *app.ChatService, keepAlive time.Duration, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		chatService: chatService,
		keepAlive:   keepAlive,
		logger:      logger.With("component", "chat_handler"),
	}
}

// Complete answers a chat request in one JSON body.
func (h *ChatHandler) Complete(c *gin.Context) {
	in, ok := h.bindInput(c)
	if !ok {
		return
	}

	reply, err := h.chatService.Complete(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.writeGenerateError(c, err)
		return
	}

	c.Header(SessionHeader, reply.SessionID)
	response.OK(c, reply)
}

// Stream answers a chat request as a server-sent event stream. Input errors
// are reported as a plain 400 before any event is written.
func (h *ChatHandler) Stream(c *gin.Context) {
	in, ok := h.bindInput(c)
	if !ok {
		return
	}

	sse.SetHeaders(c.Writer.Header())
	c.Header(SessionHeader, in.SessionID)
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	stop := writer.KeepAlive(ctx, h.keepAlive)
	defer stop()

	res, err := h.chatService.Stream(ctx, in, writer)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("chat stream ended with error", "session_id", in.SessionID, "error", err)
	}
	h.logger.Debug("chat stream finished",
		"session_id", in.SessionID,
		"terminal", res.Terminal,
		"tokens", res.Tokens,
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessions, err := h.chatService.ListSessions(c.Request.Context(), userID, queryInt(c, "limit"))
	if err != nil {
		h.writeSessionError(c, err, "list sessions failed")
		return
	}
	response.OK(c, gin.H{"sessions": sessions})
}

func (h *ChatHandler) History(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	sessionID := c.Param("id")

	messages, err := h.chatService.History(c.Request.Context(), sessionID, userID, queryInt(c, "limit"))
	if err != nil {
		h.writeSessionError(c, err, "get history failed")
		return
	}
	response.OK(c, gin.H{"session_id": sessionID, "messages": messages})
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	sessionID := c.Param("id")

	if err := h.chatService.DeleteSession(c.Request.Context(), sessionID, userID); err != nil {
		h.writeSessionError(c, err, "delete session failed")
		return
	}
	response.OK(c, gin.H{"deleted_session_id": sessionID})
}

func (h *ChatHandler) bindInput(c *gin.Context) (app.ChatInput, bool) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeTooLarge, "request body too large")
			return app.ChatInput{}, false
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload: message is required and must be at most 5000 characters")
		return app.ChatInput{}, false
	}

	userID, _ := middleware.UserID(c)
	in, err := h.chatService.PrepareInput(app.ChatInput{
		Message:   req.Message,
		Image:     req.Image,
		SessionID: req.SessionID,
		UserID:    userID,
	})
	if err != nil {
		h.writeSessionError(c, err, "prepare chat failed")
		return app.ChatInput{}, false
	}
	return in, true
}

func (h *ChatHandler) writeGenerateError(c *gin.Context, err error) {
	switch {
	case relay.IsValidation(err):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, relay.ErrorMessage(err))
	case errors.Is(err, ai.ErrRateLimit):
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, relay.ErrorMessage(err))
	default:
		h.logger.Error("chat completion failed", "error", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, generateFailedDetail)
	}
}

func (h *ChatHandler) writeSessionError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, app.ErrPersistenceDisabled):
		response.Error(c, http.StatusServiceUnavailable, response.CodeUnavailable, err.Error())
	default:
		h.logger.Error(fallback, "error", err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
