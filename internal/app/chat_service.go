package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"cloutopia/internal/ai"
	"cloutopia/internal/model"
	"cloutopia/internal/relay"
)

const (
	MaxMessageRunes = 5000

	recordTimeout = 5 * time.Second
)

type RecordPublisher interface {
	Publish(ctx context.Context, record model.ChatRecord) error
}

type HistoryCache interface {
	Get(ctx context.Context, sessionID string) ([]model.ChatMessage, bool, error)
	Set(ctx context.Context, sessionID string, messages []model.ChatMessage) error
	Invalidate(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
}

type SessionStore interface {
	GetByUUID(id string) (*model.ChatSession, error)
	ListByUserID(userID uint, limit int) ([]model.ChatSession, error)
	Delete(sessionID uint) error
}

type MessageStore interface {
	ListBySessionID(sessionID uint, limit int) ([]model.ChatMessage, error)
}

// ChatDeps wires the optional persistence collaborators. Leave a field nil
// when its backing store is disabled.
type ChatDeps struct {
	Publisher RecordPublisher
	History   HistoryCache
	Sessions  SessionStore
	Messages  MessageStore
	Users     UserStore
}

type ChatService struct {
	relay     *relay.Relay
	generator ai.Generator
	deps      ChatDeps
	logger    *slog.Logger
}

type ChatInput struct {
	Message   string
	Image     string
	SessionID string
	// UserID is the caller's public id from the bearer token, if any.
	UserID string
}

func (in ChatInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Message, validation.Required, validation.RuneLength(1, MaxMessageRunes)),
		validation.Field(&in.SessionID, is.UUID),
	)
}

type ChatReply struct {
	Message   string `json:"message"`
	SessionID string `json:"-"`
}

func NewChatService(r *relay.Relay, generator ai.Generator, deps ChatDeps, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		relay:     r,
		generator: generator,
		deps:      deps,
		logger:    logger.With("component", "chat_service"),
	}
}

// PrepareInput validates a chat request and settles its session id. It
// must succeed before anything is written to the client.
func (s *ChatService) PrepareInput(in ChatInput) (ChatInput, error) {
	in.SessionID = strings.ToLower(strings.TrimSpace(in.SessionID))
	if err := in.Validate(); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
		return in, nil
	}
	if s.deps.Sessions == nil {
		return in, nil
	}

	session, err := s.deps.Sessions.GetByUUID(in.SessionID)
	if err != nil {
		return in, err
	}
	if session != nil && !s.canAccess(session, in.UserID) {
		return in, ErrSessionNotFound
	}
	return in, nil
}

// Complete answers in one piece. in must come from PrepareInput.
func (s *ChatService) Complete(ctx context.Context, in ChatInput) (*ChatReply, error) {
	started := time.Now()

	prompt, err := s.relay.Prompt(ctx, relay.Request{Message: in.Message, Image: in.Image})
	if err != nil {
		return nil, err
	}
	text, err := s.generator.GenerateComplete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	s.record(ctx, in, text, time.Since(started))
	return &ChatReply{Message: text, SessionID: in.SessionID}, nil
}

// Stream relays the answer into sink. Only exchanges that reach the done
// event are recorded. in must come from PrepareInput.
func (s *ChatService) Stream(ctx context.Context, in ChatInput, sink relay.Sink) (relay.Result, error) {
	res, err := s.relay.Run(ctx, sink, relay.Request{Message: in.Message, Image: in.Image})
	if res.Terminal == relay.EventDone {
		s.record(ctx, in, res.Text, res.Elapsed)
	}
	return res, err
}

func (s *ChatService) record(ctx context.Context, in ChatInput, answer string, elapsed time.Duration) {
	if s.deps.Publisher == nil {
		return
	}

	// The client may already be gone; the exchange is still worth keeping.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	record := model.ChatRecord{
		SessionUUID:      in.SessionID,
		UserID:           s.resolveUser(in.UserID),
		MessageUUID:      uuid.NewString(),
		Message:          in.Message,
		AIResponse:       answer,
		ModelUsed:        s.generator.Model(),
		ProcessingTimeMs: elapsed.Milliseconds(),
		ImageAttached:    strings.TrimSpace(in.Image) != "",
		CreatedAt:        time.Now(),
	}

	if s.deps.History != nil {
		if err := s.deps.History.Invalidate(ctx, in.SessionID); err != nil {
			s.logger.Warn("invalidate history cache failed", "session_id", in.SessionID, "error", err)
		}
	}
	if err := s.deps.Publisher.Publish(ctx, record); err != nil {
		s.logger.Error("enqueue chat record failed", "session_id", in.SessionID, "error", err)
	}
}

func (s *ChatService) ListSessions(ctx context.Context, userID string, limit int) ([]model.ChatSession, error) {
	if s.deps.Sessions == nil || s.deps.Users == nil {
		return nil, ErrPersistenceDisabled
	}
	user, err := s.deps.Users.GetByUUID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return []model.ChatSession{}, nil
	}
	return s.deps.Sessions.ListByUserID(user.ID, limit)
}

// History returns a session's exchanges, oldest first.
func (s *ChatService) History(ctx context.Context, sessionID, userID string, limit int) ([]model.ChatMessage, error) {
	session, err := s.accessibleSession(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if s.deps.Messages == nil {
		return nil, ErrPersistenceDisabled
	}

	if s.deps.History != nil {
		cached, hit, err := s.deps.History.Get(ctx, session.UUID)
		if err != nil {
			s.logger.Warn("read history cache failed", "session_id", session.UUID, "error", err)
		}
		if hit {
			return tail(cached, limit), nil
		}
	}

	messages, err := s.deps.Messages.ListBySessionID(session.ID, 0)
	if err != nil {
		return nil, err
	}
	if s.deps.History != nil {
		if err := s.deps.History.Set(ctx, session.UUID, messages); err != nil {
			s.logger.Warn("write history cache failed", "session_id", session.UUID, "error", err)
		}
	}
	return tail(messages, limit), nil
}

func (s *ChatService) DeleteSession(ctx context.Context, sessionID, userID string) error {
	session, err := s.accessibleSession(sessionID, userID)
	if err != nil {
		return err
	}
	if err := s.deps.Sessions.Delete(session.ID); err != nil {
		return err
	}
	if s.deps.History != nil {
		if err := s.deps.History.Delete(ctx, session.UUID); err != nil {
			s.logger.Warn("drop history cache failed", "session_id", session.UUID, "error", err)
		}
	}
	return nil
}

func (s *ChatService) accessibleSession(sessionID, userID string) (*model.ChatSession, error) {
	if s.deps.Sessions == nil {
		return nil, ErrPersistenceDisabled
	}
	sessionID = strings.ToLower(sessionID)
	if err := validation.Validate(sessionID, validation.Required, is.UUID); err != nil {
		return nil, fmt.Errorf("%w: session id %v", ErrInvalidInput, err)
	}
	session, err := s.deps.Sessions.GetByUUID(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || !s.canAccess(session, userID) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// canAccess lets anyone holding the id reach an anonymous session; owned
// sessions are visible to their owner only.
func (s *ChatService) canAccess(session *model.ChatSession, userID string) bool {
	if session.UserID == nil {
		return true
	}
	owner := s.resolveUser(userID)
	return owner != nil && *owner == *session.UserID
}

func (s *ChatService) resolveUser(userID string) *uint {
	return resolveUserID(s.deps.Users, userID, s.logger)
}

func tail(messages []model.ChatMessage, limit int) []model.ChatMessage {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
