package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"cloutopia/internal/ai"
	"cloutopia/internal/ai/aitest"
	"cloutopia/internal/imageprep"
	"cloutopia/internal/model"
	"cloutopia/internal/relay"
)

type fakePublisher struct {
	mu      sync.Mutex
	records []model.ChatRecord
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, r model.ChatRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, r)
	return p.err
}

type fakeHistory struct {
	cached      map[string][]model.ChatMessage
	invalidated []string
	deleted     []string
}

func (h *fakeHistory) Get(_ context.Context, id string) ([]model.ChatMessage, bool, error) {
	msgs, ok := h.cached[id]
	return msgs, ok, nil
}

func (h *fakeHistory) Set(_ context.Context, id string, msgs []model.ChatMessage) error {
	if h.cached == nil {
		h.cached = map[string][]model.ChatMessage{}
	}
	h.cached[id] = msgs
	return nil
}

func (h *fakeHistory) Invalidate(_ context.Context, id string) error {
	h.invalidated = append(h.invalidated, id)
	delete(h.cached, id)
	return nil
}

func (h *fakeHistory) Delete(_ context.Context, id string) error {
	h.deleted = append(h.deleted, id)
	delete(h.cached, id)
	return nil
}

type fakeSessions struct {
	byUUID  map[string]*model.ChatSession
	deleted []uint
}

func (s *fakeSessions) GetByUUID(id string) (*model.ChatSession, error) {
	return s.byUUID[id], nil
}

func (s *fakeSessions) ListByUserID(userID uint, _ int) ([]model.ChatSession, error) {
	var out []model.ChatSession
	for _, sess := range s.byUUID {
		if sess.UserID != nil && *sess.UserID == userID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *fakeSessions) Delete(id uint) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type fakeMessages struct {
	bySession map[uint][]model.ChatMessage
	reads     int
	limits    []int
}

func (m *fakeMessages) ListBySessionID(id uint, limit int) ([]model.ChatMessage, error) {
	m.reads++
	m.limits = append(m.limits, limit)
	msgs := m.bySession[id]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

type fakeUsers map[string]*model.User

func (u fakeUsers) GetByUUID(id string) (*model.User, error) {
	return u[id], nil
}

type sliceSink struct {
	events []relay.Event
}

func (s *sliceSink) Send(e relay.Event) error {
	s.events = append(s.events, e)
	return nil
}

const (
	ownedSession = "0b7d3a4e-6f1c-4c55-9a62-0d7c2f8b1a01"
	openSession  = "5e2a9c1d-3b4f-4a7e-8c6d-1f0e9b8a7c02"
	aliceID      = "alice-uuid"
	bobID        = "bob-uuid"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type chatFixture struct {
	gen       *aitest.Generator
	publisher *fakePublisher
	history   *fakeHistory
	sessions  *fakeSessions
	messages  *fakeMessages
	svc       *ChatService
}

func newChatFixture(gen *aitest.Generator) *chatFixture {
	alice := uint(1)
	f := &chatFixture{
		gen:       gen,
		publisher: &fakePublisher{},
		history:   &fakeHistory{},
		sessions: &fakeSessions{byUUID: map[string]*model.ChatSession{
			ownedSession: {ID: 10, UUID: ownedSession, UserID: &alice},
			openSession:  {ID: 20, UUID: openSession},
		}},
		messages: &fakeMessages{bySession: map[uint][]model.ChatMessage{
			10: {{UUID: "m1", Message: "one"}, {UUID: "m2", Message: "two"}, {UUID: "m3", Message: "three"}},
		}},
	}
	users := fakeUsers{aliceID: {ID: 1, UUID: aliceID}, bobID: {ID: 2, UUID: bobID}}
	r := relay.New(gen, imageprep.NewPreparer(imageprep.Options{}), relay.Options{Logger: quietLogger()})
	f.svc = NewChatService(r, gen, ChatDeps{
		Publisher: f.publisher,
		History:   f.history,
		Sessions:  f.sessions,
		Messages:  f.messages,
		Users:     users,
	}, quietLogger())
	return f
}

func TestPrepareInput_Validation(t *testing.T) {
	f := newChatFixture(&aitest.Generator{})

	tests := []struct {
		name string
		in   ChatInput
	}{
		{name: "empty message", in: ChatInput{Message: ""}},
		{name: "too long", in: ChatInput{Message: strings.Repeat("a", MaxMessageRunes+1)}},
		{name: "bad session id", in: ChatInput{Message: "hi", SessionID: "not-a-uuid"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PrepareInput(tt.in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestPrepareInput_MaxLengthCountsRunes(t *testing.T) {
	f := newChatFixture(&aitest.Generator{})
	if _, err := f.svc.PrepareInput(ChatInput{Message: strings.Repeat("☁", MaxMessageRunes)}); err != nil {
		t.Errorf("Expected %d runes to be accepted, got %v", MaxMessageRunes, err)
	}
}

func TestPrepareInput_SessionIDs(t *testing.T) {
	f := newChatFixture(&aitest.Generator{})

	in, err := f.svc.PrepareInput(ChatInput{Message: "hi"})
	if err != nil {
		t.Fatalf("PrepareInput: %v", err)
	}
	if len(in.SessionID) != 36 {
		t.Errorf("Expected a minted session id, got %q", in.SessionID)
	}

	in, err = f.svc.PrepareInput(ChatInput{Message: "hi", SessionID: strings.ToUpper(openSession)})
	if err != nil || in.SessionID != openSession {
		t.Errorf("Expected normalized anonymous session, got %q %v", in.SessionID, err)
	}

	if _, err := f.svc.PrepareInput(ChatInput{Message: "hi", SessionID: ownedSession}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("anonymous caller on owned session: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.svc.PrepareInput(ChatInput{Message: "hi", SessionID: ownedSession, UserID: bobID}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("other user on owned session: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.svc.PrepareInput(ChatInput{Message: "hi", SessionID: ownedSession, UserID: aliceID}); err != nil {
		t.Errorf("owner: unexpected error %v", err)
	}
}

func TestComplete_RecordsExchange(t *testing.T) {
	gen := &aitest.Generator{Text: "Those are cumulus clouds.", ModelName: "gemini-2.5-flash"}
	f := newChatFixture(gen)

	in, err := f.svc.PrepareInput(ChatInput{Message: "What are these?", SessionID: ownedSession, UserID: aliceID})
	if err != nil {
		t.Fatalf("PrepareInput: %v", err)
	}
	reply, err := f.svc.Complete(context.Background(), in)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply.Message != gen.Text || reply.SessionID != ownedSession {
		t.Errorf("unexpected reply %+v", reply)
	}

	if len(f.publisher.records) != 1 {
		t.Fatalf("Expected one record, got %d", len(f.publisher.records))
	}
	rec := f.publisher.records[0]
	if rec.SessionUUID != ownedSession || rec.AIResponse != gen.Text || rec.ModelUsed != "gemini-2.5-flash" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.UserID == nil || *rec.UserID != 1 || rec.MessageUUID == "" || rec.ImageAttached {
		t.Errorf("unexpected record identity %+v", rec)
	}
	if len(f.history.invalidated) != 1 || f.history.invalidated[0] != ownedSession {
		t.Errorf("Expected history invalidated, got %v", f.history.invalidated)
	}
}

func TestComplete_ProviderErrorIsNotRecorded(t *testing.T) {
	f := newChatFixture(&aitest.Generator{CompleteErr: ai.ErrRateLimit})
	in, _ := f.svc.PrepareInput(ChatInput{Message: "hi"})

	if _, err := f.svc.Complete(context.Background(), in); !errors.Is(err, ai.ErrRateLimit) {
		t.Errorf("Expected ErrRateLimit, got %v", err)
	}
	if len(f.publisher.records) != 0 {
		t.Error("Expected nothing recorded")
	}
}

func TestComplete_PublishFailureStillAnswers(t *testing.T) {
	f := newChatFixture(&aitest.Generator{Text: "ok"})
	f.publisher.err = errors.New("broker down")
	in, _ := f.svc.PrepareInput(ChatInput{Message: "hi"})

	reply, err := f.svc.Complete(context.Background(), in)
	if err != nil || reply.Message != "ok" {
		t.Errorf("Expected answer despite publish failure, got %+v %v", reply, err)
	}
}

func TestStream_RecordsOnlyCompletedExchanges(t *testing.T) {
	gen := &aitest.Generator{Fragments: []string{"Alto", "cumulus."}}
	f := newChatFixture(gen)
	in, _ := f.svc.PrepareInput(ChatInput{Message: "hi"})

	sink := &sliceSink{}
	res, err := f.svc.Stream(context.Background(), in, sink)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if res.Terminal != relay.EventDone || res.Text != "Altocumulus." {
		t.Errorf("unexpected result %+v", res)
	}
	if len(f.publisher.records) != 1 || f.publisher.records[0].AIResponse != "Altocumulus." {
		t.Errorf("Expected completed exchange recorded, got %+v", f.publisher.records)
	}

	failing := newChatFixture(&aitest.Generator{Fragments: []string{"partial"}, StreamErr: ai.ErrUpstream})
	in, _ = failing.svc.PrepareInput(ChatInput{Message: "hi"})
	res, err = failing.svc.Stream(context.Background(), in, &sliceSink{})
	if !errors.Is(err, ai.ErrUpstream) || res.Terminal != relay.EventError {
		t.Errorf("Expected upstream failure, got %+v %v", res, err)
	}
	if len(failing.publisher.records) != 0 {
		t.Error("Expected failed stream not recorded")
	}
}

func TestStream_WithoutPersistence(t *testing.T) {
	gen := &aitest.Generator{Fragments: []string{"hi"}}
	r := relay.New(gen, imageprep.NewPreparer(imageprep.Options{}), relay.Options{Logger: quietLogger()})
	svc := NewChatService(r, gen, ChatDeps{}, quietLogger())

	in, err := svc.PrepareInput(ChatInput{Message: "hi", SessionID: ownedSession})
	if err != nil {
		t.Fatalf("PrepareInput: %v", err)
	}
	if _, err := svc.Stream(context.Background(), in, &sliceSink{}); err != nil {
		t.Errorf("Stream: %v", err)
	}
	if _, err := svc.History(context.Background(), ownedSession, "", 0); !errors.Is(err, ErrPersistenceDisabled) {
		t.Errorf("Expected ErrPersistenceDisabled, got %v", err)
	}
}

func TestHistory_CachesAndTails(t *testing.T) {
	f := newChatFixture(&aitest.Generator{})
	ctx := context.Background()

	msgs, err := f.svc.History(ctx, ownedSession, aliceID, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 2 || msgs[0].UUID != "m2" || msgs[1].UUID != "m3" {
		t.Errorf("Expected latest two messages oldest first, got %+v", msgs)
	}
	if _, err := f.svc.History(ctx, ownedSession, aliceID, 0); err != nil {
		t.Fatalf("History: %v", err)
	}
	if f.messages.reads != 1 {
		t.Errorf("Expected second read served from cache, got %d store reads", f.messages.reads)
	}
}

func TestHistory_LongSessionIsNotTruncated(t *testing.T) {
	f := newChatFixture(&aitest.Generator{})
	long := make([]model.ChatMessage, 250)
	for i := range long {
		long[i] = model.ChatMessage{UUID: fmt.Sprintf("m%d", i)}
	}
	f.messages.bySession[10] = long

	msgs, err := f.svc.History(context.Background(), ownedSession, aliceID, 150)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 150 || msgs[0].UUID != "m100" || msgs[149].UUID != "m249" {
		t.Errorf("Expected the latest 150 messages, got %d (%s..%s)", len(msgs), msgs[0].UUID, msgs[len(msgs)-1].UUID)
	}
	if len(f.messages.limits) != 1 || f.messages.limits[0] != 0 {
		t.Errorf("Expected the full history to be loaded, got limits %v", f.messages.limits)
	}

	all, err := f.svc.History(context.Background(), ownedSession, aliceID, 0)
	if err != nil || len(all) != 250 {
		t.Errorf("Expected all 250 cached messages, got %d %v", len(all), err)
	}
}

func TestHistory_AccessRules(t *testing.T) {
	f := newChatFixture(&aitest.Generator{})
	ctx := context.Background()

	if _, err := f.svc.History(ctx, ownedSession, bobID, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for other user, got %v", err)
	}
	if _, err := f.svc.History(ctx, "3f1e2d3c-4b5a-4968-8776-655443322110", "", 0); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for unknown session, got %v", err)
	}
	if _, err := f.svc.History(ctx, "bogus", "", 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.History(ctx, openSession, "", 0); err != nil {
		t.Errorf("anonymous session: unexpected error %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	f := newChatFixture(&aitest.Generator{})
	ctx := context.Background()

	if err := f.svc.DeleteSession(ctx, ownedSession, bobID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if err := f.svc.DeleteSession(ctx, ownedSession, aliceID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if len(f.sessions.deleted) != 1 || f.sessions.deleted[0] != 10 {
		t.Errorf("Expected session 10 deleted, got %v", f.sessions.deleted)
	}
	if len(f.history.deleted) != 1 {
		t.Errorf("Expected history dropped, got %v", f.history.deleted)
	}
}

func TestListSessions(t *testing.T) {
	f := newChatFixture(&aitest.Generator{})

	sessions, err := f.svc.ListSessions(context.Background(), aliceID, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].UUID != ownedSession {
		t.Errorf("unexpected sessions %+v", sessions)
	}

	sessions, err = f.svc.ListSessions(context.Background(), "ghost", 0)
	if err != nil || len(sessions) != 0 {
		t.Errorf("Expected empty list for unknown user, got %+v %v", sessions, err)
	}
}
