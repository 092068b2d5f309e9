package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/chatman/internal/model"
	"github.com/hitoshi/chatman/internal/repository"
)

// --- モック定義 ---

type mockConversationRepo struct {
	createFn            func(ctx context.Context, conversation *model.Conversation) error
	findByIDAndUserIDFn func(ctx context.Context, id, userID string) (*model.Conversation, error)
	listByUserIDFn      func(ctx context.Context, userID string) ([]*model.Conversation, error)
}

func (m *mockConversationRepo) Create(ctx context.Context, conversation *model.Conversation) error {
	if m.createFn != nil {
		return m.createFn(ctx, conversation)
	}
	return nil
}

func (m *mockConversationRepo) FindByIDAndUserID(ctx context.Context, id, userID string) (*model.Conversation, error) {
	if m.findByIDAndUserIDFn != nil {
		return m.findByIDAndUserIDFn(ctx, id, userID)
	}
	return nil, nil
}

func (m *mockConversationRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Conversation, error) {
	if m.listByUserIDFn != nil {
		return m.listByUserIDFn(ctx, userID)
	}
	return nil, nil
}

type mockMessageRepo struct {
	createFn                     func(ctx context.Context, message *model.Message) error
	listByConversationIDFn       func(ctx context.Context, conversationID string) ([]*model.Message, error)
	listRecentByConversationIDFn func(ctx context.Context, conversationID string, limit int) ([]*model.Message, error)
}

func (m *mockMessageRepo) Create(ctx context.Context, message *model.Message) error {
	if m.createFn != nil {
		return m.createFn(ctx, message)
	}
	return nil
}

func (m *mockMessageRepo) ListByConversationID(ctx context.Context, conversationID string) ([]*model.Message, error) {
	if m.listByConversationIDFn != nil {
		return m.listByConversationIDFn(ctx, conversationID)
	}
	return nil, nil
}

func (m *mockMessageRepo) ListRecentByConversationID(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	if m.listRecentByConversationIDFn != nil {
		return m.listRecentByConversationIDFn(ctx, conversationID, limit)
	}
	return nil, nil
}

type mockProvider struct {
	completeFn func(ctx context.Context, messages []model.ChatMessage, maxTokens int, temperature float64) (string, error)
}

func (m *mockProvider) Complete(ctx context.Context, messages []model.ChatMessage, maxTokens int, temperature float64) (string, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, messages, maxTokens, temperature)
	}
	return "ok", nil
}

type mockMetrics struct {
	turns     int
	failures  int
	latencies []float64
}

func (m *mockMetrics) RecordTurn()                           { m.turns++ }
func (m *mockMetrics) RecordProviderFailure()                { m.failures++ }
func (m *mockMetrics) RecordProviderLatency(seconds float64) { m.latencies = append(m.latencies, seconds) }

// --- compile-time interface checks ---
var _ repository.ConversationRepository = (*mockConversationRepo)(nil)
var _ repository.MessageRepository = (*mockMessageRepo)(nil)
var _ CompletionProvider = (*mockProvider)(nil)
var _ MetricsCollector = (*mockMetrics)(nil)

func newTestService(convRepo *mockConversationRepo, msgRepo *mockMessageRepo, provider *mockProvider) (*Service, *mockMetrics) {
	metrics := &mockMetrics{}
	return NewService(convRepo, msgRepo, provider, metrics, 500, 0.7), metrics
}

// --- SubmitTurn テスト ---

func TestSubmitTurn_NoConversationID_CreatesNewConversation(t *testing.T) {
	ctx := context.Background()

	var created *model.Conversation
	convRepo := &mockConversationRepo{
		createFn: func(ctx context.Context, conversation *model.Conversation) error {
			created = conversation
			return nil
		},
	}

	var savedMessages []*model.Message
	msgRepo := &mockMessageRepo{
		createFn: func(ctx context.Context, message *model.Message) error {
			savedMessages = append(savedMessages, message)
			return nil
		},
	}

	svc, metrics := newTestService(convRepo, msgRepo, &mockProvider{
		completeFn: func(ctx context.Context, messages []model.ChatMessage, maxTokens int, temperature float64) (string, error) {
			return "Hello there!", nil
		},
	})

	result, err := svc.SubmitTurn(ctx, "user-1", "", "hi")
	if err != nil {
		t.Fatalf("SubmitTurn returned error: %v", err)
	}

	if created == nil {
		t.Fatal("expected a new conversation to be created")
	}
	if created.UserID != "user-1" {
		t.Errorf("conversation.UserID = %q, want user-1", created.UserID)
	}
	if result.ConversationID != created.ID {
		t.Errorf("result.ConversationID = %q, want %q", result.ConversationID, created.ID)
	}

	if len(savedMessages) != 2 {
		t.Fatalf("saved %d messages, want 2", len(savedMessages))
	}
	if !savedMessages[0].IsUser || savedMessages[0].Content != "hi" {
		t.Errorf("first saved message = %+v, want user message %q", savedMessages[0], "hi")
	}
	if savedMessages[1].IsUser || savedMessages[1].Content != "Hello there!" {
		t.Errorf("second saved message = %+v, want assistant reply", savedMessages[1])
	}
	if result.Message.Content != "Hello there!" {
		t.Errorf("result.Message.Content = %q", result.Message.Content)
	}
	if metrics.turns != 1 {
		t.Errorf("recorded %d turns, want 1", metrics.turns)
	}
}

func TestSubmitTurn_OwnedConversation_IsReused(t *testing.T) {
	ctx := context.Background()

	convRepo := &mockConversationRepo{
		findByIDAndUserIDFn: func(ctx context.Context, id, userID string) (*model.Conversation, error) {
			if id == "conv-1" && userID == "user-1" {
				return &model.Conversation{ID: "conv-1", UserID: "user-1"}, nil
			}
			return nil, nil
		},
		createFn: func(ctx context.Context, conversation *model.Conversation) error {
			t.Error("no new conversation must be created")
			return nil
		},
	}

	svc, _ := newTestService(convRepo, &mockMessageRepo{}, &mockProvider{})

	result, err := svc.SubmitTurn(ctx, "user-1", "conv-1", "hi")
	if err != nil {
		t.Fatalf("SubmitTurn returned error: %v", err)
	}
	if result.ConversationID != "conv-1" {
		t.Errorf("result.ConversationID = %q, want conv-1", result.ConversationID)
	}
}

func TestSubmitTurn_ForeignConversation_FallsBackToNewConversation(t *testing.T) {
	ctx := context.Background()

	// 他ユーザー所有のIDを指定しても、エラーにせず新規会話で処理する。
	var created *model.Conversation
	convRepo := &mockConversationRepo{
		findByIDAndUserIDFn: func(ctx context.Context, id, userID string) (*model.Conversation, error) {
			return nil, nil
		},
		createFn: func(ctx context.Context, conversation *model.Conversation) error {
			created = conversation
			return nil
		},
	}

	svc, _ := newTestService(convRepo, &mockMessageRepo{}, &mockProvider{})

	result, err := svc.SubmitTurn(ctx, "user-1", "someone-elses-conv", "hi")
	if err != nil {
		t.Fatalf("SubmitTurn returned error: %v", err)
	}
	if created == nil {
		t.Fatal("expected a new conversation to be created")
	}
	if result.ConversationID == "someone-elses-conv" {
		t.Error("the foreign conversation ID must not be reused")
	}
}

func TestSubmitTurn_BuildsContextWithSystemInstructionAndRoles(t *testing.T) {
	ctx := context.Background()

	history := []*model.Message{
		{ID: "m1", Content: "first question", IsUser: true},
		{ID: "m2", Content: "first answer", IsUser: false},
	}

	var inboundID string
	msgRepo := &mockMessageRepo{
		createFn: func(ctx context.Context, message *model.Message) error {
			if message.IsUser {
				inboundID = message.ID
				history = append(history, message)
			}
			return nil
		},
		listRecentByConversationIDFn: func(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
			if limit != 10 {
				t.Errorf("window limit = %d, want 10", limit)
			}
			return history, nil
		},
	}

	var sent []model.ChatMessage
	provider := &mockProvider{
		completeFn: func(ctx context.Context, messages []model.ChatMessage, maxTokens int, temperature float64) (string, error) {
			sent = messages
			if maxTokens != 500 {
				t.Errorf("maxTokens = %d, want 500", maxTokens)
			}
			if temperature != 0.7 {
				t.Errorf("temperature = %v, want 0.7", temperature)
			}
			return "second answer", nil
		},
	}

	svc, _ := newTestService(&mockConversationRepo{}, msgRepo, provider)

	if _, err := svc.SubmitTurn(ctx, "user-1", "", "second question"); err != nil {
		t.Fatalf("SubmitTurn returned error: %v", err)
	}

	want := []model.ChatMessage{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "second question"},
	}
	if len(sent) != len(want) {
		t.Fatalf("sent %d messages, want %d: %+v", len(sent), len(want), sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("messages[%d] = %+v, want %+v", i, sent[i], want[i])
		}
	}
	if inboundID == "" {
		t.Fatal("expected the inbound message to be persisted")
	}
}

func TestSubmitTurn_InboundOutsideWindow_IsAppended(t *testing.T) {
	ctx := context.Background()

	// ウィンドウに保存直後のユーザー発言が含まれない場合、末尾に補われる。
	msgRepo := &mockMessageRepo{
		listRecentByConversationIDFn: func(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
			return []*model.Message{
				{ID: "old-1", Content: "old question", IsUser: true},
				{ID: "old-2", Content: "old answer", IsUser: false},
			}, nil
		},
	}

	var sent []model.ChatMessage
	provider := &mockProvider{
		completeFn: func(ctx context.Context, messages []model.ChatMessage, maxTokens int, temperature float64) (string, error) {
			sent = messages
			return "ok", nil
		},
	}

	svc, _ := newTestService(&mockConversationRepo{}, msgRepo, provider)

	if _, err := svc.SubmitTurn(ctx, "user-1", "", "new question"); err != nil {
		t.Fatalf("SubmitTurn returned error: %v", err)
	}

	last := sent[len(sent)-1]
	if last.Role != "user" || last.Content != "new question" {
		t.Errorf("last message = %+v, want the inbound user message", last)
	}
}

func TestSubmitTurn_ProviderFailure_PersistsApologyAsReply(t *testing.T) {
	ctx := context.Background()

	var savedMessages []*model.Message
	msgRepo := &mockMessageRepo{
		createFn: func(ctx context.Context, message *model.Message) error {
			savedMessages = append(savedMessages, message)
			return nil
		},
	}

	provider := &mockProvider{
		completeFn: func(ctx context.Context, messages []model.ChatMessage, maxTokens int, temperature float64) (string, error) {
			return "", errors.New("upstream timed out")
		},
	}

	svc, metrics := newTestService(&mockConversationRepo{}, msgRepo, provider)

	result, err := svc.SubmitTurn(ctx, "user-1", "", "hi")
	if err != nil {
		t.Fatalf("provider failure must not surface as an error, got: %v", err)
	}

	want := "Sorry, I encountered an error: upstream timed out"
	if result.Message.Content != want {
		t.Errorf("reply = %q, want %q", result.Message.Content, want)
	}
	if result.Message.IsUser {
		t.Error("apology must be an assistant message")
	}

	if len(savedMessages) != 2 {
		t.Fatalf("saved %d messages, want 2", len(savedMessages))
	}
	if !strings.HasPrefix(savedMessages[1].Content, "Sorry, I encountered an error: ") {
		t.Errorf("persisted reply = %q, want apology", savedMessages[1].Content)
	}

	if metrics.failures != 1 {
		t.Errorf("recorded %d provider failures, want 1", metrics.failures)
	}
	if metrics.turns != 1 {
		t.Errorf("recorded %d turns, want 1", metrics.turns)
	}
}

func TestSubmitTurn_StorageFailure_ReturnsError(t *testing.T) {
	ctx := context.Background()

	msgRepo := &mockMessageRepo{
		createFn: func(ctx context.Context, message *model.Message) error {
			return errors.New("connection refused")
		},
	}

	svc, _ := newTestService(&mockConversationRepo{}, msgRepo, &mockProvider{})

	if _, err := svc.SubmitTurn(ctx, "user-1", "", "hi"); err == nil {
		t.Fatal("expected storage failure to surface as an error")
	}
}

func TestSubmitTurn_RecordsProviderLatency(t *testing.T) {
	ctx := context.Background()

	svc, metrics := newTestService(&mockConversationRepo{}, &mockMessageRepo{}, &mockProvider{})

	if _, err := svc.SubmitTurn(ctx, "user-1", "", "hi"); err != nil {
		t.Fatalf("SubmitTurn returned error: %v", err)
	}
	if len(metrics.latencies) != 1 {
		t.Fatalf("recorded %d latency samples, want 1", len(metrics.latencies))
	}
	if metrics.latencies[0] < 0 {
		t.Errorf("latency sample = %v, want >= 0", metrics.latencies[0])
	}
}

// --- 会話操作テスト ---

func TestNewConversation_CreatesEmptyConversation(t *testing.T) {
	ctx := context.Background()

	var created *model.Conversation
	convRepo := &mockConversationRepo{
		createFn: func(ctx context.Context, conversation *model.Conversation) error {
			created = conversation
			return nil
		},
	}

	svc, _ := newTestService(convRepo, &mockMessageRepo{}, &mockProvider{})

	conversation, err := svc.NewConversation(ctx, "user-1")
	if err != nil {
		t.Fatalf("NewConversation returned error: %v", err)
	}
	if created == nil {
		t.Fatal("expected conversation to be persisted")
	}
	if conversation.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", conversation.UserID)
	}
	if conversation.ID == "" {
		t.Error("expected non-empty conversation ID")
	}
}

func TestListConversations_ReturnsRepositoryResult(t *testing.T) {
	ctx := context.Background()

	want := []*model.Conversation{
		{ID: "conv-2", UserID: "user-1", CreatedAt: time.Now()},
		{ID: "conv-1", UserID: "user-1", CreatedAt: time.Now().Add(-time.Hour)},
	}
	convRepo := &mockConversationRepo{
		listByUserIDFn: func(ctx context.Context, userID string) ([]*model.Conversation, error) {
			return want, nil
		},
	}

	svc, _ := newTestService(convRepo, &mockMessageRepo{}, &mockProvider{})

	got, err := svc.ListConversations(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListConversations returned error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "conv-2" {
		t.Errorf("conversations = %+v, want newest first", got)
	}
}

func TestGetConversation_ReturnsMessagesInOrder(t *testing.T) {
	ctx := context.Background()

	convRepo := &mockConversationRepo{
		findByIDAndUserIDFn: func(ctx context.Context, id, userID string) (*model.Conversation, error) {
			return &model.Conversation{ID: id, UserID: userID}, nil
		},
	}
	msgRepo := &mockMessageRepo{
		listByConversationIDFn: func(ctx context.Context, conversationID string) ([]*model.Message, error) {
			return []*model.Message{
				{ID: "m1", Content: "hi", IsUser: true},
				{ID: "m2", Content: "hello", IsUser: false},
			}, nil
		},
	}

	svc, _ := newTestService(convRepo, msgRepo, &mockProvider{})

	detail, err := svc.GetConversation(ctx, "user-1", "conv-1")
	if err != nil {
		t.Fatalf("GetConversation returned error: %v", err)
	}
	if detail.Conversation.ID != "conv-1" {
		t.Errorf("Conversation.ID = %q, want conv-1", detail.Conversation.ID)
	}
	if len(detail.Messages) != 2 || detail.Messages[0].ID != "m1" {
		t.Errorf("messages = %+v, want 2 messages in order", detail.Messages)
	}
}

func TestGetConversation_ForeignOrMissing_ReturnsNotFound(t *testing.T) {
	ctx := context.Background()

	svc, _ := newTestService(&mockConversationRepo{}, &mockMessageRepo{}, &mockProvider{})

	_, err := svc.GetConversation(ctx, "user-1", "missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeConversationNotFound {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeConversationNotFound)
	}
}
