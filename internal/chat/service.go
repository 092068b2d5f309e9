// Package chat は会話の解決、文脈ウィンドウの組み立て、
// 補完プロバイダーへの問い合わせと応答の永続化を担う。
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chatman/internal/model"
	"github.com/hitoshi/chatman/internal/repository"
)

const (
	// systemInstruction は全ての補完リクエストの先頭に付与される。
	systemInstruction = "You are a helpful assistant."

	// historyWindowSize は補完プロバイダーに渡す直近メッセージ数の上限。
	historyWindowSize = 10

	// errorReplyPrefix はプロバイダー失敗時にアシスタント応答として
	// 保存・返却される文言の接頭辞。エラーはクライアントに返さない。
	errorReplyPrefix = "Sorry, I encountered an error: "
)

// CompletionProvider は外部の補完プロバイダーを抽象化する。
type CompletionProvider interface {
	// Complete はメッセージ列を送信し、アシスタントの応答本文を返す。
	Complete(ctx context.Context, messages []model.ChatMessage, maxTokens int, temperature float64) (string, error)
}

// MetricsCollector はチャットターンの計測を抽象化する。
type MetricsCollector interface {
	RecordTurn()
	RecordProviderFailure()
	RecordProviderLatency(seconds float64)
}

// Service はチャットターンのオーケストレーションを提供する。
type Service struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	provider         CompletionProvider
	metrics          MetricsCollector
	maxTokens        int
	temperature      float64
}

// NewService はServiceを生成する。
func NewService(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	provider CompletionProvider,
	metrics MetricsCollector,
	maxTokens int,
	temperature float64,
) *Service {
	return &Service{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		provider:         provider,
		metrics:          metrics,
		maxTokens:        maxTokens,
		temperature:      temperature,
	}
}

// TurnResult は1ターンの処理結果。
type TurnResult struct {
	ConversationID string
	Message        *model.Message // 保存済みのアシスタント応答
}

// SubmitTurn はユーザーの発言を1ターンとして処理する。
//
// 会話IDが空、存在しない、または他ユーザーの所有であれば、エラーにせず
// 新しい会話を黙って作成する。ユーザー発言と応答（プロバイダー失敗時は
// 謝罪文）は常に対で永続化され、このメソッドがエラーを返すのは
// ストレージ障害のときだけである。
func (s *Service) SubmitTurn(ctx context.Context, userID, conversationID, content string) (*TurnResult, error) {
	conversation, err := s.resolveConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	userMessage := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversation.ID,
		Content:        content,
		IsUser:         true,
		CreatedAt:      time.Now(),
	}
	if err := s.messageRepo.Create(ctx, userMessage); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	history, err := s.messageRepo.ListRecentByConversationID(ctx, conversation.ID, historyWindowSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	messages := buildContext(history, userMessage)

	replyContent := s.complete(ctx, messages)

	assistantMessage := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversation.ID,
		Content:        replyContent,
		IsUser:         false,
		CreatedAt:      time.Now(),
	}
	if err := s.messageRepo.Create(ctx, assistantMessage); err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}

	s.metrics.RecordTurn()

	return &TurnResult{
		ConversationID: conversation.ID,
		Message:        assistantMessage,
	}, nil
}

// resolveConversation はターンの所属先会話を決定する。
// 指定がない・存在しない・所有者が違う、のいずれでも新規会話を作成する。
func (s *Service) resolveConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	if conversationID != "" {
		conversation, err := s.conversationRepo.FindByIDAndUserID(ctx, conversationID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to find conversation: %w", err)
		}
		if conversation != nil {
			return conversation, nil
		}
	}

	conversation := &model.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	slog.Info("conversation created",
		slog.String("conversation_id", conversation.ID),
		slog.String("user_id", userID),
	)

	return conversation, nil
}

// buildContext は履歴からプロバイダーに渡すメッセージ列を組み立てる。
// 先頭にシステム指示を置き、履歴を時系列順に並べる。保存直後の
// ユーザー発言がウィンドウから漏れている場合のみ末尾に補う。
func buildContext(history []*model.Message, inbound *model.Message) []model.ChatMessage {
	messages := make([]model.ChatMessage, 0, len(history)+2)
	messages = append(messages, model.ChatMessage{
		Role:    model.RoleSystem,
		Content: systemInstruction,
	})

	inboundIncluded := false
	for _, m := range history {
		role := model.RoleAssistant
		if m.IsUser {
			role = model.RoleUser
		}
		messages = append(messages, model.ChatMessage{Role: role, Content: m.Content})
		if m.ID == inbound.ID {
			inboundIncluded = true
		}
	}

	if !inboundIncluded {
		messages = append(messages, model.ChatMessage{
			Role:    model.RoleUser,
			Content: inbound.Content,
		})
	}

	return messages
}

// complete は補完プロバイダーを呼び出す。失敗時はエラーを返さず、
// エラー内容を含む謝罪文を応答本文として返す。
func (s *Service) complete(ctx context.Context, messages []model.ChatMessage) string {
	start := time.Now()
	reply, err := s.provider.Complete(ctx, messages, s.maxTokens, s.temperature)
	s.metrics.RecordProviderLatency(time.Since(start).Seconds())

	if err != nil {
		s.metrics.RecordProviderFailure()
		slog.Error("completion provider failed", slog.String("error", err.Error()))
		return errorReplyPrefix + err.Error()
	}
	return reply
}

// NewConversation は空の会話を作成する。
func (s *Service) NewConversation(ctx context.Context, userID string) (*model.Conversation, error) {
	conversation := &model.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	slog.Info("conversation created",
		slog.String("conversation_id", conversation.ID),
		slog.String("user_id", userID),
	)

	return conversation, nil
}

// ListConversations はユーザーの会話一覧を新しい順で返す。
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	conversations, err := s.conversationRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}

// ConversationDetail は会話とその全メッセージ。
type ConversationDetail struct {
	Conversation *model.Conversation
	Messages     []*model.Message
}

// GetConversation は会話と全メッセージを時系列順で返す。
// 他ユーザーの会話は存在しない会話と区別せず同じエラーを返す。
func (s *Service) GetConversation(ctx context.Context, userID, conversationID string) (*ConversationDetail, error) {
	conversation, err := s.conversationRepo.FindByIDAndUserID(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	if conversation == nil {
		return nil, model.NewConversationNotFoundError(conversationID)
	}

	messages, err := s.messageRepo.ListByConversationID(ctx, conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	return &ConversationDetail{
		Conversation: conversation,
		Messages:     messages,
	}, nil
}
