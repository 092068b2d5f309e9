package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chatman/internal/chat"
	"github.com/hitoshi/chatman/internal/middleware"
	"github.com/hitoshi/chatman/internal/model"
)

// ChatServiceInterface はチャットハンドラーが必要とするサービスインターフェース。
type ChatServiceInterface interface {
	// SubmitTurn はユーザーの発言を1ターンとして処理する。
	SubmitTurn(ctx context.Context, userID, conversationID, content string) (*chat.TurnResult, error)
	// NewConversation は空の会話を作成する。
	NewConversation(ctx context.Context, userID string) (*model.Conversation, error)
	// ListConversations はユーザーの会話一覧を新しい順で返す。
	ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error)
	// GetConversation は会話と全メッセージを時系列順で返す。
	GetConversation(ctx context.Context, userID, conversationID string) (*chat.ConversationDetail, error)
}

// ChatHandler はチャットのHTTPハンドラー。
type ChatHandler struct {
	service ChatServiceInterface
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface) *ChatHandler {
	return &ChatHandler{service: service}
}

// postMessageRequest はメッセージ送信リクエストのボディ。
type postMessageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// turnResponse はメッセージ送信のレスポンス。
// messageはアシスタント応答の本文のみを返す。
type turnResponse struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// conversationResponse は会話一覧の1エントリ。
type conversationResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// conversationDetailResponse は会話詳細のレスポンス。
type conversationDetailResponse struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Messages  []messageResponse `json:"messages"`
}

// PostMessage はメッセージ送信を処理する。
// POST /api/chat/message/
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	// 空メッセージはオーケストレーターに渡す前に拒否する
	if strings.TrimSpace(req.Message) == "" {
		v := model.NewValidationError()
		v.Add("message", "This field is required.")
		handleServiceError(w, v)
		return
	}

	result, err := h.service.SubmitTurn(r.Context(), userID, req.ConversationID, req.Message)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, turnResponse{
		ConversationID: result.ConversationID,
		Message:        result.Message.Content,
	})
}

// ListConversations は会話一覧を返す。
// GET /api/chat/conversations/
func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	conversations, err := h.service.ListConversations(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]conversationResponse, 0, len(conversations))
	for _, c := range conversations {
		resp = append(resp, conversationResponse{
			ID:        c.ID,
			CreatedAt: c.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetConversation は会話詳細を返す。
// GET /api/chat/conversations/{id}/
func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	conversationID := chi.URLParam(r, "id")

	detail, err := h.service.GetConversation(r.Context(), userID, conversationID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	messages := make([]messageResponse, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		messages = append(messages, toMessageResponse(m))
	}

	writeJSON(w, http.StatusOK, conversationDetailResponse{
		ID:        detail.Conversation.ID,
		CreatedAt: detail.Conversation.CreatedAt,
		Messages:  messages,
	})
}

// NewConversation は空の会話を作成する。
// POST /api/chat/conversations/new/
func (h *ChatHandler) NewConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	conversation, err := h.service.NewConversation(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"conversation_id": conversation.ID,
	})
}
