// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/chatman/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザー情報（email、first_name、last_name、password_hash、updated_at）を更新する。
	Update(ctx context.Context, user *model.User) error
}

// TokenRepository はベアラートークンの永続化インターフェース。
type TokenRepository interface {
	// FindByKey は指定キーのトークンを取得する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, key string) (*model.Token, error)

	// FindByUserID は指定ユーザーのトークンを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Token, error)

	// Create はトークンを作成する。
	Create(ctx context.Context, token *model.Token) error

	// DeleteByUserID は指定ユーザーのトークンを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ConversationRepository は会話データの永続化インターフェース。
type ConversationRepository interface {
	// Create は会話を作成する。
	Create(ctx context.Context, conversation *model.Conversation) error

	// FindByIDAndUserID は会話IDと所有ユーザーIDの両方で会話を検索する。
	// IDが存在しない場合も、他ユーザー所有の場合も、同じくnilを返す。
	FindByIDAndUserID(ctx context.Context, id, userID string) (*model.Conversation, error)

	// ListByUserID はユーザーの会話一覧を作成日時の新しい順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Conversation, error)
}

// MessageRepository はメッセージデータの永続化インターフェース。
type MessageRepository interface {
	// Create はメッセージを作成する。
	Create(ctx context.Context, message *model.Message) error

	// ListByConversationID は会話の全メッセージを作成日時の昇順で返す。
	ListByConversationID(ctx context.Context, conversationID string) ([]*model.Message, error)

	// ListRecentByConversationID は会話の直近limit件のメッセージを
	// 作成日時の昇順で返す（最新limit件を時系列順に並べたもの）。
	ListRecentByConversationID(ctx context.Context, conversationID string, limit int) ([]*model.Message, error)
}
