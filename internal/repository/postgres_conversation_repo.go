package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/chatman/internal/model"
)

// PostgresConversationRepo はPostgreSQLを使用した会話リポジトリ。
type PostgresConversationRepo struct {
	db *sql.DB
}

// NewPostgresConversationRepo はPostgresConversationRepoを生成する。
func NewPostgresConversationRepo(db *sql.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

// Create は会話を作成する。
func (r *PostgresConversationRepo) Create(ctx context.Context, conversation *model.Conversation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, created_at) VALUES ($1, $2, $3)`,
		conversation.ID, conversation.UserID, conversation.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// FindByIDAndUserID は会話IDと所有ユーザーIDの両方で会話を検索する。
// IDが存在しない場合も他ユーザー所有の場合も、同じくnilを返す。
// UUIDとして解釈できないIDは、id列がUUID型のためクエリ自体がエラーになる。
// 存在しないIDと同じ扱いにするため、問い合わせ前に弾いてnilを返す。
func (r *PostgresConversationRepo) FindByIDAndUserID(ctx context.Context, id, userID string) (*model.Conversation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	conversation := &model.Conversation{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at FROM conversations WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&conversation.ID, &conversation.UserID, &conversation.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}

	return conversation, nil
}

// ListByUserID はユーザーの会話一覧を作成日時の新しい順で返す。
func (r *PostgresConversationRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, created_at
		 FROM conversations
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []*model.Conversation{}
	for rows.Next() {
		c := &model.Conversation{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return conversations, nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConversationRepo)(nil)
