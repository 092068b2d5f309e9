// Package model はドメインモデルを定義する。
package model

import "time"

// Conversation は1ユーザーが所有する会話を表す。
// 所有者は作成時に確定し、以後付け替えられることはない。
type Conversation struct {
	ID        string
	UserID    string
	CreatedAt time.Time
}

// Message は会話内の1発言を表す。
// 会話内のメッセージは作成時刻順の追記専用列であり、作成後の編集・並べ替えは行わない。
type Message struct {
	ID             string
	ConversationID string
	Content        string
	IsUser         bool // trueならユーザー発言、falseならアシスタント発言
	CreatedAt      time.Time
}

// 補完プロバイダーに渡すメッセージのロール。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage は補完プロバイダーに渡すロール付きメッセージを表す。
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
