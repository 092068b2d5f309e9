// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashにはbcryptハッシュのみを保存し、平文は一切保持しない。
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Token はAPIアクセス用の不透明なベアラートークンを表す。
// 1ユーザーにつき1件。登録・ログイン時に既存トークンがあれば再利用し、
// ログアウトで破棄される。
type Token struct {
	Key       string
	UserID    string
	CreatedAt time.Time
}
