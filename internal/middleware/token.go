// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/chatman/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// TokenFinder はトークンの検索に必要なインターフェース。
// repository.TokenRepositoryの部分集合として定義する。
type TokenFinder interface {
	FindByKey(ctx context.Context, key string) (*model.Token, error)
}

// NewTokenAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証する
// ミドルウェアを返す。スキームは"Bearer"と"Token"の両方を受け付ける。
// 認証済みユーザーIDをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewTokenAuthMiddleware(tokenFinder TokenFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractTokenKey(r.Header.Get("Authorization"))
			if key == "" {
				writeUnauthorized(w, "Authentication credentials were not provided.")
				return
			}

			token, err := tokenFinder.FindByKey(r.Context(), key)
			if err != nil {
				slog.Error("failed to find token",
					slog.String("error", err.Error()),
				)
				writeUnauthorized(w, "Invalid token.")
				return
			}
			if token == nil {
				writeUnauthorized(w, "Invalid token.")
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, token.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractTokenKey はAuthorizationヘッダーからトークンキーを取り出す。
// 対応しない形式の場合は空文字列を返す。
func extractTokenKey(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	scheme := strings.ToLower(parts[0])
	if scheme != "bearer" && scheme != "token" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// writeUnauthorized は401レスポンスをJSONで書き込む。
func writeUnauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// トークン認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
