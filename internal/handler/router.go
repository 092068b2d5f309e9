package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/chatman/internal/metrics"
	"github.com/hitoshi/chatman/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenFinder       middleware.TokenFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 可観測性
	HealthChecker HealthChecker
	Collector     *metrics.Collector
	Gatherer      prometheus.Gatherer

	// サービス
	AuthService AuthServiceInterface
	UserService UserServiceInterface
	ChatService ChatServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → [TokenAuth → RateLimit(General)]
//
// 登録・ログイン・/health・/metricsは認証チェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Collector))

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)
	chatHandler := NewChatHandler(deps.ChatService)

	// --- 認証不要のルート ---

	r.Post("/api/register/", authHandler.Register)
	r.Post("/api/login/", authHandler.Login)

	r.Get("/health", newHealthHandler(deps.HealthChecker))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: TokenAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewTokenAuthMiddleware(deps.TokenFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/api/logout/", authHandler.Logout)
		r.Get("/api/user/", userHandler.Me)
		r.Put("/api/profile/update/", userHandler.UpdateProfile)

		r.Route("/api/chat", func(r chi.Router) {
			// POST /api/chat/message/ - 補完プロバイダーを呼ぶため専用レート制限を追加
			r.With(deps.RateLimiter.ChatMiddleware()).Post("/message/", chatHandler.PostMessage)

			r.Get("/conversations/", chatHandler.ListConversations)
			r.Post("/conversations/new/", chatHandler.NewConversation)
			r.Get("/conversations/{id}/", chatHandler.GetConversation)
		})
	})

	return r
}

// newHealthHandler はDB到達性を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := checker.PingContext(r.Context()); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
