package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/furima/internal/middleware"
	"github.com/hitoshi/furima/internal/realtime"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenResolver     middleware.TokenResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// サービス
	NotificationService NotificationServiceInterface
	OfferService        OfferServiceInterface
	TransactionService  TransactionServiceInterface

	// 通知一覧のデフォルトページサイズ（0以下なら標準値）
	NotificationPageSize int

	// ライブ配信
	Registry *realtime.Registry
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Auth → RateLimit(General)
//
// ヘルスチェック（/health）はミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}

	notificationHandler := NewNotificationHandler(deps.NotificationService, deps.NotificationPageSize)
	offerHandler := NewOfferHandler(deps.OfferService)
	transactionHandler := NewTransactionHandler(deps.TransactionService)
	streamHandler := NewStreamHandler(deps.Registry)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 通知管理
		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.List)
			r.Get("/unread-count", notificationHandler.UnreadCount)
			r.Post("/read-all", notificationHandler.MarkAllRead)

			// GET /api/notifications/stream - SSEライブストリーム
			r.Get("/stream", streamHandler.Stream)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/read", notificationHandler.MarkRead)
				r.Delete("/", notificationHandler.Delete)
			})
		})

		// オファー管理
		r.Route("/api/offers", func(r chi.Router) {
			// POST /api/offers - オファー提出（提出専用レート制限を追加）
			r.With(deps.RateLimiter.OfferSubmissionMiddleware()).Post("/", offerHandler.Submit)

			r.Get("/", offerHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", offerHandler.Get)
				r.Post("/accept", offerHandler.Accept)
				r.Post("/deny", offerHandler.Deny)
				r.Post("/cancel", offerHandler.Cancel)
				r.Post("/conclude", offerHandler.Conclude)
			})
		})

		// 取引管理
		r.Route("/api/transactions", func(r chi.Router) {
			r.Post("/", transactionHandler.Initiate)
			r.Get("/", transactionHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", transactionHandler.Get)
				r.Post("/ship", transactionHandler.Ship)
				r.Post("/confirm-delivery", transactionHandler.ConfirmDelivery)
				r.Post("/dispute", transactionHandler.Dispute)
				r.Post("/cancel", transactionHandler.Cancel)
			})
		})
	})

	return r
}
