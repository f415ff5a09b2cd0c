// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/furima/internal/config"
	"github.com/hitoshi/furima/internal/database"
	"github.com/hitoshi/furima/internal/handler"
	"github.com/hitoshi/furima/internal/logger"
	"github.com/hitoshi/furima/internal/metrics"
	"github.com/hitoshi/furima/internal/middleware"
	"github.com/hitoshi/furima/internal/model"
	"github.com/hitoshi/furima/internal/notify"
	"github.com/hitoshi/furima/internal/offer"
	"github.com/hitoshi/furima/internal/realtime"
	"github.com/hitoshi/furima/internal/repository"
	"github.com/hitoshi/furima/internal/security"
	"github.com/hitoshi/furima/internal/transaction"
	"github.com/hitoshi/furima/internal/worker/cleanup"
	"github.com/hitoshi/furima/internal/worker/sweep"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandToken:
		return runToken(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	articleRepo := repository.NewPostgresArticleRepo(db)
	offerRepo := repository.NewPostgresOfferRepo(db)
	txRepo := repository.NewPostgresTransactionRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)

	// 3. ライブ接続レジストリの初期化
	registry := realtime.NewRegistry(realtime.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		StaleAfter:        cfg.ConnectionStaleAfter,
	}, slog.Default())
	defer registry.Close()

	// 4. メトリクスの初期化
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry, func() (int, int) {
		stats := registry.Stats()
		return stats.Recipients, stats.Connections
	})

	// 5. ドメインサービスの初期化
	notifyService := notify.NewService(notificationRepo, registry, collector, slog.Default())

	offerService := offer.NewService(
		offerRepo, txRepo, articleRepo, notifyService, collector, slog.Default(),
	)

	sanitizer := security.NewTextSanitizer()
	payments := transaction.NewSimulatedProcessor(
		cfg.PaymentConfirmDelay, cfg.PaymentFailureRate, slog.Default(),
	)
	txService := transaction.NewService(
		txRepo, offerRepo, articleRepo, notifyService, payments, sanitizer,
		collector, slog.Default(),
		transaction.ServiceConfig{
			PendingExpiryAge: cfg.PendingExpiryAge,
			AutoCompleteAge:  cfg.AutoCompleteAge,
		},
	)

	// 6. 無応答接続の回収スイープを起動
	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	defer reaperCancel()
	go registry.StartReaper(reaperCtx, cfg.ReaperInterval)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigFromLimits(cfg.RateLimitGeneral, cfg.RateLimitOffer),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		TokenResolver:     tokenRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		NotificationService: notifyService,
		OfferService:        offerService,
		TransactionService:  txService,

		NotificationPageSize: cfg.NotificationPageSize,

		Registry: registry,
	})

	// /metrics はミドルウェアチェーンの外で提供する
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(promRegistry))
	mux.Handle("/", router)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// SSEストリームを切断しないよう、書き込みタイムアウトは設定しない
		IdleTimeout: 60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、取引スイープと通知クリーンアップを起動する。
// メトリクススクレイプ用の軽量HTTPサーバーも提供する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	articleRepo := repository.NewPostgresArticleRepo(db)
	offerRepo := repository.NewPostgresOfferRepo(db)
	txRepo := repository.NewPostgresTransactionRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	// 3. メトリクスの初期化（ワーカーはライブ接続を持たない）
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry, nil)

	// 4. 取引スイープエンジンの初期化
	// ワーカーの通知はライブ配信せず永続化のみ行う
	notifyService := notify.NewService(notificationRepo, nil, collector, slog.Default())

	sanitizer := security.NewTextSanitizer()
	payments := transaction.NewSimulatedProcessor(
		cfg.PaymentConfirmDelay, cfg.PaymentFailureRate, slog.Default(),
	)
	txService := transaction.NewService(
		txRepo, offerRepo, articleRepo, notifyService, payments, sanitizer,
		collector, slog.Default(),
		transaction.ServiceConfig{
			PendingExpiryAge: cfg.PendingExpiryAge,
			AutoCompleteAge:  cfg.AutoCompleteAge,
		},
	)

	sweeper := sweep.NewSweeper(txService, slog.Default())

	// 5. 通知クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.RetentionDays = cfg.NotificationRetentionDays
	cleanupJob.Tokens = repository.NewPostgresTokenRepo(db)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// メトリクススクレイプ用サーバーをバックグラウンドで起動
	metricsServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: metrics.SetupMetricsRoute(promRegistry),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer metricsServer.Close()

	// 通知クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 取引スイープをメインgoroutineで実行（ブロッキング）
	sweeper.Start(ctx, cfg.SweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runToken は指定ユーザー向けのベアラートークンを発行して標準出力へ出力する。
// 有効期限はAUTH_TOKEN_TTL（デフォルト24時間）に従う。
func runToken(cfg *config.Config, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return fmt.Errorf("usage: token <username>")
	}
	username := args[0]

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	now := time.Now().UTC()
	token := &model.AuthToken{
		Token:     uuid.New().String(),
		Username:  username,
		ExpiresAt: now.Add(cfg.AuthTokenTTL),
		CreatedAt: now,
	}

	tokenRepo := repository.NewPostgresTokenRepo(db)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := tokenRepo.Create(ctx, token); err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}

	slog.Info("トークンを発行しました",
		slog.String("username", username),
		slog.Time("expires_at", token.ExpiresAt),
	)
	fmt.Println(token.Token)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
