// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	AuthTokenTTL time.Duration

	// Realtime
	HeartbeatInterval    time.Duration // 接続維持イベントの送信間隔
	ReaperInterval       time.Duration // 無応答接続の回収スイープ間隔
	ConnectionStaleAfter time.Duration // 最終アクティビティからこの時間を超えた接続を強制切断する

	// Payment（シミュレーション）
	PaymentConfirmDelay time.Duration // 支払い確認までの模擬遅延
	PaymentFailureRate  float64       // 模擬決済の失敗率（0.0〜1.0）

	// Sweep
	PendingExpiryAge time.Duration // PAYMENT_PENDINGの期限切れ年齢
	AutoCompleteAge  time.Duration // SHIPPEDの自動完了年齢
	SweepInterval    time.Duration // 取引スイープの実行間隔

	// Notification
	NotificationRetentionDays int           // 既読通知の保持日数
	NotificationPageSize      int           // 通知一覧のデフォルトページサイズ
	CleanupInterval           time.Duration // 通知クリーンアップの実行間隔

	// Rate Limit
	RateLimitGeneral int // API全般のレート（req/min/user）
	RateLimitOffer   int // オファー提出のレート（req/min/user）

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AuthTokenTTL = getEnvDuration("AUTH_TOKEN_TTL", 24*time.Hour)
	cfg.HeartbeatInterval = getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second)
	cfg.ReaperInterval = getEnvDuration("REAPER_INTERVAL", 15*time.Minute)
	cfg.ConnectionStaleAfter = getEnvDuration("CONNECTION_STALE_AFTER", time.Hour)
	cfg.PaymentConfirmDelay = getEnvDuration("PAYMENT_CONFIRM_DELAY", 3*time.Second)
	cfg.PaymentFailureRate = getEnvFloat("PAYMENT_FAILURE_RATE", 0)
	cfg.PendingExpiryAge = getEnvDuration("PENDING_EXPIRY_AGE", 24*time.Hour)
	cfg.AutoCompleteAge = getEnvDuration("AUTO_COMPLETE_AGE", 7*24*time.Hour)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 24*time.Hour)
	cfg.NotificationRetentionDays = getEnvInt("NOTIFICATION_RETENTION_DAYS", 30)
	cfg.NotificationPageSize = getEnvInt("NOTIFICATION_PAGE_SIZE", 20)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitOffer = getEnvInt("RATE_LIMIT_OFFER", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.PaymentFailureRate < 0 || cfg.PaymentFailureRate > 1 {
		return nil, fmt.Errorf("PAYMENT_FAILURE_RATE must be between 0 and 1: %f", cfg.PaymentFailureRate)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
