// Package cleanup は通知データの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過した既読通知を日次バッチで削除する。
// 未読通知は保持期間に関わらず削除しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TokenStore は期限切れ認証トークンの削除を抽象化するインターフェース。
type TokenStore interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は保持期間を超過した既読通知の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
// Tokensが設定されている場合は期限切れ認証トークンもあわせて削除する。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int        // 既読通知の保持日数（デフォルト: 30）
	Tokens        TokenStore // 期限切れトークンの削除先（任意）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は30日。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 30,
	}
}

// Run は保持期間を超過した既読通知を削除する。
// read = TRUE かつ created_atがRetentionDays日前より古い通知をDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM notifications WHERE read = TRUE AND created_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("通知クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("通知クリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	// 期限切れ認証トークンの削除は通知削除とは独立しており、
	// 失敗しても通知削除の結果を無効にしない。
	if j.Tokens != nil {
		tokensDeleted, err := j.Tokens.DeleteExpired(ctx)
		if err != nil {
			j.logger.Error("期限切れトークンの削除に失敗しました",
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("期限切れトークンの削除に失敗: %w", err)
		}
		if tokensDeleted > 0 {
			j.logger.Info("期限切れトークンを削除しました",
				slog.Int64("deleted_count", tokensDeleted),
			)
		}
	}

	duration := time.Since(start)
	j.logger.Info("通知クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
