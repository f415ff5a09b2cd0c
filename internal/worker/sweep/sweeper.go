// Package sweep は取引状態機械のバックグラウンドスイープ駆動を提供する。
// 期限切れPENDINGのキャンセルと発送済み取引の自動完了を固定間隔で実行する。
package sweep

import (
	"context"
	"log/slog"
	"time"
)

// TransactionSweeper は取引スイープの実行インターフェース。
// transaction.Serviceの部分集合として定義する。
type TransactionSweeper interface {
	// ExpireStalePending は期限切れPAYMENT_PENDING取引のキャンセルスイープを1回実行する。
	ExpireStalePending(ctx context.Context) (int, error)
	// AutoCompleteShipped は発送済み取引の自動完了スイープを1回実行する。
	AutoCompleteShipped(ctx context.Context) (int, error)
}

// Sweeper は取引スイープのスケジューリングを行う。
// 各実行は冪等であり、条件付き更新により二重実行しても安全に動作する。
type Sweeper struct {
	engine TransactionSweeper
	logger *slog.Logger
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
func NewSweeper(engine TransactionSweeper, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		engine: engine,
		logger: logger,
	}
}

// Start は固定間隔でスイープを起動する。
// 起動直後に1回実行し、以降はコンテキストがキャンセルされるまでintervalごとに実行する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("取引スイープを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取引スイープを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は両方のスイープを1回ずつ実行する。
// 一方の失敗はもう一方の実行を妨げない。
func (s *Sweeper) RunOnce(ctx context.Context) {
	start := time.Now()

	expired, err := s.engine.ExpireStalePending(ctx)
	if err != nil {
		s.logger.Error("期限切れスイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	completed, err := s.engine.AutoCompleteShipped(ctx)
	if err != nil {
		s.logger.Error("自動完了スイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	duration := time.Since(start)
	s.logger.Info("取引スイープが完了しました",
		slog.Int("expired", expired),
		slog.Int("auto_completed", completed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}
