package transaction

import (
	"log/slog"
	"math/rand"
	"time"
)

// PaymentSimulator は模擬決済の確認スケジューリングのインターフェース。
type PaymentSimulator interface {
	// Schedule は決済確認を遅延実行として予約する。
	// 遅延経過後、成否を引数にコールバックを1回呼び出す。
	// コールバック側は対象レコードが既に別状態へ移っている可能性を前提に、
	// 条件付き更新で再検証しなければならない。
	Schedule(reference string, callback func(succeeded bool))
}

// SimulatedProcessor は固定遅延と設定可能な失敗率を持つ模擬決済プロセッサ。
// 外部決済への統合は行わない。
type SimulatedProcessor struct {
	delay       time.Duration
	failureRate float64
	logger      *slog.Logger
}

// NewSimulatedProcessor はSimulatedProcessorを生成する。
// failureRateは0.0〜1.0。0の場合は常に成功する（デフォルト）。
func NewSimulatedProcessor(delay time.Duration, failureRate float64, logger *slog.Logger) *SimulatedProcessor {
	return &SimulatedProcessor{
		delay:       delay,
		failureRate: failureRate,
		logger:      logger,
	}
}

// Schedule は遅延経過後に決済の成否を判定してコールバックを呼び出す。
func (p *SimulatedProcessor) Schedule(reference string, callback func(succeeded bool)) {
	time.AfterFunc(p.delay, func() {
		succeeded := p.failureRate <= 0 || rand.Float64() >= p.failureRate

		p.logger.Info("模擬決済の確認が完了しました",
			slog.String("payment_reference", reference),
			slog.Bool("succeeded", succeeded),
		)

		callback(succeeded)
	})
}

// compile-time interface check
var _ PaymentSimulator = (*SimulatedProcessor)(nil)
