package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/furima/internal/model"
)

// PostgresTransactionRepo はPostgreSQLを使用した取引リポジトリ。
// 状態遷移メソッドはすべて期待事前状態をWHERE句に含む単一UPDATE文で実装し、
// バックグラウンドスイープと手動操作の競合を行レベルで解決する。
type PostgresTransactionRepo struct {
	db *sql.DB
}

// NewPostgresTransactionRepo はPostgresTransactionRepoを生成する。
func NewPostgresTransactionRepo(db *sql.DB) *PostgresTransactionRepo {
	return &PostgresTransactionRepo{db: db}
}

const transactionColumns = `id, offer_id, article_id, buyer_username, seller_username, amount, status,
	payment_reference, shipping_name, shipping_street, shipping_city, shipping_postal_code, shipping_country,
	carrier, tracking_number, shipped_at, delivery_confirmed_at, payment_released_at, payment_release_reference,
	dispute_reason, dispute_description, dispute_opened_by, dispute_opened_at, created_at, updated_at`

// scanTransaction は1行をmodel.Transactionへスキャンする。
func scanTransaction(row interface {
	Scan(dest ...any) error
}) (*model.Transaction, error) {
	tx := &model.Transaction{}
	var shippedAt, deliveredAt, releasedAt, disputeOpenedAt sql.NullTime
	var disputeReason string

	err := row.Scan(
		&tx.ID, &tx.OfferID, &tx.ArticleID, &tx.BuyerUsername, &tx.SellerUsername,
		&tx.Amount, &tx.Status, &tx.PaymentReference,
		&tx.Shipping.Name, &tx.Shipping.Street, &tx.Shipping.City,
		&tx.Shipping.PostalCode, &tx.Shipping.Country,
		&tx.Carrier, &tx.TrackingNumber,
		&shippedAt, &deliveredAt, &releasedAt, &tx.PaymentReleaseReference,
		&disputeReason, &tx.DisputeDescription, &tx.DisputeOpenedBy, &disputeOpenedAt,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.DisputeReason = model.DisputeReason(disputeReason)
	if shippedAt.Valid {
		tx.ShippedAt = &shippedAt.Time
	}
	if deliveredAt.Valid {
		tx.DeliveryConfirmedAt = &deliveredAt.Time
	}
	if releasedAt.Valid {
		tx.PaymentReleasedAt = &releasedAt.Time
	}
	if disputeOpenedAt.Valid {
		tx.DisputeOpenedAt = &disputeOpenedAt.Time
	}

	return tx, nil
}

// FindByID は指定IDの取引を取得する。見つからない場合はnilを返す。
func (r *PostgresTransactionRepo) FindByID(ctx context.Context, id string) (*model.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("取引の取得に失敗しました: %w", err)
	}
	return tx, nil
}

// FindByOfferID は指定オファーの取引を取得する。見つからない場合はnilを返す。
func (r *PostgresTransactionRepo) FindByOfferID(ctx context.Context, offerID string) (*model.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE offer_id = $1`, offerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("取引の検索に失敗しました: %w", err)
	}
	return tx, nil
}

// Create は新規取引を作成する。
func (r *PostgresTransactionRepo) Create(ctx context.Context, tx *model.Transaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (
		     id, offer_id, article_id, buyer_username, seller_username, amount, status,
		     payment_reference, shipping_name, shipping_street, shipping_city,
		     shipping_postal_code, shipping_country, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		tx.ID, tx.OfferID, tx.ArticleID, tx.BuyerUsername, tx.SellerUsername,
		tx.Amount, tx.Status, tx.PaymentReference,
		tx.Shipping.Name, tx.Shipping.Street, tx.Shipping.City,
		tx.Shipping.PostalCode, tx.Shipping.Country,
		tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("取引の作成に失敗しました: %w", err)
	}
	return nil
}

// conditionalUpdate は条件付きUPDATEを実行し、適用されたかどうかを返す。
func (r *PostgresTransactionRepo) conditionalUpdate(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("取引状態の更新に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// ConfirmPayment は PAYMENT_PENDING -> PAYMENT_CONFIRMED の条件付き遷移を行う。
func (r *PostgresTransactionRepo) ConfirmPayment(ctx context.Context, id string) (bool, error) {
	return r.conditionalUpdate(ctx,
		`UPDATE transactions SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = $4`,
		id, model.TransactionStatusPaymentConfirmed, time.Now().UTC(),
		model.TransactionStatusPaymentPending,
	)
}

// MarkShipped は PAYMENT_CONFIRMED -> SHIPPED の条件付き遷移を行う。
func (r *PostgresTransactionRepo) MarkShipped(ctx context.Context, id, carrier, trackingNumber string, shippedAt time.Time) (bool, error) {
	return r.conditionalUpdate(ctx,
		`UPDATE transactions SET status = $2, carrier = $3, tracking_number = $4,
		     shipped_at = $5, updated_at = $5
		 WHERE id = $1 AND status = $6`,
		id, model.TransactionStatusShipped, carrier, trackingNumber, shippedAt,
		model.TransactionStatusPaymentConfirmed,
	)
}

// Complete は SHIPPED -> COMPLETED の条件付き遷移を行う。
func (r *PostgresTransactionRepo) Complete(ctx context.Context, id, releaseReference string, at time.Time) (bool, error) {
	return r.conditionalUpdate(ctx,
		`UPDATE transactions SET status = $2, delivery_confirmed_at = $3,
		     payment_released_at = $3, payment_release_reference = $4, updated_at = $3
		 WHERE id = $1 AND status = $5`,
		id, model.TransactionStatusCompleted, at, releaseReference,
		model.TransactionStatusShipped,
	)
}

// Cancel は現在状態がfromの場合のみCANCELLEDへ遷移させる。
func (r *PostgresTransactionRepo) Cancel(ctx context.Context, id string, from model.TransactionStatus) (bool, error) {
	return r.conditionalUpdate(ctx,
		`UPDATE transactions SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = $4`,
		id, model.TransactionStatusCancelled, time.Now().UTC(), from,
	)
}

// OpenDispute は現在状態がCOMPLETEDでもDISPUTEDでもない場合のみDISPUTEDへ遷移させる。
func (r *PostgresTransactionRepo) OpenDispute(ctx context.Context, id string, reason model.DisputeReason, description, openedBy string, at time.Time) (bool, error) {
	return r.conditionalUpdate(ctx,
		`UPDATE transactions SET status = $2, dispute_reason = $3, dispute_description = $4,
		     dispute_opened_by = $5, dispute_opened_at = $6, updated_at = $6
		 WHERE id = $1 AND status NOT IN ($7, $8)`,
		id, model.TransactionStatusDisputed, reason, description, openedBy, at,
		model.TransactionStatusCompleted, model.TransactionStatusDisputed,
	)
}

// listByCondition は条件に合致する取引一覧を返す。
func (r *PostgresTransactionRepo) listByCondition(ctx context.Context, where string, args ...any) ([]*model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE `+where+` ORDER BY created_at`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("取引一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var txs []*model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("取引のスキャンに失敗しました: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("取引一覧の読み取りに失敗しました: %w", err)
	}

	return txs, nil
}

// ListStalePending はolderThanより前に作成されたPAYMENT_PENDINGの取引を返す。
func (r *PostgresTransactionRepo) ListStalePending(ctx context.Context, olderThan time.Time) ([]*model.Transaction, error) {
	return r.listByCondition(ctx,
		`status = $1 AND created_at < $2`,
		model.TransactionStatusPaymentPending, olderThan,
	)
}

// ListStaleShipped はolderThanより前に発送されたSHIPPEDの取引を返す。
func (r *PostgresTransactionRepo) ListStaleShipped(ctx context.Context, olderThan time.Time) ([]*model.Transaction, error) {
	return r.listByCondition(ctx,
		`status = $1 AND shipped_at < $2`,
		model.TransactionStatusShipped, olderThan,
	)
}

// ListForUser は指定ユーザーが買い手または売り手である取引一覧を返す。
func (r *PostgresTransactionRepo) ListForUser(ctx context.Context, username string) ([]*model.Transaction, error) {
	return r.listByCondition(ctx,
		`buyer_username = $1 OR seller_username = $1`,
		username,
	)
}

// compile-time interface check
var _ TransactionRepository = (*PostgresTransactionRepo)(nil)
