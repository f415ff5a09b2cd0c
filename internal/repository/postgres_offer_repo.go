package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/furima/internal/model"
)

// PostgresOfferRepo はPostgreSQLを使用したオファーリポジトリ。
type PostgresOfferRepo struct {
	db *sql.DB
}

// NewPostgresOfferRepo はPostgresOfferRepoを生成する。
func NewPostgresOfferRepo(db *sql.DB) *PostgresOfferRepo {
	return &PostgresOfferRepo{db: db}
}

const offerColumns = `id, article_id, seller, username, price, status, created_at, updated_at`

// scanOffer は1行をmodel.Offerへスキャンする。
func scanOffer(row interface {
	Scan(dest ...any) error
}) (*model.Offer, error) {
	offer := &model.Offer{}
	err := row.Scan(
		&offer.ID, &offer.ArticleID, &offer.Seller, &offer.Username,
		&offer.Price, &offer.Status, &offer.CreatedAt, &offer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// FindByID は指定IDのオファーを取得する。見つからない場合はnilを返す。
func (r *PostgresOfferRepo) FindByID(ctx context.Context, id string) (*model.Offer, error) {
	offer, err := scanOffer(r.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("オファーの取得に失敗しました: %w", err)
	}
	return offer, nil
}

// FindByArticleAndBuyer は(article_id, username)でオファーを検索する。見つからない場合はnilを返す。
func (r *PostgresOfferRepo) FindByArticleAndBuyer(ctx context.Context, articleID, username string) (*model.Offer, error) {
	offer, err := scanOffer(r.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE article_id = $1 AND username = $2`,
		articleID, username,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("オファーの検索に失敗しました: %w", err)
	}
	return offer, nil
}

// Create は新規オファーを作成する。
func (r *PostgresOfferRepo) Create(ctx context.Context, offer *model.Offer) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO offers (id, article_id, seller, username, price, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		offer.ID, offer.ArticleID, offer.Seller, offer.Username,
		offer.Price, offer.Status, offer.CreatedAt, offer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("オファーの作成に失敗しました: %w", err)
	}
	return nil
}

// Reprice は既存オファーの価格を上書きし、状態を無条件にPENDINGへ戻す。
func (r *PostgresOfferRepo) Reprice(ctx context.Context, id string, price float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE offers SET price = $2, status = $3, updated_at = $4 WHERE id = $1`,
		id, price, model.OfferStatusPending, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("オファーの再提示に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus は status = from の場合のみ to へ遷移させる。
// 適用された場合はtrueを返す。
func (r *PostgresOfferRepo) UpdateStatus(ctx context.Context, id string, from, to model.OfferStatus) (bool, error) {
	return r.UpdateStatusFromAny(ctx, id, []model.OfferStatus{from}, to)
}

// UpdateStatusFromAny は現在状態がfromのいずれかの場合のみtoへ遷移させる。
func (r *PostgresOfferRepo) UpdateStatusFromAny(ctx context.Context, id string, from []model.OfferStatus, to model.OfferStatus) (bool, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE offers SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = ANY($4)`,
		id, to, time.Now().UTC(), pq.Array(statuses),
	)
	if err != nil {
		return false, fmt.Errorf("オファー状態の更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// ListForUser は指定ユーザーが買い手または売り手であるオファー一覧を返す。
func (r *PostgresOfferRepo) ListForUser(ctx context.Context, username string) ([]*model.Offer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM offers
		 WHERE username = $1 OR seller = $1
		 ORDER BY updated_at DESC`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("オファー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var offers []*model.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("オファーのスキャンに失敗しました: %w", err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("オファー一覧の読み取りに失敗しました: %w", err)
	}

	return offers, nil
}

// compile-time interface check
var _ OfferRepository = (*PostgresOfferRepo)(nil)
