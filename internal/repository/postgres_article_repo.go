package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/furima/internal/model"
)

// PostgresArticleRepo はPostgreSQLを使用した商品リポジトリ。
// カタログCRUDは外部コラボレータの責務のため、取引コアが必要とする操作のみを実装する。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	article := &model.Article{}
	var boughtBy sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner, name, category, size, price, main_image, published, bought_by, created_at, updated_at
		 FROM articles WHERE id = $1`,
		id,
	).Scan(
		&article.ID, &article.Owner, &article.Name, &article.Category, &article.Size,
		&article.Price, &article.MainImage, &article.Published, &boughtBy,
		&article.CreatedAt, &article.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("商品の取得に失敗しました: %w", err)
	}

	if boughtBy.Valid {
		article.BoughtBy = &boughtBy.String
	}

	return article, nil
}

// MarkPurchased は商品を購入済みにし、同時に非公開にする。
func (r *PostgresArticleRepo) MarkPurchased(ctx context.Context, articleID, buyer string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE articles SET bought_by = $2, published = FALSE, updated_at = $3 WHERE id = $1`,
		articleID, buyer, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("商品の購入済み更新に失敗しました: %w", err)
	}
	return nil
}

// Unpublish は商品を非公開にする。
func (r *PostgresArticleRepo) Unpublish(ctx context.Context, articleID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE articles SET published = FALSE, updated_at = $2 WHERE id = $1`,
		articleID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("商品の非公開化に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
