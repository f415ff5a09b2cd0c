package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/furima/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用した認証トークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// FindByToken は指定トークンを取得する。期限切れまたは未知の場合はnilを返す。
func (r *PostgresTokenRepo) FindByToken(ctx context.Context, token string) (*model.AuthToken, error) {
	t := &model.AuthToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT token, username, expires_at, created_at
		 FROM auth_tokens WHERE token = $1 AND expires_at > now()`,
		token,
	).Scan(&t.Token, &t.Username, &t.ExpiresAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("トークンの取得に失敗しました: %w", err)
	}
	return t, nil
}

// Create はトークンを作成する。
func (r *PostgresTokenRepo) Create(ctx context.Context, t *model.AuthToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_tokens (token, username, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		t.Token, t.Username, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("トークンの作成に失敗しました: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れトークンを削除し、削除件数を返す。
func (r *PostgresTokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_tokens WHERE expires_at <= $1`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れトークンの削除に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return affected, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
