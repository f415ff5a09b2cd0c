package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/furima/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
// ペイロード（data）はJSONB列として保存する。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

const notificationColumns = `id, recipient, type, title, message, data, read, created_at, updated_at`

// scanNotification は1行をmodel.Notificationへスキャンする。
func scanNotification(row interface {
	Scan(dest ...any) error
}) (*model.Notification, error) {
	n := &model.Notification{}
	var data []byte

	err := row.Scan(
		&n.ID, &n.Recipient, &n.Type, &n.Title, &n.Message,
		&data, &n.Read, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("通知ペイロードの復元に失敗しました: %w", err)
		}
	}

	return n, nil
}

// Create は通知レコードを作成する。
func (r *PostgresNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	data := n.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("通知ペイロードの変換に失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, recipient, type, title, message, data, read, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.Recipient, n.Type, n.Title, n.Message, payload, n.Read, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("通知の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
func (r *PostgresNotificationRepo) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	n, err := scanNotification(r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗しました: %w", err)
	}
	return n, nil
}

// ListByRecipient は受信者の通知をcreated_at降順・ページネーション付きで返す。
func (r *PostgresNotificationRepo) ListByRecipient(ctx context.Context, recipient string, filter model.NotificationFilter, limit, offset int) ([]*model.Notification, int, error) {
	where := `recipient = $1`
	args := []any{recipient}

	if filter.Read != nil {
		args = append(args, *filter.Read)
		where += fmt.Sprintf(` AND read = $%d`, len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where += fmt.Sprintf(` AND type = $%d`, len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("通知件数の取得に失敗しました: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM notifications WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			notificationColumns, where, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("通知のスキャンに失敗しました: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("通知一覧の読み取りに失敗しました: %w", err)
	}

	return notifications, total, nil
}

// UnreadCount は受信者の未読通知数を返す。
func (r *PostgresNotificationRepo) UnreadCount(ctx context.Context, recipient string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE recipient = $1 AND read = FALSE`,
		recipient,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未読通知数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// MarkRead は受信者スコープで通知を既読にする。
// UPDATEは既読済みの行にもマッチするため、繰り返し呼び出しても同じ結果になる（冪等）。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, id, recipient string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE, updated_at = $3
		 WHERE id = $1 AND recipient = $2`,
		id, recipient, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("通知の既読化に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// MarkAllRead は受信者の全未読通知を既読にし、更新件数を返す。
func (r *PostgresNotificationRepo) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE, updated_at = $2
		 WHERE recipient = $1 AND read = FALSE`,
		recipient, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("通知の一括既読化に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return affected, nil
}

// Delete は受信者スコープで通知を削除する。
func (r *PostgresNotificationRepo) Delete(ctx context.Context, id, recipient string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND recipient = $2`,
		id, recipient,
	)
	if err != nil {
		return false, fmt.Errorf("通知の削除に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

// DeleteReadOlderThan は指定年齢を超えた既読通知を削除し、削除件数を返す。
func (r *PostgresNotificationRepo) DeleteReadOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE read = TRUE AND created_at < $1`,
		time.Now().UTC().Add(-age),
	)
	if err != nil {
		return 0, fmt.Errorf("既読通知の削除に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return affected, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
