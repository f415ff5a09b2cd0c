package model

import "time"

// AuthToken はAPIアクセス用のベアラートークンを表す。
// 認証コラボレータが発行し、このコアは解決のみを行う。
type AuthToken struct {
	Token     string
	Username  string
	ExpiresAt time.Time
	CreatedAt time.Time
}
