package model

import "time"

// Article は出品商品を表す。
// カタログ管理は外部コラボレータの責務であり、
// このコアは販売成立時にPublished/BoughtByを更新するのみ。
type Article struct {
	ID        string
	Owner     string
	Name      string
	Category  string
	Size      string
	Price     float64
	MainImage string
	Published bool
	BoughtBy  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
