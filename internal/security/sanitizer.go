// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザー入力の自由テキスト（紛争の説明文など）を保存前に無害化し、
// 相手方のUIに表示される際のXSSリスクからユーザーを保護する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は自由テキストの無害化インターフェース。
type TextSanitizerService interface {
	// Sanitize は入力からすべてのHTMLタグを除去した平文を返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフに無害化処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// 保存対象は平文のみのため、許可タグを一切持たないStrictPolicyを使用する。
// タグ除去後の前後空白も取り除く。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からすべてのHTMLタグを除去した平文を返す。
func (s *textSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
