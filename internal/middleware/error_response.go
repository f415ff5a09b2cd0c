package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/furima/internal/model"
)

// apiErrorBody は統一エラーフォーマットのレスポンス。
type apiErrorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// errorResponseBody はAPIエラーレスポンスのJSON構造。
type errorResponseBody struct {
	Error apiErrorBody `json:"error"`
}

// WriteErrorResponse は構造化エラーをJSONとして書き出す。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	body := errorResponseBody{Error: apiErrorBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("エラーレスポンスの書き込みに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// WriteInternalServerError は詳細を伏せた500エラーを書き出す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalServerError())
}

// statusForCode はエラーコードをHTTPステータスに対応付ける。
func statusForCode(code string) int {
	switch code {
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeArticleNotFound,
		model.ErrCodeOfferNotFound,
		model.ErrCodeTransactionNotFound,
		model.ErrCodeNotificationNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidTransition,
		model.ErrCodeDuplicateTransaction,
		model.ErrCodeArticleNotPublished:
		return http.StatusConflict
	case model.ErrCodeInvalidPrice,
		model.ErrCodeInvalidShipping,
		model.ErrCodeInvalidDisputeReason,
		model.ErrCodeOwnArticle:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError はサービス層のエラーを適切なHTTPレスポンスに変換する。
// APIエラー以外は内部エラーとしてログに残し、詳細を伏せる。
func HandleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, statusForCode(apiErr.Code), apiErr)
		return
	}
	slog.Error("サービス層で予期しないエラーが発生しました",
		slog.String("error", err.Error()),
	)
	WriteInternalServerError(w)
}
