package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/furima/internal/model"
)

// TestStatusForCode はエラーコードとHTTPステータスの対応を検証する。
func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrCodeUnauthenticated, http.StatusUnauthorized},
		{model.ErrCodeForbidden, http.StatusForbidden},
		{model.ErrCodeArticleNotFound, http.StatusNotFound},
		{model.ErrCodeOfferNotFound, http.StatusNotFound},
		{model.ErrCodeTransactionNotFound, http.StatusNotFound},
		{model.ErrCodeNotificationNotFound, http.StatusNotFound},
		{model.ErrCodeInvalidTransition, http.StatusConflict},
		{model.ErrCodeDuplicateTransaction, http.StatusConflict},
		{model.ErrCodeArticleNotPublished, http.StatusConflict},
		{model.ErrCodeInvalidPrice, http.StatusBadRequest},
		{model.ErrCodeInvalidShipping, http.StatusBadRequest},
		{model.ErrCodeInvalidDisputeReason, http.StatusBadRequest},
		{model.ErrCodeOwnArticle, http.StatusBadRequest},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := statusForCode(tt.code); got != tt.want {
				t.Errorf("statusForCode(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

// TestHandleServiceError_APIError はAPIErrorが対応するステータスとボディで返ることを検証する。
func TestHandleServiceError_APIError(t *testing.T) {
	rec := httptest.NewRecorder()

	HandleServiceError(rec, model.NewOfferNotFoundError("offer-1"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json; charset=utf-8", ct)
	}

	var body errorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if body.Error.Code != model.ErrCodeOfferNotFound {
		t.Errorf("error = %+v, want OFFER_NOT_FOUND", body.Error)
	}
	if body.Error.Action == "" {
		t.Error("Actionが空")
	}
}

// TestHandleServiceError_WrappedAPIError はラップされたAPIErrorも展開されることを検証する。
func TestHandleServiceError_WrappedAPIError(t *testing.T) {
	rec := httptest.NewRecorder()

	wrapped := fmt.Errorf("オファーの取得に失敗: %w", model.NewForbiddenError())
	HandleServiceError(rec, wrapped)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

// TestHandleServiceError_GenericError は未知のエラーが500に丸められ詳細が漏れないことを検証する。
func TestHandleServiceError_GenericError(t *testing.T) {
	rec := httptest.NewRecorder()

	HandleServiceError(rec, errors.New("pq: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}

	var body errorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if body.Error.Code != model.ErrCodeInternalServerError {
		t.Errorf("error = %+v, want INTERNAL_SERVER_ERROR", body.Error)
	}
	if body.Error.Message == "pq: connection refused" {
		t.Error("内部エラーの詳細がレスポンスに漏れている")
	}
}
