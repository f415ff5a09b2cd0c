package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/furima/internal/middleware"
	"github.com/hitoshi/furima/internal/model"
)

// OfferServiceInterface はオファーハンドラーが必要とするサービスインターフェース。
type OfferServiceInterface interface {
	// Submit はオファーを提出する。同一商品への再オファーは価格の上書きになる。
	Submit(ctx context.Context, buyer, articleID string, price float64) (*model.Offer, error)
	// Decide は売り手がオファーを承諾または拒否する。
	Decide(ctx context.Context, seller, offerID string, accept bool) (*model.Offer, error)
	// Cancel は当事者がオファーを取り下げる。
	Cancel(ctx context.Context, caller, offerID string) (*model.Offer, error)
	// Conclude は買い手が承諾済みオファーを成立として確定する。
	Conclude(ctx context.Context, buyer, offerID string) (*model.Offer, error)
	// Get はオファー詳細を返す。当事者以外には取得させない。
	Get(ctx context.Context, caller, offerID string) (*model.Offer, error)
	// ListForUser は呼び出しユーザーが当事者であるオファー一覧を返す。
	ListForUser(ctx context.Context, caller string) ([]*model.Offer, error)
}

// OfferHandler はオファー管理のHTTPハンドラー。
type OfferHandler struct {
	service OfferServiceInterface
}

// NewOfferHandler はOfferHandlerを生成する。
func NewOfferHandler(service OfferServiceInterface) *OfferHandler {
	return &OfferHandler{service: service}
}

// --- リクエスト・レスポンス型 ---

// submitOfferRequest はオファー提出リクエストのボディ。
type submitOfferRequest struct {
	ArticleID string  `json:"article_id"`
	Price     float64 `json:"price"`
}

// offerResponse はオファー1件のレスポンス。
type offerResponse struct {
	ID        string    `json:"id"`
	ArticleID string    `json:"article_id"`
	Seller    string    `json:"seller"`
	Buyer     string    `json:"buyer"`
	Price     float64   `json:"price"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// offerListResponse はオファー一覧のレスポンス。
type offerListResponse struct {
	Offers []offerResponse `json:"offers"`
}

// toOfferResponse はドメインのOfferをレスポンス型に変換する。
func toOfferResponse(o *model.Offer) offerResponse {
	return offerResponse{
		ID:        o.ID,
		ArticleID: o.ArticleID,
		Seller:    o.Seller,
		Buyer:     o.Username,
		Price:     o.Price,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

// Submit はオファーを提出する。
// POST /api/offers
func (h *OfferHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req submitOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	offer, err := h.service.Submit(r.Context(), userID, req.ArticleID, req.Price)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toOfferResponse(offer))
}

// Accept は売り手がオファーを承諾する。
// POST /api/offers/:id/accept
func (h *OfferHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// Deny は売り手がオファーを拒否する。
// POST /api/offers/:id/deny
func (h *OfferHandler) Deny(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

// decide は承諾・拒否の共通処理。
func (h *OfferHandler) decide(w http.ResponseWriter, r *http.Request, accept bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	offerID := chi.URLParam(r, "id")

	offer, err := h.service.Decide(r.Context(), userID, offerID, accept)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toOfferResponse(offer))
}

// Cancel は当事者がオファーを取り下げる。
// POST /api/offers/:id/cancel
func (h *OfferHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	offerID := chi.URLParam(r, "id")

	offer, err := h.service.Cancel(r.Context(), userID, offerID)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toOfferResponse(offer))
}

// Conclude は買い手が承諾済みオファーを成立として確定する。
// POST /api/offers/:id/conclude
func (h *OfferHandler) Conclude(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	offerID := chi.URLParam(r, "id")

	offer, err := h.service.Conclude(r.Context(), userID, offerID)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toOfferResponse(offer))
}

// Get はオファー詳細を取得する。
// GET /api/offers/:id
func (h *OfferHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	offerID := chi.URLParam(r, "id")

	offer, err := h.service.Get(r.Context(), userID, offerID)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toOfferResponse(offer))
}

// List は呼び出しユーザーが当事者であるオファー一覧を取得する。
// GET /api/offers
func (h *OfferHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	offers, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	results := make([]offerResponse, len(offers))
	for i, o := range offers {
		results[i] = toOfferResponse(o)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offerListResponse{Offers: results})
}

// writeInvalidRequestBody はリクエストボディの解析失敗時の400レスポンスを書き込む。
func writeInvalidRequestBody(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}
