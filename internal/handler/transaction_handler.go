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

// TransactionServiceInterface は取引ハンドラーが必要とするサービスインターフェース。
type TransactionServiceInterface interface {
	// Initiate は承諾済みオファーから取引を作成し、支払い確認を予約する。
	Initiate(ctx context.Context, buyer, offerID string, shipping model.ShippingAddress) (*model.Transaction, error)
	// MarkShipped は売り手が発送を登録する。
	MarkShipped(ctx context.Context, seller, txID, carrier, trackingNumber string) (*model.Transaction, error)
	// ConfirmDelivery は買い手が受取を確認し、支払いをリリースする。
	ConfirmDelivery(ctx context.Context, buyer, txID string) (*model.Transaction, error)
	// OpenDispute は当事者が紛争を開始する。
	OpenDispute(ctx context.Context, caller, txID string, reason model.DisputeReason, description string) (*model.Transaction, error)
	// Cancel は買い手が支払い確認前の取引を中止する。
	Cancel(ctx context.Context, buyer, txID string) (*model.Transaction, error)
	// Get は取引詳細を返す。当事者以外には取得させない。
	Get(ctx context.Context, caller, txID string) (*model.Transaction, error)
	// ListForUser は呼び出しユーザーが当事者である取引一覧を返す。
	ListForUser(ctx context.Context, caller string) ([]*model.Transaction, error)
}

// TransactionHandler は取引管理のHTTPハンドラー。
type TransactionHandler struct {
	service TransactionServiceInterface
}

// NewTransactionHandler はTransactionHandlerを生成する。
func NewTransactionHandler(service TransactionServiceInterface) *TransactionHandler {
	return &TransactionHandler{service: service}
}

// --- リクエスト・レスポンス型 ---

// shippingAddressPayload は配送先のJSON表現。
type shippingAddressPayload struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// initiateTransactionRequest は取引作成リクエストのボディ。
type initiateTransactionRequest struct {
	OfferID  string                 `json:"offer_id"`
	Shipping shippingAddressPayload `json:"shipping"`
}

// shipRequest は発送登録リクエストのボディ。
type shipRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

// disputeRequest は紛争開始リクエストのボディ。
type disputeRequest struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// transactionResponse は取引1件のレスポンス。
type transactionResponse struct {
	ID                  string                 `json:"id"`
	OfferID             string                 `json:"offer_id"`
	ArticleID           string                 `json:"article_id"`
	Buyer               string                 `json:"buyer"`
	Seller              string                 `json:"seller"`
	Amount              float64                `json:"amount"`
	Status              string                 `json:"status"`
	PaymentReference    string                 `json:"payment_reference,omitempty"`
	Shipping            shippingAddressPayload `json:"shipping"`
	Carrier             string                 `json:"carrier,omitempty"`
	TrackingNumber      string                 `json:"tracking_number,omitempty"`
	ShippedAt           *time.Time             `json:"shipped_at,omitempty"`
	DeliveryConfirmedAt *time.Time             `json:"delivery_confirmed_at,omitempty"`
	PaymentReleasedAt   *time.Time             `json:"payment_released_at,omitempty"`
	DisputeReason       string                 `json:"dispute_reason,omitempty"`
	DisputeDescription  string                 `json:"dispute_description,omitempty"`
	DisputeOpenedBy     string                 `json:"dispute_opened_by,omitempty"`
	DisputeOpenedAt     *time.Time             `json:"dispute_opened_at,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// transactionListResponse は取引一覧のレスポンス。
type transactionListResponse struct {
	Transactions []transactionResponse `json:"transactions"`
}

// toTransactionResponse はドメインのTransactionをレスポンス型に変換する。
func toTransactionResponse(tx *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:                  tx.ID,
		OfferID:             tx.OfferID,
		ArticleID:           tx.ArticleID,
		Buyer:               tx.BuyerUsername,
		Seller:              tx.SellerUsername,
		Amount:              tx.Amount,
		Status:              string(tx.Status),
		PaymentReference:    tx.PaymentReference,
		Shipping: shippingAddressPayload{
			Name:       tx.Shipping.Name,
			Street:     tx.Shipping.Street,
			City:       tx.Shipping.City,
			PostalCode: tx.Shipping.PostalCode,
			Country:    tx.Shipping.Country,
		},
		Carrier:             tx.Carrier,
		TrackingNumber:      tx.TrackingNumber,
		ShippedAt:           tx.ShippedAt,
		DeliveryConfirmedAt: tx.DeliveryConfirmedAt,
		PaymentReleasedAt:   tx.PaymentReleasedAt,
		DisputeReason:       string(tx.DisputeReason),
		DisputeDescription:  tx.DisputeDescription,
		DisputeOpenedBy:     tx.DisputeOpenedBy,
		DisputeOpenedAt:     tx.DisputeOpenedAt,
		CreatedAt:           tx.CreatedAt,
		UpdatedAt:           tx.UpdatedAt,
	}
}

// Initiate は承諾済みオファーから取引を作成する。
// POST /api/transactions
func (h *TransactionHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var req initiateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	shipping := model.ShippingAddress{
		Name:       req.Shipping.Name,
		Street:     req.Shipping.Street,
		City:       req.Shipping.City,
		PostalCode: req.Shipping.PostalCode,
		Country:    req.Shipping.Country,
	}

	tx, err := h.service.Initiate(r.Context(), userID, req.OfferID, shipping)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toTransactionResponse(tx))
}

// Ship は売り手が発送を登録する。
// POST /api/transactions/:id/ship
func (h *TransactionHandler) Ship(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	txID := chi.URLParam(r, "id")

	var req shipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	tx, err := h.service.MarkShipped(r.Context(), userID, txID, req.Carrier, req.TrackingNumber)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toTransactionResponse(tx))
}

// ConfirmDelivery は買い手が受取を確認する。
// POST /api/transactions/:id/confirm-delivery
func (h *TransactionHandler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	txID := chi.URLParam(r, "id")

	tx, err := h.service.ConfirmDelivery(r.Context(), userID, txID)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toTransactionResponse(tx))
}

// Dispute は当事者が紛争を開始する。
// POST /api/transactions/:id/dispute
func (h *TransactionHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	txID := chi.URLParam(r, "id")

	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	tx, err := h.service.OpenDispute(r.Context(), userID, txID, model.DisputeReason(req.Reason), req.Description)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toTransactionResponse(tx))
}

// Cancel は買い手が支払い確認前の取引を中止する。
// POST /api/transactions/:id/cancel
func (h *TransactionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	txID := chi.URLParam(r, "id")

	tx, err := h.service.Cancel(r.Context(), userID, txID)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toTransactionResponse(tx))
}

// Get は取引詳細を取得する。
// GET /api/transactions/:id
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	txID := chi.URLParam(r, "id")

	tx, err := h.service.Get(r.Context(), userID, txID)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toTransactionResponse(tx))
}

// List は呼び出しユーザーが当事者である取引一覧を取得する。
// GET /api/transactions
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	txs, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		middleware.HandleServiceError(w, err)
		return
	}

	results := make([]transactionResponse, len(txs))
	for i, tx := range txs {
		results[i] = toTransactionResponse(tx)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactionListResponse{Transactions: results})
}
