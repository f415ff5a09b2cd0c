package offer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/furima/internal/model"
)

// --- モック ---

type mockOfferRepo struct {
	findByIDFn              func(ctx context.Context, id string) (*model.Offer, error)
	findByArticleAndBuyerFn func(ctx context.Context, articleID, username string) (*model.Offer, error)
	createFn                func(ctx context.Context, offer *model.Offer) error
	repriceFn               func(ctx context.Context, id string, price float64) error
	updateStatusFn          func(ctx context.Context, id string, from, to model.OfferStatus) (bool, error)
	updateStatusFromAnyFn   func(ctx context.Context, id string, from []model.OfferStatus, to model.OfferStatus) (bool, error)
}

func (m *mockOfferRepo) FindByID(ctx context.Context, id string) (*model.Offer, error) {
	return m.findByIDFn(ctx, id)
}
func (m *mockOfferRepo) FindByArticleAndBuyer(ctx context.Context, articleID, username string) (*model.Offer, error) {
	if m.findByArticleAndBuyerFn != nil {
		return m.findByArticleAndBuyerFn(ctx, articleID, username)
	}
	return nil, nil
}
func (m *mockOfferRepo) Create(ctx context.Context, offer *model.Offer) error {
	if m.createFn != nil {
		return m.createFn(ctx, offer)
	}
	return nil
}
func (m *mockOfferRepo) Reprice(ctx context.Context, id string, price float64) error {
	if m.repriceFn != nil {
		return m.repriceFn(ctx, id, price)
	}
	return nil
}
func (m *mockOfferRepo) UpdateStatus(ctx context.Context, id string, from, to model.OfferStatus) (bool, error) {
	return m.updateStatusFn(ctx, id, from, to)
}
func (m *mockOfferRepo) UpdateStatusFromAny(ctx context.Context, id string, from []model.OfferStatus, to model.OfferStatus) (bool, error) {
	return m.updateStatusFromAnyFn(ctx, id, from, to)
}
func (m *mockOfferRepo) ListForUser(ctx context.Context, username string) ([]*model.Offer, error) {
	return nil, nil
}

type mockTxRepo struct {
	findByOfferIDFn func(ctx context.Context, offerID string) (*model.Transaction, error)
}

func (m *mockTxRepo) FindByID(ctx context.Context, id string) (*model.Transaction, error) {
	return nil, nil
}
func (m *mockTxRepo) FindByOfferID(ctx context.Context, offerID string) (*model.Transaction, error) {
	if m.findByOfferIDFn != nil {
		return m.findByOfferIDFn(ctx, offerID)
	}
	return nil, nil
}
func (m *mockTxRepo) Create(ctx context.Context, tx *model.Transaction) error { return nil }
func (m *mockTxRepo) ConfirmPayment(ctx context.Context, id string) (bool, error) {
	return false, nil
}
func (m *mockTxRepo) MarkShipped(ctx context.Context, id, carrier, trackingNumber string, shippedAt time.Time) (bool, error) {
	return false, nil
}
func (m *mockTxRepo) Complete(ctx context.Context, id, releaseReference string, at time.Time) (bool, error) {
	return false, nil
}
func (m *mockTxRepo) Cancel(ctx context.Context, id string, from model.TransactionStatus) (bool, error) {
	return false, nil
}
func (m *mockTxRepo) OpenDispute(ctx context.Context, id string, reason model.DisputeReason, description, openedBy string, at time.Time) (bool, error) {
	return false, nil
}
func (m *mockTxRepo) ListStalePending(ctx context.Context, olderThan time.Time) ([]*model.Transaction, error) {
	return nil, nil
}
func (m *mockTxRepo) ListStaleShipped(ctx context.Context, olderThan time.Time) ([]*model.Transaction, error) {
	return nil, nil
}
func (m *mockTxRepo) ListForUser(ctx context.Context, username string) ([]*model.Transaction, error) {
	return nil, nil
}

type mockArticleRepo struct {
	findByIDFn      func(ctx context.Context, id string) (*model.Article, error)
	markPurchasedFn func(ctx context.Context, articleID, buyer string) error
}

func (m *mockArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockArticleRepo) MarkPurchased(ctx context.Context, articleID, buyer string) error {
	if m.markPurchasedFn != nil {
		return m.markPurchasedFn(ctx, articleID, buyer)
	}
	return nil
}
func (m *mockArticleRepo) Unpublish(ctx context.Context, articleID string) error { return nil }

type sentNotification struct {
	recipient string
	typ       model.NotificationType
}

type mockNotifier struct {
	sent     []sentNotification
	notifyFn func(ctx context.Context) error
}

func (m *mockNotifier) Notify(ctx context.Context, recipient string, typ model.NotificationType, title, message string, data map[string]any) (*model.Notification, error) {
	m.sent = append(m.sent, sentNotification{recipient: recipient, typ: typ})
	if m.notifyFn != nil {
		if err := m.notifyFn(ctx); err != nil {
			return nil, err
		}
	}
	return &model.Notification{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// --- テストヘルパー ---

func publishedArticle() *model.Article {
	return &model.Article{
		ID:        "article-1",
		Owner:     "seller",
		Name:      "デニムジャケット",
		Price:     5000,
		Published: true,
	}
}

func pendingOffer() *model.Offer {
	return &model.Offer{
		ID:        "offer-1",
		ArticleID: "article-1",
		Seller:    "seller",
		Username:  "buyer",
		Price:     4500,
		Status:    model.OfferStatusPending,
	}
}

func assertAPIError(t *testing.T, err error, wantCode string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *model.APIError", err)
	}
	if apiErr.Code != wantCode {
		t.Errorf("Code = %q, want %q", apiErr.Code, wantCode)
	}
}

// --- テスト ---

// TestService_Submit_NewOffer は新規オファーがPENDINGで作成され売り手へ通知されることを検証する。
func TestService_Submit_NewOffer(t *testing.T) {
	var created *model.Offer
	offerRepo := &mockOfferRepo{
		createFn: func(ctx context.Context, offer *model.Offer) error {
			created = offer
			return nil
		},
	}
	articleRepo := &mockArticleRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Article, error) {
			return publishedArticle(), nil
		},
	}
	notifier := &mockNotifier{}

	svc := NewService(offerRepo, &mockTxRepo{}, articleRepo, notifier, nil, testLogger())

	offer, err := svc.Submit(context.Background(), "buyer", "article-1", 4500)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if offer.Status != model.OfferStatusPending {
		t.Errorf("Status = %s, want PENDING", offer.Status)
	}
	if offer.Seller != "seller" {
		t.Errorf("Seller = %q, want seller", offer.Seller)
	}
	if created == nil {
		t.Fatal("オファーが作成されていない")
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(notifier.sent))
	}
	if notifier.sent[0].recipient != "seller" || notifier.sent[0].typ != model.NotificationNewOffer {
		t.Errorf("通知 = %+v, want seller宛NEW_OFFER", notifier.sent[0])
	}
}

// TestService_Submit_Reoffer は既存オファーの再提出が価格上書きとPENDING復帰になることを検証する。
func TestService_Submit_Reoffer(t *testing.T) {
	existing := pendingOffer()
	existing.Status = model.OfferStatusDenied

	var repricedID string
	var repricedPrice float64
	offerRepo := &mockOfferRepo{
		findByArticleAndBuyerFn: func(ctx context.Context, articleID, username string) (*model.Offer, error) {
			return existing, nil
		},
		repriceFn: func(ctx context.Context, id string, price float64) error {
			repricedID, repricedPrice = id, price
			return nil
		},
		createFn: func(ctx context.Context, offer *model.Offer) error {
			t.Fatal("既存オファーがあるのに新規作成された")
			return nil
		},
	}
	articleRepo := &mockArticleRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Article, error) {
			return publishedArticle(), nil
		},
	}
	notifier := &mockNotifier{}

	svc := NewService(offerRepo, &mockTxRepo{}, articleRepo, notifier, nil, testLogger())

	offer, err := svc.Submit(context.Background(), "buyer", "article-1", 4800)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if repricedID != "offer-1" || repricedPrice != 4800 {
		t.Errorf("Reprice(%q, %.0f), want (offer-1, 4800)", repricedID, repricedPrice)
	}
	if offer.Status != model.OfferStatusPending {
		t.Errorf("Status = %s, want PENDING（再オファーは交渉を再開する）", offer.Status)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].typ != model.NotificationOfferUpdated {
		t.Errorf("通知 = %+v, want OFFER_UPDATED", notifier.sent)
	}
}

// TestService_Submit_Validation は提出時のバリデーションを検証する。
func TestService_Submit_Validation(t *testing.T) {
	tests := []struct {
		name     string
		buyer    string
		price    float64
		article  *model.Article
		wantCode string
	}{
		{
			name:     "0以下の価格",
			buyer:    "buyer",
			price:    0,
			article:  publishedArticle(),
			wantCode: model.ErrCodeInvalidPrice,
		},
		{
			name:     "商品が存在しない",
			buyer:    "buyer",
			price:    1000,
			article:  nil,
			wantCode: model.ErrCodeArticleNotFound,
		},
		{
			name:  "非公開の商品",
			buyer: "buyer",
			price: 1000,
			article: func() *model.Article {
				a := publishedArticle()
				a.Published = false
				return a
			}(),
			wantCode: model.ErrCodeArticleNotPublished,
		},
		{
			name:     "自分の出品商品",
			buyer:    "seller",
			price:    1000,
			article:  publishedArticle(),
			wantCode: model.ErrCodeOwnArticle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			articleRepo := &mockArticleRepo{
				findByIDFn: func(ctx context.Context, id string) (*model.Article, error) {
					return tt.article, nil
				},
			}
			svc := NewService(&mockOfferRepo{}, &mockTxRepo{}, articleRepo, &mockNotifier{}, nil, testLogger())

			_, err := svc.Submit(context.Background(), tt.buyer, "article-1", tt.price)
			assertAPIError(t, err, tt.wantCode)
		})
	}
}

// TestService_Decide_Accept は売り手による承諾と買い手への通知を検証する。
func TestService_Decide_Accept(t *testing.T) {
	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			return pendingOffer(), nil
		},
		updateStatusFn: func(ctx context.Context, id string, from, to model.OfferStatus) (bool, error) {
			if from != model.OfferStatusPending || to != model.OfferStatusAccepted {
				t.Errorf("UpdateStatus(%s -> %s), want PENDING -> ACCEPTED", from, to)
			}
			return true, nil
		},
	}
	notifier := &mockNotifier{}

	svc := NewService(offerRepo, &mockTxRepo{}, &mockArticleRepo{}, notifier, nil, testLogger())

	offer, err := svc.Decide(context.Background(), "seller", "offer-1", true)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if offer.Status != model.OfferStatusAccepted {
		t.Errorf("Status = %s, want ACCEPTED", offer.Status)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].recipient != "buyer" || notifier.sent[0].typ != model.NotificationOfferAccepted {
		t.Errorf("通知 = %+v, want buyer宛OFFER_ACCEPTED", notifier.sent)
	}
}

// TestService_Decide_NotSeller は売り手以外の判断が拒否されることを検証する。
func TestService_Decide_NotSeller(t *testing.T) {
	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			return pendingOffer(), nil
		},
	}
	svc := NewService(offerRepo, &mockTxRepo{}, &mockArticleRepo{}, &mockNotifier{}, nil, testLogger())

	_, err := svc.Decide(context.Background(), "buyer", "offer-1", true)
	assertAPIError(t, err, model.ErrCodeForbidden)
}

// TestService_Decide_StaleState は条件付き更新の空振りがInvalidTransitionになることを検証する。
func TestService_Decide_StaleState(t *testing.T) {
	cancelled := pendingOffer()
	cancelled.Status = model.OfferStatusCancelled

	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			return cancelled, nil
		},
		updateStatusFn: func(ctx context.Context, id string, from, to model.OfferStatus) (bool, error) {
			return false, nil
		},
	}
	notifier := &mockNotifier{}
	svc := NewService(offerRepo, &mockTxRepo{}, &mockArticleRepo{}, notifier, nil, testLogger())

	_, err := svc.Decide(context.Background(), "seller", "offer-1", false)
	assertAPIError(t, err, model.ErrCodeInvalidTransition)
	if len(notifier.sent) != 0 {
		t.Error("適用されなかった遷移で通知が送られた")
	}
}

// TestService_Decide_IdempotentRace は競合相手が先に同じ目標状態へ遷移させていた場合に
// 冪等なno-op成功となることを検証する。
func TestService_Decide_IdempotentRace(t *testing.T) {
	accepted := pendingOffer()
	accepted.Status = model.OfferStatusAccepted

	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			return accepted, nil
		},
		updateStatusFn: func(ctx context.Context, id string, from, to model.OfferStatus) (bool, error) {
			return false, nil
		},
	}
	svc := NewService(offerRepo, &mockTxRepo{}, &mockArticleRepo{}, &mockNotifier{}, nil, testLogger())

	offer, err := svc.Decide(context.Background(), "seller", "offer-1", true)
	if err != nil {
		t.Fatalf("Decide() error = %v, 既に目標状態ならno-op成功であるべき", err)
	}
	if offer.Status != model.OfferStatusAccepted {
		t.Errorf("Status = %s, want ACCEPTED", offer.Status)
	}
}

// TestService_Cancel は当事者による取り下げと相手方への通知を検証する。
func TestService_Cancel(t *testing.T) {
	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			return pendingOffer(), nil
		},
		updateStatusFromAnyFn: func(ctx context.Context, id string, from []model.OfferStatus, to model.OfferStatus) (bool, error) {
			if len(from) != 2 || to != model.OfferStatusCancelled {
				t.Errorf("UpdateStatusFromAny(%v -> %s), want [PENDING ACCEPTED] -> CANCELLED", from, to)
			}
			return true, nil
		},
	}
	notifier := &mockNotifier{}
	svc := NewService(offerRepo, &mockTxRepo{}, &mockArticleRepo{}, notifier, nil, testLogger())

	// 買い手が取り下げた場合は売り手へ通知される
	offer, err := svc.Cancel(context.Background(), "buyer", "offer-1")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if offer.Status != model.OfferStatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", offer.Status)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].recipient != "seller" {
		t.Errorf("通知 = %+v, want seller宛", notifier.sent)
	}
}

// TestService_Cancel_NotParty は第三者の取り下げが拒否されることを検証する。
func TestService_Cancel_NotParty(t *testing.T) {
	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			return pendingOffer(), nil
		},
	}
	svc := NewService(offerRepo, &mockTxRepo{}, &mockArticleRepo{}, &mockNotifier{}, nil, testLogger())

	_, err := svc.Cancel(context.Background(), "stranger", "offer-1")
	assertAPIError(t, err, model.ErrCodeForbidden)
}

// TestService_Cancel_TransactionInProgress は進行中の取引があるオファーの
// 取り下げが拒否されることを検証する（取り下げは取引キャンセル経由に限る）。
func TestService_Cancel_TransactionInProgress(t *testing.T) {
	accepted := pendingOffer()
	accepted.Status = model.OfferStatusAccepted

	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			return accepted, nil
		},
	}
	txRepo := &mockTxRepo{
		findByOfferIDFn: func(ctx context.Context, offerID string) (*model.Transaction, error) {
			return &model.Transaction{
				ID:      "tx-1",
				OfferID: offerID,
				Status:  model.TransactionStatusPaymentPending,
			}, nil
		},
	}
	notifier := &mockNotifier{}
	svc := NewService(offerRepo, txRepo, &mockArticleRepo{}, notifier, nil, testLogger())

	_, err := svc.Cancel(context.Background(), "buyer", "offer-1")
	assertAPIError(t, err, model.ErrCodeDuplicateTransaction)
	if len(notifier.sent) != 0 {
		t.Error("拒否された取り下げで通知が送られた")
	}
}

// TestService_Cancel_CancelledTransaction は取引がCANCELLED済みであれば
// オファーの取り下げが引き続き許可されることを検証する。
func TestService_Cancel_CancelledTransaction(t *testing.T) {
	accepted := pendingOffer()
	accepted.Status = model.OfferStatusAccepted

	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			return accepted, nil
		},
		updateStatusFromAnyFn: func(ctx context.Context, id string, from []model.OfferStatus, to model.OfferStatus) (bool, error) {
			return true, nil
		},
	}
	txRepo := &mockTxRepo{
		findByOfferIDFn: func(ctx context.Context, offerID string) (*model.Transaction, error) {
			return &model.Transaction{
				ID:      "tx-1",
				OfferID: offerID,
				Status:  model.TransactionStatusCancelled,
			}, nil
		},
	}
	svc := NewService(offerRepo, txRepo, &mockArticleRepo{}, &mockNotifier{}, nil, testLogger())

	offer, err := svc.Cancel(context.Background(), "buyer", "offer-1")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if offer.Status != model.OfferStatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", offer.Status)
	}
}

// TestService_Conclude は直接成立の完了処理を検証する。
func TestService_Conclude(t *testing.T) {
	accepted := pendingOffer()
	accepted.Status = model.OfferStatusAccepted

	var purchasedArticle, purchasedBuyer string
	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			return accepted, nil
		},
		updateStatusFn: func(ctx context.Context, id string, from, to model.OfferStatus) (bool, error) {
			if from != model.OfferStatusAccepted || to != model.OfferStatusDone {
				t.Errorf("UpdateStatus(%s -> %s), want ACCEPTED -> DONE", from, to)
			}
			return true, nil
		},
	}
	articleRepo := &mockArticleRepo{
		markPurchasedFn: func(ctx context.Context, articleID, buyer string) error {
			purchasedArticle, purchasedBuyer = articleID, buyer
			return nil
		},
	}
	notifier := &mockNotifier{}
	svc := NewService(offerRepo, &mockTxRepo{}, articleRepo, notifier, nil, testLogger())

	offer, err := svc.Conclude(context.Background(), "buyer", "offer-1")
	if err != nil {
		t.Fatalf("Conclude() error = %v", err)
	}
	if offer.Status != model.OfferStatusDone {
		t.Errorf("Status = %s, want DONE", offer.Status)
	}
	if purchasedArticle != "article-1" || purchasedBuyer != "buyer" {
		t.Errorf("MarkPurchased(%q, %q), want (article-1, buyer)", purchasedArticle, purchasedBuyer)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].recipient != "seller" || notifier.sent[0].typ != model.NotificationOfferConcluded {
		t.Errorf("通知 = %+v, want seller宛OFFER_CONCLUDED", notifier.sent)
	}
}

// TestService_Conclude_TransactionExists は取引が存在するオファーの直接成立が
// 拒否されることを検証する（完了経路の排他）。
func TestService_Conclude_TransactionExists(t *testing.T) {
	accepted := pendingOffer()
	accepted.Status = model.OfferStatusAccepted

	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			return accepted, nil
		},
	}
	txRepo := &mockTxRepo{
		findByOfferIDFn: func(ctx context.Context, offerID string) (*model.Transaction, error) {
			return &model.Transaction{ID: "tx-1", OfferID: offerID}, nil
		},
	}
	svc := NewService(offerRepo, txRepo, &mockArticleRepo{}, &mockNotifier{}, nil, testLogger())

	_, err := svc.Conclude(context.Background(), "buyer", "offer-1")
	assertAPIError(t, err, model.ErrCodeDuplicateTransaction)
}

// TestService_Conclude_NotBuyer は買い手以外の成立確定が拒否されることを検証する。
func TestService_Conclude_NotBuyer(t *testing.T) {
	accepted := pendingOffer()
	accepted.Status = model.OfferStatusAccepted

	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			return accepted, nil
		},
	}
	svc := NewService(offerRepo, &mockTxRepo{}, &mockArticleRepo{}, &mockNotifier{}, nil, testLogger())

	_, err := svc.Conclude(context.Background(), "seller", "offer-1")
	assertAPIError(t, err, model.ErrCodeForbidden)
}

// TestService_NotifyFailureDoesNotFailTransition は通知失敗が遷移を失敗させないことを検証する。
func TestService_NotifyFailureDoesNotFailTransition(t *testing.T) {
	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			return pendingOffer(), nil
		},
		updateStatusFn: func(ctx context.Context, id string, from, to model.OfferStatus) (bool, error) {
			return true, nil
		},
	}
	notifier := &mockNotifier{
		notifyFn: func(ctx context.Context) error {
			return errors.New("notification store down")
		},
	}
	svc := NewService(offerRepo, &mockTxRepo{}, &mockArticleRepo{}, notifier, nil, testLogger())

	if _, err := svc.Decide(context.Background(), "seller", "offer-1", true); err != nil {
		t.Fatalf("Decide() error = %v, 通知失敗で遷移が失敗してはならない", err)
	}
}

// TestService_Get_Scope は当事者スコープの取得制限を検証する。
func TestService_Get_Scope(t *testing.T) {
	offerRepo := &mockOfferRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Offer, error) {
			if id == "offer-1" {
				return pendingOffer(), nil
			}
			return nil, nil
		},
	}
	svc := NewService(offerRepo, &mockTxRepo{}, &mockArticleRepo{}, &mockNotifier{}, nil, testLogger())

	if _, err := svc.Get(context.Background(), "buyer", "offer-1"); err != nil {
		t.Errorf("Get(buyer) error = %v, 当事者は取得できるべき", err)
	}

	_, err := svc.Get(context.Background(), "stranger", "offer-1")
	assertAPIError(t, err, model.ErrCodeForbidden)

	_, err = svc.Get(context.Background(), "buyer", "offer-unknown")
	assertAPIError(t, err, model.ErrCodeOfferNotFound)
}
