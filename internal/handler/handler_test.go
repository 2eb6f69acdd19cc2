package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/topup-store/internal/middleware"
	"github.com/mmeshcher/topup-store/internal/model"
	"github.com/mmeshcher/topup-store/internal/repository"
	"github.com/mmeshcher/topup-store/internal/service"
)

type stubService struct {
	blocked       bool
	blockedReason string
	checkedIDs    model.Identifiers

	registerAcc *model.Account
	registerErr error

	resolveAcc *model.Account
	resolveErr error

	accountResp *model.Account
	accountErr  error

	balanceResp int64
	balanceErr  error

	transferErr error

	startAttempt *service.Attempt
	startErr     error

	getAttempt *service.Attempt
	getErr     error

	chooseAttempt *service.Attempt
	chooseErr     error

	upiAttempt *service.Attempt
	upiErr     error

	redeemAttempt *service.Attempt
	redeemErr     error

	cancelErr error

	ordersResp []model.Order
	ordersErr  error

	adResp *model.Ad
	adErr  error

	rewardResp int64
	rewardErr  error

	addBlockResp *model.Block
	addBlockErr  error

	removeBlockErr error

	listBlocksResp *service.BlockPage
	listBlocksErr  error

	listPromosResp *service.PromotionPage
	listPromosErr  error

	originsResp []model.OriginRecord
	originsErr  error
}

func (s *stubService) CheckBlocked(ctx context.Context, ids model.Identifiers) (bool, string) {
	s.checkedIDs = ids
	return s.blocked, s.blockedReason
}

func (s *stubService) RegisterAccount(ctx context.Context, realID, ip string) (*model.Account, error) {
	return s.registerAcc, s.registerErr
}

func (s *stubService) ResolveAccount(ctx context.Context, realID, ip string) (*model.Account, error) {
	return s.resolveAcc, s.resolveErr
}

func (s *stubService) Account(ctx context.Context, accountID int64) (*model.Account, error) {
	return s.accountResp, s.accountErr
}

func (s *stubService) Logout(ctx context.Context, accountID int64) {}

func (s *stubService) Balance(ctx context.Context, accountID int64) (int64, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) Transfer(ctx context.Context, fromID int64, toRealID string, amount int64) error {
	return s.transferErr
}

func (s *stubService) StartPurchase(ctx context.Context, accountID, productID int64, ids model.Identifiers) (*service.Attempt, error) {
	return s.startAttempt, s.startErr
}

func (s *stubService) GetAttempt(ctx context.Context, attemptID string) (*service.Attempt, error) {
	return s.getAttempt, s.getErr
}

func (s *stubService) ChoosePayment(ctx context.Context, attemptID string, method model.PaymentMethod) (*service.Attempt, error) {
	return s.chooseAttempt, s.chooseErr
}

func (s *stubService) SubmitUPIReference(ctx context.Context, attemptID, ref string) (*service.Attempt, error) {
	return s.upiAttempt, s.upiErr
}

func (s *stubService) SubmitRedeemCode(ctx context.Context, attemptID, code string) (*service.Attempt, error) {
	return s.redeemAttempt, s.redeemErr
}

func (s *stubService) CancelPurchase(attemptID string) error {
	return s.cancelErr
}

func (s *stubService) AccountOrders(ctx context.Context, accountID int64) ([]model.Order, error) {
	return s.ordersResp, s.ordersErr
}

func (s *stubService) RandomAd(ctx context.Context, visitorKey string) (*model.Ad, error) {
	return s.adResp, s.adErr
}

func (s *stubService) RewardAdWatch(ctx context.Context, accountID, adID int64) (int64, error) {
	return s.rewardResp, s.rewardErr
}

func (s *stubService) AddBlock(ctx context.Context, kind model.BlockKind, value, reason string) (*model.Block, error) {
	return s.addBlockResp, s.addBlockErr
}

func (s *stubService) RemoveBlock(ctx context.Context, id int64) error {
	return s.removeBlockErr
}

func (s *stubService) ListBlocks(ctx context.Context, page int, search string) (*service.BlockPage, error) {
	return s.listBlocksResp, s.listBlocksErr
}

func (s *stubService) ListPromotions(ctx context.Context, page int, search string) (*service.PromotionPage, error) {
	return s.listPromosResp, s.listPromosErr
}

func (s *stubService) AccountOrigins(ctx context.Context, accountID int64) ([]model.OriginRecord, error) {
	return s.originsResp, s.originsErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, "admin-token")
}

func authCookie(t *testing.T, h *Handler, accountID int64) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, accountID)
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no auth cookie set")
	}
	return cookies[0]
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerAcc: &model.Account{ID: 42, RealID: "player_one", Coins: 5},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(registerRequest{GamingID: "player_one"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatal("expected auth cookie to be set")
	}

	var resp accountResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.GamingID != "player_one" {
		t.Fatalf("gaming_id = %q, want %q", resp.GamingID, "player_one")
	}
}

func TestRegister_InvalidGamingID(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(registerRequest{GamingID: "ab"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestRegister_ExistingAccountResolves(t *testing.T) {
	visual := "cool_name"
	svc := &stubService{
		registerErr: repository.ErrAccountExists,
		resolveAcc:  &model.Account{ID: 7, RealID: "player_one", VisualID: &visual},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(registerRequest{GamingID: "player_one"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp accountResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.GamingID != visual {
		t.Fatalf("gaming_id = %q, want visual id %q", resp.GamingID, visual)
	}
}

func TestMe_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
	rec := httptest.NewRecorder()

	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.Me))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestTransfer_InsufficientCoins(t *testing.T) {
	svc := &stubService{
		transferErr: repository.ErrInsufficientCoins,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(transferRequest{To: "friend_id", Amount: 100})

	req := httptest.NewRequest(http.MethodPost, "/api/user/balance/transfer", bytes.NewReader(body))
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.Transfer))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusPaymentRequired)
	}
}

func TestGetOrders_NoContent(t *testing.T) {
	svc := &stubService{
		ordersResp: []model.Order{},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/user/orders", nil)
	req.AddCookie(authCookie(t, h, 1))
	rec := httptest.NewRecorder()

	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.GetOrders))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestStartPurchase_Blocked(t *testing.T) {
	svc := &stubService{
		startErr: service.ErrBlocked,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(startPurchaseRequest{ProductID: 3})

	req := httptest.NewRequest(http.MethodPost, "/api/purchase", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.StartPurchase(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestStartPurchase_Created(t *testing.T) {
	svc := &stubService{
		startAttempt: &service.Attempt{
			ID:           "attempt-1",
			ProductID:    3,
			Step:         service.StepDetails,
			CoinsApplied: 30,
			FinalPrice:   70,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(startPurchaseRequest{ProductID: 3})

	req := httptest.NewRequest(http.MethodPost, "/api/purchase", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.StartPurchase(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp attemptResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Step != string(service.StepDetails) {
		t.Fatalf("step = %q, want %q", resp.Step, service.StepDetails)
	}
	if resp.FinalPrice != 70 {
		t.Fatalf("final_price = %d, want 70", resp.FinalPrice)
	}
}

func TestGetPurchase_NotFound(t *testing.T) {
	svc := &stubService{
		getErr: service.ErrAttemptNotFound,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/purchase/nope", nil)
	rec := httptest.NewRecorder()

	h.GetPurchase(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestGetPurchase_QRExpiryOnAwaitingUPI(t *testing.T) {
	svc := &stubService{
		getAttempt: &service.Attempt{
			ID:   "attempt-1",
			Step: service.StepAwaitingUPI,
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/purchase/attempt-1", nil)
	rec := httptest.NewRecorder()

	h.GetPurchase(rec, req)

	var resp attemptResponse
	if err := json.NewDecoder(rec.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.QRExpirySeconds != service.QRExpirySeconds {
		t.Fatalf("qr_expiry_seconds = %d, want %d", resp.QRExpirySeconds, service.QRExpirySeconds)
	}
}

func TestChoosePayment_UnknownMethod(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(choosePaymentRequest{Method: "cash"})

	req := httptest.NewRequest(http.MethodPost, "/api/purchase/attempt-1/details", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ChoosePayment(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestSubmitUPI_EmptyReference(t *testing.T) {
	svc := &stubService{
		upiErr: service.ErrEmptyPaymentRef,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(upiRequest{Reference: ""})

	req := httptest.NewRequest(http.MethodPost, "/api/purchase/attempt-1/upi", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SubmitUPI(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestCancelPurchase_ConflictWhenProcessing(t *testing.T) {
	svc := &stubService{
		cancelErr: service.ErrInvalidStep,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/purchase/attempt-1/cancel", nil)
	rec := httptest.NewRecorder()

	h.CancelPurchase(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestRandomAd_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/ads/random", nil)
	rec := httptest.NewRecorder()

	handlerWithKey := middleware.WithVisitorKey(http.HandlerFunc(h.RandomAd))
	handlerWithKey.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestRandomAd_JSONResponse(t *testing.T) {
	svc := &stubService{
		adResp: &model.Ad{ID: 9, VideoURL: "https://cdn.example/ad.mp4", RewardCoins: 3},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/ads/random", nil)
	rec := httptest.NewRecorder()

	handlerWithKey := middleware.WithVisitorKey(http.HandlerFunc(h.RandomAd))
	handlerWithKey.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var ad model.Ad
	if err := json.NewDecoder(res.Body).Decode(&ad); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ad.ID != 9 {
		t.Fatalf("ad id = %d, want 9", ad.ID)
	}
}

func TestAddBlock_Conflict(t *testing.T) {
	svc := &stubService{
		addBlockErr: repository.ErrBlockExists,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(addBlockRequest{Kind: "ip", Value: "1.2.3.4", Reason: "spam"})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/blocks", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.AddBlock(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestAddBlock_BadRequestOnInvalid(t *testing.T) {
	svc := &stubService{
		addBlockErr: service.ErrInvalidBlock,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(addBlockRequest{Kind: "mac", Value: "aa:bb", Reason: "spam"})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/blocks", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.AddBlock(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestRegister_BlockedVisitorRejected(t *testing.T) {
	svc := &stubService{blocked: true, blockedReason: "abuse"}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(registerRequest{GamingID: "player_one"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	req.Header.Set("X-Real-IP", "1.2.3.4")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}

	msg, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(msg), "abuse") {
		t.Fatalf("body = %q, want the stored block reason", msg)
	}
	if svc.checkedIDs.IP != "1.2.3.4" {
		t.Fatalf("checked ip = %q, want 1.2.3.4", svc.checkedIDs.IP)
	}
}

func TestRegister_ProceedsWhenNotBlocked(t *testing.T) {
	svc := &stubService{
		registerAcc: &model.Account{ID: 42, RealID: "player_one"},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(registerRequest{GamingID: "player_one"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestTransfer_BlockCheckUsesGamingID(t *testing.T) {
	svc := &stubService{
		accountResp: &model.Account{ID: 7, RealID: "PLAYER1"},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(transferRequest{To: "friend_id", Amount: 5})

	req := httptest.NewRequest(http.MethodPost, "/api/user/balance/transfer", bytes.NewReader(body))
	req.AddCookie(authCookie(t, h, 7))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.checkedIDs.AccountID != "PLAYER1" {
		t.Fatalf("checked account identifier = %q, want the gaming id PLAYER1", svc.checkedIDs.AccountID)
	}
}

func TestRewardAd_BlockedVisitorRejected(t *testing.T) {
	svc := &stubService{
		blocked:       true,
		blockedReason: "reward farming",
		accountResp:   &model.Account{ID: 7, RealID: "PLAYER1"},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/ads/9/reward", nil)
	req.AddCookie(authCookie(t, h, 7))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/blocks", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAdminRoutes_ListPromotions(t *testing.T) {
	svc := &stubService{
		listPromosResp: &service.PromotionPage{
			Items: []model.Promotion{
				{ID: 1, OldRealID: "old_name", NewRealID: "new_name"},
			},
			Total: 1,
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/promotions?page=1", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp promotionListResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].NewRealID != "new_name" {
		t.Fatalf("unexpected promotions page: %+v", resp)
	}
}
