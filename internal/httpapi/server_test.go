package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/walletledger/internal/database"
	"github.com/MarkoPoloResearchLab/walletledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	testSigningKey   = "secret-key"
	testMemberID     = "member-1"
	testAdminID      = "admin-1"
	testMemberRole   = "member"
	contentTypeJSON  = "application/json"
	testFixedUnixUTC = 1700000000
)

type apiFixture struct {
	cfg      Config
	router   *gin.Engine
	services Services
}

func newAPIFixture(test *testing.T, mutate func(*Config)) apiFixture {
	test.Helper()
	cfg := Config{SessionSigningKey: testSigningKey, RateLimitPerMinute: 600, RateLimitBurst: 100}
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("config: %v", err)
	}

	connection, err := database.Open(context.Background(), filepath.Join(test.TempDir(), "wallet.db"))
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	test.Cleanup(func() { _ = connection.Close() })
	if err := connection.Migrate(context.Background()); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	store := gormstore.New(connection.DB)
	clock := func() int64 { return testFixedUnixUTC }

	walletLedger, err := ledger.NewLedger(store, clock)
	if err != nil {
		test.Fatalf("ledger: %v", err)
	}
	catalog, err := ledger.NewCatalog(store, clock)
	if err != nil {
		test.Fatalf("catalog: %v", err)
	}
	spends, err := ledger.NewSpendAuthorizer(walletLedger, ledger.DefaultActionPrices())
	if err != nil {
		test.Fatalf("spends: %v", err)
	}
	purchases, err := ledger.NewPurchaseProcessor(walletLedger, catalog)
	if err != nil {
		test.Fatalf("purchases: %v", err)
	}
	queries, err := ledger.NewQueryService(walletLedger)
	if err != nil {
		test.Fatalf("queries: %v", err)
	}
	services := Services{Ledger: walletLedger, Spends: spends, Purchases: purchases, Queries: queries, Catalog: catalog}

	validator, err := NewSessionValidator(cfg)
	if err != nil {
		test.Fatalf("validator: %v", err)
	}
	router, err := NewRouter(cfg, services, validator, zap.NewNop(), http.NotFoundHandler())
	if err != nil {
		test.Fatalf("router: %v", err)
	}
	return apiFixture{cfg: cfg, router: router, services: services}
}

func buildSessionCookie(test *testing.T, cfg Config, userID string, roles ...string) *http.Cookie {
	test.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		UserDisplayName: userID,
		UserRoles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.SessionIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(cfg.SessionSigningKey))
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: cfg.SessionCookieName, Value: signedToken}
}

func (fixture apiFixture) do(test *testing.T, method string, path string, cookie *http.Cookie, body any, headers map[string]string) *httptest.ResponseRecorder {
	test.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			test.Fatalf("encode body: %v", err)
		}
	}
	request := httptest.NewRequest(method, path, &payload)
	if body != nil {
		request.Header.Set("Content-Type", contentTypeJSON)
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](test *testing.T, recorder *httptest.ResponseRecorder) T {
	test.Helper()
	var decoded T
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		test.Fatalf("decode %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func expectStatus(test *testing.T, recorder *httptest.ResponseRecorder, want int) {
	test.Helper()
	if recorder.Code != want {
		test.Fatalf("expected status %d, got %d: %s", want, recorder.Code, recorder.Body.String())
	}
}

func expectErrorCode(test *testing.T, recorder *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	test.Helper()
	expectStatus(test, recorder, wantStatus)
	envelope := decodeBody[errorEnvelope](test, recorder)
	if envelope.Error.Code != wantCode {
		test.Fatalf("expected error code %s, got %s", wantCode, envelope.Error.Code)
	}
}

func (fixture apiFixture) createPackage(test *testing.T, admin *http.Cookie, name string, price string, credits int64) packagePayload {
	test.Helper()
	recorder := fixture.do(test, http.MethodPost, "/admin/credit-packages", admin, map[string]any{"name": name, "price": price, "credits": credits}, nil)
	expectStatus(test, recorder, http.StatusCreated)
	return decodeBody[packagePayload](test, recorder)
}

func TestHealthz(test *testing.T) {
	fixture := newAPIFixture(test, nil)
	recorder := fixture.do(test, http.MethodGet, "/healthz", nil, nil, nil)
	expectStatus(test, recorder, http.StatusOK)
}

func TestWalletPurchaseSpendAndHistory(test *testing.T) {
	fixture := newAPIFixture(test, nil)
	admin := buildSessionCookie(test, fixture.cfg, testAdminID, defaultAdminRole)
	member := buildSessionCookie(test, fixture.cfg, testMemberID, testMemberRole)
	bundle := fixture.createPackage(test, admin, "Bundle 100", "19.99", 100)

	testCases := []struct {
		name   string
		action func(*testing.T)
	}{
		{
			name: "lists active packages",
			action: func(test *testing.T) {
				recorder := fixture.do(test, http.MethodGet, "/wallet/packages", member, nil, nil)
				expectStatus(test, recorder, http.StatusOK)
				body := decodeBody[struct {
					Packages []packagePayload `json:"packages"`
				}](test, recorder)
				if len(body.Packages) != 1 || body.Packages[0].Price != "19.99" || body.Packages[0].Credits != 100 {
					test.Fatalf("unexpected packages %+v", body.Packages)
				}
			},
		},
		{
			name: "purchase credits once",
			action: func(test *testing.T) {
				payload := map[string]string{"package_id": bundle.PackageID, "payment_reference": "pay_1"}
				first := fixture.do(test, http.MethodPost, "/wallet/purchase", member, payload, nil)
				expectStatus(test, first, http.StatusCreated)
				second := fixture.do(test, http.MethodPost, "/wallet/purchase", member, payload, nil)
				expectStatus(test, second, http.StatusOK)
				firstResult := decodeBody[transactionResult](test, first)
				secondResult := decodeBody[transactionResult](test, second)
				if !secondResult.Replayed || secondResult.Transaction.TransactionID != firstResult.Transaction.TransactionID {
					test.Fatalf("expected replay of %s, got %+v", firstResult.Transaction.TransactionID, secondResult)
				}
				if firstResult.CurrentCredits != 100 {
					test.Fatalf("expected 100 credits, got %d", firstResult.CurrentCredits)
				}
			},
		},
		{
			name: "purchase reference owned by another account conflicts",
			action: func(test *testing.T) {
				other := buildSessionCookie(test, fixture.cfg, "member-2", testMemberRole)
				payload := map[string]string{"package_id": bundle.PackageID, "payment_reference": "pay_1"}
				expectErrorCode(test, fixture.do(test, http.MethodPost, "/wallet/purchase", other, payload, nil), http.StatusConflict, errorCodeReferenceConflict)
			},
		},
		{
			name: "spend agent number",
			action: func(test *testing.T) {
				recorder := fixture.do(test, http.MethodPost, "/wallet/spend", member, map[string]string{"action_type": "agent_number", "property_id": "prop-7"}, nil)
				expectStatus(test, recorder, http.StatusOK)
				result := decodeBody[transactionResult](test, recorder)
				if result.CurrentCredits != 75 || result.Transaction.Credits != -25 || result.Transaction.Type != "spend:agent_number" {
					test.Fatalf("unexpected spend result %+v", result)
				}
				if result.Transaction.RelatedEntity == nil || result.Transaction.RelatedEntity.ID != "prop-7" {
					test.Fatalf("expected property related entity, got %+v", result.Transaction.RelatedEntity)
				}
			},
		},
		{
			name: "spend replays with idempotency key",
			action: func(test *testing.T) {
				headers := map[string]string{idempotencyKeyHeader: "click-1"}
				first := fixture.do(test, http.MethodPost, "/wallet/spend", member, map[string]string{"action_type": "property_photo"}, headers)
				second := fixture.do(test, http.MethodPost, "/wallet/spend", member, map[string]string{"action_type": "property_photo"}, headers)
				expectStatus(test, first, http.StatusOK)
				expectStatus(test, second, http.StatusOK)
				if !decodeBody[transactionResult](test, second).Replayed {
					test.Fatalf("expected replayed spend")
				}
			},
		},
		{
			name: "unknown action rejected",
			action: func(test *testing.T) {
				expectErrorCode(test, fixture.do(test, http.MethodPost, "/wallet/spend", member, map[string]string{"action_type": "teleport"}, nil), http.StatusBadRequest, errorCodeUnknownAction)
			},
		},
		{
			name: "insufficient credits",
			action: func(test *testing.T) {
				expectStatus(test, fixture.do(test, http.MethodPost, "/wallet/spend", member, map[string]string{"action_type": "view_analytics"}, nil), http.StatusOK)
				expectErrorCode(test, fixture.do(test, http.MethodPost, "/wallet/spend", member, map[string]string{"action_type": "view_analytics"}, nil), http.StatusPaymentRequired, errorCodeInsufficientCredits)
			},
		},
		{
			name: "summary reflects totals",
			action: func(test *testing.T) {
				recorder := fixture.do(test, http.MethodGet, "/wallet/summary", member, nil, nil)
				expectStatus(test, recorder, http.StatusOK)
				summary := decodeBody[summaryPayload](test, recorder)
				if summary.CurrentCredits != 25 || summary.TotalCreditsPurchased != 100 || summary.TotalCreditsSpent != 75 {
					test.Fatalf("unexpected summary %+v", summary)
				}
			},
		},
		{
			name: "history filters by category",
			action: func(test *testing.T) {
				recorder := fixture.do(test, http.MethodGet, "/wallet/transactions?type=spend&page_size=2", member, nil, nil)
				expectStatus(test, recorder, http.StatusOK)
				page := decodeBody[transactionPagePayload](test, recorder)
				if page.TotalItems != 3 || page.TotalPages != 2 || len(page.Transactions) != 2 {
					test.Fatalf("unexpected page %+v", page)
				}
				for _, transaction := range page.Transactions {
					if transaction.Category != "spend" {
						test.Fatalf("expected spend category, got %s", transaction.Category)
					}
				}
			},
		},
		{
			name: "history rejects invalid paging",
			action: func(test *testing.T) {
				expectErrorCode(test, fixture.do(test, http.MethodGet, "/wallet/transactions?page=zero", member, nil, nil), http.StatusBadRequest, errorCodeInvalidRequest)
				expectErrorCode(test, fixture.do(test, http.MethodGet, "/wallet/transactions?type=refund", member, nil, nil), http.StatusBadRequest, errorCodeInvalidRequest)
			},
		},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, testCase.action)
	}
}

func TestPurchaseOfInactivePackage(test *testing.T) {
	fixture := newAPIFixture(test, nil)
	admin := buildSessionCookie(test, fixture.cfg, testAdminID, defaultAdminRole)
	member := buildSessionCookie(test, fixture.cfg, testMemberID, testMemberRole)
	bundle := fixture.createPackage(test, admin, "Bundle 50", "9.99", 50)

	update := map[string]any{"name": "Bundle 50", "price": "9.99", "credits": 50, "status": "inactive"}
	expectStatus(test, fixture.do(test, http.MethodPut, "/admin/credit-packages/"+bundle.PackageID, admin, update, nil), http.StatusOK)

	payload := map[string]string{"package_id": bundle.PackageID, "payment_reference": "pay_inactive"}
	expectErrorCode(test, fixture.do(test, http.MethodPost, "/wallet/purchase", member, payload, nil), http.StatusUnprocessableEntity, errorCodePackageUnavailable)
}

func TestAdminRoutes(test *testing.T) {
	fixture := newAPIFixture(test, nil)
	admin := buildSessionCookie(test, fixture.cfg, testAdminID, defaultAdminRole)
	member := buildSessionCookie(test, fixture.cfg, testMemberID, testMemberRole)

	expectErrorCode(test, fixture.do(test, http.MethodGet, "/admin/credit-packages", member, nil, nil), http.StatusForbidden, errorCodeForbidden)

	bundle := fixture.createPackage(test, admin, "Bundle 250", "39.99", 250)
	expectErrorCode(test, fixture.do(test, http.MethodPost, "/admin/credit-packages", admin, map[string]any{"name": "Broken", "price": "-1", "credits": 10}, nil), http.StatusBadRequest, errorCodeInvalidRequest)

	fetched := fixture.do(test, http.MethodGet, "/admin/credit-packages/"+bundle.PackageID, admin, nil, nil)
	expectStatus(test, fetched, http.StatusOK)
	if decodeBody[packagePayload](test, fetched).Name != "Bundle 250" {
		test.Fatalf("unexpected package %s", fetched.Body.String())
	}

	grant := fixture.do(test, http.MethodPost, "/admin/wallets/"+testMemberID+"/credits", admin, map[string]any{"operation": "add", "credits": 50, "description": "Goodwill"}, nil)
	expectStatus(test, grant, http.StatusCreated)
	if result := decodeBody[transactionResult](test, grant); result.CurrentCredits != 50 || result.Transaction.Type != "admin_add" {
		test.Fatalf("unexpected grant %+v", result)
	}
	expectErrorCode(test,
		fixture.do(test, http.MethodPost, "/admin/wallets/"+testMemberID+"/credits", admin, map[string]any{"operation": "deduct", "credits": 80}, nil),
		http.StatusPaymentRequired, errorCodeInsufficientCredits)
	expectErrorCode(test,
		fixture.do(test, http.MethodPost, "/admin/wallets/"+testMemberID+"/credits", admin, map[string]any{"operation": "multiply", "credits": 2}, nil),
		http.StatusBadRequest, errorCodeInvalidRequest)

	reconciliation := fixture.do(test, http.MethodGet, "/admin/wallets/"+testMemberID+"/reconciliation", admin, nil, nil)
	expectStatus(test, reconciliation, http.StatusOK)
	if report := decodeBody[reconciliationPayload](test, reconciliation); !report.Consistent || report.LedgerSum != 50 || report.TransactionCount != 1 {
		test.Fatalf("unexpected reconciliation %+v", report)
	}

	expectStatus(test, fixture.do(test, http.MethodDelete, "/admin/credit-packages/"+bundle.PackageID, admin, nil, nil), http.StatusNoContent)
	expectErrorCode(test, fixture.do(test, http.MethodGet, "/admin/credit-packages/"+bundle.PackageID, admin, nil, nil), http.StatusNotFound, errorCodeNotFound)
}

func TestAdminRefund(test *testing.T) {
	fixture := newAPIFixture(test, nil)
	admin := buildSessionCookie(test, fixture.cfg, testAdminID, defaultAdminRole)
	member := buildSessionCookie(test, fixture.cfg, testMemberID, testMemberRole)
	bundle := fixture.createPackage(test, admin, "Bundle 100", "19.99", 100)
	expectStatus(test, fixture.do(test, http.MethodPost, "/wallet/purchase", member, map[string]string{"package_id": bundle.PackageID, "payment_reference": "pay_refund"}, nil), http.StatusCreated)

	refund := fixture.do(test, http.MethodPost, "/admin/payments/pay_refund/refund", admin, map[string]string{"reason": "chargeback"}, nil)
	expectStatus(test, refund, http.StatusCreated)
	result := decodeBody[transactionResult](test, refund)
	if result.CurrentCredits != 0 || result.Transaction.Type != "admin_deduct" {
		test.Fatalf("unexpected refund %+v", result)
	}
	expectStatus(test, fixture.do(test, http.MethodPost, "/admin/payments/pay_refund/refund", admin, nil, nil), http.StatusOK)
	expectErrorCode(test, fixture.do(test, http.MethodPost, "/admin/payments/pay_missing/refund", admin, nil, nil), http.StatusNotFound, errorCodeNotFound)
}

func TestReservedReferencesRejected(test *testing.T) {
	fixture := newAPIFixture(test, nil)
	admin := buildSessionCookie(test, fixture.cfg, testAdminID, defaultAdminRole)
	member := buildSessionCookie(test, fixture.cfg, testMemberID, testMemberRole)
	other := buildSessionCookie(test, fixture.cfg, "member-2", testMemberRole)
	bundle := fixture.createPackage(test, admin, "Bundle 100", "19.99", 100)
	expectStatus(test, fixture.do(test, http.MethodPost, "/wallet/purchase", member, map[string]string{"package_id": bundle.PackageID, "payment_reference": "pay_1"}, nil), http.StatusCreated)

	expectErrorCode(test,
		fixture.do(test, http.MethodPost, "/wallet/purchase", member, map[string]string{"package_id": bundle.PackageID, "payment_reference": "refund:pay_1"}, nil),
		http.StatusBadRequest, errorCodeInvalidRequest)
	expectErrorCode(test,
		fixture.do(test, http.MethodPost, "/wallet/purchase", other, map[string]string{"package_id": bundle.PackageID, "payment_reference": "idem:" + testMemberID + ":click-1"}, nil),
		http.StatusBadRequest, errorCodeInvalidRequest)
	expectErrorCode(test,
		fixture.do(test, http.MethodPost, "/admin/wallets/"+testMemberID+"/credits", admin, map[string]any{"operation": "add", "credits": 5, "reference": "refund:pay_1"}, nil),
		http.StatusBadRequest, errorCodeInvalidRequest)
	expectStatus(test, fixture.do(test, http.MethodPost, "/admin/wallets/"+testMemberID+"/credits", admin, map[string]any{"operation": "add", "credits": 10}, nil), http.StatusCreated)

	spend := fixture.do(test, http.MethodPost, "/wallet/spend", member, map[string]string{"action_type": "send_inquiry"}, map[string]string{idempotencyKeyHeader: "click-1"})
	expectStatus(test, spend, http.StatusOK)
	if decodeBody[transactionResult](test, spend).Replayed {
		test.Fatalf("expected the first keyed spend to apply")
	}
	expectStatus(test, fixture.do(test, http.MethodPost, "/admin/payments/pay_1/refund", admin, nil, nil), http.StatusCreated)

	history := fixture.do(test, http.MethodGet, "/wallet/transactions?type=all", member, nil, nil)
	expectStatus(test, history, http.StatusOK)
	if page := decodeBody[transactionPagePayload](test, history); page.TotalItems != 4 {
		test.Fatalf("expected four transactions, got %+v", page)
	}
}

func TestSpendRateLimited(test *testing.T) {
	fixture := newAPIFixture(test, func(cfg *Config) {
		cfg.RateLimitPerMinute = 1
		cfg.RateLimitBurst = 2
	})
	member := buildSessionCookie(test, fixture.cfg, testMemberID, testMemberRole)
	for attempt := 0; attempt < 2; attempt++ {
		expectErrorCode(test, fixture.do(test, http.MethodPost, "/wallet/spend", member, map[string]string{"action_type": "property_photo"}, nil), http.StatusPaymentRequired, errorCodeInsufficientCredits)
	}
	recorder := fixture.do(test, http.MethodPost, "/wallet/spend", member, map[string]string{"action_type": "property_photo"}, nil)
	expectErrorCode(test, recorder, http.StatusTooManyRequests, errorCodeRateLimited)
	if recorder.Header().Get("Retry-After") == "" {
		test.Fatalf("expected Retry-After header")
	}
	other := buildSessionCookie(test, fixture.cfg, "member-2", testMemberRole)
	expectErrorCode(test, fixture.do(test, http.MethodPost, "/wallet/spend", other, map[string]string{"action_type": "property_photo"}, nil), http.StatusPaymentRequired, errorCodeInsufficientCredits)
}

func TestConcurrentSpendsOverHTTP(test *testing.T) {
	fixture := newAPIFixture(test, nil)
	admin := buildSessionCookie(test, fixture.cfg, testAdminID, defaultAdminRole)
	member := buildSessionCookie(test, fixture.cfg, testMemberID, testMemberRole)
	expectStatus(test, fixture.do(test, http.MethodPost, "/admin/wallets/"+testMemberID+"/credits", admin, map[string]any{"operation": "add", "credits": 45}, nil), http.StatusCreated)

	const attempts = 6
	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		codes     = make(map[int]int)
	)
	for attempt := 0; attempt < attempts; attempt++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			recorder := fixture.do(test, http.MethodPost, "/wallet/spend", member, map[string]string{"action_type": "exact_location"}, nil)
			mutex.Lock()
			codes[recorder.Code]++
			mutex.Unlock()
		}()
	}
	waitGroup.Wait()
	if codes[http.StatusOK] != 3 || codes[http.StatusPaymentRequired] != attempts-3 {
		test.Fatalf("expected 3 successes and %d rejections, got %v", attempts-3, codes)
	}
	summary := decodeBody[summaryPayload](test, fixture.do(test, http.MethodGet, "/wallet/summary", member, nil, nil))
	if summary.CurrentCredits != 0 {
		test.Fatalf("expected empty wallet, got %d", summary.CurrentCredits)
	}
}

func TestSessionAccountRequiresClaims(test *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/wallet/summary", nil)
	handler := &httpHandler{logger: zap.NewNop(), cfg: Config{RequestTimeout: time.Second}}

	handler.handleSummary(ctx)

	expectErrorCode(test, recorder, http.StatusUnauthorized, errorCodeUnauthorized)
}

func TestStatusForError(test *testing.T) {
	test.Parallel()
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{err: ledger.ErrInsufficientCredits, wantStatus: http.StatusPaymentRequired, wantCode: errorCodeInsufficientCredits},
		{err: fmt.Errorf("wrapped: %w", ledger.ErrUnknownAction), wantStatus: http.StatusBadRequest, wantCode: errorCodeUnknownAction},
		{err: ledger.ErrPackageUnavailable, wantStatus: http.StatusUnprocessableEntity, wantCode: errorCodePackageUnavailable},
		{err: ledger.ErrReferenceConflict, wantStatus: http.StatusConflict, wantCode: errorCodeReferenceConflict},
		{err: ledger.ErrDuplicateReference, wantStatus: http.StatusConflict, wantCode: errorCodeReferenceConflict},
		{err: ledger.ErrNotRefundable, wantStatus: http.StatusUnprocessableEntity, wantCode: errorCodeNotRefundable},
		{err: ledger.ErrPackageNotFound, wantStatus: http.StatusNotFound, wantCode: errorCodeNotFound},
		{err: ledger.ErrInvalidPage, wantStatus: http.StatusBadRequest, wantCode: errorCodeInvalidRequest},
		{err: ledger.ErrInvalidPackageStatus, wantStatus: http.StatusBadRequest, wantCode: errorCodeInvalidRequest},
		{err: ledger.ErrBalanceDiverged, wantStatus: http.StatusInternalServerError, wantCode: errorCodeConstraintViolation},
		{err: ledger.ErrBalanceWouldGoNegative, wantStatus: http.StatusInternalServerError, wantCode: errorCodeConstraintViolation},
		{err: context.DeadlineExceeded, wantStatus: http.StatusInternalServerError, wantCode: errorCodeInternal},
	}
	for _, tc := range cases {
		status, code := statusForError(tc.err)
		if status != tc.wantStatus || code != tc.wantCode {
			test.Fatalf("%v: expected %d %s, got %d %s", tc.err, tc.wantStatus, tc.wantCode, status, code)
		}
	}
}

func TestConfigValidate(test *testing.T) {
	test.Parallel()
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		test.Fatalf("expected signing key error")
	}
	cfg = Config{SessionSigningKey: "k", AllowedOrigins: ParseAllowedOrigins(" https://a.example , ,https://b.example")}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.AdminRole != defaultAdminRole || cfg.SessionCookieName != defaultSessionCookie {
		test.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		test.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	negative := Config{SessionSigningKey: "k", RateLimitBurst: -1}
	if err := negative.Validate(); err == nil {
		test.Fatalf("expected negative burst error")
	}
}
