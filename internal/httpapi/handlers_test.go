package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/metrics"
	"sellerledger/backend/internal/service"
	"sellerledger/backend/internal/store/memory"
)

// newTestAPI builds a full API over the seeded in-memory store so handler
// tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, repo, service.LedgerConfig{
		DefaultCommissionRate:    decimal.NewFromInt(10),
		DefaultPlatformFeeRate:   decimal.Zero,
		PayoutTransactionFeeRate: decimal.NewFromInt(1),
	}, nil, nil, nil)
	auth := newTestAuth(t)

	return New(svc, auth, Options{AllowedOrigin: "*", Metrics: metrics.New()})
}

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func tokenFor(t *testing.T, api *API, subject string, role string) string {
	t.Helper()
	resp, err := api.auth.Issue(subject, role, time.Hour)
	require.NoError(t, err)
	return resp.AccessToken
}

func doJSON(t *testing.T, h http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dest), rec.Body.String())
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, true, body["ok"])
}

func TestHandleLogin(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.AccessToken)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoutesRequireAuthAndRole(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/commissions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/commissions", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	railToken := tokenFor(t, api, "bank-rail", domain.RoleRail)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/events/order-settled", railToken, domain.OrderSettledRequest{OrderID: "order-1001", OrderItemID: "item-1001-1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIssueTokenRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	req := TokenRequest{Subject: "order-service", Role: domain.RoleSystem, TTLMinutes: 5}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/tokens", tokenFor(t, api, "seller-001", domain.RoleSeller), req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/tokens", tokenFor(t, api, "admin", domain.RoleAdmin), req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	actor, err := api.auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSystem, actor.Role)
}

func TestCommissionToPayoutFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	systemToken := tokenFor(t, api, "order-service", domain.RoleSystem)
	sellerToken := tokenFor(t, api, "seller-001", domain.RoleSeller)
	railToken := tokenFor(t, api, "bank-rail", domain.RoleRail)

	settled := domain.OrderSettledRequest{OrderID: "order-1001", OrderItemID: "item-1001-1"}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/events/order-settled", systemToken, settled)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var recorded domain.RecordCommissionResponse
	decodeBody(t, rec, &recorded)
	assert.False(t, recorded.Duplicate)
	assert.Equal(t, "tier-bronze", recorded.Commission.TierID)
	assert.True(t, recorded.Commission.NetAmount.Equal(decimal.NewFromInt(8)))

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/events/order-settled", systemToken, settled)
	require.Equal(t, http.StatusOK, rec.Code)
	var replay domain.RecordCommissionResponse
	decodeBody(t, rec, &replay)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, recorded.Commission.ID, replay.Commission.ID)

	commissionID := recorded.Commission.ID
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/commissions/"+commissionID+"/approve", systemToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/payouts", sellerToken, domain.PayoutRequest{
		CommissionIDs: []string{commissionID},
		PaymentMethod: "bank_transfer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Payout domain.Payout `json:"payout"`
	}
	decodeBody(t, rec, &created)
	assert.Equal(t, "PAY-000001", created.Payout.PayoutNumber)
	assert.True(t, created.Payout.TransactionFee.Equal(decimal.RequireFromString("0.08")))
	payoutID := created.Payout.ID

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/payouts/"+payoutID+"/complete", railToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/payouts/"+payoutID+"/process", railToken, domain.PayoutProcessRequest{TransactionReference: "TX-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/payouts/"+payoutID+"/complete", railToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sellers/seller-001/balance", sellerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary domain.BalanceSummary
	decodeBody(t, rec, &summary)
	assert.True(t, summary.TotalPaidOut.Equal(decimal.NewFromInt(8)))
	assert.True(t, summary.AvailableBalance.IsZero())
	assert.Equal(t, 1, summary.CommissionsByStat[domain.CommissionStatusPaid])

	otherSeller := tokenFor(t, api, "seller-002", domain.RoleSeller)
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sellers/seller-001/balance", otherSeller, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestErrorBodyCarriesCode(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	adminToken := tokenFor(t, api, "admin", domain.RoleAdmin)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/commissions/com-missing/approve", adminToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "commission.not_found", body["code"])
	assert.Equal(t, false, body["retryable"])

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/events/order-settled", adminToken, domain.OrderSettledRequest{OrderID: "order-1003", OrderItemID: "item-1003-1"})
	require.Equal(t, http.StatusConflict, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, "commission.no_seller", body["code"])

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/payouts", adminToken, domain.PayoutRequest{SellerID: "seller-001"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTierAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	adminToken := tokenFor(t, api, "admin", domain.RoleAdmin)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/commission-tiers", adminToken, domain.TierCreateRequest{
		Name:            "Platinum",
		MinSales:        decimal.NewFromInt(1000000000),
		MaxSales:        decimal.NewFromInt(2000000000),
		CommissionRate:  decimal.NewFromInt(5),
		PlatformFeeRate: decimal.NewFromInt(1),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Tier domain.CommissionTier `json:"tier"`
	}
	decodeBody(t, rec, &created)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/commission-tiers/resolve?total_sales=1500", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resolved struct {
		Tier *domain.CommissionTier `json:"tier"`
	}
	decodeBody(t, rec, &resolved)
	require.NotNil(t, resolved.Tier)
	assert.Equal(t, "tier-silver", resolved.Tier.ID)

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/commission-tiers/"+created.Tier.ID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/commission-tiers", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Tiers []domain.CommissionTier `json:"tiers"`
	}
	decodeBody(t, rec, &list)
	assert.Len(t, list.Tiers, 3)

	sellerToken := tokenFor(t, api, "seller-001", domain.RoleSeller)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/commission-tiers", sellerToken, domain.TierCreateRequest{Name: "Nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMonthlyReportXLSX(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	adminToken := tokenFor(t, api, "admin", domain.RoleAdmin)
	year := strconv.Itoa(time.Now().UTC().Year())

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sellers/seller-001/reports/monthly?year="+year+"&format=xlsx", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "monthly-seller-001-"+year+".xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sellers/seller-001/reports/monthly?year=abc", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsSellerScope(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	sellerToken := tokenFor(t, api, "seller-001", domain.RoleSeller)

	method := "paypal"
	rec := doJSON(t, handler, http.MethodPut, "/api/v1/sellers/seller-001/settings", sellerToken, domain.SettingsUpdateRequest{PaymentMethod: &method})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	useCustom := true
	rec = doJSON(t, handler, http.MethodPut, "/api/v1/sellers/seller-001/settings", sellerToken, domain.SettingsUpdateRequest{UseCustomRate: &useCustom})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sellers/seller-002/settings", sellerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
