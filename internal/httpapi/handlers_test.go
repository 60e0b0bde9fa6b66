package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/cache"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/service"
	"pharmapos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopReportCache{}, time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func mustDecimal(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", raw, err)
	}
	return d
}

// doJSON fires an authenticated JSON request against the API and returns the
// recorder. Token and CSRF headers are skipped when empty.
func doJSON(t *testing.T, api *API, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, api *API, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = fmt.Sprintf("10.1.1.%d:4000", len(username))
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d (body: %s)", username, rec.Code, rec.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", rec.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	tok := payload["csrf_token"]
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return tok
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestSalesmanCannotRecordPurchase(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "salesman", "salesman123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/purchases", token, csrf, domain.PurchaseCreateRequest{
		Items: []domain.PurchaseLineRequest{
			{ProductID: "prod-panadol", BatchNo: "PND-2403", Qty: 10, UnitCost: mustDecimal(t, "290")},
		},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for salesman purchase, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSaleReceiptAndReturnFlow(t *testing.T) {
	api := newTestAPI(t)
	adminToken := loginAs(t, api, "admin", "admin123")
	salesToken := loginAs(t, api, "salesman", "salesman123")
	csrf := fetchCSRFToken(t, api)

	// Salesman rings up 4 packs of Panadol at the catalog price.
	saleRec := doJSON(t, api, http.MethodPost, "/api/v1/sales", salesToken, csrf, domain.SaleCreateRequest{
		Items: []domain.SaleLineRequest{
			{ProductID: "prod-panadol", Qty: 4, UnitPrice: mustDecimal(t, "330")},
		},
	})
	if saleRec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for sale, got %d (body: %s)", saleRec.Code, saleRec.Body.String())
	}
	var saleResp domain.SaleCreateResponse
	if err := json.NewDecoder(saleRec.Body).Decode(&saleResp); err != nil {
		t.Fatalf("decode sale response: %v", err)
	}
	if saleResp.SaleID == "" {
		t.Fatalf("expected sale id, got %+v", saleResp)
	}
	if !saleResp.Total.Equal(mustDecimal(t, "1320")) {
		t.Fatalf("expected total 1320, got %s", saleResp.Total)
	}

	// Receipt lookup works for both roles.
	getRec := doJSON(t, api, http.MethodGet, "/api/v1/sales/"+saleResp.SaleID, salesToken, "", nil)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for receipt, got %d (body: %s)", getRec.Code, getRec.Body.String())
	}
	var receiptBody struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(getRec.Body).Decode(&receiptBody); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if len(receiptBody.Sale.Items) == 0 {
		t.Fatalf("expected receipt line items")
	}

	// Return one pack and verify the recomputed header totals.
	retRec := doJSON(t, api, http.MethodPost, "/api/v1/returns", adminToken, csrf, domain.ReturnCreateRequest{
		SaleID: saleResp.SaleID,
		Items: []domain.ReturnLineRequest{
			{SaleItemID: receiptBody.Sale.Items[0].ID, Qty: 1},
		},
		Reason: "customer changed mind",
	})
	if retRec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for return, got %d (body: %s)", retRec.Code, retRec.Body.String())
	}
	var retResp domain.ReturnCreateResponse
	if err := json.NewDecoder(retRec.Body).Decode(&retResp); err != nil {
		t.Fatalf("decode return response: %v", err)
	}
	if !retResp.Total.Equal(mustDecimal(t, "330")) {
		t.Fatalf("expected refund 330, got %s", retResp.Total)
	}
	if !retResp.SaleTotals.Total.Equal(mustDecimal(t, "990")) {
		t.Fatalf("expected recomputed sale total 990, got %s", retResp.SaleTotals.Total)
	}
}

func TestGetSaleNotFound(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/sales/sale-missing", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestInsufficientStockReturnsConflict(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, csrf, domain.SaleCreateRequest{
		Items: []domain.SaleLineRequest{
			{ProductID: "prod-ensure", Qty: 1000, UnitPrice: mustDecimal(t, "2290")},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for oversell, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSalesRepairRoute(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales/repair", token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for repair, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var result domain.RepairResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode repair result: %v", err)
	}
	if result.ItemsClamped != 0 {
		t.Fatalf("expected no clamped items on a healthy ledger, got %d", result.ItemsClamped)
	}
}

func TestProfitReportRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	salesToken := loginAs(t, api, "salesman", "salesman123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/reports/profit", salesToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for salesman report access, got %d", rec.Code)
	}

	adminToken := loginAs(t, api, "admin", "admin123")
	rec = doJSON(t, api, http.MethodGet, "/api/v1/reports/profit?from=2024-01-01&to=2024-01-31", adminToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin report, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var report domain.ProfitReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.From != "2024-01-01" || report.To != "2024-01-31" {
		t.Fatalf("expected echoed range, got %s..%s", report.From, report.To)
	}
}
