package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"multikasir/backend/internal/cache"
	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/metrics"
	"multikasir/backend/internal/service"
	"multikasir/backend/internal/store/memory"
)

const demoPassword = "demo-password-123"

// newTestAPI builds a full API with a seeded in-memory store, real AuthManager
// and real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo, err := memory.NewSeeded(demoPassword)
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	m := metrics.New(prometheus.NewRegistry())
	svc := service.New(service.Options{
		Repo:         repo,
		Metrics:      m,
		Location:     time.UTC,
		PasswordCost: bcrypt.MinCost,
	})
	auth := NewAuthManager(testAccessSecret, testRefreshSecret, 15*time.Minute, time.Hour, svc, cache.NewMemoryDenylist())
	return New(svc, auth, m, nil, "http://localhost:5173")
}

func doJSON(t *testing.T, h http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
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

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (status %d)", err, rec.Code)
	}
	return out
}

func login(t *testing.T, h http.Handler, tenantID string, email string, password string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		TenantID: tenantID, Email: email, Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	return decodeBody[domain.AuthResponse](t, rec).AccessToken
}

func adminToken(t *testing.T, h http.Handler) string {
	t.Helper()
	return login(t, h, memory.DemoTenantID, memory.DemoAdminEmail, demoPassword)
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d (body: %s)", want, rec.Code, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	h := newTestAPI(t).Handler()
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)

	body := decodeBody[map[string]any](t, rec)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if _, ok := body["uptime"]; !ok {
		t.Fatalf("expected uptime in health body")
	}
}

func TestLoginWrongPasswordUsesErrorEnvelope(t *testing.T) {
	h := newTestAPI(t).Handler()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		TenantID: memory.DemoTenantID, Email: memory.DemoAdminEmail, Password: "wrong-password",
	})
	expectStatus(t, rec, http.StatusUnauthorized)

	body := decodeBody[map[string]any](t, rec)
	if body["statusCode"] != float64(http.StatusUnauthorized) {
		t.Fatalf("expected statusCode 401, got %v", body["statusCode"])
	}
	if msg, _ := body["message"].(string); msg == "" {
		t.Fatalf("expected a message")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestAPI(t).Handler()
	expectStatus(t, doJSON(t, h, http.MethodGet, "/api/v1/products", "", nil), http.StatusUnauthorized)
	expectStatus(t, doJSON(t, h, http.MethodGet, "/api/v1/products", "not-a-jwt", nil), http.StatusUnauthorized)
}

func TestMeReturnsCurrentUserWithoutHash(t *testing.T) {
	h := newTestAPI(t).Handler()
	rec := doJSON(t, h, http.MethodGet, "/api/v1/auth/me", adminToken(t, h), nil)
	expectStatus(t, rec, http.StatusOK)
	if strings.Contains(rec.Body.String(), "$2a$") {
		t.Fatalf("password hash leaked: %s", rec.Body.String())
	}
	user := decodeBody[domain.User](t, rec)
	if user.Email != memory.DemoAdminEmail {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestCashierCannotManageCatalog(t *testing.T) {
	h := newTestAPI(t).Handler()
	admin := adminToken(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/users", admin, domain.UserCreateRequest{
		Email: "kasir@demo.local", Password: "kasir-pass-1", FirstName: "Kasir", LastName: "Satu", Role: domain.RoleCashier,
	})
	expectStatus(t, rec, http.StatusCreated)

	cashier := login(t, h, memory.DemoTenantID, "kasir@demo.local", "kasir-pass-1")
	rec = doJSON(t, h, http.MethodPost, "/api/v1/products", cashier, domain.ProductCreateRequest{
		Name: "Teh", Price: decimal.RequireFromString("1.00"), SKU: "TEH-01", Stock: 5,
	})
	expectStatus(t, rec, http.StatusForbidden)

	rec = doJSON(t, h, http.MethodPatch, "/api/v1/sales/any/cancel", cashier, nil)
	expectStatus(t, rec, http.StatusForbidden)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products", cashier, nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestMoneyFieldsAreJSONNumbers(t *testing.T) {
	h := newTestAPI(t).Handler()
	admin := adminToken(t, h)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/products/prd-mie", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	product := decodeBody[map[string]any](t, rec)
	if price, ok := product["price"].(float64); !ok || price != 0.35 {
		t.Fatalf("expected numeric price 0.35, got %#v", product["price"])
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/sales", admin, domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prd-mie", Quantity: 2}, {ProductID: "prd-kopi", Quantity: 1}},
		PaymentMethod: domain.PaymentCash,
	})
	expectStatus(t, rec, http.StatusCreated)
	sale := decodeBody[map[string]any](t, rec)
	for _, field := range []string{"subtotal", "tax", "discount", "total"} {
		if _, ok := sale[field].(float64); !ok {
			t.Fatalf("expected numeric %s, got %#v", field, sale[field])
		}
	}
	if total := sale["total"].(float64); total != 1.06 {
		t.Fatalf("expected total 1.06, got %v", total)
	}
	items, ok := sale["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected two items, got %#v", sale["items"])
	}
	line := items[0].(map[string]any)
	if _, ok := line["unitPrice"].(float64); !ok {
		t.Fatalf("expected numeric unitPrice, got %#v", line["unitPrice"])
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/sales/daily-summary", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	summary := decodeBody[map[string]any](t, rec)
	if _, ok := summary["totalRevenue"].(float64); !ok {
		t.Fatalf("expected numeric totalRevenue, got %#v", summary["totalRevenue"])
	}
}

func TestSaleLifecycle(t *testing.T) {
	h := newTestAPI(t).Handler()
	admin := adminToken(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", admin, domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prd-mie", Quantity: 2}, {ProductID: "prd-kopi", Quantity: 1}},
		PaymentMethod: domain.PaymentCash,
	})
	expectStatus(t, rec, http.StatusCreated)
	sale := decodeBody[domain.Sale](t, rec)

	// 0.35*2 + 0.26 = 0.96, tax 0.096 -> 0.10
	if !sale.Subtotal.Equal(decimal.RequireFromString("0.96")) || !sale.Total.Equal(decimal.RequireFromString("1.06")) {
		t.Fatalf("unexpected totals subtotal=%s total=%s", sale.Subtotal, sale.Total)
	}
	if !strings.HasPrefix(sale.SaleNumber, "SALE-") || !strings.HasSuffix(sale.SaleNumber, "-000001") {
		t.Fatalf("unexpected sale number %q", sale.SaleNumber)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products/prd-mie", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if p := decodeBody[domain.Product](t, rec); p.Stock != 118 {
		t.Fatalf("expected stock 118, got %d", p.Stock)
	}

	expectStatus(t, doJSON(t, h, http.MethodGet, "/api/v1/sales/"+sale.ID, admin, nil), http.StatusOK)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/sales/daily-summary", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if s := decodeBody[domain.DailySummary](t, rec); s.TotalSales != 1 {
		t.Fatalf("expected one sale in summary, got %d", s.TotalSales)
	}

	expectStatus(t, doJSON(t, h, http.MethodPatch, "/api/v1/sales/"+sale.ID+"/cancel", admin, nil), http.StatusOK)
	rec = doJSON(t, h, http.MethodPatch, "/api/v1/sales/"+sale.ID+"/cancel", admin, nil)
	expectStatus(t, rec, http.StatusBadRequest)
	if !strings.Contains(rec.Body.String(), "already cancelled") {
		t.Fatalf("expected already cancelled message, got %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products/prd-mie", admin, nil)
	if p := decodeBody[domain.Product](t, rec); p.Stock != 120 {
		t.Fatalf("expected stock restored to 120, got %d", p.Stock)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/sales?status=cancelled", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if sales := decodeBody[[]domain.Sale](t, rec); len(sales) != 1 {
		t.Fatalf("expected one cancelled sale, got %d", len(sales))
	}
}

func TestSaleWithInsufficientStockIsBadRequest(t *testing.T) {
	h := newTestAPI(t).Handler()
	admin := adminToken(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", admin, domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prd-mie", Quantity: 1}, {ProductID: "prd-gula", Quantity: 1}},
		PaymentMethod: domain.PaymentCash,
	})
	expectStatus(t, rec, http.StatusBadRequest)
	if !strings.Contains(rec.Body.String(), "Gula 1kg") {
		t.Fatalf("expected product name in message, got %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products/prd-mie", admin, nil)
	if p := decodeBody[domain.Product](t, rec); p.Stock != 120 {
		t.Fatalf("expected untouched stock 120, got %d", p.Stock)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/sales", admin, domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "missing", Quantity: 1}},
		PaymentMethod: domain.PaymentCash,
	})
	expectStatus(t, rec, http.StatusNotFound)
}

func TestCategoryRulesOverHTTP(t *testing.T) {
	h := newTestAPI(t).Handler()
	admin := adminToken(t, h)

	rec := doJSON(t, h, http.MethodPatch, "/api/v1/categories/cat-grocery/move", admin, map[string]any{"parentId": "cat-noodles"})
	expectStatus(t, rec, http.StatusBadRequest)

	expectStatus(t, doJSON(t, h, http.MethodDelete, "/api/v1/categories/cat-grocery", admin, nil), http.StatusBadRequest)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/categories/cat-noodles/path", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if body := decodeBody[map[string]string](t, rec); body["path"] != "Grocery > Instant Noodles" {
		t.Fatalf("unexpected path %q", body["path"])
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/categories/tree", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	tree := decodeBody[[]domain.CategoryNode](t, rec)
	if len(tree) != 2 || tree[0].ID != "cat-grocery" {
		t.Fatalf("unexpected tree roots %+v", tree)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/categories", admin, domain.CategoryCreateRequest{Name: "Grocery"})
	expectStatus(t, rec, http.StatusConflict)
}

func TestDuplicateSKUIsConflict(t *testing.T) {
	h := newTestAPI(t).Handler()
	admin := adminToken(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/products", admin, domain.ProductCreateRequest{
		Name: "Copy", Price: decimal.RequireFromString("1"), SKU: "sku-mie-01",
	})
	expectStatus(t, rec, http.StatusConflict)
}

func TestStockAdjustmentEndpoint(t *testing.T) {
	h := newTestAPI(t).Handler()
	admin := adminToken(t, h)

	rec := doJSON(t, h, http.MethodPatch, "/api/v1/products/prd-gula/stock", admin, domain.StockAdjustRequest{Quantity: 4})
	expectStatus(t, rec, http.StatusOK)
	p := decodeBody[domain.Product](t, rec)
	if p.Stock != 4 || p.Status != domain.ProductActive {
		t.Fatalf("unexpected product after restock %+v", p)
	}

	rec = doJSON(t, h, http.MethodPatch, "/api/v1/products/prd-gula/stock", admin, domain.StockAdjustRequest{Quantity: -5})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestRegisteredTenantIsIsolated(t *testing.T) {
	h := newTestAPI(t).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/register", "", domain.RegisterRequest{
		BusinessName: "Toko Lain", Email: "owner@lain.id", Password: "owner-pass-1", FirstName: "Budi", LastName: "Santoso",
	})
	expectStatus(t, rec, http.StatusCreated)
	resp := decodeBody[domain.AuthResponse](t, rec)
	if resp.User.TenantID == memory.DemoTenantID || resp.User.Role != domain.RoleTenantAdmin {
		t.Fatalf("unexpected registered user %+v", resp.User)
	}

	expectStatus(t, doJSON(t, h, http.MethodGet, "/api/v1/products/prd-mie", resp.AccessToken, nil), http.StatusNotFound)
	expectStatus(t, doJSON(t, h, http.MethodDelete, "/api/v1/categories/cat-coffee", resp.AccessToken, nil), http.StatusNotFound)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products", resp.AccessToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if products := decodeBody[[]domain.Product](t, rec); len(products) != 0 {
		t.Fatalf("expected empty catalog, got %d products", len(products))
	}
}

func TestRefreshAndLogoutOverHTTP(t *testing.T) {
	h := newTestAPI(t).Handler()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		TenantID: memory.DemoTenantID, Email: memory.DemoAdminEmail, Password: demoPassword,
	})
	expectStatus(t, rec, http.StatusOK)
	first := decodeBody[domain.AuthResponse](t, rec)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/refresh-token", "", domain.RefreshRequest{RefreshToken: first.RefreshToken})
	expectStatus(t, rec, http.StatusOK)
	second := decodeBody[domain.AuthResponse](t, rec)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/logout", second.AccessToken, domain.RefreshRequest{RefreshToken: second.RefreshToken})
	expectStatus(t, rec, http.StatusOK)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/refresh-token", "", domain.RefreshRequest{RefreshToken: second.RefreshToken})
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestMetricsEndpointExposesRouteCounters(t *testing.T) {
	h := newTestAPI(t).Handler()
	doJSON(t, h, http.MethodGet, "/healthz", "", nil)

	rec := doJSON(t, h, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `multikasir_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz counter in metrics output:\n%s", rec.Body.String())
	}
}
