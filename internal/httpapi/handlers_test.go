package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/receipt"
	"dukapos/backend/internal/register"
	"dukapos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real register service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := register.New(repo, nil, 0)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", receipt.Options{ShopName: "Test Duka", Currency: "UGX"})
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
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
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

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
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "198.51.100.7:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProductUpsertNeedsAdminRole(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	staffToken := loginAs(t, handler, "staff", "staff123")

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/products/test-item", staffToken, map[string]any{
		"name":  "Test Item",
		"price": "2500",
		"stock": 5,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff upsert, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCheckoutFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	adminToken := loginAs(t, handler, "admin", "admin123")

	// Create a product, ring it up twice, then check out.
	rec := doJSON(t, handler, http.MethodPut, "/api/v1/products/cola-500", adminToken, map[string]any{
		"name":  "Cola 500ml",
		"price": "2000",
		"stock": 10,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert failed: %d %s", rec.Code, rec.Body.String())
	}

	for i := 0; i < 2; i++ {
		rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/items", adminToken, map[string]any{
			"product_id": "cola-500",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("add item %d failed: %d %s", i, rec.Code, rec.Body.String())
		}
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/checkout", adminToken, map[string]any{
		"discount": "500",
		"payment":  "5000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout failed: %d %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Sale domain.SalesRecord `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode checkout response: %v", err)
	}
	if body.Sale.ID == "" {
		t.Fatalf("expected sale id in response")
	}
	if body.Sale.Total.String() != "3500" {
		t.Fatalf("expected total 3500, got %s", body.Sale.Total)
	}

	// The receipt endpoint renders the committed record.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales/"+body.Sale.ID+"/receipt", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	receiptRec := httptest.NewRecorder()
	handler.ServeHTTP(receiptRec, req)
	if receiptRec.Code != http.StatusOK {
		t.Fatalf("receipt failed: %d %s", receiptRec.Code, receiptRec.Body.String())
	}
	var rendered receipt.Rendered
	if err := json.NewDecoder(receiptRec.Body).Decode(&rendered); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if rendered.PreviewText == "" || rendered.EscposBase64 == "" {
		t.Fatalf("receipt missing content: %+v", rendered)
	}
}

func TestCheckoutErrorStatuses(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "staff", "staff123")

	// Empty cart → 400 with a distinct message.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/checkout", token, map[string]any{
		"payment": "1000",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty cart, got %d", rec.Code)
	}

	// Unknown product → 404.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/items", token, map[string]any{
		"product_id": "no-such-thing",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", rec.Code)
	}

	// Ring up a seeded item, underpay → 402.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/items", token, map[string]any{
		"product_id": "6291041500213",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add seeded item failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/checkout", token, map[string]any{
		"payment": "500",
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 for short payment, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSettlementPreviewEndpoint(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "staff", "staff123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cart/items", token, map[string]any{
		"product_id": "6291041500237", // Bread Loaf, 4500
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item failed: %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart/settlement?discount=500&payment=5000", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	settleRec := httptest.NewRecorder()
	handler.ServeHTTP(settleRec, req)
	if settleRec.Code != http.StatusOK {
		t.Fatalf("settlement failed: %d %s", settleRec.Code, settleRec.Body.String())
	}

	var st domain.Settlement
	if err := json.NewDecoder(settleRec.Body).Decode(&st); err != nil {
		t.Fatalf("decode settlement: %v", err)
	}
	if !st.Settled || st.Change.String() != "1000" {
		t.Fatalf("unexpected settlement: %+v", st)
	}
}

func TestUsersEndpointAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	staffToken := loginAs(t, handler, "staff", "staff123")
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/users", staffToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", rec.Code)
	}

	adminToken := loginAs(t, handler, "admin", "admin123")
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users", adminToken, map[string]string{
		"username": "okello",
		"password": "secret123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list users failed: %d", rec.Code)
	}
	var body struct {
		Users []domain.StaffUser `json:"users"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	found := false
	for _, u := range body.Users {
		if u.Username == "okello" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected okello in staff list, got %+v", body.Users)
	}
}

func TestProductSearchEndpoint(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "staff", "staff123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/search?q=bread", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("search failed: %d %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Matches []domain.ProductMatch `json:"matches"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode matches: %v", err)
	}
	if len(body.Matches) != 1 || body.Matches[0].Product.Name != "Bread Loaf" {
		t.Fatalf("expected bread match, got %+v", body.Matches)
	}
}
