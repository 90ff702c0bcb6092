package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smartretail/backend/internal/domain"
	"smartretail/backend/internal/service"
	"smartretail/backend/internal/session"
	"smartretail/backend/internal/store"
	"smartretail/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	registry := session.NewRegistry(repo, "back-office")
	svc := service.New(repo, registry, nil, store.SaleReversal{}, 10)
	auth := NewAuthManager("test-secret-key", time.Hour)

	return New(svc, auth, "*")
}

func loginAs(t *testing.T, handler http.Handler, username, password, terminalID string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{
		Username:   username,
		Password:   password,
		TerminalID: terminalID,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access token in login response")
	}
	return resp.AccessToken
}

func authedRequest(t *testing.T, handler http.Handler, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
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

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	body, _ := json.Marshal(domain.LoginRequest{
		Username:   "admin",
		Password:   "admin123",
		TerminalID: "back-office",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access_token in response")
	}
	if resp.Role != "admin" {
		t.Fatalf("expected role admin, got %q", resp.Role)
	}
	if resp.TerminalID != "back-office" {
		t.Fatalf("expected terminal back-office, got %q", resp.TerminalID)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	body, _ := json.Marshal(domain.LoginRequest{
		Username:   "admin",
		Password:   "wrongpassword",
		TerminalID: "back-office",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_OccupiedTerminalConflicts(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	loginAs(t, handler, "operator1", "staff123", "POS-1")

	body, _ := json.Marshal(domain.LoginRequest{
		Username:   "operator2",
		Password:   "staff123",
		TerminalID: "POS-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.7:4001"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for occupied terminal, got %d (body: %s)", rec.Code, rec.Body.String())
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

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "operator1", "staff123", "POS-1")

	rec := authedRequest(t, handler, http.MethodGet, "/api/v1/products", token, "", nil)
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

func TestHandleQuote(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "operator1", "staff123", "POS-1")
	csrf := fetchCSRFToken(t, api)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/sales/quote", token, csrf, domain.QuoteRequest{
		CartItems: []domain.CartItem{{SKU: "SKU-MOUSE-01", Qty: 2}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Quote domain.Quote `json:"quote"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Quote.SubtotalCents != 130_000 {
		t.Fatalf("expected subtotal 130000, got %d", body.Quote.SubtotalCents)
	}
}

func TestCommitCancelVerifyOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "operator1", "staff123", "POS-1")
	csrf := fetchCSRFToken(t, api)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/sales", token, csrf, domain.CommitSaleRequest{
		TerminalID:    "POS-1",
		CartItems:     []domain.CartItem{{SKU: "SKU-MOUSE-01", Qty: 1}},
		PaymentMethod: "cash",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("commit expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var committed domain.CommitSaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&committed); err != nil {
		t.Fatalf("decode commit response: %v", err)
	}
	saleID := committed.Sale.ID
	if saleID == "" {
		t.Fatalf("expected sale id in commit response")
	}

	rec = authedRequest(t, handler, http.MethodGet, "/api/v1/sales/"+saleID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get sale expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = authedRequest(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/sales/%s/verify", saleID), token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var verify domain.SaleVerifyResponse
	if err := json.NewDecoder(rec.Body).Decode(&verify); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	if !verify.Match {
		t.Fatalf("expected integrity hash to match, got %+v", verify)
	}

	rec = authedRequest(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/sales/%s/cancel", saleID), token, csrf, domain.CancelSaleRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("cancel without reason expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = authedRequest(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/sales/%s/cancel", saleID), token, csrf, domain.CancelSaleRequest{Reason: "customer returned item"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = authedRequest(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/sales/%s/cancel", saleID), token, csrf, domain.CancelSaleRequest{Reason: "again"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double cancel expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCancelForeignSaleForbiddenOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	op1 := loginAs(t, handler, "operator1", "staff123", "POS-1")
	op2 := loginAs(t, handler, "operator2", "staff123", "POS-2")
	csrf := fetchCSRFToken(t, api)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/sales", op1, csrf, domain.CommitSaleRequest{
		TerminalID:    "POS-1",
		CartItems:     []domain.CartItem{{SKU: "SKU-NOTE-01", Qty: 1}},
		PaymentMethod: "cash",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("commit expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var committed domain.CommitSaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&committed); err != nil {
		t.Fatalf("decode commit response: %v", err)
	}

	rec = authedRequest(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/sales/%s/cancel", committed.Sale.ID), op2, csrf, domain.CancelSaleRequest{Reason: "not mine"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign cancel, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestUsersRouteGatedToAdmin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	opToken := loginAs(t, handler, "operator1", "staff123", "POS-1")
	adminToken := loginAs(t, handler, "admin", "admin123", "back-office")

	rec := authedRequest(t, handler, http.MethodGet, "/api/v1/users", opToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator, got %d", rec.Code)
	}

	rec = authedRequest(t, handler, http.MethodGet, "/api/v1/users", adminToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestTerminalStatusListsOccupancy(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	loginAs(t, handler, "operator1", "staff123", "POS-1")
	adminToken := loginAs(t, handler, "admin", "admin123", "back-office")

	rec := authedRequest(t, handler, http.MethodGet, "/api/v1/terminals", adminToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Terminals []domain.TerminalStatus `json:"terminals"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	var found bool
	for _, status := range body.Terminals {
		if status.Terminal.ID == "POS-1" {
			found = true
			if !status.Occupied || status.Occupant != "operator1" {
				t.Fatalf("expected POS-1 occupied by operator1, got %+v", status)
			}
		}
	}
	if !found {
		t.Fatalf("expected POS-1 in terminal status list")
	}
}
