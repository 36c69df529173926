package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/casinocore/wallet-engine/internal/aml"
	"github.com/casinocore/wallet-engine/internal/auth"
	"github.com/casinocore/wallet-engine/internal/cache"
	"github.com/casinocore/wallet-engine/internal/store"
	"github.com/casinocore/wallet-engine/internal/wallet"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

type testServer struct {
	srv    *httptest.Server
	store  *store.Store
	issuer *auth.Issuer
}

// setupTestServer wires the full HTTP stack over an in-memory store.
// The cache points at a closed port so every cache call degrades to a
// miss; no scheduler or event bus means post-commit work is skipped.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	st := store.New(nil)
	c, err := cache.New("redis://127.0.0.1:1/0", []byte("test-hmac-key"), 100, zerolog.Nop())
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	issuer := auth.NewIssuer([]byte("test-signing-key"), "test", "HS256", time.Hour)
	walletSvc := wallet.New(st, c, nil)
	amlSvc := aml.New(st)

	h := NewHandler(st, walletSvc, amlSvc, issuer, c, nil, nil)
	srv := httptest.NewServer(NewRouter(h, issuer))
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, store: st, issuer: issuer}
}

func (ts *testServer) post(t *testing.T, path, token string, body map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// bootstrap runs the operator handshake for playerID and returns the
// issued bearer token.
func (ts *testServer) bootstrap(t *testing.T, playerID, country, currency string) string {
	t.Helper()
	resp, body := ts.post(t, "/ua/v1/casino-key/api-token", "", map[string]any{
		"uuid": "u1",
		"player": map[string]any{
			"id": playerID, "firstName": "Test", "lastName": "Player",
			"country": country, "currency": currency,
			"session": map[string]any{"id": "s1", "ip": "127.0.0.1"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bootstrap status = %d", resp.StatusCode)
	}
	entry, ok := body["entry"].(map[string]any)
	if !ok {
		t.Fatalf("bootstrap response missing entry: %v", body)
	}
	token, ok := entry["params"].(string)
	if !ok || token == "" {
		t.Fatalf("bootstrap response missing token: %v", entry)
	}
	return token
}

// =============================================================================
// AUTH & AUTHORIZATION
// =============================================================================

func TestWalletRoutes_RejectMissingToken(t *testing.T) {
	ts := setupTestServer(t)
	resp, _ := ts.post(t, "/api/balance", "", map[string]any{"uuid": "u", "player_id": "p1"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestWalletRoutes_RejectPlayerIDMismatch(t *testing.T) {
	ts := setupTestServer(t)
	token := ts.bootstrap(t, "p1", "KR", "KRW")

	resp, body := ts.post(t, "/api/balance", token, map[string]any{"uuid": "u", "player_id": "somebody-else"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 on player_id mismatch, got %d", resp.StatusCode)
	}
	if body["code"] != "player_id_mismatch" {
		t.Errorf("expected player_id_mismatch code, got %v", body["code"])
	}
}

func TestAMLRoutes_RequireAdminRole(t *testing.T) {
	ts := setupTestServer(t)
	playerToken := ts.bootstrap(t, "p1", "KR", "KRW")

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/aml/high-risk-players", nil)
	req.Header.Set("Authorization", "Bearer "+playerToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin on AML route, got %d", resp.StatusCode)
	}
}

// =============================================================================
// WALLET FLOW END TO END
// =============================================================================

func TestCreditDebitCancel_FullFlow(t *testing.T) {
	ts := setupTestServer(t)
	token := ts.bootstrap(t, "p1", "KR", "KRW")

	resp, body := ts.post(t, "/api/credit", token, map[string]any{
		"uuid": "u", "player_id": "p1", "transaction_id": "c1", "amount": "500.00",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("credit status = %d body=%v", resp.StatusCode, body)
	}
	if body["balance"] != "500.00" {
		t.Errorf("expected balance 500.00 after credit, got %v", body["balance"])
	}

	resp, body = ts.post(t, "/api/debit", token, map[string]any{
		"uuid": "u", "player_id": "p1", "transaction_id": "d1", "amount": "200.25",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("debit status = %d body=%v", resp.StatusCode, body)
	}
	if body["balance"] != "299.75" {
		t.Errorf("expected balance 299.75 after debit, got %v", body["balance"])
	}

	resp, body = ts.post(t, "/api/cancel", token, map[string]any{
		"uuid": "u", "player_id": "p1", "transaction_id": "x1", "original_transaction_id": "d1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d body=%v", resp.StatusCode, body)
	}
	if body["balance"] != "500.00" {
		t.Errorf("expected balance restored to 500.00 after cancel, got %v", body["balance"])
	}
}

func TestDebit_DuplicateTransactionIDConflicts(t *testing.T) {
	ts := setupTestServer(t)
	token := ts.bootstrap(t, "p1", "KR", "KRW")
	ts.post(t, "/api/credit", token, map[string]any{
		"uuid": "u", "player_id": "p1", "transaction_id": "c1", "amount": "100.00",
	})

	debit := map[string]any{"uuid": "u", "player_id": "p1", "transaction_id": "d1", "amount": "10.00"}
	if resp, _ := ts.post(t, "/api/debit", token, debit); resp.StatusCode != http.StatusOK {
		t.Fatalf("first debit status = %d", resp.StatusCode)
	}
	resp, body := ts.post(t, "/api/debit", token, debit)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 on replayed debit, got %d", resp.StatusCode)
	}
	if body["code"] != "transaction_already_processed" {
		t.Errorf("expected transaction_already_processed, got %v", body["code"])
	}
}

func TestDebit_InvalidAmountUnprocessable(t *testing.T) {
	ts := setupTestServer(t)
	token := ts.bootstrap(t, "p1", "KR", "KRW")

	for _, amount := range []string{"0", "-5.00", "1.234", "abc"} {
		resp, _ := ts.post(t, "/api/debit", token, map[string]any{
			"uuid": "u", "player_id": "p1", "transaction_id": "d-" + amount, "amount": amount,
		})
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("amount %q: expected 422, got %d", amount, resp.StatusCode)
		}
	}
}

// =============================================================================
// AML SURFACE
// =============================================================================

func TestAnalyzeTransaction_AdminEndToEnd(t *testing.T) {
	ts := setupTestServer(t)
	playerToken := ts.bootstrap(t, "p1", "MT", "EUR")
	adminToken, err := ts.issuer.GenerateToken("ops1", auth.RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	resp, _ := ts.post(t, "/api/credit", playerToken, map[string]any{
		"uuid": "u", "player_id": "p1", "transaction_id": "big1", "amount": "2500.00",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("credit status = %d", resp.StatusCode)
	}

	resp, body := ts.post(t, "/aml/analyze-transaction/big1", adminToken, map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze status = %d body=%v", resp.StatusCode, body)
	}
	if body["is_large_transaction"] != true {
		t.Errorf("expected is_large_transaction=true, got %v", body["is_large_transaction"])
	}
	if score, _ := body["risk_score"].(float64); score < 25 {
		t.Errorf("expected risk_score >= 25, got %v", body["risk_score"])
	}
	if body["reporting_jurisdiction"] != "MALTA" {
		t.Errorf("expected MALTA jurisdiction, got %v", body["reporting_jurisdiction"])
	}

	// The analysis must have persisted an alert visible through the feed.
	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/aml/alerts?player_id=p1", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	alertsResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	defer alertsResp.Body.Close()
	var alertsBody map[string]any
	_ = json.NewDecoder(alertsResp.Body).Decode(&alertsBody)
	if count, _ := alertsBody["count"].(float64); count != 1 {
		t.Errorf("expected exactly one alert, got %v", alertsBody["count"])
	}
}

func TestCreateReport_ReturnsDraft(t *testing.T) {
	ts := setupTestServer(t)
	adminToken, err := ts.issuer.GenerateToken("ops1", auth.RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	resp, body := ts.post(t, "/aml/report", adminToken, map[string]any{
		"player_id": "p1", "report_type": "STR", "jurisdiction": "MALTA", "notes": "suspicious",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("report status = %d body=%v", resp.StatusCode, body)
	}
	data, _ := body["data"].(map[string]any)
	if data["status"] != "draft" {
		t.Errorf("expected draft status, got %v", data["status"])
	}
	if data["report_id"] == "" || data["report_id"] == nil {
		t.Errorf("expected a report_id, got %v", data["report_id"])
	}

	resp, _ = ts.post(t, "/aml/report", adminToken, map[string]any{
		"player_id": "p1", "report_type": "BOGUS", "jurisdiction": "MALTA",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unknown report_type, got %d", resp.StatusCode)
	}
}

func TestAlertLifecycle_ReportedStampsReportedAt(t *testing.T) {
	ts := setupTestServer(t)
	adminToken, err := ts.issuer.GenerateToken("ops1", auth.RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	resp, body := ts.post(t, "/aml/alerts", adminToken, map[string]any{
		"player_id": "p1", "severity": "HIGH", "description": "manual review",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create alert status = %d body=%v", resp.StatusCode, body)
	}
	data, _ := body["data"].(map[string]any)
	id := int64(data["id"].(float64))

	put := func(status string) map[string]any {
		raw, _ := json.Marshal(map[string]any{"status": status, "reviewed_by": "ops1"})
		req, _ := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/aml/alerts/%d/status", ts.srv.URL, id), bytes.NewReader(raw))
		req.Header.Set("Authorization", "Bearer "+adminToken)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("put status: %v", err)
		}
		defer resp.Body.Close()
		var decoded map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
		return decoded
	}

	investigating, _ := put("INVESTIGATING")["alert"].(map[string]any)
	if investigating["reviewed_at"] == nil {
		t.Errorf("transition out of NEW must stamp reviewed_at")
	}
	reported, _ := put("REPORTED")["alert"].(map[string]any)
	if reported["reported_at"] == nil {
		t.Errorf("transition to REPORTED must stamp reported_at")
	}
}
