package aml

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/casinocore/wallet-engine/internal/models"
	"github.com/casinocore/wallet-engine/internal/store"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

func setupTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st := store.New(nil)
	return New(st), st
}

func insertTx(t *testing.T, st *store.Store, tx *models.Transaction) {
	t.Helper()
	sess, err := st.Begin(context.Background(), tx.PlayerID)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := sess.InsertTransaction(tx); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

// =============================================================================
// S4 — large transaction alert
// =============================================================================

func TestAnalyze_LargeTransactionInMalta(t *testing.T) {
	svc, st := setupTestService(t)
	if _, err := st.UpsertPlayer(&models.Player{PlayerID: "P4", Country: "MT", Currency: "EUR"}); err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}
	insertTx(t, st, &models.Transaction{
		TransactionID: "T4", PlayerID: "P4", Type: models.TxTypeCredit,
		Amount: decimal.NewFromFloat(2500.00), Currency: "EUR", Status: models.TxStatusCompleted,
	})

	result, err := svc.Analyze(context.Background(), "T4")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.RiskScore < 25 {
		t.Errorf("expected risk_score >= 25, got %v", result.RiskScore)
	}
	if !result.IsLargeTransaction {
		t.Errorf("expected is_large_transaction to be set")
	}
	if result.AlertType != models.AlertLargeTransaction {
		t.Fatalf("expected LARGE_TRANSACTION alert, got %v", result.AlertType)
	}
	alert, ok := st.GetAlert(result.AlertID)
	if !ok || alert.Severity != models.SeverityMedium {
		t.Errorf("expected MEDIUM severity alert, got %+v", alert)
	}
}

// =============================================================================
// S5 — PEP detection
// =============================================================================

func TestAnalyze_PEPMatchOutranksLargeTransaction(t *testing.T) {
	svc, st := setupTestService(t)
	if _, err := st.UpsertPlayer(&models.Player{PlayerID: "P5", Country: "US", Currency: "USD"}); err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}
	insertTx(t, st, &models.Transaction{
		TransactionID: "T5", PlayerID: "P5", Type: models.TxTypeCredit,
		Amount: decimal.NewFromFloat(15000.00), Currency: "USD", Status: models.TxStatusCompleted,
		Metadata: map[string]any{"is_pep": true},
	})

	result, err := svc.Analyze(context.Background(), "T5")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !result.IsPoliticallyExposedPerson {
		t.Errorf("expected is_politically_exposed_person to be set")
	}
	if !result.IsLargeTransaction {
		t.Errorf("expected is_large_transaction to be set as well")
	}
	if result.AlertType != models.AlertPEPMatch {
		t.Fatalf("expected PEP_MATCH alert, got %v", result.AlertType)
	}
	alert, ok := st.GetAlert(result.AlertID)
	if !ok || alert.Severity != models.SeverityHigh {
		t.Errorf("expected HIGH severity alert, got %+v", alert)
	}
}

// =============================================================================
// S6-style structuring detection
// =============================================================================

func TestAnalyze_StructuringFromRepeatedSameTypeTransactions(t *testing.T) {
	svc, st := setupTestService(t)
	if _, err := st.UpsertPlayer(&models.Player{PlayerID: "P6", Country: "US", Currency: "USD"}); err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		insertTx(t, st, &models.Transaction{
			TransactionID: "struct" + string(rune('A'+i)), PlayerID: "P6", Type: models.TxTypeCredit,
			Amount: decimal.NewFromFloat(3000.00), Currency: "USD", Status: models.TxStatusCompleted,
			CreatedAt: now.Add(-time.Duration(i) * time.Hour),
		})
	}

	result, err := svc.Analyze(context.Background(), "structA")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !result.IsStructuringAttempt {
		t.Errorf("expected is_structuring_attempt to be set")
	}
	if result.AlertType != models.AlertStructuring {
		t.Fatalf("expected STRUCTURING alert, got %v", result.AlertType)
	}
	alert, ok := st.GetAlert(result.AlertID)
	if !ok || alert.Severity != models.SeverityHigh {
		t.Errorf("expected HIGH severity structuring alert, got %+v", alert)
	}
}

func TestAnalyze_StructuringJustBelowThresholdRaisesProfile(t *testing.T) {
	svc, st := setupTestService(t)
	if _, err := st.UpsertPlayer(&models.Player{PlayerID: "P6b", Country: "US", Currency: "USD"}); err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}

	// Six deposits at 95% of the 10,000 USD fallback threshold, spread
	// over 20 hours.
	now := time.Now().UTC()
	for i := 0; i < 6; i++ {
		insertTx(t, st, &models.Transaction{
			TransactionID: "band" + string(rune('A'+i)), PlayerID: "P6b", Type: models.TxTypeCredit,
			Amount: decimal.NewFromFloat(9500.00), Currency: "USD", Status: models.TxStatusCompleted,
			CreatedAt: now.Add(-time.Duration(i*4) * time.Hour),
		})
	}

	result, err := svc.Analyze(context.Background(), "bandA")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !result.IsStructuringAttempt {
		t.Fatalf("expected is_structuring_attempt for repeated just-below-threshold deposits")
	}
	if result.AlertType != models.AlertStructuring {
		t.Fatalf("expected STRUCTURING alert, got %v", result.AlertType)
	}

	profile, ok := st.GetRiskProfile("P6b")
	if !ok {
		t.Fatalf("expected a risk profile to exist after analysis")
	}
	if profile.OverallRiskScore < 20 {
		t.Errorf("expected overall risk to rise by at least 20, got %v", profile.OverallRiskScore)
	}
}

// =============================================================================
// SANCTIONS UPGRADE
// =============================================================================

func TestAnalyze_SanctionsCountryUpgradesSeverityToCritical(t *testing.T) {
	svc, st := setupTestService(t)
	if _, err := st.UpsertPlayer(&models.Player{PlayerID: "P7", Country: "KP", Currency: "USD"}); err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}
	insertTx(t, st, &models.Transaction{
		TransactionID: "T7", PlayerID: "P7", Type: models.TxTypeCredit,
		Amount: decimal.NewFromFloat(50.00), Currency: "USD", Status: models.TxStatusCompleted,
	})

	result, err := svc.Analyze(context.Background(), "T7")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	alert, ok := st.GetAlert(result.AlertID)
	if !ok || alert.Severity != models.SeverityCritical {
		t.Errorf("expected CRITICAL severity for sanctioned jurisdiction, got %+v", alert)
	}
}

// =============================================================================
// JURISDICTION THRESHOLDS
// =============================================================================

func TestThresholdFor_JurisdictionAndCurrency(t *testing.T) {
	cases := []struct {
		country, currency string
		want              int64
	}{
		{"MT", "EUR", 2000},
		{"MT", "USD", 2200},
		{"MT", "KRW", 2000},   // in-jurisdiction fallback
		{"PH", "PHP", 500000},
		{"CW", "EUR", 4500},
		{"AW", "USD", 5000},
		{"US", "USD", 10000},
		{"US", "EUR", 9500},
		{"US", "KRW", 10000},  // global fallback
	}
	for _, c := range cases {
		if got := thresholdFor(c.country, c.currency); !got.Equal(decimal.NewFromInt(c.want)) {
			t.Errorf("thresholdFor(%s, %s) = %s, want %d", c.country, c.currency, got, c.want)
		}
	}
}

// =============================================================================
// RISK PROFILE AGGREGATION
// =============================================================================

func TestAnalyze_UpdatesRiskProfile(t *testing.T) {
	svc, st := setupTestService(t)
	if _, err := st.UpsertPlayer(&models.Player{PlayerID: "P8", Country: "US", Currency: "USD"}); err != nil {
		t.Fatalf("UpsertPlayer: %v", err)
	}
	insertTx(t, st, &models.Transaction{
		TransactionID: "T8", PlayerID: "P8", Type: models.TxTypeCredit,
		Amount: decimal.NewFromFloat(100.00), Currency: "USD", Status: models.TxStatusCompleted,
	})

	if _, err := svc.Analyze(context.Background(), "T8"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	profile, ok := st.GetRiskProfile("P8")
	if !ok {
		t.Fatalf("expected a risk profile to be created")
	}
	if profile.DepositCount7d != 1 || !profile.DepositAmount7d.Equal(decimal.NewFromFloat(100.00)) {
		t.Errorf("expected deposit rollups to reflect the single transaction, got %+v", profile)
	}
}
