// Package aml implements the anti-money-laundering rule engine: rule
// based risk scoring, at-most-one alert per analysis, and rolling
// 7/30-day risk-profile aggregation. Analysis runs post-commit and
// must never fail the wallet mutation that triggered it; callers wrap
// Analyze with their own failure isolation (see internal/scheduler).
package aml

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/casinocore/wallet-engine/internal/models"
	"github.com/casinocore/wallet-engine/internal/store"
	"github.com/casinocore/wallet-engine/internal/walleterr"
)

// highRiskCountries is the fixed FATF high-risk set.
var highRiskCountries = map[string]bool{
	"AF": true, "BY": true, "BI": true, "CF": true, "CD": true, "KP": true,
	"ER": true, "IR": true, "IQ": true, "LY": true, "ML": true, "MM": true,
	"NI": true, "PK": true, "RU": true, "SO": true, "SS": true, "SD": true,
	"SY": true, "VE": true, "YE": true, "ZW": true,
}

// sanctionsCountries is the subset that upgrades severity to CRITICAL.
var sanctionsCountries = map[string]bool{"KP": true, "IR": true}

// jurisdictionThresholds maps currency to its large-transaction
// threshold within one jurisdiction; "DEFAULT" is the in-jurisdiction
// fallback for an unlisted currency.
type jurisdictionThresholds map[string]decimal.Decimal

var thresholdTable = map[string]jurisdictionThresholds{
	"MALTA": {
		"EUR": decimal.NewFromInt(2000), "USD": decimal.NewFromInt(2200),
		"DEFAULT": decimal.NewFromInt(2000),
	},
	"PHILIPPINES": {
		"USD": decimal.NewFromInt(10000), "PHP": decimal.NewFromInt(500000),
		"DEFAULT": decimal.NewFromInt(10000),
	},
	"CURACAO": {
		"EUR": decimal.NewFromInt(4500), "USD": decimal.NewFromInt(5000),
		"DEFAULT": decimal.NewFromInt(5000),
	},
	"DEFAULT": {
		"EUR": decimal.NewFromInt(9500), "USD": decimal.NewFromInt(10000),
		"DEFAULT": decimal.NewFromInt(10000),
	},
}

// jurisdictionFor derives the regulatory jurisdiction from a player's country.
func jurisdictionFor(country string) string {
	switch country {
	case "MT":
		return "MALTA"
	case "PH":
		return "PHILIPPINES"
	case "AW", "CW":
		return "CURACAO"
	default:
		return "DEFAULT"
	}
}

func thresholdFor(country, currency string) decimal.Decimal {
	table := thresholdTable[jurisdictionFor(country)]
	if v, ok := table[currency]; ok {
		return v
	}
	return table["DEFAULT"]
}

// Service runs per-transaction risk analysis over the shared store.
type Service struct {
	store *store.Store
}

// New constructs an AML Service over the shared store.
func New(st *store.Store) *Service {
	return &Service{store: st}
}

// AnalysisResult is the return value of Analyze. The per-rule booleans
// report which rules fired regardless of which one won the alert slot.
type AnalysisResult struct {
	TransactionID              string
	PlayerID                   string
	RiskScore                  float64
	IsLargeTransaction         bool
	IsPoliticallyExposedPerson bool
	IsHighRiskCountry          bool
	IsStructuringAttempt       bool
	IsUnusualPattern           bool
	AlertType                  models.AlertType // empty if no alert was raised
	AlertID                    int64
	ReportingJurisdiction      string
}

type triggeredRule struct {
	alertType     models.AlertType
	score         float64
	detectionRule string
	priority      int // lower wins
}

// alertPriority ranks alert types; lower value wins when more than one
// rule triggers in the same analysis.
var alertPriority = map[models.AlertType]int{
	models.AlertPEPMatch:         0,
	models.AlertHighRiskCountry:  1,
	models.AlertStructuring:      2,
	models.AlertLargeTransaction: 3,
	models.AlertUnusualPattern:   4,
}

// Analyze scores a single transaction, raises at most one alert, and
// recomputes the player's rolling risk profile from the store.
func (s *Service) Analyze(ctx context.Context, transactionID string) (result *AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = walleterr.New(walleterr.KindInternal, fmt.Sprintf("aml: analysis panicked: %v", r), nil)
		}
	}()

	tx, ok := s.store.GetTransactionByID(transactionID)
	if !ok {
		return nil, walleterr.New(walleterr.KindTransactionNotFound, "transaction not found", map[string]any{"transaction_id": transactionID})
	}
	if tx.Type != models.TxTypeDebit && tx.Type != models.TxTypeCredit {
		return &AnalysisResult{TransactionID: transactionID, PlayerID: tx.PlayerID}, nil
	}

	player, err := s.store.GetPlayer(tx.PlayerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	threshold := thresholdFor(player.Country, tx.Currency)
	jurisdiction := jurisdictionFor(player.Country)

	result = &AnalysisResult{
		TransactionID:         transactionID,
		PlayerID:              tx.PlayerID,
		ReportingJurisdiction: jurisdiction,
	}

	var triggered []triggeredRule
	if r, ok := evalLargeTransaction(tx, threshold); ok {
		triggered = append(triggered, r)
		result.IsLargeTransaction = true
	}
	if r, ok := evalPEPMatch(tx); ok {
		triggered = append(triggered, r)
		result.IsPoliticallyExposedPerson = true
	}
	if r, ok := evalHighRiskJurisdiction(player, tx); ok {
		triggered = append(triggered, r)
		result.IsHighRiskCountry = true
	}
	if r, ok := s.evalStructuring(tx, threshold, now); ok {
		triggered = append(triggered, r)
		result.IsStructuringAttempt = true
	}
	if r, ok := s.evalUnusualPattern(tx, now); ok {
		triggered = append(triggered, r)
		result.IsUnusualPattern = true
	}

	totalScore := 0.0
	for _, r := range triggered {
		totalScore += r.score
	}
	if totalScore > 100 {
		totalScore = 100
	}
	result.RiskScore = totalScore

	if len(triggered) > 0 {
		best := triggered[0]
		for _, r := range triggered[1:] {
			if r.priority < best.priority {
				best = r
			}
		}

		sanctionsMatch := result.IsHighRiskCountry && sanctionsCountries[player.Country]
		severity := severityFor(best.alertType, sanctionsMatch)

		ruleScores := make(map[string]any, len(triggered))
		for _, r := range triggered {
			ruleScores[r.detectionRule] = r.score
		}

		alert := &models.AMLAlert{
			PlayerID:      tx.PlayerID,
			Type:          best.alertType,
			Severity:      severity,
			Status:        models.AlertStatusNew,
			Description:   describeAlert(best.alertType, tx),
			DetectionRule: best.detectionRule,
			RiskScore:     totalScore,
			TransactionIDs: []string{transactionID},
			TransactionDetails: map[string]any{
				"transaction_id": tx.TransactionID,
				"type":           string(tx.Type),
				"amount":         tx.Amount.String(),
				"currency":       tx.Currency,
				"created_at":     tx.CreatedAt.Format(time.RFC3339),
			},
			AlertData: map[string]any{
				"triggered_rules":        ruleScores,
				"threshold":              threshold.String(),
				"reporting_jurisdiction": jurisdiction,
				"sanctions_match":        sanctionsMatch,
			},
		}
		created := s.store.CreateAlert(alert)
		result.AlertType = best.alertType
		result.AlertID = created.ID
	}

	s.updateRiskProfile(tx, totalScore, now)

	return result, nil
}

func severityFor(alertType models.AlertType, sanctionsMatch bool) models.AlertSeverity {
	if sanctionsMatch {
		return models.SeverityCritical
	}
	switch alertType {
	case models.AlertPEPMatch, models.AlertHighRiskCountry, models.AlertStructuring:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

func describeAlert(alertType models.AlertType, tx *models.Transaction) string {
	return fmt.Sprintf("%s triggered by transaction %s (%s %s)", alertType, tx.TransactionID, tx.Amount.String(), tx.Currency)
}

// =============================================================================
// RULES
// =============================================================================

func evalLargeTransaction(tx *models.Transaction, threshold decimal.Decimal) (triggeredRule, bool) {
	if tx.Amount.GreaterThanOrEqual(threshold) {
		return triggeredRule{
			alertType: models.AlertLargeTransaction, score: 25,
			detectionRule: "large_transaction", priority: alertPriority[models.AlertLargeTransaction],
		}, true
	}
	return triggeredRule{}, false
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1" || t == "yes"
	default:
		return false
	}
}

func evalPEPMatch(tx *models.Transaction) (triggeredRule, bool) {
	if tx.Metadata == nil {
		return triggeredRule{}, false
	}
	if isTruthy(tx.Metadata["is_pep"]) {
		return triggeredRule{alertType: models.AlertPEPMatch, score: 40, detectionRule: "pep_detection", priority: alertPriority[models.AlertPEPMatch]}, true
	}
	if status, ok := tx.Metadata["pep_status"].(string); ok {
		if status == "pep" || status == "politically_exposed_person" {
			return triggeredRule{alertType: models.AlertPEPMatch, score: 40, detectionRule: "pep_detection", priority: alertPriority[models.AlertPEPMatch]}, true
		}
	}
	return triggeredRule{}, false
}

func evalHighRiskJurisdiction(player *models.Player, tx *models.Transaction) (triggeredRule, bool) {
	hit := highRiskCountries[player.Country]
	if !hit && tx.Metadata != nil {
		if isTruthy(tx.Metadata["high_risk_jurisdiction"]) {
			hit = true
		}
		if c, ok := tx.Metadata["country"].(string); ok && highRiskCountries[c] {
			hit = true
		}
	}
	if hit {
		return triggeredRule{alertType: models.AlertHighRiskCountry, score: 35, detectionRule: "high_risk_country", priority: alertPriority[models.AlertHighRiskCountry]}, true
	}
	return triggeredRule{}, false
}

func (s *Service) evalStructuring(tx *models.Transaction, threshold decimal.Decimal, now time.Time) (triggeredRule, bool) {
	day := 24 * time.Hour
	week := 7 * 24 * time.Hour
	until := now.Add(time.Second)

	sum24, count24 := s.store.SumAndCount(tx.PlayerID, tx.Type, now.Add(-day), until)
	sum7, count7 := s.store.SumAndCount(tx.PlayerID, tx.Type, now.Add(-week), until)

	score := 0.0
	triggered := false

	if count24 >= 3 {
		triggered = true
		score = math.Max(score, 25)
	}
	lowBand := threshold.Mul(decimal.NewFromFloat(0.8))
	highBand := threshold.Mul(decimal.NewFromFloat(1.1))
	if sum24.GreaterThanOrEqual(lowBand) && sum24.LessThanOrEqual(highBand) {
		triggered = true
		score = math.Max(score, 30)
	}

	bandLow := threshold.Mul(decimal.NewFromFloat(0.7))
	bandHigh := threshold
	bandCount := s.countInBand(tx.PlayerID, tx.Type, now.Add(-day), until, bandLow, bandHigh)
	if bandCount >= 2 {
		triggered = true
		score = math.Max(score, 20)
	}

	if count7 >= 50 && sum7.GreaterThan(threshold.Mul(decimal.NewFromFloat(0.8))) {
		triggered = true
		score = math.Max(score, 35)
	}
	if count7 >= 20 {
		avg7 := sum7.Div(decimal.NewFromInt(int64(count7)))
		if avg7.LessThan(threshold.Mul(decimal.NewFromFloat(0.05))) {
			triggered = true
			score = math.Max(score, 30)
		}
	}
	clusterWidth := threshold.Mul(decimal.NewFromFloat(0.1))
	if s.maxClusterCount(tx.PlayerID, tx.Type, now.Add(-week), until, clusterWidth) >= 5 {
		triggered = true
		score = math.Max(score, 40)
	}

	if !triggered {
		return triggeredRule{}, false
	}
	if score < 15 {
		score = 15
	}
	if score > 80 {
		score = 80
	}
	return triggeredRule{alertType: models.AlertStructuring, score: score, detectionRule: "structuring", priority: alertPriority[models.AlertStructuring]}, true
}

// countInBand counts transactions of txType within [since,until) whose
// amount falls in [low, high).
func (s *Service) countInBand(playerID string, txType models.TransactionType, since, until time.Time, low, high decimal.Decimal) int {
	txs := s.store.ListTransactionsByType(playerID, txType, since, until)
	count := 0
	for _, tx := range txs {
		if tx.Amount.GreaterThanOrEqual(low) && tx.Amount.LessThan(high) {
			count++
		}
	}
	return count
}

// maxClusterCount finds the largest number of transactions whose
// amounts fall within any single band of the given width.
func (s *Service) maxClusterCount(playerID string, txType models.TransactionType, since, until time.Time, width decimal.Decimal) int {
	txs := s.store.ListTransactionsByType(playerID, txType, since, until)
	best := 0
	for _, anchor := range txs {
		count := 0
		for _, tx := range txs {
			diff := tx.Amount.Sub(anchor.Amount)
			if diff.Sign() >= 0 && diff.LessThanOrEqual(width) {
				count++
			}
		}
		if count > best {
			best = count
		}
	}
	return best
}

func (s *Service) evalUnusualPattern(tx *models.Transaction, now time.Time) (triggeredRule, bool) {
	thirtyDays := 30 * 24 * time.Hour
	until := now.Add(time.Second)

	// The transaction under analysis is already in the ledger; take it
	// back out so it is compared against its own history, not itself.
	sum30, count30 := s.store.SumAndCount(tx.PlayerID, tx.Type, now.Add(-thirtyDays), until)
	if count30 > 0 && !tx.CreatedAt.Before(now.Add(-thirtyDays)) {
		sum30 = sum30.Sub(tx.Amount)
		count30--
	}

	recent := s.store.RecentTransactions(tx.PlayerID, tx.Type, 5)
	var max5, sum5 decimal.Decimal
	recentCount := 0
	for _, r := range recent {
		if r.TransactionID == tx.TransactionID {
			continue
		}
		if r.Amount.GreaterThan(max5) {
			max5 = r.Amount
		}
		sum5 = sum5.Add(r.Amount)
		recentCount++
	}
	avg5 := decimal.Zero
	if recentCount > 0 {
		avg5 = sum5.Div(decimal.NewFromInt(int64(recentCount)))
	}

	cond1 := false
	if count30 > 0 {
		avg30 := sum30.Div(decimal.NewFromInt(int64(count30)))
		cond1 = avg30.Sign() > 0 && tx.Amount.GreaterThan(avg30.Mul(decimal.NewFromInt(3)))
	}
	cond2 := max5.Sign() > 0 && tx.Amount.GreaterThan(max5.Mul(decimal.NewFromInt(2))) &&
		avg5.Sign() > 0 && tx.Amount.GreaterThan(avg5.Mul(decimal.NewFromInt(3)))

	if !cond1 && !cond2 {
		return triggeredRule{}, false
	}

	score := 40.0
	if cond1 && cond2 {
		score = 50
	}
	if hour := tx.CreatedAt.UTC().Hour(); hour >= 1 && hour < 5 {
		score += 10
	}
	if score > 60 {
		score = 60
	}
	return triggeredRule{alertType: models.AlertUnusualPattern, score: score, detectionRule: "unusual_pattern", priority: alertPriority[models.AlertUnusualPattern]}, true
}

// =============================================================================
// RISK PROFILE
// =============================================================================

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// updateRiskProfile recomputes the player's rolling risk aggregate
// wholesale from the store, never incrementally. Debit transactions serve
// double duty here as both wagering and withdrawal activity, since the
// ledger does not distinguish a gameplay wager from a cash withdrawal.
func (s *Service) updateRiskProfile(tx *models.Transaction, transactionRiskScore float64, now time.Time) {
	sevenDays := 7 * 24 * time.Hour
	thirtyDays := 30 * 24 * time.Hour
	until := now.Add(time.Second)

	depositAmount7, depositCount7 := s.store.SumAndCount(tx.PlayerID, models.TxTypeCredit, now.Add(-sevenDays), until)
	depositAmount30, depositCount30 := s.store.SumAndCount(tx.PlayerID, models.TxTypeCredit, now.Add(-thirtyDays), until)
	withdrawalAmount7, withdrawalCount7 := s.store.SumAndCount(tx.PlayerID, models.TxTypeDebit, now.Add(-sevenDays), until)
	withdrawalAmount30, withdrawalCount30 := s.store.SumAndCount(tx.PlayerID, models.TxTypeDebit, now.Add(-thirtyDays), until)

	existing, _ := s.store.GetRiskProfile(tx.PlayerID)
	profile := existing
	if profile == nil {
		profile = &models.AMLRiskProfile{PlayerID: tx.PlayerID}
	}

	if lastDeposit := s.store.LatestTransactionTime(tx.PlayerID, models.TxTypeCredit); !lastDeposit.IsZero() {
		profile.LastDepositAt = &lastDeposit
	}
	if lastWithdrawal := s.store.LatestTransactionTime(tx.PlayerID, models.TxTypeDebit); !lastWithdrawal.IsZero() {
		profile.LastWithdrawalAt = &lastWithdrawal
	}
	if tx.Type == models.TxTypeDebit {
		t := now
		profile.LastPlayedAt = &t
	}

	profile.DepositCount7d = depositCount7
	profile.DepositAmount7d = depositAmount7
	profile.DepositCount30d = depositCount30
	profile.DepositAmount30d = depositAmount30
	profile.WithdrawalCount7d = withdrawalCount7
	profile.WithdrawalAmount7d = withdrawalAmount7
	profile.WithdrawalCount30d = withdrawalCount30
	profile.WithdrawalAmount30d = withdrawalAmount30

	wagerToDeposit := 0.0
	withdrawalToDeposit := 0.0
	if depositAmount30.Sign() > 0 {
		wagerToDeposit = toFloat(withdrawalAmount30.Div(depositAmount30))
		withdrawalToDeposit = toFloat(withdrawalAmount30.Div(depositAmount30))
	}
	profile.WagerToDepositRatio = wagerToDeposit
	profile.WithdrawalToDepositRatio = withdrawalToDeposit

	ema := func(old float64) float64 {
		return clip(0.6*old+0.4*transactionRiskScore, 0, 100)
	}
	switch tx.Type {
	case models.TxTypeCredit:
		profile.DepositRiskScore = ema(profile.DepositRiskScore)
	case models.TxTypeDebit:
		profile.WithdrawalRiskScore = ema(profile.WithdrawalRiskScore)
		profile.GameplayRiskScore = ema(profile.GameplayRiskScore)
	}

	weighted := 0.4*profile.DepositRiskScore + 0.4*profile.WithdrawalRiskScore + 0.2*profile.GameplayRiskScore
	var overall float64
	if transactionRiskScore >= 70 {
		overall = 0.5*profile.OverallRiskScore + 0.5*transactionRiskScore
	} else {
		overall = weighted
	}

	factors := map[string]any{}
	if wagerToDeposit < 0.1 {
		factors["very_low_wagering"] = map[string]any{"severity": "high"}
		overall = math.Max(overall, 70)
	} else if wagerToDeposit < 0.3 {
		factors["low_wagering"] = map[string]any{"severity": "medium"}
	}
	if withdrawalToDeposit > 0.95 {
		factors["high_withdrawal_ratio"] = map[string]any{"severity": "high"}
		overall = math.Max(overall, 75)
	}
	if depositCount7 > 50 {
		avg7 := depositAmount7.Div(decimal.NewFromInt(int64(depositCount7)))
		if avg7.LessThan(decimal.NewFromFloat(1e6)) {
			factors["multiple_small_deposits"] = map[string]any{"severity": "medium"}
		}
	}
	if transactionRiskScore >= 50 {
		factors["high_risk_transaction"] = map[string]any{"severity": "medium"}
	}

	profile.RiskFactors = factors
	profile.OverallRiskScore = clip(overall, 0, 100)
	profile.LastAssessmentAt = now

	s.store.PutRiskProfile(profile)
}

// ListHighRiskPlayers returns risk profiles with an overall score at
// or above 70, descending.
func (s *Service) ListHighRiskPlayers(ctx context.Context) []models.AMLRiskProfile {
	return s.store.ListHighRiskProfiles(70)
}
