// Package models defines the data structures shared across the wallet
// and AML subsystems: players, wallets, the append-only transaction
// ledger, and the AML alert/risk-profile/report records.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PLAYER & WALLET MODELS
// =============================================================================

// Player is the identity record a wallet and its transactions hang off of.
// Created on first authenticated appearance; mutated only by profile
// updates; never deleted (soft-anonymized on GDPR erasure).
type Player struct {
	PlayerID  string    `json:"player_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Country   string    `json:"country"`  // ISO-3166-1 alpha-2
	Currency  string    `json:"currency"` // ISO-4217
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Wallet is one-to-one with Player. Currency is fixed at creation time
// and equals the owning Player's currency; it never changes afterward.
// Balance must never be negative after a committed mutation.
type Wallet struct {
	PlayerID  string          `json:"player_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TransactionType enumerates the three ledger entry kinds.
type TransactionType string

const (
	TxTypeDebit  TransactionType = "debit"
	TxTypeCredit TransactionType = "credit"
	TxTypeCancel TransactionType = "cancel"
)

// TransactionStatus tracks whether a ledger entry still stands.
type TransactionStatus string

const (
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusCanceled  TransactionStatus = "canceled"
)

// Transaction is an append-only ledger entry. No row is ever updated
// after insert except the single status flip a cancel performs on the
// transaction it references. TransactionID is the client-supplied
// idempotency key and is unique across the entire table; ID is a
// surrogate numeric identifier assigned by the store.
type Transaction struct {
	ID                int64             `json:"id"`
	TransactionID     string            `json:"transaction_id"`
	PlayerID          string            `json:"player_id"`
	Type              TransactionType   `json:"type"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`
	Status            TransactionStatus `json:"status"`
	OriginalBalance   decimal.Decimal   `json:"original_balance"`
	UpdatedBalance    decimal.Decimal   `json:"updated_balance"`
	RefTransactionID  string            `json:"ref_transaction_id,omitempty"`
	Provider          string            `json:"provider,omitempty"`
	GameID            string            `json:"game_id,omitempty"`
	SessionID         string            `json:"session_id,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// =============================================================================
// AML MODELS
// =============================================================================

// AlertType enumerates the rule categories AMLService can raise.
type AlertType string

const (
	AlertLargeTransaction AlertType = "LARGE_TRANSACTION"
	AlertUnusualPattern   AlertType = "UNUSUAL_PATTERN"
	AlertStructuring      AlertType = "STRUCTURING"
	AlertHighRiskCountry  AlertType = "HIGH_RISK_COUNTRY"
	AlertSanctionsMatch   AlertType = "SANCTIONS_MATCH"
	AlertPEPMatch         AlertType = "PEP_MATCH"
	AlertRapidMovement    AlertType = "RAPID_MOVEMENT"
	AlertManual           AlertType = "MANUAL"
)

// AlertSeverity ranks how urgently an alert needs review.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// AlertStatus tracks an alert through its review lifecycle:
// NEW -> INVESTIGATING -> (DISMISSED | REPORTED | CLOSED).
type AlertStatus string

const (
	AlertStatusNew           AlertStatus = "NEW"
	AlertStatusInvestigating AlertStatus = "INVESTIGATING"
	AlertStatusDismissed     AlertStatus = "DISMISSED"
	AlertStatusReported      AlertStatus = "REPORTED"
	AlertStatusClosed        AlertStatus = "CLOSED"
)

// AMLAlert is a single risk-rule hit, at most one per analysis run.
// Transitioning to REPORTED sets ReportedAt; transitioning out of NEW
// sets ReviewedAt.
type AMLAlert struct {
	ID                 int64          `json:"id"`
	PlayerID           string         `json:"player_id"`
	Type               AlertType      `json:"type"`
	Severity           AlertSeverity  `json:"severity"`
	Status             AlertStatus    `json:"status"`
	Description        string         `json:"description"`
	DetectionRule      string         `json:"detection_rule"`
	RiskScore          float64        `json:"risk_score"` // 0-100, clipped
	TransactionIDs     []string       `json:"transaction_ids"`
	TransactionDetails map[string]any `json:"transaction_details,omitempty"`
	AlertData          map[string]any `json:"alert_data,omitempty"`
	ReviewedBy         string         `json:"reviewed_by,omitempty"`
	ReviewNotes        string         `json:"review_notes,omitempty"`
	ReviewedAt         *time.Time     `json:"reviewed_at,omitempty"`
	ReportedAt         *time.Time     `json:"reported_at,omitempty"`
	ReportReference    string         `json:"report_reference,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// AMLRiskProfile is the rolling per-player risk aggregate. Created on
// first analysis touching the player, recomputed wholesale by every
// subsequent analysis, never deleted.
type AMLRiskProfile struct {
	PlayerID                 string          `json:"player_id"`
	OverallRiskScore         float64         `json:"overall_risk_score"`
	DepositRiskScore         float64         `json:"deposit_risk_score"`
	WithdrawalRiskScore      float64         `json:"withdrawal_risk_score"`
	GameplayRiskScore        float64         `json:"gameplay_risk_score"`
	LastDepositAt            *time.Time      `json:"last_deposit_at,omitempty"`
	LastWithdrawalAt         *time.Time      `json:"last_withdrawal_at,omitempty"`
	LastPlayedAt             *time.Time      `json:"last_played_at,omitempty"`
	DepositCount7d           int             `json:"deposit_count_7d"`
	DepositAmount7d          decimal.Decimal `json:"deposit_amount_7d"`
	DepositCount30d          int             `json:"deposit_count_30d"`
	DepositAmount30d         decimal.Decimal `json:"deposit_amount_30d"`
	WithdrawalCount7d        int             `json:"withdrawal_count_7d"`
	WithdrawalAmount7d       decimal.Decimal `json:"withdrawal_amount_7d"`
	WithdrawalCount30d       int             `json:"withdrawal_count_30d"`
	WithdrawalAmount30d      decimal.Decimal `json:"withdrawal_amount_30d"`
	WagerToDepositRatio      float64         `json:"wager_to_deposit_ratio"`
	WithdrawalToDepositRatio float64         `json:"withdrawal_to_deposit_ratio"`
	RiskFactors              map[string]any  `json:"risk_factors,omitempty"`
	LastAssessmentAt         time.Time       `json:"last_assessment_at"`
}

// ReportType enumerates the regulatory report categories.
type ReportType string

const (
	ReportSTR ReportType = "STR"
	ReportCTR ReportType = "CTR"
	ReportSAR ReportType = "SAR"
)

// ReportStatus tracks the placeholder report record, status-only
// mutations after creation.
type ReportStatus string

const (
	ReportStatusDraft        ReportStatus = "draft"
	ReportStatusSubmitted    ReportStatus = "submitted"
	ReportStatusAcknowledged ReportStatus = "acknowledged"
)

// AMLReport is a regulatory report placeholder; only the record is
// persisted, formatting and submission are out of scope.
type AMLReport struct {
	ReportID       string       `json:"report_id"`
	PlayerID       string       `json:"player_id"`
	ReportType     ReportType   `json:"report_type"`
	Jurisdiction   string       `json:"jurisdiction"`
	AlertID        int64        `json:"alert_id,omitempty"`
	TransactionIDs []string     `json:"transaction_ids,omitempty"`
	Notes          string       `json:"notes,omitempty"`
	Status         ReportStatus `json:"status"`
	CreatedBy      string       `json:"created_by,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
