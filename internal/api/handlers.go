// Package api provides the HTTP surface for the wallet/AML core:
// casino-operator bootstrap auth, the wallet mutation endpoints, and
// the admin-only AML endpoints. Handlers validate requests, enforce
// the authenticated-player-matches-body rule, delegate to
// internal/wallet and internal/aml, and translate domain errors into
// an HTTP status plus a localized detail string.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/casinocore/wallet-engine/internal/aml"
	"github.com/casinocore/wallet-engine/internal/auth"
	"github.com/casinocore/wallet-engine/internal/cache"
	"github.com/casinocore/wallet-engine/internal/events"
	"github.com/casinocore/wallet-engine/internal/i18n"
	"github.com/casinocore/wallet-engine/internal/models"
	"github.com/casinocore/wallet-engine/internal/scheduler"
	"github.com/casinocore/wallet-engine/internal/store"
	"github.com/casinocore/wallet-engine/internal/wallet"
	"github.com/casinocore/wallet-engine/internal/walleterr"
)

// =============================================================================
// HANDLER DEPENDENCIES
// =============================================================================

// Handler holds everything the HTTP surface delegates to: the wallet
// and AML services, the raw store (for a few read-only AML admin
// queries that don't warrant their own service method), the token
// issuer, and the post-commit scheduler.
type Handler struct {
	store     *store.Store
	wallet    *wallet.Service
	aml       *aml.Service
	issuer    *auth.Issuer
	cache     *cache.Cache
	events    *events.Bus
	scheduler *scheduler.Scheduler
}

// NewHandler constructs a Handler wiring all request-scoped dependencies.
func NewHandler(st *store.Store, ws *wallet.Service, as *aml.Service, issuer *auth.Issuer, c *cache.Cache, bus *events.Bus, sched *scheduler.Scheduler) *Handler {
	return &Handler{store: st, wallet: ws, aml: as, issuer: issuer, cache: c, events: bus, scheduler: sched}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// APIResponse describes the response envelope: a status plus either
// data or an error/code pair. Handlers build their envelopes as maps
// through respondJSON rather than through this type, and most success
// responses put the operation's fields beside status instead of under
// data.
type APIResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
	Code   string      `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondOK(w http.ResponseWriter, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["status"] = "ok"
	respondJSON(w, http.StatusOK, fields)
}

// errorStatus maps a domain error Kind to its HTTP status.
func errorStatus(kind walleterr.Kind) int {
	switch kind {
	case walleterr.KindPlayerIDMismatch:
		return http.StatusForbidden
	case walleterr.KindPlayerNotFound, walleterr.KindWalletNotFound, walleterr.KindTransactionNotFound:
		return http.StatusNotFound
	case walleterr.KindTransactionAlreadyProcessed:
		return http.StatusConflict
	case walleterr.KindInsufficientFunds:
		return http.StatusBadRequest
	case walleterr.KindInvalidAmount:
		return http.StatusUnprocessableEntity
	case walleterr.KindInvalidCredentials:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the translated error envelope for err. It does
// not log anything, internal_server_error included.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := walleterr.KindOf(err)
	locale := i18n.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	respondJSON(w, errorStatus(kind), map[string]any{
		"status": "error",
		"error":  i18n.Detail(locale, kind),
		"code":   string(kind),
	})
}

// =============================================================================
// BOOTSTRAP AUTH (non-HTTP-framework upstream handshake)
// =============================================================================

type bootstrapPlayer struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Country   string `json:"country"`
	Currency  string `json:"currency"`
	Session   struct {
		ID string `json:"id"`
		IP string `json:"ip"`
	} `json:"session"`
}

type bootstrapRequest struct {
	UUID   string           `json:"uuid"`
	Player bootstrapPlayer  `json:"player"`
}

// Bootstrap handles POST /ua/v1/{casino_key}/{api_token}: it upserts
// the embedded player and mints a bearer token for it. The casino_key
// and api_token path segments are not read or checked here.
func (h *Handler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Player.ID == "" {
		h.respondError(w, r, walleterr.New(walleterr.KindInvalidAmount, "malformed bootstrap request", nil))
		return
	}

	player := &models.Player{
		PlayerID:  req.Player.ID,
		FirstName: req.Player.FirstName,
		LastName:  req.Player.LastName,
		Country:   req.Player.Country,
		Currency:  req.Player.Currency,
	}
	if _, err := h.store.UpsertPlayer(player); err != nil {
		h.respondError(w, r, err)
		return
	}

	token, err := h.issuer.GenerateToken(req.Player.ID, "")
	if err != nil {
		h.respondError(w, r, walleterr.New(walleterr.KindInternal, "token issuance failed", nil))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"entry":         map[string]any{"params": token},
		"entryEmbedded": map[string]any{"params": token},
	})
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

type walletRequest struct {
	UUID                   string `json:"uuid"`
	PlayerID               string `json:"player_id"`
	TransactionID          string `json:"transaction_id"`
	OriginalTransactionID  string `json:"original_transaction_id"`
	Amount                 string `json:"amount"`
}

// authorizePlayer requires the body player_id to match the
// authenticated credential unless the credential carries the admin role.
func authorizePlayer(r *http.Request, bodyPlayerID string) error {
	claims := auth.GetUserFromContext(r.Context())
	if claims == nil {
		return walleterr.New(walleterr.KindInvalidCredentials, "missing credentials", nil)
	}
	if claims.IsAdmin() {
		return nil
	}
	if claims.PlayerID != bodyPlayerID {
		return walleterr.New(walleterr.KindPlayerIDMismatch, "player_id does not match credential", map[string]any{
			"credential_player_id": claims.PlayerID, "body_player_id": bodyPlayerID,
		})
	}
	return nil
}

func decodeWalletRequest(r *http.Request) (*walletRequest, error) {
	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, walleterr.New(walleterr.KindInvalidAmount, "malformed request body", nil)
	}
	if req.PlayerID == "" {
		return nil, walleterr.New(walleterr.KindInvalidAmount, "player_id is required", nil)
	}
	return &req, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, walleterr.New(walleterr.KindInvalidAmount, "amount is not a valid decimal", map[string]any{"amount": raw})
	}
	if amt.Sign() <= 0 {
		return decimal.Zero, walleterr.New(walleterr.KindInvalidAmount, "amount must be positive", map[string]any{"amount": raw})
	}
	if amt.Exponent() < -2 {
		return decimal.Zero, walleterr.New(walleterr.KindInvalidAmount, "amount must have at most two fractional digits", map[string]any{"amount": raw})
	}
	return amt, nil
}

// Check handles POST /api/check.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	req, err := decodeWalletRequest(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := authorizePlayer(r, req.PlayerID); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.wallet.Check(r.Context(), req.PlayerID); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{"uuid": req.UUID, "player_id": req.PlayerID})
}

// Balance handles POST /api/balance.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	req, err := decodeWalletRequest(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := authorizePlayer(r, req.PlayerID); err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.wallet.Balance(r.Context(), req.PlayerID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{
		"balance": result.Balance.StringFixed(2), "currency": result.Currency,
		"uuid": req.UUID, "player_id": req.PlayerID, "cache_hit": result.CacheHit,
	})
}

// Debit handles POST /api/debit.
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	req, err := decodeWalletRequest(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.TransactionID == "" {
		h.respondError(w, r, walleterr.New(walleterr.KindInvalidAmount, "transaction_id is required", nil))
		return
	}
	if err := authorizePlayer(r, req.PlayerID); err != nil {
		h.respondError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.wallet.Debit(r.Context(), req.PlayerID, amount, req.TransactionID, nil)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.scheduleAsyncAnalysis(req.TransactionID)
	respondOK(w, map[string]any{
		"balance": result.Balance.StringFixed(2), "currency": result.Currency,
		"transaction_id": result.TransactionID, "uuid": req.UUID, "player_id": req.PlayerID,
	})
}

// Credit handles POST /api/credit.
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	req, err := decodeWalletRequest(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.TransactionID == "" {
		h.respondError(w, r, walleterr.New(walleterr.KindInvalidAmount, "transaction_id is required", nil))
		return
	}
	if err := authorizePlayer(r, req.PlayerID); err != nil {
		h.respondError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.wallet.Credit(r.Context(), req.PlayerID, amount, req.TransactionID, nil)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.scheduleAsyncAnalysis(req.TransactionID)
	respondOK(w, map[string]any{
		"balance": result.Balance.StringFixed(2), "currency": result.Currency,
		"transaction_id": result.TransactionID, "uuid": req.UUID, "player_id": req.PlayerID,
	})
}

// Cancel handles POST /api/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, err := decodeWalletRequest(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.TransactionID == "" || req.OriginalTransactionID == "" {
		h.respondError(w, r, walleterr.New(walleterr.KindInvalidAmount, "transaction_id and original_transaction_id are required", nil))
		return
	}
	if err := authorizePlayer(r, req.PlayerID); err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.wallet.Cancel(r.Context(), req.PlayerID, req.TransactionID, req.OriginalTransactionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{
		"balance": result.Balance.StringFixed(2), "currency": result.Currency,
		"transaction_id": result.TransactionID, "original_transaction_id": result.RefTransactionID,
		"uuid": req.UUID, "player_id": req.PlayerID,
	})
}

// scheduleAsyncAnalysis enqueues AML analysis as post-commit background
// work. A failure here is logged by the scheduler and never reaches
// the originating wallet mutation.
func (h *Handler) scheduleAsyncAnalysis(transactionID string) {
	if h.scheduler == nil || h.aml == nil {
		return
	}
	h.scheduler.Submit("aml.analyze", func(ctx context.Context) error {
		result, err := h.aml.Analyze(ctx, transactionID)
		if err != nil {
			return err
		}
		if result.AlertType != "" && h.events != nil {
			h.events.Publish(ctx, events.ChannelAMLAlerts, "aml_alert_raised", map[string]any{
				"player_id":      result.PlayerID,
				"transaction_id": result.TransactionID,
				"alert_id":       result.AlertID,
				"alert_type":     result.AlertType,
				"risk_score":     result.RiskScore,
			})
		}
		return nil
	})
}

// =============================================================================
// AML HANDLERS (admin role required)
// =============================================================================

// AnalyzeTransaction handles POST /aml/analyze-transaction/{transaction_id}.
func (h *Handler) AnalyzeTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := mux.Vars(r)["transaction_id"]
	result, err := h.aml.Analyze(r.Context(), transactionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, map[string]any{
		"transaction_id":                result.TransactionID,
		"player_id":                     result.PlayerID,
		"risk_score":                    result.RiskScore,
		"is_large_transaction":          result.IsLargeTransaction,
		"is_politically_exposed_person": result.IsPoliticallyExposedPerson,
		"is_high_risk_country":          result.IsHighRiskCountry,
		"is_structuring_attempt":        result.IsStructuringAttempt,
		"is_unusual_pattern":            result.IsUnusualPattern,
		"alert_type":                    result.AlertType,
		"alert_id":                      result.AlertID,
		"reporting_jurisdiction":        result.ReportingJurisdiction,
	})
}

type createAlertRequest struct {
	PlayerID      string   `json:"player_id"`
	Type          string   `json:"type"`
	Severity      string   `json:"severity"`
	Description   string   `json:"description"`
	TransactionIDs []string `json:"transaction_ids"`
}

// CreateAlert handles POST /aml/alerts: a manual alert raised by an
// analyst outside the rule engine.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		h.respondError(w, r, walleterr.New(walleterr.KindInvalidAmount, "malformed alert request", nil))
		return
	}
	alert := &models.AMLAlert{
		PlayerID:       req.PlayerID,
		Type:           models.AlertManual,
		Severity:       models.AlertSeverity(req.Severity),
		Status:         models.AlertStatusNew,
		Description:    req.Description,
		DetectionRule:  "manual",
		TransactionIDs: req.TransactionIDs,
	}
	if alert.Severity == "" {
		alert.Severity = models.SeverityLow
	}
	created := h.store.CreateAlert(alert)
	respondJSON(w, http.StatusCreated, map[string]any{"status": "ok", "data": created})
}

// ListAlerts handles GET /aml/alerts[?status,severity,player_id,limit,offset].
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AlertFilter{
		PlayerID: q.Get("player_id"),
		Status:   models.AlertStatus(q.Get("status")),
		Severity: models.AlertSeverity(q.Get("severity")),
		Limit:    atoiOr(q.Get("limit"), 50),
		Offset:   atoiOr(q.Get("offset"), 0),
	}
	alerts := h.store.ListAlerts(filter)
	respondOK(w, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// GetAlert handles GET /aml/alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, r, walleterr.New(walleterr.KindInvalidAmount, "invalid alert id", nil))
		return
	}
	alert, ok := h.store.GetAlert(id)
	if !ok {
		h.respondError(w, r, walleterr.New(walleterr.KindTransactionNotFound, "alert not found", map[string]any{"id": id}))
		return
	}
	respondOK(w, map[string]any{"alert": alert})
}

type updateAlertStatusRequest struct {
	Status          string `json:"status"`
	ReviewedBy      string `json:"reviewed_by"`
	ReviewNotes     string `json:"review_notes"`
	ReportReference string `json:"report_reference"`
}

// UpdateAlertStatus handles PUT /aml/alerts/{id}/status for the
// NEW -> INVESTIGATING -> (DISMISSED|REPORTED|CLOSED) lifecycle: a
// transition to REPORTED stamps ReportedAt, any transition out of NEW
// stamps ReviewedAt. The requested status is stored as given; neither
// its value nor the lifecycle order is checked.
func (h *Handler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, r, walleterr.New(walleterr.KindInvalidAmount, "invalid alert id", nil))
		return
	}
	var req updateAlertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		h.respondError(w, r, walleterr.New(walleterr.KindInvalidAmount, "status is required", nil))
		return
	}
	alert, ok := h.store.GetAlert(id)
	if !ok {
		h.respondError(w, r, walleterr.New(walleterr.KindTransactionNotFound, "alert not found", map[string]any{"id": id}))
		return
	}

	now := time.Now().UTC()
	newStatus := models.AlertStatus(req.Status)
	if alert.Status == models.AlertStatusNew && newStatus != models.AlertStatusNew {
		alert.ReviewedAt = &now
	}
	if newStatus == models.AlertStatusReported {
		alert.ReportedAt = &now
		alert.ReportReference = req.ReportReference
	}
	alert.Status = newStatus
	if req.ReviewedBy != "" {
		alert.ReviewedBy = req.ReviewedBy
	}
	if req.ReviewNotes != "" {
		alert.ReviewNotes = req.ReviewNotes
	}
	h.store.UpdateAlert(alert)
	respondOK(w, map[string]any{"alert": alert})
}

// GetRiskProfile handles GET /aml/player/{player_id}/risk-profile.
func (h *Handler) GetRiskProfile(w http.ResponseWriter, r *http.Request) {
	playerID := mux.Vars(r)["player_id"]
	profile, ok := h.store.GetRiskProfile(playerID)
	if !ok {
		h.respondError(w, r, walleterr.New(walleterr.KindPlayerNotFound, "no risk profile for player", map[string]any{"player_id": playerID}))
		return
	}
	respondOK(w, map[string]any{"risk_profile": profile})
}

// ListHighRiskPlayers handles GET /aml/high-risk-players.
func (h *Handler) ListHighRiskPlayers(w http.ResponseWriter, r *http.Request) {
	profiles := h.aml.ListHighRiskPlayers(r.Context())
	respondOK(w, map[string]any{"players": profiles, "count": len(profiles)})
}

// GetPlayerAlerts handles GET /aml/player/{player_id}/alerts.
func (h *Handler) GetPlayerAlerts(w http.ResponseWriter, r *http.Request) {
	playerID := mux.Vars(r)["player_id"]
	alerts := h.store.ListAlerts(store.AlertFilter{PlayerID: playerID, Limit: 500})
	respondOK(w, map[string]any{"alerts": alerts, "count": len(alerts)})
}

type createReportRequest struct {
	PlayerID       string   `json:"player_id"`
	ReportType     string   `json:"report_type"`
	Jurisdiction   string   `json:"jurisdiction"`
	AlertID        int64    `json:"alert_id"`
	TransactionIDs []string `json:"transaction_ids"`
	Notes          string   `json:"notes"`
}

// CreateReport handles POST /aml/report.
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
		h.respondError(w, r, walleterr.New(walleterr.KindInvalidAmount, "malformed report request", nil))
		return
	}
	reportType := models.ReportType(req.ReportType)
	switch reportType {
	case models.ReportSTR, models.ReportCTR, models.ReportSAR:
	default:
		h.respondError(w, r, walleterr.New(walleterr.KindInvalidAmount, "report_type must be one of STR, CTR, SAR", map[string]any{"report_type": req.ReportType}))
		return
	}

	report := &models.AMLReport{
		ReportID:       uuid.NewString(),
		PlayerID:       req.PlayerID,
		ReportType:     reportType,
		Jurisdiction:   req.Jurisdiction,
		AlertID:        req.AlertID,
		TransactionIDs: req.TransactionIDs,
		Notes:          req.Notes,
		Status:         models.ReportStatusDraft,
	}
	if claims := auth.GetUserFromContext(r.Context()); claims != nil {
		report.CreatedBy = claims.PlayerID
	}
	created := h.store.CreateReport(report)

	if h.scheduler != nil && h.events != nil {
		h.scheduler.SubmitWithTimeout("event.aml_report_created", scheduler.EventPublishTimeout, func(ctx context.Context) error {
			h.events.Publish(ctx, events.ChannelAMLReports, "aml_report_created", map[string]any{
				"report_id": created.ReportID, "player_id": created.PlayerID, "report_type": string(created.ReportType),
			})
			return nil
		})
	}

	respondJSON(w, http.StatusCreated, map[string]any{"status": "ok", "data": created})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]any{"time": time.Now().UTC().Format(time.RFC3339)})
}

func atoiOr(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
