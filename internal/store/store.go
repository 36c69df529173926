// Package store provides the durable persistence layer: players,
// wallets, the transaction ledger, and AML alerts/profiles/reports. It
// exposes a transactional session with per-player row locking in place
// of a real database's `SELECT ... FOR UPDATE`, and relies on a unique
// constraint on Transaction.TransactionID as the idempotency signal the
// wallet service depends on.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/casinocore/wallet-engine/internal/encryption"
	"github.com/casinocore/wallet-engine/internal/models"
	"github.com/casinocore/wallet-engine/internal/walleterr"
)

// Store is a thread-safe in-memory data store standing in for a real
// relational database. Every exported method acquires only the locks
// it needs; row-level serialization within a player is provided by
// Begin/Session, not by Store's own mutexes.
type Store struct {
	mu       sync.RWMutex
	players  map[string]*models.Player
	wallets  map[string]*models.Wallet

	txMu         sync.RWMutex
	transactions map[string]*models.Transaction // keyed by TransactionID
	txByPlayer   map[string][]string            // playerID -> []TransactionID, insertion order
	txSeq        int64

	alertMu  sync.RWMutex
	alerts   map[int64]*models.AMLAlert
	alertSeq int64

	profileMu sync.RWMutex
	profiles  map[string]*models.AMLRiskProfile

	reportMu sync.RWMutex
	reports  map[string]*models.AMLReport

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	pii *encryption.Box
}

// New creates an empty in-memory Store. pii may be nil, in which case
// Player names are stored in clear text (development/test use only).
func New(pii *encryption.Box) *Store {
	return &Store{
		players:      make(map[string]*models.Player),
		wallets:      make(map[string]*models.Wallet),
		transactions: make(map[string]*models.Transaction),
		txByPlayer:   make(map[string][]string),
		alerts:       make(map[int64]*models.AMLAlert),
		profiles:     make(map[string]*models.AMLRiskProfile),
		reports:      make(map[string]*models.AMLReport),
		locks:        make(map[string]*sync.Mutex),
		pii:          pii,
	}
}

// sealPII encrypts a player's name fields in place before they are
// stored, when a Box is configured.
func (s *Store) sealPII(p *models.Player) {
	if s.pii == nil {
		return
	}
	if v, err := s.pii.Encrypt(p.FirstName); err == nil {
		p.FirstName = v
	}
	if v, err := s.pii.Encrypt(p.LastName); err == nil {
		p.LastName = v
	}
}

// openPII decrypts a player's name fields before they are returned to
// a caller, when a Box is configured. Decryption failure leaves the
// (still-encrypted) field untouched rather than failing the read.
func (s *Store) openPII(p *models.Player) {
	if s.pii == nil {
		return
	}
	if v, err := s.pii.Decrypt(p.FirstName); err == nil {
		p.FirstName = v
	}
	if v, err := s.pii.Decrypt(p.LastName); err == nil {
		p.LastName = v
	}
}

func (s *Store) playerLock(playerID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[playerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[playerID] = l
	}
	return l
}

// =============================================================================
// PLAYERS
// =============================================================================

// UpsertPlayer creates a player record on first appearance, or updates
// the mutable profile fields on subsequent ones.
func (s *Store) UpsertPlayer(p *models.Player) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sealed := *p
	s.sealPII(&sealed)

	existing, ok := s.players[p.PlayerID]
	if !ok {
		sealed.CreatedAt = now
		sealed.UpdatedAt = now
		s.players[p.PlayerID] = &sealed
		cp := sealed
		s.openPII(&cp)
		return &cp, nil
	}

	existing.FirstName = sealed.FirstName
	existing.LastName = sealed.LastName
	existing.Country = p.Country
	existing.Currency = p.Currency
	existing.UpdatedAt = now
	cp := *existing
	s.openPII(&cp)
	return &cp, nil
}

// GetPlayer looks up a player by id.
func (s *Store) GetPlayer(playerID string) (*models.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[playerID]
	if !ok {
		return nil, walleterr.New(walleterr.KindPlayerNotFound, "player not found", map[string]any{"player_id": playerID})
	}
	cp := *p
	s.openPII(&cp)
	return &cp, nil
}

// =============================================================================
// WALLETS (read-only outside a Session)
// =============================================================================

// GetWallet returns the wallet for a player without taking the row lock.
// Callers on the mutation path must use Session.GetWalletForUpdate instead.
func (s *Store) GetWallet(playerID string) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[playerID]
	if !ok {
		return nil, walleterr.New(walleterr.KindWalletNotFound, "wallet not found", map[string]any{"player_id": playerID})
	}
	cp := *w
	return &cp, nil
}

// =============================================================================
// TRANSACTIONAL SESSION
// =============================================================================

// Session is a scoped transaction holding the per-player row lock from
// acquisition through Commit or Rollback. Wallet mutations happen on a
// private working copy installed into the store only at Commit, so a
// concurrent reader never observes an uncommitted balance and a rolled
// back session leaves the committed wallet untouched. Transactions
// inserted during the session are removed again on Rollback.
type Session struct {
	store    *Store
	playerID string
	lock     *sync.Mutex
	pending  *models.Wallet // working copy; installed at Commit when dirty
	dirty    bool
	inserted []string // TransactionIDs inserted this session, for rollback
	canceled []string // TransactionIDs whose status this session flipped, for rollback
	done     bool
}

// Begin acquires the row lock for playerID and opens a scoped
// transaction. The lock blocks other writers of the same player's
// wallet until Commit or Rollback.
func (s *Store) Begin(ctx context.Context, playerID string) (*Session, error) {
	lock := s.playerLock(playerID)
	lock.Lock()
	return &Session{store: s, playerID: playerID, lock: lock}, nil
}

// GetWalletForUpdate returns the session's working copy of the wallet,
// or walleterr.KindWalletNotFound if none exists. The copy is taken
// once per session; repeated calls return the same copy.
func (sess *Session) GetWalletForUpdate() (*models.Wallet, error) {
	if sess.pending != nil {
		return sess.pending, nil
	}

	sess.store.mu.RLock()
	w, ok := sess.store.wallets[sess.playerID]
	if !ok {
		sess.store.mu.RUnlock()
		return nil, walleterr.New(walleterr.KindWalletNotFound, "wallet not found", map[string]any{"player_id": sess.playerID})
	}
	cp := *w
	sess.store.mu.RUnlock()

	sess.pending = &cp
	return sess.pending, nil
}

// CreateWallet lazily creates a wallet for the player, used by credit's
// auto-create path. Like every session write, the wallet only becomes
// visible to other readers at Commit.
func (sess *Session) CreateWallet(currency string) *models.Wallet {
	now := time.Now().UTC()
	sess.pending = &models.Wallet{
		PlayerID:  sess.playerID,
		Balance:   decimal.Zero,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sess.dirty = true
	return sess.pending
}

// SetBalance mutates the session's working copy. The wallet must have
// been obtained from this session (GetWalletForUpdate/CreateWallet).
func (sess *Session) SetBalance(w *models.Wallet, balance decimal.Decimal) {
	w.Balance = balance
	w.UpdatedAt = time.Now().UTC()
	sess.dirty = true
}

// InsertTransaction appends a ledger row. The unique constraint on
// TransactionID is the idempotency mechanism the wallet service relies
// on: a duplicate insert fails with KindTransactionAlreadyProcessed
// instead of silently overwriting.
func (sess *Session) InsertTransaction(tx *models.Transaction) (*models.Transaction, error) {
	sess.store.txMu.Lock()
	defer sess.store.txMu.Unlock()

	if _, exists := sess.store.transactions[tx.TransactionID]; exists {
		return nil, walleterr.New(walleterr.KindTransactionAlreadyProcessed, "duplicate transaction_id", map[string]any{"transaction_id": tx.TransactionID})
	}

	sess.store.txSeq++
	tx.ID = sess.store.txSeq
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	sess.store.transactions[tx.TransactionID] = tx
	sess.store.txByPlayer[tx.PlayerID] = append(sess.store.txByPlayer[tx.PlayerID], tx.TransactionID)
	sess.inserted = append(sess.inserted, tx.TransactionID)

	return tx, nil
}

// CancelTransaction flips the referenced transaction's status to
// canceled. The caller is responsible for the precondition checks
// (status=completed, type in {debit,credit}).
func (sess *Session) CancelTransaction(refTransactionID string) error {
	sess.store.txMu.Lock()
	defer sess.store.txMu.Unlock()

	ref, ok := sess.store.transactions[refTransactionID]
	if !ok {
		return walleterr.New(walleterr.KindTransactionNotFound, "reference transaction not found", map[string]any{"transaction_id": refTransactionID})
	}
	ref.Status = models.TxStatusCanceled
	sess.canceled = append(sess.canceled, refTransactionID)
	return nil
}

// Commit installs the session's wallet working copy (if any mutation
// happened) and releases the row lock, retaining every write made
// during the session.
func (sess *Session) Commit() error {
	if sess.done {
		return nil
	}
	sess.done = true

	if sess.dirty && sess.pending != nil {
		cp := *sess.pending
		sess.store.mu.Lock()
		sess.store.wallets[sess.playerID] = &cp
		sess.store.mu.Unlock()
	}

	sess.lock.Unlock()
	return nil
}

// Rollback undoes transactions inserted and cancellations flipped
// during the session, discards the wallet working copy, and releases
// the row lock.
func (sess *Session) Rollback() error {
	if sess.done {
		return nil
	}
	sess.done = true
	defer sess.lock.Unlock()

	sess.store.txMu.Lock()
	for _, txID := range sess.inserted {
		tx := sess.store.transactions[txID]
		delete(sess.store.transactions, txID)
		if tx != nil {
			list := sess.store.txByPlayer[tx.PlayerID]
			for i, id := range list {
				if id == txID {
					sess.store.txByPlayer[tx.PlayerID] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
	}
	for _, txID := range sess.canceled {
		if tx, ok := sess.store.transactions[txID]; ok {
			tx.Status = models.TxStatusCompleted
		}
	}
	sess.store.txMu.Unlock()

	sess.pending = nil
	return nil
}

// =============================================================================
// TRANSACTION QUERIES
// =============================================================================

// GetTransactionByID is a point lookup by the client-supplied
// transaction_id.
func (s *Store) GetTransactionByID(transactionID string) (*models.Transaction, bool) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	tx, ok := s.transactions[transactionID]
	if !ok {
		return nil, false
	}
	cp := *tx
	return &cp, true
}

// FindCancelByRef returns the cancel transaction (if any) that already
// references refTransactionID, used by cancel's idempotent-replay check.
func (s *Store) FindCancelByRef(playerID, refTransactionID string) (*models.Transaction, bool) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	for _, txID := range s.txByPlayer[playerID] {
		tx := s.transactions[txID]
		if tx.Type == models.TxTypeCancel && tx.RefTransactionID == refTransactionID {
			cp := *tx
			return &cp, true
		}
	}
	return nil, false
}

// ListTransactionsByType returns a player's transactions of the given
// type within [since, until), in insertion order.
func (s *Store) ListTransactionsByType(playerID string, txType models.TransactionType, since, until time.Time) []models.Transaction {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var out []models.Transaction
	for _, txID := range s.txByPlayer[playerID] {
		tx := s.transactions[txID]
		if tx.Type != txType {
			continue
		}
		if tx.CreatedAt.Before(since) || !tx.CreatedAt.Before(until) {
			continue
		}
		out = append(out, *tx)
	}
	return out
}

// SumAndCount aggregates amount and count for a player's transactions
// of a given type within [since, until).
func (s *Store) SumAndCount(playerID string, txType models.TransactionType, since, until time.Time) (decimal.Decimal, int) {
	txs := s.ListTransactionsByType(playerID, txType, since, until)
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}
	return sum, len(txs)
}

// LatestTransactionTime returns the created_at of the most recent
// transaction of the given type, or the zero time if none exist.
func (s *Store) LatestTransactionTime(playerID string, txType models.TransactionType) time.Time {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var latest time.Time
	for _, txID := range s.txByPlayer[playerID] {
		tx := s.transactions[txID]
		if tx.Type == txType && tx.CreatedAt.After(latest) {
			latest = tx.CreatedAt
		}
	}
	return latest
}

// RecentTransactions returns up to n most recent transactions of a
// type for a player, most recently inserted first.
func (s *Store) RecentTransactions(playerID string, txType models.TransactionType, n int) []models.Transaction {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	ids := s.txByPlayer[playerID]
	var out []models.Transaction
	for i := len(ids) - 1; i >= 0 && len(out) < n; i-- {
		tx := s.transactions[ids[i]]
		if tx.Type == txType {
			out = append(out, *tx)
		}
	}
	return out
}

// =============================================================================
// AML ALERTS
// =============================================================================

// CreateAlert persists a new alert and assigns its surrogate id.
func (s *Store) CreateAlert(a *models.AMLAlert) *models.AMLAlert {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	s.alertSeq++
	a.ID = s.alertSeq
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.alerts[a.ID] = a
	cp := *a
	return &cp
}

// GetAlert looks up an alert by surrogate id.
func (s *Store) GetAlert(id int64) (*models.AMLAlert, bool) {
	s.alertMu.RLock()
	defer s.alertMu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// UpdateAlert replaces the stored alert record in place.
func (s *Store) UpdateAlert(a *models.AMLAlert) {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()
	s.alerts[a.ID] = a
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	PlayerID string
	Status   models.AlertStatus
	Severity models.AlertSeverity
	Limit    int
	Offset   int
}

// ListAlerts returns alerts matching filter, most recent first, paginated.
func (s *Store) ListAlerts(f AlertFilter) []models.AMLAlert {
	s.alertMu.RLock()
	defer s.alertMu.RUnlock()

	var matched []models.AMLAlert
	for _, a := range s.alerts {
		if f.PlayerID != "" && a.PlayerID != f.PlayerID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		matched = append(matched, *a)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	start := f.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end]
}

// =============================================================================
// AML RISK PROFILES
// =============================================================================

// GetRiskProfile looks up a player's risk profile.
func (s *Store) GetRiskProfile(playerID string) (*models.AMLRiskProfile, bool) {
	s.profileMu.RLock()
	defer s.profileMu.RUnlock()

	p, ok := s.profiles[playerID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// PutRiskProfile creates or replaces a player's risk profile wholesale,
// matching the "recompute from the store, not incrementally" contract.
func (s *Store) PutRiskProfile(p *models.AMLRiskProfile) {
	s.profileMu.Lock()
	defer s.profileMu.Unlock()
	s.profiles[p.PlayerID] = p
}

// ListHighRiskProfiles returns profiles with OverallRiskScore >= minScore,
// ordered descending.
func (s *Store) ListHighRiskProfiles(minScore float64) []models.AMLRiskProfile {
	s.profileMu.RLock()
	defer s.profileMu.RUnlock()

	var out []models.AMLRiskProfile
	for _, p := range s.profiles {
		if p.OverallRiskScore >= minScore {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OverallRiskScore > out[j].OverallRiskScore })
	return out
}

// =============================================================================
// AML REPORTS
// =============================================================================

// CreateReport persists a new regulatory report placeholder.
func (s *Store) CreateReport(r *models.AMLReport) *models.AMLReport {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()

	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.reports[r.ReportID] = r
	cp := *r
	return &cp
}

// GetReport looks up a report by id.
func (s *Store) GetReport(reportID string) (*models.AMLReport, bool) {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()

	r, ok := s.reports[reportID]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

// UpdateReportStatus performs the status-only mutation reports support
// after creation.
func (s *Store) UpdateReportStatus(reportID string, status models.ReportStatus) bool {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()

	r, ok := s.reports[reportID]
	if !ok {
		return false
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	return true
}
