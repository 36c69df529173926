// Package wallet implements the transactional player-wallet engine:
// exactly-once debit/credit/cancel over internal/store's row-locked
// sessions, with cache invalidation and event publication deferred to
// a post-commit scheduler so neither ever blocks or fails a mutation.
package wallet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/casinocore/wallet-engine/internal/cache"
	"github.com/casinocore/wallet-engine/internal/models"
	"github.com/casinocore/wallet-engine/internal/scheduler"
	"github.com/casinocore/wallet-engine/internal/store"
	"github.com/casinocore/wallet-engine/internal/walleterr"
)

// Scheduler decouples wallet from the concrete post-commit task queue;
// satisfied by internal/scheduler.Scheduler.
type Scheduler interface {
	Submit(name string, fn func(ctx context.Context) error)
	SubmitWithTimeout(name string, timeout time.Duration, fn func(ctx context.Context) error)
}

// Service exposes the Check/Balance/Debit/Credit/Cancel wallet
// operations.
type Service struct {
	store     *store.Store
	cache     *cache.Cache
	scheduler Scheduler
}

// New constructs a wallet Service.
func New(st *store.Store, c *cache.Cache, sched Scheduler) *Service {
	return &Service{store: st, cache: c, scheduler: sched}
}

// BalanceResult is the response shape of Balance.
type BalanceResult struct {
	Balance  decimal.Decimal
	Currency string
	CacheHit bool
}

// MutationResult is the response shape shared by Debit/Credit/Cancel.
type MutationResult struct {
	Balance          decimal.Decimal
	Currency         string
	TransactionID    string
	RefTransactionID string
}

// Check verifies a player exists and owns a wallet. Side-effect-free.
func (s *Service) Check(ctx context.Context, playerID string) error {
	if _, err := s.store.GetPlayer(playerID); err != nil {
		return err
	}
	if _, err := s.store.GetWallet(playerID); err != nil {
		return err
	}
	return nil
}

type walletCacheEntry struct {
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
	CachedAt string `json:"_cached_at,omitempty"`
}

// Balance reads a player's wallet, consulting L1/L2 before the store
// and scheduling a cache backfill on miss.
func (s *Service) Balance(ctx context.Context, playerID string) (*BalanceResult, error) {
	key := cache.WalletKey(playerID)

	if raw, ok := s.cache.GetSigned(ctx, key); ok {
		var entry walletCacheEntry
		if err := unmarshalWalletEntry(raw, &entry); err == nil {
			bal, err := decimal.NewFromString(entry.Balance)
			if err == nil {
				return &BalanceResult{Balance: bal, Currency: entry.Currency, CacheHit: true}, nil
			}
		}
	}

	w, err := s.store.GetWallet(playerID)
	if err != nil {
		return nil, err
	}

	s.scheduleCacheWrite(playerID, w.Balance, w.Currency)

	return &BalanceResult{Balance: w.Balance, Currency: w.Currency, CacheHit: false}, nil
}

// scheduleCacheWrite backfills the wallet key after a store read. The
// write is guarded by the short-TTL SET-NX coalesce lock: losing the
// race means another writer is updating the key concurrently, and the
// only safe move is to invalidate and let the next read backfill.
func (s *Service) scheduleCacheWrite(playerID string, balance decimal.Decimal, currency string) {
	if s.scheduler == nil {
		return
	}
	s.scheduler.Submit("cache.wallet.write", func(ctx context.Context) error {
		key := cache.WalletKey(playerID)
		if !s.cache.AcquireCoalesceLock(ctx, key) {
			s.cache.Invalidate(ctx, key)
			return nil
		}
		defer s.cache.ReleaseCoalesceLock(ctx, key)

		raw, err := marshalWalletEntry(walletCacheEntry{
			Balance:  balance.String(),
			Currency: currency,
			CachedAt: time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		s.cache.SetSigned(ctx, key, raw, cache.TTLWallet)
		return nil
	})
}

func (s *Service) schedulePostCommit(playerID string) {
	if s.scheduler == nil {
		return
	}
	key := cache.WalletKey(playerID)
	s.scheduler.Submit("cache.wallet.invalidate", func(ctx context.Context) error {
		s.cache.Invalidate(ctx, key)
		return nil
	})
	s.scheduler.SubmitWithTimeout("event.wallet_updated", scheduler.EventPublishTimeout, func(ctx context.Context) error {
		s.cache.PublishWalletUpdated(ctx, playerID)
		return nil
	})
}

// Debit removes amount from a player's wallet, exactly once per
// transaction_id. A debit never replays: a duplicate transaction_id
// always fails, since the amount may already have been spent and
// cancelled by the time of the retry.
func (s *Service) Debit(ctx context.Context, playerID string, amount decimal.Decimal, transactionID string, metadata map[string]any) (*MutationResult, error) {
	if amount.Sign() <= 0 {
		return nil, walleterr.New(walleterr.KindInvalidAmount, "amount must be positive", nil)
	}
	if _, exists := s.store.GetTransactionByID(transactionID); exists {
		return nil, walleterr.New(walleterr.KindTransactionAlreadyProcessed, "transaction_id already used", map[string]any{"transaction_id": transactionID})
	}

	sess, err := s.store.Begin(ctx, playerID)
	if err != nil {
		return nil, err
	}

	w, err := sess.GetWalletForUpdate()
	if err != nil {
		sess.Rollback()
		return nil, err
	}
	if w.Balance.LessThan(amount) {
		sess.Rollback()
		return nil, walleterr.New(walleterr.KindInsufficientFunds, "insufficient funds", map[string]any{
			"balance": w.Balance.String(), "amount": amount.String(),
		})
	}

	original := w.Balance
	updated := w.Balance.Sub(amount)
	sess.SetBalance(w, updated)

	tx := &models.Transaction{
		TransactionID:   transactionID,
		PlayerID:        playerID,
		Type:            models.TxTypeDebit,
		Amount:          amount,
		Currency:        w.Currency,
		Status:          models.TxStatusCompleted,
		OriginalBalance: original,
		UpdatedBalance:  updated,
		Metadata:        metadata,
	}
	if _, err := sess.InsertTransaction(tx); err != nil {
		sess.Rollback()
		return nil, err
	}

	if err := sess.Commit(); err != nil {
		return nil, err
	}

	s.schedulePostCommit(playerID)

	return &MutationResult{Balance: updated, Currency: w.Currency, TransactionID: transactionID}, nil
}

// Credit adds amount to a player's wallet. Unlike Debit, a duplicate
// transaction_id for a completed credit belonging to the same player
// is replayed safely: the current balance is returned instead of
// failing, so a retrying game provider always gets a consistent answer.
func (s *Service) Credit(ctx context.Context, playerID string, amount decimal.Decimal, transactionID string, metadata map[string]any) (*MutationResult, error) {
	if amount.Sign() <= 0 {
		return nil, walleterr.New(walleterr.KindInvalidAmount, "amount must be positive", nil)
	}

	if existing, exists := s.store.GetTransactionByID(transactionID); exists {
		if existing.Type == models.TxTypeCredit && existing.Status == models.TxStatusCompleted && existing.PlayerID == playerID {
			w, err := s.store.GetWallet(playerID)
			if err != nil {
				return nil, err
			}
			return &MutationResult{Balance: w.Balance, Currency: w.Currency, TransactionID: transactionID}, nil
		}
		return nil, walleterr.New(walleterr.KindTransactionAlreadyProcessed, "transaction_id already used", map[string]any{"transaction_id": transactionID})
	}

	sess, err := s.store.Begin(ctx, playerID)
	if err != nil {
		return nil, err
	}

	w, err := sess.GetWalletForUpdate()
	if walleterr.Is(err, walleterr.KindWalletNotFound) {
		player, perr := s.store.GetPlayer(playerID)
		if perr != nil {
			sess.Rollback()
			return nil, perr
		}
		w = sess.CreateWallet(player.Currency)
	} else if err != nil {
		sess.Rollback()
		return nil, err
	}

	original := w.Balance
	updated := w.Balance.Add(amount)
	sess.SetBalance(w, updated)

	tx := &models.Transaction{
		TransactionID:   transactionID,
		PlayerID:        playerID,
		Type:            models.TxTypeCredit,
		Amount:          amount,
		Currency:        w.Currency,
		Status:          models.TxStatusCompleted,
		OriginalBalance: original,
		UpdatedBalance:  updated,
		Metadata:        metadata,
	}
	if _, err := sess.InsertTransaction(tx); err != nil {
		sess.Rollback()
		if walleterr.Is(err, walleterr.KindTransactionAlreadyProcessed) {
			// Concurrent duplicate insert raced us; replay like the
			// pre-check path would have.
			if existing, exists := s.store.GetTransactionByID(transactionID); exists && existing.Type == models.TxTypeCredit &&
				existing.Status == models.TxStatusCompleted && existing.PlayerID == playerID {
				wNow, werr := s.store.GetWallet(playerID)
				if werr == nil {
					return &MutationResult{Balance: wNow.Balance, Currency: wNow.Currency, TransactionID: transactionID}, nil
				}
			}
		}
		return nil, err
	}

	if err := sess.Commit(); err != nil {
		return nil, err
	}

	s.schedulePostCommit(playerID)

	return &MutationResult{Balance: updated, Currency: w.Currency, TransactionID: transactionID}, nil
}

// Cancel reverses a completed debit or credit. Idempotent per ref: a
// later cancel of an already-cancelled ref, under any
// cancel_transaction_id, returns the prior cancel's result rather than
// failing.
func (s *Service) Cancel(ctx context.Context, playerID, cancelTransactionID, refTransactionID string) (*MutationResult, error) {
	ref, ok := s.store.GetTransactionByID(refTransactionID)
	if !ok || ref.PlayerID != playerID {
		return nil, walleterr.New(walleterr.KindTransactionNotFound, "reference transaction not found", map[string]any{"transaction_id": refTransactionID})
	}

	if prior, exists := s.store.FindCancelByRef(playerID, refTransactionID); exists {
		w, err := s.store.GetWallet(playerID)
		if err != nil {
			return nil, err
		}
		return &MutationResult{
			Balance: w.Balance, Currency: w.Currency,
			TransactionID: prior.TransactionID, RefTransactionID: refTransactionID,
		}, nil
	}

	if ref.Status != models.TxStatusCompleted || (ref.Type != models.TxTypeDebit && ref.Type != models.TxTypeCredit) {
		return nil, walleterr.New(walleterr.KindTransactionAlreadyProcessed, "reference transaction is not cancelable", map[string]any{"transaction_id": refTransactionID})
	}

	if _, exists := s.store.GetTransactionByID(cancelTransactionID); exists {
		return nil, walleterr.New(walleterr.KindTransactionAlreadyProcessed, "cancel_transaction_id already used", map[string]any{"transaction_id": cancelTransactionID})
	}

	sess, err := s.store.Begin(ctx, playerID)
	if err != nil {
		return nil, err
	}

	w, err := sess.GetWalletForUpdate()
	if err != nil {
		sess.Rollback()
		return nil, err
	}

	var updated decimal.Decimal
	switch ref.Type {
	case models.TxTypeDebit:
		updated = w.Balance.Add(ref.Amount)
	case models.TxTypeCredit:
		updated = w.Balance.Sub(ref.Amount)
		if updated.Sign() < 0 {
			sess.Rollback()
			return nil, walleterr.New(walleterr.KindInsufficientFunds, "cancel would drive balance negative", map[string]any{
				"balance": w.Balance.String(), "amount": ref.Amount.String(),
			})
		}
	}

	original := w.Balance
	sess.SetBalance(w, updated)

	tx := &models.Transaction{
		TransactionID:    cancelTransactionID,
		PlayerID:         playerID,
		Type:             models.TxTypeCancel,
		Amount:           ref.Amount,
		Currency:         w.Currency,
		Status:           models.TxStatusCompleted,
		OriginalBalance:  original,
		UpdatedBalance:   updated,
		RefTransactionID: refTransactionID,
	}
	if _, err := sess.InsertTransaction(tx); err != nil {
		sess.Rollback()
		return nil, err
	}
	if err := sess.CancelTransaction(refTransactionID); err != nil {
		sess.Rollback()
		return nil, err
	}

	if err := sess.Commit(); err != nil {
		return nil, err
	}

	s.schedulePostCommit(playerID)

	return &MutationResult{
		Balance: updated, Currency: w.Currency,
		TransactionID: cancelTransactionID, RefTransactionID: refTransactionID,
	}, nil
}

func marshalWalletEntry(e walletCacheEntry) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalWalletEntry(raw []byte, e *walletCacheEntry) error {
	return json.Unmarshal(raw, e)
}
