// Package ledger provides the currency ledger consumed by the marker
// workflow: an in-process balance service and an HTTP client for deployments
// where balances live in an external service.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domain "github.com/inecat/mapads/internal/app/domain/ledger"
	"github.com/inecat/mapads/internal/app/storage"
	"github.com/inecat/mapads/pkg/logger"
)

// ErrInsufficientFunds is returned when a withdrawal exceeds the balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Service keeps per-user balances in a LedgerStore. Withdraw and Deposit
// record an audit transaction alongside the balance change.
type Service struct {
	store storage.LedgerStore
	log   *logger.Logger

	// serializes read-modify-write of one balance against another
	mu sync.Mutex
}

// New constructs a ledger service.
func New(store storage.LedgerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{store: store, log: log}
}

// Balance returns the current balance, zero for unknown users.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	acct, err := s.store.GetLedgerAccount(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Has reports whether the user holds at least amount.
func (s *Service) Has(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("amount must be non-negative")
	}
	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// Withdraw removes amount from the user's balance.
func (s *Service) Withdraw(ctx context.Context, userID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("amount must be non-negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.store.GetLedgerAccount(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		acct = domain.Account{UserID: userID}
	} else if err != nil {
		return err
	}

	if acct.Balance < amount {
		return fmt.Errorf("withdraw %d from %s: %w", amount, userID, ErrInsufficientFunds)
	}
	acct.Balance -= amount
	if _, err := s.store.SaveLedgerAccount(ctx, acct); err != nil {
		return err
	}

	if _, err := s.store.CreateLedgerTransaction(ctx, domain.Transaction{
		UserID: userID,
		Type:   domain.TypeWithdraw,
		Amount: amount,
	}); err != nil {
		s.log.WithError(err).Warnf("withdraw of %d applied but audit record failed for %s", amount, userID)
	}

	s.log.WithField("user_id", userID).WithField("amount", amount).Debug("withdrawal applied")
	return nil
}

// Deposit adds amount to the user's balance, creating the account if needed.
func (s *Service) Deposit(ctx context.Context, userID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("amount must be non-negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.store.GetLedgerAccount(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		acct = domain.Account{UserID: userID}
	} else if err != nil {
		return err
	}

	acct.Balance += amount
	if _, err := s.store.SaveLedgerAccount(ctx, acct); err != nil {
		return err
	}

	if _, err := s.store.CreateLedgerTransaction(ctx, domain.Transaction{
		UserID: userID,
		Type:   domain.TypeDeposit,
		Amount: amount,
	}); err != nil {
		s.log.WithError(err).Warnf("deposit of %d applied but audit record failed for %s", amount, userID)
	}

	s.log.WithField("user_id", userID).WithField("amount", amount).Debug("deposit applied")
	return nil
}

// Transactions lists the audit records for a user.
func (s *Service) Transactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return s.store.ListLedgerTransactions(ctx, userID)
}
