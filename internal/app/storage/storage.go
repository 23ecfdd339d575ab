// Package storage defines the persistence interfaces and the sentinel errors
// shared by every backend.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/inecat/mapads/internal/app/domain/ledger"
	"github.com/inecat/mapads/internal/app/domain/marker"
)

var (
	// ErrNotFound is returned when a key or reference does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when a create collides with an existing key.
	ErrDuplicateKey = errors.New("key already in use")
)

// MarkerStore persists facility markers. Every mutating call must be durable
// before it returns success, and a failed call must leave the prior state
// intact.
type MarkerStore interface {
	CreateMarker(ctx context.Context, m marker.Marker) (marker.Marker, error)
	UpdateMarker(ctx context.Context, m marker.Marker) (marker.Marker, error)
	GetMarker(ctx context.Context, key string) (marker.Marker, error)
	DeleteMarker(ctx context.Context, key string) error

	FindByApprovalRef(ctx context.Context, ref string) (marker.Marker, error)
	ListByStatus(ctx context.Context, status marker.Status) ([]marker.Marker, error)
	ListByOwner(ctx context.Context, ownerID string) ([]marker.Marker, error)
	ListKeys(ctx context.Context) ([]string, error)
	ListApprovedKeys(ctx context.Context) ([]string, error)
	ListExpiredFeatured(ctx context.Context, now time.Time) ([]marker.Marker, error)
}

// LedgerStore persists balance accounts and movement records for the
// in-process ledger.
type LedgerStore interface {
	GetLedgerAccount(ctx context.Context, userID string) (ledger.Account, error)
	SaveLedgerAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error)
	CreateLedgerTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	ListLedgerTransactions(ctx context.Context, userID string) ([]ledger.Transaction, error)
}
