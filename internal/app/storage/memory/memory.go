// Package memory is a thread-safe in-memory persistence layer implementing
// the storage interfaces. It is intended for tests and prototyping and
// deliberately keeps the implementation simple.
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sync"

	"github.com/google/uuid"
	"github.com/inecat/mapads/internal/app/domain/ledger"
	"github.com/inecat/mapads/internal/app/domain/marker"
	"github.com/inecat/mapads/internal/app/storage"
)

// Store keeps all records in maps guarded by one RWMutex.
type Store struct {
	mu       sync.RWMutex
	markers  map[string]marker.Marker
	accounts map[string]ledger.Account
	txs      map[string][]ledger.Transaction
}

var _ storage.MarkerStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		markers:  make(map[string]marker.Marker),
		accounts: make(map[string]ledger.Account),
		txs:      make(map[string][]ledger.Transaction),
	}
}

// MarkerStore implementation -------------------------------------------------

func (s *Store) CreateMarker(_ context.Context, m marker.Marker) (marker.Marker, error) {
	if err := m.Validate(); err != nil {
		return marker.Marker{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markers[m.Key]; exists {
		return marker.Marker{}, fmt.Errorf("marker %s: %w", m.Key, storage.ErrDuplicateKey)
	}

	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.FeaturedUntil = cloneTime(m.FeaturedUntil)

	s.markers[m.Key] = m
	return cloneMarker(m), nil
}

func (s *Store) UpdateMarker(_ context.Context, m marker.Marker) (marker.Marker, error) {
	if err := m.Validate(); err != nil {
		return marker.Marker{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.markers[m.Key]
	if !ok {
		return marker.Marker{}, fmt.Errorf("marker %s: %w", m.Key, storage.ErrNotFound)
	}

	m.CreatedAt = original.CreatedAt
	m.UpdatedAt = time.Now().UTC()
	m.FeaturedUntil = cloneTime(m.FeaturedUntil)

	s.markers[m.Key] = m
	return cloneMarker(m), nil
}

func (s *Store) GetMarker(_ context.Context, key string) (marker.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markers[key]
	if !ok {
		return marker.Marker{}, fmt.Errorf("marker %s: %w", key, storage.ErrNotFound)
	}
	return cloneMarker(m), nil
}

func (s *Store) DeleteMarker(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markers[key]; !ok {
		return fmt.Errorf("marker %s: %w", key, storage.ErrNotFound)
	}
	delete(s.markers, key)
	return nil
}

func (s *Store) FindByApprovalRef(_ context.Context, ref string) (marker.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ref != "" {
		for _, m := range s.markers {
			if m.ApprovalRef == ref {
				return cloneMarker(m), nil
			}
		}
	}
	return marker.Marker{}, fmt.Errorf("approval ref %s: %w", ref, storage.ErrNotFound)
}

func (s *Store) ListByStatus(_ context.Context, status marker.Status) ([]marker.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]marker.Marker, 0)
	for _, m := range s.markers {
		if m.Status == status {
			result = append(result, cloneMarker(m))
		}
	}
	sortMarkers(result)
	return result, nil
}

func (s *Store) ListByOwner(_ context.Context, ownerID string) ([]marker.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]marker.Marker, 0)
	for _, m := range s.markers {
		if m.OwnerID == ownerID {
			result = append(result, cloneMarker(m))
		}
	}
	sortMarkers(result)
	return result, nil
}

func (s *Store) ListKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.markers))
	for key := range s.markers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) ListApprovedKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for key, m := range s.markers {
		if m.Visible() {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) ListExpiredFeatured(_ context.Context, now time.Time) ([]marker.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]marker.Marker, 0)
	for _, m := range s.markers {
		if m.FeaturedExpired(now) {
			result = append(result, cloneMarker(m))
		}
	}
	sortMarkers(result)
	return result, nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) GetLedgerAccount(_ context.Context, userID string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return ledger.Account{}, fmt.Errorf("ledger account %s: %w", userID, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) SaveLedgerAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if original, ok := s.accounts[acct.UserID]; ok {
		acct.CreatedAt = original.CreatedAt
	} else {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now

	s.accounts[acct.UserID] = acct
	return acct, nil
}

func (s *Store) CreateLedgerTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()

	s.txs[tx.UserID] = append(s.txs[tx.UserID], tx)
	return tx, nil
}

func (s *Store) ListLedgerTransactions(_ context.Context, userID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]ledger.Transaction(nil), s.txs[userID]...), nil
}

// Helpers ---------------------------------------------------------------------

func cloneMarker(m marker.Marker) marker.Marker {
	m.FeaturedUntil = cloneTime(m.FeaturedUntil)
	return m
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

func sortMarkers(list []marker.Marker) {
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
}
