// Package file is the default persistence backend: one human-diffable YAML
// document per marker key plus a ledger document, all written with a
// temp-file-then-rename replace so a crash mid-write never corrupts the
// previous durable state.
package file

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/inecat/mapads/internal/app/domain/ledger"
	"github.com/inecat/mapads/internal/app/domain/marker"
	"github.com/inecat/mapads/internal/app/storage"
	"github.com/inecat/mapads/pkg/logger"
)

const (
	markerDir  = "markers"
	ledgerDir  = "ledger"
	docSuffix  = ".yml"
	timeLayout = time.RFC3339Nano
)

// Store implements storage.MarkerStore and storage.LedgerStore on a data
// directory. All documents are cached in memory; every mutation persists its
// document before the cache is updated.
type Store struct {
	dir string
	log *logger.Logger

	mu       sync.RWMutex
	markers  map[string]marker.Marker
	accounts map[string]ledger.Account
	txs      []ledger.Transaction
}

var _ storage.MarkerStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New opens (and if needed creates) the data directory and loads every
// document. Documents that fail to parse or validate are skipped with a
// warning, matching the tolerant load behaviour the data format had before.
func New(dir string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDefault("file-store")
	}
	s := &Store{
		dir:      dir,
		log:      log,
		markers:  make(map[string]marker.Marker),
		accounts: make(map[string]ledger.Account),
	}

	for _, sub := range []string{markerDir, ledgerDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Marker documents -------------------------------------------------------------

type markerDoc struct {
	Key           string  `yaml:"key"`
	OwnerID       string  `yaml:"owner-id"`
	World         string  `yaml:"world"`
	X             float64 `yaml:"x"`
	Y             float64 `yaml:"y"`
	Z             float64 `yaml:"z"`
	Description   string  `yaml:"description"`
	Status        string  `yaml:"status"`
	FeaturedUntil string  `yaml:"featured-until,omitempty"`
	PromoMessage  string  `yaml:"promo-message,omitempty"`
	ApprovalRef   string  `yaml:"approval-ref,omitempty"`
	CreatedAt     string  `yaml:"created-at"`
	UpdatedAt     string  `yaml:"updated-at"`
}

func toDoc(m marker.Marker) markerDoc {
	doc := markerDoc{
		Key:          m.Key,
		OwnerID:      m.OwnerID,
		World:        m.Location.World,
		X:            m.Location.X,
		Y:            m.Location.Y,
		Z:            m.Location.Z,
		Description:  m.Description,
		Status:       string(m.Status),
		PromoMessage: m.PromoMessage,
		ApprovalRef:  m.ApprovalRef,
		CreatedAt:    m.CreatedAt.Format(timeLayout),
		UpdatedAt:    m.UpdatedAt.Format(timeLayout),
	}
	if m.FeaturedUntil != nil {
		doc.FeaturedUntil = m.FeaturedUntil.Format(timeLayout)
	}
	return doc
}

func fromDoc(doc markerDoc) (marker.Marker, error) {
	status, err := marker.ParseStatus(doc.Status)
	if err != nil {
		return marker.Marker{}, err
	}

	m := marker.Marker{
		Key:         doc.Key,
		OwnerID:     doc.OwnerID,
		Location:    marker.Location{World: doc.World, X: doc.X, Y: doc.Y, Z: doc.Z},
		Description: doc.Description,
		Status:      status,
		PromoMessage: doc.PromoMessage,
		ApprovalRef:  doc.ApprovalRef,
	}
	if doc.FeaturedUntil != "" {
		until, err := time.Parse(timeLayout, doc.FeaturedUntil)
		if err != nil {
			return marker.Marker{}, fmt.Errorf("parse featured-until: %w", err)
		}
		m.FeaturedUntil = &until
	}
	if doc.CreatedAt != "" {
		if m.CreatedAt, err = time.Parse(timeLayout, doc.CreatedAt); err != nil {
			return marker.Marker{}, fmt.Errorf("parse created-at: %w", err)
		}
	}
	if doc.UpdatedAt != "" {
		if m.UpdatedAt, err = time.Parse(timeLayout, doc.UpdatedAt); err != nil {
			return marker.Marker{}, fmt.Errorf("parse updated-at: %w", err)
		}
	}
	if err := m.Validate(); err != nil {
		return marker.Marker{}, err
	}
	return m, nil
}

func (s *Store) load() error {
	entries, err := os.ReadDir(filepath.Join(s.dir, markerDir))
	if err != nil {
		return fmt.Errorf("read marker directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), docSuffix) {
			continue
		}
		path := filepath.Join(s.dir, markerDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		var doc markerDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			s.log.WithError(err).Warnf("skipping unreadable marker document %s", entry.Name())
			continue
		}
		m, err := fromDoc(doc)
		if err != nil {
			s.log.WithError(err).Warnf("skipping invalid marker document %s", entry.Name())
			continue
		}
		s.markers[m.Key] = m
	}
	s.log.Infof("loaded %d markers from %s", len(s.markers), s.dir)

	if err := s.loadLedger(); err != nil {
		return err
	}
	return nil
}

func (s *Store) markerPath(key string) string {
	return filepath.Join(s.dir, markerDir, url.PathEscape(key)+docSuffix)
}

// writeDoc marshals v and atomically replaces path with it.
func (s *Store) writeDoc(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

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

	if err := s.writeDoc(s.markerPath(m.Key), toDoc(m)); err != nil {
		return marker.Marker{}, err
	}
	s.markers[m.Key] = m
	return m, nil
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

	if err := s.writeDoc(s.markerPath(m.Key), toDoc(m)); err != nil {
		return marker.Marker{}, err
	}
	s.markers[m.Key] = m
	return m, nil
}

func (s *Store) GetMarker(_ context.Context, key string) (marker.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markers[key]
	if !ok {
		return marker.Marker{}, fmt.Errorf("marker %s: %w", key, storage.ErrNotFound)
	}
	return m, nil
}

func (s *Store) DeleteMarker(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markers[key]; !ok {
		return fmt.Errorf("marker %s: %w", key, storage.ErrNotFound)
	}
	if err := os.Remove(s.markerPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove document: %w", err)
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
				return m, nil
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
			result = append(result, m)
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
			result = append(result, m)
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
			result = append(result, m)
		}
	}
	sortMarkers(result)
	return result, nil
}

// Ledger documents --------------------------------------------------------------

type accountDoc struct {
	Balance   int64  `yaml:"balance"`
	CreatedAt string `yaml:"created-at"`
	UpdatedAt string `yaml:"updated-at"`
}

type accountsDoc struct {
	Accounts map[string]accountDoc `yaml:"accounts"`
}

type transactionDoc struct {
	ID        string `yaml:"id"`
	UserID    string `yaml:"user-id"`
	Type      string `yaml:"type"`
	Amount    int64  `yaml:"amount"`
	Note      string `yaml:"note,omitempty"`
	CreatedAt string `yaml:"created-at"`
}

type transactionsDoc struct {
	Transactions []transactionDoc `yaml:"transactions"`
}

func (s *Store) accountsPath() string {
	return filepath.Join(s.dir, ledgerDir, "accounts"+docSuffix)
}

func (s *Store) transactionsPath() string {
	return filepath.Join(s.dir, ledgerDir, "transactions"+docSuffix)
}

func (s *Store) loadLedger() error {
	if data, err := os.ReadFile(s.accountsPath()); err == nil {
		var doc accountsDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			s.log.WithError(err).Warn("skipping unreadable ledger accounts document")
		} else {
			for userID, a := range doc.Accounts {
				acct := ledger.Account{UserID: userID, Balance: a.Balance}
				acct.CreatedAt, _ = time.Parse(timeLayout, a.CreatedAt)
				acct.UpdatedAt, _ = time.Parse(timeLayout, a.UpdatedAt)
				s.accounts[userID] = acct
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read ledger accounts: %w", err)
	}

	if data, err := os.ReadFile(s.transactionsPath()); err == nil {
		var doc transactionsDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			s.log.WithError(err).Warn("skipping unreadable ledger transactions document")
		} else {
			for _, t := range doc.Transactions {
				tx := ledger.Transaction{ID: t.ID, UserID: t.UserID, Type: t.Type, Amount: t.Amount, Note: t.Note}
				tx.CreatedAt, _ = time.Parse(timeLayout, t.CreatedAt)
				s.txs = append(s.txs, tx)
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read ledger transactions: %w", err)
	}

	return nil
}

func (s *Store) saveAccountsLocked() error {
	doc := accountsDoc{Accounts: make(map[string]accountDoc, len(s.accounts))}
	for userID, acct := range s.accounts {
		doc.Accounts[userID] = accountDoc{
			Balance:   acct.Balance,
			CreatedAt: acct.CreatedAt.Format(timeLayout),
			UpdatedAt: acct.UpdatedAt.Format(timeLayout),
		}
	}
	return s.writeDoc(s.accountsPath(), doc)
}

func (s *Store) saveTransactionsLocked() error {
	doc := transactionsDoc{Transactions: make([]transactionDoc, 0, len(s.txs))}
	for _, tx := range s.txs {
		doc.Transactions = append(doc.Transactions, transactionDoc{
			ID:        tx.ID,
			UserID:    tx.UserID,
			Type:      tx.Type,
			Amount:    tx.Amount,
			Note:      tx.Note,
			CreatedAt: tx.CreatedAt.Format(timeLayout),
		})
	}
	return s.writeDoc(s.transactionsPath(), doc)
}

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

	previous, existed := s.accounts[acct.UserID]
	s.accounts[acct.UserID] = acct
	if err := s.saveAccountsLocked(); err != nil {
		if existed {
			s.accounts[acct.UserID] = previous
		} else {
			delete(s.accounts, acct.UserID)
		}
		return ledger.Account{}, err
	}
	return acct, nil
}

func (s *Store) CreateLedgerTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()

	s.txs = append(s.txs, tx)
	if err := s.saveTransactionsLocked(); err != nil {
		s.txs = s.txs[:len(s.txs)-1]
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) ListLedgerTransactions(_ context.Context, userID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Transaction, 0)
	for _, tx := range s.txs {
		if tx.UserID == userID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func sortMarkers(list []marker.Marker) {
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
}
