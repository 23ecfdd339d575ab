// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/inecat/mapads/internal/app/domain/ledger"
	"github.com/inecat/mapads/internal/app/domain/marker"
	"github.com/inecat/mapads/internal/app/storage"
)

// Schema creates the tables used by the store.
const Schema = `
CREATE TABLE IF NOT EXISTS markers (
    key            TEXT PRIMARY KEY,
    owner_id       TEXT NOT NULL,
    world          TEXT NOT NULL,
    x              DOUBLE PRECISION NOT NULL,
    y              DOUBLE PRECISION NOT NULL,
    z              DOUBLE PRECISION NOT NULL,
    description    TEXT NOT NULL,
    status         TEXT NOT NULL,
    featured_until TIMESTAMPTZ,
    promo_message  TEXT,
    approval_ref   TEXT,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS markers_status_idx ON markers (status);
CREATE INDEX IF NOT EXISTS markers_approval_ref_idx ON markers (approval_ref);

CREATE TABLE IF NOT EXISTS ledger_accounts (
    user_id    TEXT PRIMARY KEY,
    balance    BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    type       TEXT NOT NULL,
    amount     BIGINT NOT NULL,
    note       TEXT,
    created_at TIMESTAMPTZ NOT NULL
);
`

const markerColumns = `key, owner_id, world, x, y, z, description, status, featured_until, promo_message, approval_ref, created_at, updated_at`

// Store implements storage.MarkerStore and storage.LedgerStore on a database
// handle.
type Store struct {
	db *sql.DB
}

var _ storage.MarkerStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// --- MarkerStore ------------------------------------------------------------

func (s *Store) CreateMarker(ctx context.Context, m marker.Marker) (marker.Marker, error) {
	if err := m.Validate(); err != nil {
		return marker.Marker{}, err
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markers (`+markerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, m.Key, m.OwnerID, m.Location.World, m.Location.X, m.Location.Y, m.Location.Z,
		m.Description, string(m.Status), nullTime(m.FeaturedUntil), nullString(m.PromoMessage),
		nullString(m.ApprovalRef), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return marker.Marker{}, fmt.Errorf("marker %s: %w", m.Key, storage.ErrDuplicateKey)
		}
		return marker.Marker{}, err
	}
	return m, nil
}

func (s *Store) UpdateMarker(ctx context.Context, m marker.Marker) (marker.Marker, error) {
	if err := m.Validate(); err != nil {
		return marker.Marker{}, err
	}
	m.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE markers
		SET status = $2, featured_until = $3, promo_message = $4, approval_ref = $5, updated_at = $6
		WHERE key = $1
	`, m.Key, string(m.Status), nullTime(m.FeaturedUntil), nullString(m.PromoMessage),
		nullString(m.ApprovalRef), m.UpdatedAt)
	if err != nil {
		return marker.Marker{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return marker.Marker{}, fmt.Errorf("marker %s: %w", m.Key, storage.ErrNotFound)
	}
	return m, nil
}

func (s *Store) GetMarker(ctx context.Context, key string) (marker.Marker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+markerColumns+` FROM markers WHERE key = $1
	`, key)
	m, err := scanMarker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return marker.Marker{}, fmt.Errorf("marker %s: %w", key, storage.ErrNotFound)
	}
	return m, err
}

func (s *Store) DeleteMarker(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM markers WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("marker %s: %w", key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) FindByApprovalRef(ctx context.Context, ref string) (marker.Marker, error) {
	if ref == "" {
		return marker.Marker{}, fmt.Errorf("approval ref: %w", storage.ErrNotFound)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+markerColumns+` FROM markers WHERE approval_ref = $1
	`, ref)
	m, err := scanMarker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return marker.Marker{}, fmt.Errorf("approval ref %s: %w", ref, storage.ErrNotFound)
	}
	return m, err
}

func (s *Store) ListByStatus(ctx context.Context, status marker.Status) ([]marker.Marker, error) {
	return s.listMarkers(ctx, `
		SELECT `+markerColumns+` FROM markers WHERE status = $1 ORDER BY key
	`, string(status))
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]marker.Marker, error) {
	return s.listMarkers(ctx, `
		SELECT `+markerColumns+` FROM markers WHERE owner_id = $1 ORDER BY key
	`, ownerID)
}

func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	return s.listKeys(ctx, `SELECT key FROM markers ORDER BY key`)
}

func (s *Store) ListApprovedKeys(ctx context.Context) ([]string, error) {
	return s.listKeys(ctx, `
		SELECT key FROM markers WHERE status IN ('APPROVED', 'FEATURED') ORDER BY key
	`)
}

func (s *Store) ListExpiredFeatured(ctx context.Context, now time.Time) ([]marker.Marker, error) {
	return s.listMarkers(ctx, `
		SELECT `+markerColumns+` FROM markers
		WHERE status = 'FEATURED' AND featured_until <= $1
		ORDER BY key
	`, now)
}

func (s *Store) listMarkers(ctx context.Context, query string, args ...any) ([]marker.Marker, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]marker.Marker, 0)
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) listKeys(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarker(row rowScanner) (marker.Marker, error) {
	var (
		m             marker.Marker
		status        string
		featuredUntil sql.NullTime
		promoMessage  sql.NullString
		approvalRef   sql.NullString
	)
	err := row.Scan(&m.Key, &m.OwnerID, &m.Location.World, &m.Location.X, &m.Location.Y,
		&m.Location.Z, &m.Description, &status, &featuredUntil, &promoMessage, &approvalRef,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return marker.Marker{}, err
	}

	parsed, err := marker.ParseStatus(status)
	if err != nil {
		return marker.Marker{}, err
	}
	m.Status = parsed
	if featuredUntil.Valid {
		until := featuredUntil.Time.UTC()
		m.FeaturedUntil = &until
	}
	m.PromoMessage = promoMessage.String
	m.ApprovalRef = approvalRef.String
	return m, nil
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) GetLedgerAccount(ctx context.Context, userID string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, balance, created_at, updated_at FROM ledger_accounts WHERE user_id = $1
	`, userID)

	var acct ledger.Account
	if err := row.Scan(&acct.UserID, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, fmt.Errorf("ledger account %s: %w", userID, storage.ErrNotFound)
		}
		return ledger.Account{}, err
	}
	return acct, nil
}

func (s *Store) SaveLedgerAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	now := time.Now().UTC()
	acct.UpdatedAt = now
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_accounts (user_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET balance = $2, updated_at = $4
	`, acct.UserID, acct.Balance, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return ledger.Account{}, err
	}
	return acct, nil
}

func (s *Store) CreateLedgerTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, user_id, type, amount, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tx.ID, tx.UserID, tx.Type, tx.Amount, nullString(tx.Note), tx.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) ListLedgerTransactions(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, note, created_at
		FROM ledger_transactions WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]ledger.Transaction, 0)
	for rows.Next() {
		var (
			tx   ledger.Transaction
			note sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &note, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Note = note.String
		result = append(result, tx)
	}
	return result, rows.Err()
}

// --- helpers ----------------------------------------------------------------

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
