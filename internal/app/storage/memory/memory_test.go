package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inecat/mapads/internal/app/domain/ledger"
	"github.com/inecat/mapads/internal/app/domain/marker"
	"github.com/inecat/mapads/internal/app/storage"
)

func pendingMarker(key, owner string) marker.Marker {
	return marker.Marker{
		Key:         key,
		OwnerID:     owner,
		Location:    marker.Location{World: "world", X: 1, Y: 64, Z: 2},
		Description: "test facility",
		Status:      marker.StatusPending,
		ApprovalRef: "msg-" + key,
	}
}

func TestCreateRejectsDuplicateKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateMarker(ctx, pendingMarker("cafe", "o1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := s.CreateMarker(ctx, pendingMarker("cafe", "o2"))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestGetUpdateDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateMarker(ctx, pendingMarker("cafe", "o1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.CreatedAt.IsZero() {
		t.Fatal("created timestamp not set")
	}

	created.Status = marker.StatusApproved
	created.ApprovalRef = ""
	updated, err := s.UpdateMarker(ctx, created)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != marker.StatusApproved {
		t.Fatalf("status not updated: %s", updated.Status)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatal("update must preserve creation time")
	}

	if err := s.DeleteMarker(ctx, "cafe"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetMarker(ctx, "cafe"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.DeleteMarker(ctx, "cafe"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestUpdateRejectsInvalidMarker(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateMarker(ctx, pendingMarker("cafe", "o1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// approved marker must not retain an approval ref
	created.Status = marker.StatusApproved
	if _, err := s.UpdateMarker(ctx, created); err == nil {
		t.Fatal("expected invariant violation to be rejected")
	}
}

func TestFindByApprovalRef(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateMarker(ctx, pendingMarker("cafe", "o1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	found, err := s.FindByApprovalRef(ctx, "msg-cafe")
	if err != nil {
		t.Fatalf("find by ref: %v", err)
	}
	if found.Key != "cafe" {
		t.Fatalf("wrong marker found: %s", found.Key)
	}

	if _, err := s.FindByApprovalRef(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.FindByApprovalRef(ctx, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("empty ref must never match, got %v", err)
	}
}

func TestStatusAndExpiryQueries(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.CreateMarker(ctx, pendingMarker("pending", "o1")); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	approved := pendingMarker("approved", "o1")
	approved.Status = marker.StatusApproved
	approved.ApprovalRef = ""
	if _, err := s.CreateMarker(ctx, approved); err != nil {
		t.Fatalf("create approved: %v", err)
	}

	past := now.Add(-time.Hour)
	expired := pendingMarker("expired", "o2")
	expired.Status = marker.StatusFeatured
	expired.ApprovalRef = ""
	expired.FeaturedUntil = &past
	if _, err := s.CreateMarker(ctx, expired); err != nil {
		t.Fatalf("create expired: %v", err)
	}

	future := now.Add(time.Hour)
	running := pendingMarker("running", "o2")
	running.Status = marker.StatusFeatured
	running.ApprovalRef = ""
	running.FeaturedUntil = &future
	if _, err := s.CreateMarker(ctx, running); err != nil {
		t.Fatalf("create running: %v", err)
	}

	pending, err := s.ListByStatus(ctx, marker.StatusPending)
	if err != nil || len(pending) != 1 || pending[0].Key != "pending" {
		t.Fatalf("pending query wrong: %v %v", pending, err)
	}

	expiredList, err := s.ListExpiredFeatured(ctx, now)
	if err != nil || len(expiredList) != 1 || expiredList[0].Key != "expired" {
		t.Fatalf("expired query wrong: %v %v", expiredList, err)
	}

	owned, err := s.ListByOwner(ctx, "o2")
	if err != nil || len(owned) != 2 {
		t.Fatalf("owner query wrong: %v %v", owned, err)
	}

	keys, err := s.ListApprovedKeys(ctx)
	if err != nil {
		t.Fatalf("approved keys: %v", err)
	}
	if len(keys) != 3 || keys[0] != "approved" {
		t.Fatalf("approved keys wrong: %v", keys)
	}
}

func TestLedgerAccounts(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetLedgerAccount(ctx, "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	saved, err := s.SaveLedgerAccount(ctx, ledger.Account{UserID: "u1", Balance: 100})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.CreatedAt.IsZero() {
		t.Fatal("created timestamp not set")
	}

	saved.Balance = 50
	again, err := s.SaveLedgerAccount(ctx, saved)
	if err != nil {
		t.Fatalf("save again: %v", err)
	}
	if !again.CreatedAt.Equal(saved.CreatedAt) {
		t.Fatal("save must preserve creation time")
	}

	tx, err := s.CreateLedgerTransaction(ctx, ledger.Transaction{UserID: "u1", Type: ledger.TypeWithdraw, Amount: 50})
	if err != nil {
		t.Fatalf("create tx: %v", err)
	}
	if tx.ID == "" {
		t.Fatal("transaction id not assigned")
	}

	list, err := s.ListLedgerTransactions(ctx, "u1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list txs wrong: %v %v", list, err)
	}
}
