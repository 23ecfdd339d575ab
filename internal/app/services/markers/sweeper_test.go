package markers

import (
	"context"
	"testing"
	"time"

	"github.com/inecat/mapads/internal/app/domain/marker"
)

func TestSweepExpiresLapsedRuns(t *testing.T) {
	f := newFixture(t, map[string]int64{"owner": 200000})
	f.mustCreate(t, "owner", "Cat", "cafe")
	f.mustApprove(t, "cafe")
	f.mustCreate(t, "owner", "Cat", "forge")
	f.mustApprove(t, "forge")

	ctx := context.Background()
	if err := f.service.Promote(ctx, "owner", "cafe", 1, ""); err != nil {
		t.Fatalf("promote cafe: %v", err)
	}
	f.clock = f.clock.Add(2 * time.Hour)
	if err := f.service.Promote(ctx, "owner", "forge", 2, ""); err != nil {
		t.Fatalf("promote forge: %v", err)
	}

	sweeper := NewExpirationSweeper(f.store, f.service, "", nil)

	// Nothing has lapsed yet.
	sweeper.Sweep(ctx)
	if m, _ := f.store.GetMarker(ctx, "cafe"); m.Status != marker.StatusFeatured {
		t.Fatalf("cafe swept early: %s", m.Status)
	}

	// cafe's day is over, forge still has most of its run left.
	f.clock = f.clock.Add(23 * time.Hour)
	sweeper.Sweep(ctx)

	if m, _ := f.store.GetMarker(ctx, "cafe"); m.Status != marker.StatusApproved {
		t.Fatalf("cafe not expired: %s", m.Status)
	}
	if m, _ := f.store.GetMarker(ctx, "forge"); m.Status != marker.StatusFeatured {
		t.Fatalf("forge expired early: %s", m.Status)
	}
}

func TestSweeperLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	sweeper := NewExpirationSweeper(f.store, f.service, "@every 1h", nil)

	ctx := context.Background()
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := sweeper.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := sweeper.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, nil)
	sweeper := NewExpirationSweeper(f.store, f.service, "not a schedule", nil)
	if err := sweeper.Start(context.Background()); err == nil {
		t.Fatal("bad schedule accepted")
	}
}
