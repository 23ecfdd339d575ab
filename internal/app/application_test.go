package app

import (
	"context"
	"errors"
	"testing"

	"github.com/inecat/mapads/internal/app/domain/marker"
	"github.com/inecat/mapads/internal/app/services/markers"
)

func TestApplicationDefaults(t *testing.T) {
	application, err := New(Stores{}, Gateways{}, Options{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer application.Stop(ctx)

	// In-process ledger is wired in by default.
	if err := application.Ledger.Deposit(ctx, "u1", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	ok, err := application.Ledger.Has(ctx, "u1", 500)
	if err != nil || !ok {
		t.Fatalf("has: %v %v", ok, err)
	}

	// Without an approval channel no submissions are accepted.
	_, err = application.Markers.Create(ctx, "u1", "U", "cafe", "", marker.Location{World: "world"})
	if !errors.Is(err, markers.ErrChannelUnavailable) {
		t.Fatalf("expected channel unavailable, got %v", err)
	}

	if err := application.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
