package marker

import (
	"testing"
	"time"
)

func validPending() Marker {
	return Marker{
		Key:         "cafe",
		OwnerID:     "owner-1",
		Location:    Location{World: "world", X: 10, Y: 64, Z: -20},
		Description: "coffee and cake",
		Status:      StatusPending,
		ApprovalRef: "msg-1",
	}
}

func TestValidateStatusFieldCoupling(t *testing.T) {
	m := validPending()
	if err := m.Validate(); err != nil {
		t.Fatalf("pending marker should validate: %v", err)
	}

	m.ApprovalRef = ""
	if err := m.Validate(); err == nil {
		t.Fatal("pending marker without approval ref should fail")
	}

	m = validPending()
	m.Status = StatusApproved
	if err := m.Validate(); err == nil {
		t.Fatal("approved marker retaining approval ref should fail")
	}
	m.ApprovalRef = ""
	if err := m.Validate(); err != nil {
		t.Fatalf("approved marker should validate: %v", err)
	}

	until := time.Now().Add(24 * time.Hour)
	m.Status = StatusFeatured
	if err := m.Validate(); err == nil {
		t.Fatal("featured marker without end time should fail")
	}
	m.FeaturedUntil = &until
	m.PromoMessage = "grand opening"
	if err := m.Validate(); err != nil {
		t.Fatalf("featured marker should validate: %v", err)
	}

	m.Status = StatusApproved
	if err := m.Validate(); err == nil {
		t.Fatal("approved marker with featured fields should fail")
	}
}

func TestFeaturedExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	m := Marker{Status: StatusFeatured, FeaturedUntil: &past}
	if !m.FeaturedExpired(now) {
		t.Fatal("past end time should be expired")
	}

	m.FeaturedUntil = &future
	if m.FeaturedExpired(now) {
		t.Fatal("future end time should not be expired")
	}

	m = Marker{Status: StatusApproved}
	if m.FeaturedExpired(now) {
		t.Fatal("non-featured marker can never be expired")
	}
}

func TestVisible(t *testing.T) {
	if (Marker{Status: StatusPending}).Visible() {
		t.Fatal("pending marker should not be visible")
	}
	if !(Marker{Status: StatusApproved}).Visible() {
		t.Fatal("approved marker should be visible")
	}
	if !(Marker{Status: StatusFeatured}).Visible() {
		t.Fatal("featured marker should be visible")
	}
}
