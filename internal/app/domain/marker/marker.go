// Package marker defines the facility record tracked by the workflow.
package marker

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a marker.
type Status string

const (
	// StatusPending means the marker awaits an approval decision.
	StatusPending Status = "PENDING"
	// StatusApproved means the marker is an approved commercial facility.
	StatusApproved Status = "APPROVED"
	// StatusFeatured means the marker is running a time-boxed advertisement.
	StatusFeatured Status = "FEATURED"
)

// ParseStatus validates a stored status value.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusFeatured:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown marker status %q", s)
}

// Location is the in-world position of a facility.
type Location struct {
	World string  `yaml:"world" json:"world"`
	X     float64 `yaml:"x" json:"x"`
	Y     float64 `yaml:"y" json:"y"`
	Z     float64 `yaml:"z" json:"z"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s: %.0f, %.0f, %.0f", l.World, l.X, l.Y, l.Z)
}

// Marker is one facility record. Key, OwnerID, Location, and Description are
// immutable after creation; Status and its companion fields are only mutated
// by the workflow.
type Marker struct {
	Key         string
	OwnerID     string
	Location    Location
	Description string
	Status      Status

	// FeaturedUntil and PromoMessage are set only while Status is FEATURED.
	FeaturedUntil *time.Time
	PromoMessage  string

	// ApprovalRef identifies the pending approval message while Status is
	// PENDING. It is the join key between the reconciler and the store.
	ApprovalRef string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOwner reports whether the given user created this marker.
func (m Marker) IsOwner(userID string) bool {
	return m.OwnerID == userID
}

// Visible reports whether the marker should have a pin on the map.
func (m Marker) Visible() bool {
	return m.Status == StatusApproved || m.Status == StatusFeatured
}

// FeaturedExpired reports whether a featured run has ended as of now.
func (m Marker) FeaturedExpired(now time.Time) bool {
	if m.Status != StatusFeatured || m.FeaturedUntil == nil {
		return false
	}
	return !now.Before(*m.FeaturedUntil)
}

// Validate checks the structural invariants tying Status to its companion
// fields. Stores call it before persisting and after loading.
func (m Marker) Validate() error {
	if m.Key == "" {
		return fmt.Errorf("marker key is required")
	}
	if m.OwnerID == "" {
		return fmt.Errorf("marker owner is required")
	}
	if _, err := ParseStatus(string(m.Status)); err != nil {
		return err
	}

	if m.Status == StatusFeatured {
		if m.FeaturedUntil == nil {
			return fmt.Errorf("featured marker %q has no end time", m.Key)
		}
	} else {
		if m.FeaturedUntil != nil {
			return fmt.Errorf("marker %q has an end time outside FEATURED", m.Key)
		}
		if m.PromoMessage != "" {
			return fmt.Errorf("marker %q has a promo message outside FEATURED", m.Key)
		}
	}

	if m.Status == StatusPending {
		if m.ApprovalRef == "" {
			return fmt.Errorf("pending marker %q has no approval reference", m.Key)
		}
	} else if m.ApprovalRef != "" {
		return fmt.Errorf("marker %q retains an approval reference outside PENDING", m.Key)
	}

	return nil
}
