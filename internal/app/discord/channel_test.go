package discord

import (
	"strings"
	"testing"
	"time"

	"github.com/inecat/mapads/internal/app/domain/marker"
)

const testMapFormat = "https://map.example.net/?worldname=%s&mapname=flat&zoom=5&x=%.0f&y=%.0f&z=%.0f"

func TestMapURL(t *testing.T) {
	loc := marker.Location{World: "world", X: 10.4, Y: 64, Z: -20.6}
	got := mapURL(testMapFormat, loc)
	want := "https://map.example.net/?worldname=world&mapname=flat&zoom=5&x=10&y=64&z=-21"
	if got != want {
		t.Fatalf("mapURL = %q, want %q", got, want)
	}

	if got := mapURL("", loc); got != "" {
		t.Fatalf("empty format must yield no link: %q", got)
	}
}

func TestApprovalEmbed(t *testing.T) {
	m := marker.Marker{
		Key:         "cafe",
		OwnerID:     "owner",
		Description: "coffee and cake",
		Location:    marker.Location{World: "world", X: 1, Y: 2, Z: 3},
		Status:      marker.StatusPending,
		ApprovalRef: "ref",
	}

	embed := approvalEmbed(m, "Cat", testMapFormat)
	if !strings.Contains(embed.Title, "cafe") {
		t.Fatalf("title: %q", embed.Title)
	}
	if embed.Description != "coffee and cake" {
		t.Fatalf("description: %q", embed.Description)
	}
	if embed.Footer == nil || !strings.Contains(embed.Footer.Text, emblemApprove) || !strings.Contains(embed.Footer.Text, emblemReject) {
		t.Fatalf("footer must name both emblems: %+v", embed.Footer)
	}

	var haveRequester, haveMap bool
	for _, f := range embed.Fields {
		switch f.Name {
		case "Requested by":
			haveRequester = f.Value == "Cat"
		case "Map":
			haveMap = strings.Contains(f.Value, "worldname=world")
		}
	}
	if !haveRequester || !haveMap {
		t.Fatalf("fields: %+v", embed.Fields)
	}
}

func TestFeaturedEmbed(t *testing.T) {
	until := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	m := marker.Marker{
		Key:           "cafe",
		OwnerID:       "owner",
		Location:      marker.Location{World: "world"},
		Status:        marker.StatusFeatured,
		FeaturedUntil: &until,
		PromoMessage:  "half price week",
	}

	embed := featuredEmbed(m, testMapFormat)
	if !strings.Contains(embed.Description, "half price week") {
		t.Fatalf("promo missing: %q", embed.Description)
	}
	if embed.Footer == nil || !strings.Contains(embed.Footer.Text, "2025-06-03") {
		t.Fatalf("footer: %+v", embed.Footer)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{ApprovalChannelID: "c"}, nil); err == nil {
		t.Fatal("missing token accepted")
	}
	if _, err := New(Config{Token: "t"}, nil); err == nil {
		t.Fatal("missing approval channel accepted")
	}
}
