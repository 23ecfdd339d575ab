package dynmap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/inecat/mapads/internal/app/domain/marker"
)

func TestCreatePin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sets/commercial/pins" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Fatalf("authorization header: %q", got)
		}
		var doc struct {
			ID    string  `json:"id"`
			Label string  `json:"label"`
			World string  `json:"world"`
			X     float64 `json:"x"`
			HTML  string  `json:"html"`
		}
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if doc.ID != "the_cafe" || doc.Label != "The Cafe" || doc.World != "world" || doc.X != 10 {
			t.Fatalf("document: %+v", doc)
		}
		if doc.HTML == "" {
			t.Fatal("html body missing")
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := New(srv.Client(), srv.URL, "key", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = c.CreatePin(context.Background(), "commercial", "The Cafe", marker.Location{World: "world", X: 10, Y: 64, Z: -5}, "<b>hi</b>")
	if err != nil {
		t.Fatalf("create pin: %v", err)
	}
}

func TestDeletePinMissingIsFine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/sets/ads/pins/cafe" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(srv.Client(), srv.URL, "", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.DeletePin(context.Background(), "ads", "cafe"); err != nil {
		t.Fatalf("delete of missing pin: %v", err)
	}
}

func TestCreatePinServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(srv.Client(), srv.URL, "", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.CreatePin(context.Background(), "commercial", "cafe", marker.Location{World: "world"}, ""); err == nil {
		t.Fatal("server error swallowed")
	}
}

func TestPinID(t *testing.T) {
	cases := map[string]string{
		"cafe":       "cafe",
		"The Cafe":   "the_cafe",
		"shop/№1":    "shop__1",
		"under_sc-2": "under_sc-2",
	}
	for in, want := range cases {
		if got := pinID(in); got != want {
			t.Fatalf("pinID(%q) = %q, want %q", in, got, want)
		}
	}
}
