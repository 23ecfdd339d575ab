package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientHas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/balance" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("user"); got != "u1" {
			t.Fatalf("user query: %q", got)
		}
		if got := r.URL.Query().Get("amount"); got != "10000" {
			t.Fatalf("amount query: %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("authorization header: %q", got)
		}
		json.NewEncoder(w).Encode(map[string]bool{"sufficient": true})
	}))
	defer srv.Close()

	c, err := NewClient(srv.Client(), srv.URL, "secret", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ok, err := c.Has(context.Background(), "u1", 10000)
	if err != nil || !ok {
		t.Fatalf("has: %v %v", ok, err)
	}
}

func TestClientWithdrawDeposit(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var body struct {
			User   string `json:"user"`
			Amount int64  `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.User != "u1" || body.Amount != 500 {
			t.Fatalf("body: %+v", body)
		}
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(srv.Client(), srv.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Withdraw(context.Background(), "u1", 500); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := c.Deposit(context.Background(), "u1", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/withdraw" || paths[1] != "/deposit" {
		t.Fatalf("paths: %v", paths)
	}
}

func TestClientWithdrawInsufficient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c, err := NewClient(srv.Client(), srv.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = c.Withdraw(context.Background(), "u1", 500)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(nil, "  ", "", nil); err == nil {
		t.Fatal("blank endpoint accepted")
	}
}
