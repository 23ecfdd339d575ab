package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inecat/mapads/internal/app/domain/marker"
	"github.com/inecat/mapads/internal/app/services/markers"
	"github.com/inecat/mapads/internal/app/storage/memory"
)

type stubLedger struct {
	balances map[string]int64
}

func (s *stubLedger) Has(ctx context.Context, userID string, amount int64) (bool, error) {
	return s.balances[userID] >= amount, nil
}

func (s *stubLedger) Withdraw(ctx context.Context, userID string, amount int64) error {
	s.balances[userID] -= amount
	return nil
}

func (s *stubLedger) Deposit(ctx context.Context, userID string, amount int64) error {
	s.balances[userID] += amount
	return nil
}

type stubChannel struct {
	refs int
}

func (s *stubChannel) PostApprovalRequest(ctx context.Context, m marker.Marker, requesterName string) (string, error) {
	s.refs++
	return "msg-" + string(rune('0'+s.refs)), nil
}

func (s *stubChannel) FetchReactionState(ctx context.Context, ref string) ([]markers.Reaction, error) {
	return nil, nil
}

func (s *stubChannel) DeleteMessage(ctx context.Context, ref string) error { return nil }

func (s *stubChannel) PostHistoryEntry(ctx context.Context, key, action, details string) error {
	return nil
}

func (s *stubChannel) AnnounceFeatured(ctx context.Context, m marker.Marker) error { return nil }

func newTestServer(t *testing.T, balances map[string]int64) (*httptest.Server, *markers.Service, *Inbox) {
	t.Helper()
	store := memory.New()
	svc := markers.New(store, &stubLedger{balances: balances}, &stubChannel{}, nil, markers.Config{}, nil)
	inbox := NewInbox(0)
	svc.WithNotifier(inbox)
	srv := httptest.NewServer(NewHandler(svc, inbox, nil))
	t.Cleanup(srv.Close)
	return srv, svc, inbox
}

func doRequest(t *testing.T, method, url, playerID, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if playerID != "" {
		req.Header.Set(headerPlayerID, playerID)
		req.Header.Set(headerPlayerName, strings.ToUpper(playerID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const createBody = `{"key":"cafe","description":"coffee","location":{"world":"world","x":10,"y":64,"z":-20}}`

func TestCreateMarkerEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, map[string]int64{"p1": 10000})

	resp := doRequest(t, http.MethodPost, srv.URL+"/markers", "p1", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got markerResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "cafe", got.Key)
	require.Equal(t, "p1", got.OwnerID)
	require.Equal(t, "PENDING", got.Status)
}

func TestCreateMarkerRequiresIdentity(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	resp := doRequest(t, http.MethodPost, srv.URL+"/markers", "", createBody)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateMarkerErrorMapping(t *testing.T) {
	srv, _, _ := newTestServer(t, map[string]int64{"p1": 15000})

	resp := doRequest(t, http.MethodPost, srv.URL+"/markers", "p1", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Same key again conflicts.
	resp = doRequest(t, http.MethodPost, srv.URL+"/markers", "p1", createBody)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Second marker drains the balance below the fee.
	body := strings.Replace(createBody, "cafe", "forge", 1)
	resp = doRequest(t, http.MethodPost, srv.URL+"/markers", "p1", body)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestPromoteEndpoint(t *testing.T) {
	srv, svc, _ := newTestServer(t, map[string]int64{"p1": 100000})
	ctx := context.Background()

	resp := doRequest(t, http.MethodPost, srv.URL+"/markers", "p1", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, svc.Approve(ctx, "cafe", "mod"))

	resp = doRequest(t, http.MethodPost, srv.URL+"/markers/cafe/promote", "p1", `{"days":2,"promo_message":"sale"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got markerResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "FEATURED", got.Status)
	require.Equal(t, "sale", got.PromoMessage)
	require.NotEmpty(t, got.FeaturedUntil)
}

func TestPromoteErrorMapping(t *testing.T) {
	srv, svc, _ := newTestServer(t, map[string]int64{"p1": 100000, "p2": 100000})
	ctx := context.Background()

	resp := doRequest(t, http.MethodPost, srv.URL+"/markers", "p1", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Still pending.
	resp = doRequest(t, http.MethodPost, srv.URL+"/markers/cafe/promote", "p1", `{"days":1}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, svc.Approve(ctx, "cafe", "mod"))

	// Not the owner.
	resp = doRequest(t, http.MethodPost, srv.URL+"/markers/cafe/promote", "p2", `{"days":1}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Unknown key.
	resp = doRequest(t, http.MethodPost, srv.URL+"/markers/nothing/promote", "p1", `{"days":1}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Bad payload.
	resp = doRequest(t, http.MethodPost, srv.URL+"/markers/cafe/promote", "p1", `{"days":0}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, map[string]int64{"p1": 10000})

	resp := doRequest(t, http.MethodPost, srv.URL+"/markers", "p1", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/markers/cafe", "p2", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/markers/cafe", "p1", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/markers/cafe", "", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListEndpoints(t *testing.T) {
	srv, svc, _ := newTestServer(t, map[string]int64{"p1": 20000})
	ctx := context.Background()

	resp := doRequest(t, http.MethodPost, srv.URL+"/markers", "p1", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := strings.Replace(createBody, "cafe", "forge", 1)
	resp = doRequest(t, http.MethodPost, srv.URL+"/markers", "p1", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, svc.Approve(ctx, "forge", "mod"))

	resp = doRequest(t, http.MethodGet, srv.URL+"/markers?owner=p1", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []markerResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)

	resp = doRequest(t, http.MethodGet, srv.URL+"/markers/approved", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var approved map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&approved))
	require.Equal(t, []string{"forge"}, approved["keys"])

	resp = doRequest(t, http.MethodGet, srv.URL+"/markers/keys", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var keys map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&keys))
	require.ElementsMatch(t, []string{"cafe", "forge"}, keys["keys"])
}

func TestNotificationsDrain(t *testing.T) {
	srv, svc, _ := newTestServer(t, map[string]int64{"p1": 10000})
	ctx := context.Background()

	resp := doRequest(t, http.MethodPost, srv.URL+"/markers", "p1", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, svc.Approve(ctx, "cafe", "mod"))

	resp = doRequest(t, http.MethodGet, srv.URL+"/notifications", "p1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))
	require.Len(t, first["messages"], 1)
	require.Contains(t, first["messages"][0], "approved")

	// Drained on read.
	resp = doRequest(t, http.MethodGet, srv.URL+"/notifications", "p1", "")
	var second map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))
	require.Empty(t, second["messages"])
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	resp := doRequest(t, http.MethodGet, srv.URL+"/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
