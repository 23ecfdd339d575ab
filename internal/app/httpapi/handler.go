// Package httpapi exposes the marker workflow over REST. Requester identity
// arrives in X-Player-ID and X-Player-Name headers, set by the game-server
// proxy in front of this service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/inecat/mapads/internal/app/domain/marker"
	"github.com/inecat/mapads/internal/app/metrics"
	"github.com/inecat/mapads/internal/app/services/markers"
	"github.com/inecat/mapads/pkg/logger"
)

const (
	headerPlayerID   = "X-Player-ID"
	headerPlayerName = "X-Player-Name"
)

const timeFormat = time.RFC3339

// Workflow is the slice of the marker service the API consumes.
type Workflow interface {
	Create(ctx context.Context, ownerID, ownerName, key, description string, loc marker.Location) (marker.Marker, error)
	Promote(ctx context.Context, requesterID, key string, days int, promoMessage string) error
	Delete(ctx context.Context, requesterID, key string) error
	Get(ctx context.Context, key string) (marker.Marker, error)
	ListOwned(ctx context.Context, ownerID string) ([]marker.Marker, error)
	ListApprovedKeys(ctx context.Context) ([]string, error)
	ListKeys(ctx context.Context) ([]string, error)
}

type handler struct {
	workflow Workflow
	inbox    *Inbox
	log      *logger.Logger
}

// NewHandler builds the REST router around the workflow service. inbox may be
// nil when owner notifications go elsewhere.
func NewHandler(workflow Workflow, inbox *Inbox, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{workflow: workflow, inbox: inbox, log: log}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/markers", func(r chi.Router) {
		r.Post("/", h.createMarker)
		r.Get("/", h.listMarkers)
		r.Get("/approved", h.listApproved)
		r.Get("/keys", h.listKeys)
		r.Get("/{key}", h.getMarker)
		r.Delete("/{key}", h.deleteMarker)
		r.Post("/{key}/promote", h.promoteMarker)
	})

	r.Get("/notifications", h.notifications)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type locationPayload struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

type markerResponse struct {
	Key           string          `json:"key"`
	OwnerID       string          `json:"owner_id"`
	Location      locationPayload `json:"location"`
	Description   string          `json:"description,omitempty"`
	Status        string          `json:"status"`
	FeaturedUntil string          `json:"featured_until,omitempty"`
	PromoMessage  string          `json:"promo_message,omitempty"`
}

func toResponse(m marker.Marker) markerResponse {
	resp := markerResponse{
		Key:     m.Key,
		OwnerID: m.OwnerID,
		Location: locationPayload{
			World: m.Location.World,
			X:     m.Location.X,
			Y:     m.Location.Y,
			Z:     m.Location.Z,
		},
		Description:  m.Description,
		Status:       string(m.Status),
		PromoMessage: m.PromoMessage,
	}
	if m.FeaturedUntil != nil {
		resp.FeaturedUntil = m.FeaturedUntil.UTC().Format(timeFormat)
	}
	return resp
}

func (h *handler) createMarker(w http.ResponseWriter, r *http.Request) {
	requesterID, requesterName, ok := identity(w, r)
	if !ok {
		return
	}

	var payload struct {
		Key         string          `json:"key"`
		Description string          `json:"description"`
		Location    locationPayload `json:"location"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Key == "" || payload.Location.World == "" {
		writeError(w, http.StatusBadRequest, errors.New("key and location.world are required"))
		return
	}

	m, err := h.workflow.Create(r.Context(), requesterID, requesterName, payload.Key, payload.Description, marker.Location{
		World: payload.Location.World,
		X:     payload.Location.X,
		Y:     payload.Location.Y,
		Z:     payload.Location.Z,
	})
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(m))
}

func (h *handler) promoteMarker(w http.ResponseWriter, r *http.Request) {
	requesterID, _, ok := identity(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

	var payload struct {
		Days         int    `json:"days"`
		PromoMessage string `json:"promo_message"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Days < 1 {
		writeError(w, http.StatusBadRequest, errors.New("days must be at least 1"))
		return
	}

	if err := h.workflow.Promote(r.Context(), requesterID, key, payload.Days, payload.PromoMessage); err != nil {
		writeWorkflowError(w, err)
		return
	}

	m, err := h.workflow.Get(r.Context(), key)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(m))
}

func (h *handler) deleteMarker(w http.ResponseWriter, r *http.Request) {
	requesterID, _, ok := identity(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

	if err := h.workflow.Delete(r.Context(), requesterID, key); err != nil {
		writeWorkflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getMarker(w http.ResponseWriter, r *http.Request) {
	m, err := h.workflow.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(m))
}

func (h *handler) listMarkers(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = r.Header.Get(headerPlayerID)
	}
	if owner == "" {
		writeError(w, http.StatusBadRequest, errors.New("owner query parameter or "+headerPlayerID+" header required"))
		return
	}

	list, err := h.workflow.ListOwned(r.Context(), owner)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	resp := make([]markerResponse, 0, len(list))
	for _, m := range list {
		resp = append(resp, toResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) listApproved(w http.ResponseWriter, r *http.Request) {
	keys, err := h.workflow.ListApprovedKeys(r.Context())
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"keys": keys})
}

func (h *handler) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.workflow.ListKeys(r.Context())
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"keys": keys})
}

func (h *handler) notifications(w http.ResponseWriter, r *http.Request) {
	requesterID, _, ok := identity(w, r)
	if !ok {
		return
	}
	if h.inbox == nil {
		writeJSON(w, http.StatusOK, map[string][]string{"messages": {}})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"messages": h.inbox.drain(requesterID)})
}

func identity(w http.ResponseWriter, r *http.Request) (id, name string, ok bool) {
	id = r.Header.Get(headerPlayerID)
	if id == "" {
		writeError(w, http.StatusUnauthorized, errors.New(headerPlayerID+" header required"))
		return "", "", false
	}
	name = r.Header.Get(headerPlayerName)
	if name == "" {
		name = id
	}
	return id, name, true
}

func writeWorkflowError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, markers.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, markers.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, markers.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, markers.ErrWrongState):
		return http.StatusConflict
	case errors.Is(err, markers.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, markers.ErrChannelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
