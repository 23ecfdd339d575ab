// Package dynmap talks to the web map's HTTP API to keep facility pins in
// sync with marker state.
package dynmap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inecat/mapads/internal/app/domain/marker"
	"github.com/inecat/mapads/pkg/logger"
)

// Client manages pins through the map server's REST surface. Pins live in
// named sets; the workflow uses one set for commercial facilities and one for
// featured runs.
type Client struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// New constructs a map client for the given endpoint.
func New(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("dynmap endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse dynmap endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("dynmap")
	}
	return &Client{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

type pinDocument struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	HTML  string  `json:"html,omitempty"`
}

// CreatePin places or replaces a pin in the given set.
func (c *Client) CreatePin(ctx context.Context, setID, key string, loc marker.Location, htmlBody string) error {
	doc := pinDocument{
		ID:    pinID(key),
		Label: key,
		World: loc.World,
		X:     loc.X,
		Y:     loc.Y,
		Z:     loc.Z,
		HTML:  htmlBody,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode pin %s: %w", key, err)
	}

	requestURL := c.endpoint.JoinPath("sets", setID, "pins")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("create pin %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		c.log.WithField("set", setID).WithField("pin", doc.ID).Debug("pin created")
		return nil
	default:
		return fmt.Errorf("create pin %s in %s: status %d", key, setID, resp.StatusCode)
	}
}

// DeletePin removes a pin from the given set. A missing pin is not an error.
func (c *Client) DeletePin(ctx context.Context, setID, key string) error {
	requestURL := c.endpoint.JoinPath("sets", setID, "pins", pinID(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, requestURL.String(), nil)
	if err != nil {
		return fmt.Errorf("build pin delete: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete pin %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("delete pin %s from %s: status %d", key, setID, resp.StatusCode)
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// pinID flattens a marker key into an identifier the map server accepts.
func pinID(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
