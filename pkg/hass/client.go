package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/slxcharge/slxcharge/pkg/common"
	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/types"
)

// Client talks to the Home Assistant REST and websocket APIs.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// Configured registers the Home Assistant flags and returns a client that is
// populated once flags are parsed.
func Configured() *Client {
	c := &Client{
		client: common.HTTPClient(15 * time.Second),
	}
	baseURL := lflag.String("hass-url", "", "Base URL of Home Assistant (e.g. http://homeassistant.local:8123)")
	token := lflag.String("hass-token", "", "Long-lived access token for Home Assistant")

	lflag.Do(func() {
		c.baseURL = strings.TrimRight(*baseURL, "/")
		c.token = *token
	})
	return c
}

// New returns a client for the given instance. A nil http client uses the
// shared default.
func New(baseURL, token string, client *http.Client) *Client {
	if client == nil {
		client = common.HTTPClient(15 * time.Second)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// Enabled reports whether a Home Assistant URL was configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// Validate ensures the configuration is usable.
func (c *Client) Validate() error {
	if c.baseURL == "" {
		return nil
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("failed to parse hass url (%s): %w", c.baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("hass url must be http or https: %s", c.baseURL)
	}
	if c.token == "" {
		return fmt.Errorf("hass-token is required when hass-url is set")
	}
	return nil
}

// State is a single entity state as returned by the REST API. Minimal history
// responses only fill State and LastChanged after the first element.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Float parses the state as a number.
func (s State) Float() (float64, bool) {
	switch s.State {
	case "", "unknown", "unavailable":
		return 0, false
	}
	v, err := strconv.ParseFloat(s.State, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("home assistant is not configured")
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Ctx(ctx).DebugContext(ctx, "calling home assistant", slog.String("method", method), slog.String("path", path))
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call home assistant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("home assistant returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode home assistant response: %w", err)
	}
	return nil
}

// CallService invokes domain.service with the given data.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	if err := c.do(ctx, http.MethodPost, path, nil, data, nil); err != nil {
		return fmt.Errorf("failed to call %s.%s: %w", domain, service, err)
	}
	return nil
}

// GetState returns the current state of an entity.
func (c *Client) GetState(ctx context.Context, entityID string) (State, error) {
	var s State
	if err := c.do(ctx, http.MethodGet, "/api/states/"+url.PathEscape(entityID), nil, nil, &s); err != nil {
		return State{}, fmt.Errorf("failed to get state of %s: %w", entityID, err)
	}
	return s, nil
}

// StateChanges returns the numeric state changes of entityID between start
// and end. Non-numeric states are skipped.
func (c *Client) StateChanges(ctx context.Context, entityID string, start, end time.Time) ([]types.OdometerSample, error) {
	q := url.Values{}
	q.Set("filter_entity_id", entityID)
	q.Set("end_time", end.UTC().Format(time.RFC3339))
	q.Set("minimal_response", "")
	q.Set("no_attributes", "")
	path := "/api/history/period/" + url.PathEscape(start.UTC().Format(time.RFC3339))

	var res [][]State
	if err := c.do(ctx, http.MethodGet, path, q, nil, &res); err != nil {
		return nil, fmt.Errorf("failed to get history of %s: %w", entityID, err)
	}

	var samples []types.OdometerSample
	var skipped int
	for _, states := range res {
		for _, s := range states {
			v, ok := s.Float()
			if !ok || s.LastChanged.IsZero() {
				skipped++
				continue
			}
			samples = append(samples, types.OdometerSample{TS: s.LastChanged, KM: v})
		}
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"got home assistant history",
		slog.String("entityID", entityID),
		slog.Int("count", len(samples)),
		slog.Int("skipped", skipped),
	)
	return samples, nil
}
