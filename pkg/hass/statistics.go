package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/types"
)

const wsTimeout = 30 * time.Second

type wsMessage struct {
	ID          int             `json:"id,omitempty"`
	Type        string          `json:"type"`
	AccessToken string          `json:"access_token,omitempty"`
	Success     bool            `json:"success,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *wsError        `json:"error,omitempty"`
	Message     string          `json:"message,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type statisticsRequest struct {
	ID           int      `json:"id"`
	Type         string   `json:"type"`
	StartTime    string   `json:"start_time"`
	EndTime      string   `json:"end_time"`
	StatisticIDs []string `json:"statistic_ids"`
	Period       string   `json:"period"`
	Types        []string `json:"types"`
}

// statTime accepts both epoch milliseconds and ISO timestamps, newer and older
// recorder versions respectively.
type statTime time.Time

func (t *statTime) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		*t = statTime(ts)
		return nil
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*t = statTime(time.UnixMilli(int64(ms)).UTC())
	return nil
}

type statisticRow struct {
	Start statTime `json:"start"`
	End   statTime `json:"end"`
	State *float64 `json:"state"`
}

func (c *Client) websocketURL() (string, error) {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/api/websocket", nil
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/api/websocket", nil
	}
	return "", fmt.Errorf("unsupported hass url: %q", c.baseURL)
}

// HourlyStatistics returns the hourly long-term statistics of statisticID
// between start and end. Each sample is stamped with the end of its hour.
func (c *Client) HourlyStatistics(ctx context.Context, statisticID string, start, end time.Time) ([]types.OdometerSample, error) {
	u, err := c.websocketURL()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, wsTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("User-Agent", "slxcharge")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to home assistant websocket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	if err := c.wsAuthenticate(conn); err != nil {
		return nil, err
	}

	req := statisticsRequest{
		ID:           1,
		Type:         "recorder/statistics_during_period",
		StartTime:    start.UTC().Format(time.RFC3339),
		EndTime:      end.UTC().Format(time.RFC3339),
		StatisticIDs: []string{statisticID},
		Period:       "hour",
		Types:        []string{"state"},
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("failed to request statistics: %w", err)
	}

	var res wsMessage
	for {
		res = wsMessage{}
		if err := conn.ReadJSON(&res); err != nil {
			return nil, fmt.Errorf("failed to read statistics: %w", err)
		}
		if res.Type == "result" && res.ID == req.ID {
			break
		}
	}
	if !res.Success {
		if res.Error != nil {
			return nil, fmt.Errorf("statistics request failed: %s: %s", res.Error.Code, res.Error.Message)
		}
		return nil, fmt.Errorf("statistics request failed")
	}

	var rows map[string][]statisticRow
	if err := json.Unmarshal(res.Result, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode statistics: %w", err)
	}

	var samples []types.OdometerSample
	for _, row := range rows[statisticID] {
		if row.State == nil {
			continue
		}
		ts := time.Time(row.End)
		if ts.IsZero() {
			ts = time.Time(row.Start).Add(time.Hour)
		}
		samples = append(samples, types.OdometerSample{TS: ts, KM: *row.State})
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"got home assistant statistics",
		slog.String("statisticID", statisticID),
		slog.Int("count", len(samples)),
	)
	return samples, nil
}

func (c *Client) wsAuthenticate(conn *websocket.Conn) error {
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth request: %w", err)
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("unexpected websocket message: %s", msg.Type)
	}
	if err := conn.WriteJSON(wsMessage{Type: "auth", AccessToken: c.token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}
	msg = wsMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth result: %w", err)
	}
	if msg.Type != "auth_ok" {
		return fmt.Errorf("home assistant rejected auth: %s %s", msg.Type, msg.Message)
	}
	return nil
}
