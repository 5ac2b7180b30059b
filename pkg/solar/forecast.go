package solar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/slxcharge/slxcharge/pkg/common"
	"github.com/slxcharge/slxcharge/pkg/log"
)

// Plane describes one PV array.
type Plane struct {
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	Declination float64 `json:"declination"`
	Azimuth     float64 `json:"azimuth"`
	KWP         float64 `json:"kwp"`
}

// ForecastSolar fetches PV production estimates from the forecast.solar
// estimate API. Responses are cached since the free tier is rate limited.
type ForecastSolar struct {
	apiURL string
	apiKey string
	plane  Plane
	ttl    time.Duration
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	lastFetch time.Time
	cached    map[time.Time]float64
}

// Configured registers the solar forecast flags. The forecast is disabled
// while the plane has no peak power.
func Configured() *ForecastSolar {
	f := &ForecastSolar{
		client: common.HTTPClient(15 * time.Second),
		now:    time.Now,
	}
	apiURL := lflag.String("solar-api-url", "https://api.forecast.solar", "Base URL of the forecast.solar API")
	apiKey := lflag.String("solar-api-key", "", "forecast.solar API key (optional)")
	ttl := lflag.Duration("solar-cache-ttl", time.Hour, "How long a solar forecast is reused")
	var plane Plane
	lflag.JSON(&plane, "solar-plane", plane, `PV array as JSON: {"lat":..,"lon":..,"declination":..,"azimuth":..,"kwp":..}`)

	lflag.Do(func() {
		f.apiURL = strings.TrimRight(*apiURL, "/")
		f.apiKey = *apiKey
		f.ttl = *ttl
		f.plane = plane
	})
	return f
}

// New returns a forecaster for the plane.
func New(apiURL, apiKey string, plane Plane, client *http.Client) *ForecastSolar {
	if client == nil {
		client = common.HTTPClient(15 * time.Second)
	}
	return &ForecastSolar{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		plane:  plane,
		ttl:    time.Hour,
		client: client,
		now:    time.Now,
	}
}

// Enabled reports whether a PV array is configured.
func (f *ForecastSolar) Enabled() bool {
	return f.plane.KWP > 0
}

// Validate ensures the configuration is usable.
func (f *ForecastSolar) Validate() error {
	if !f.Enabled() {
		return nil
	}
	if _, err := url.Parse(f.apiURL); err != nil {
		return fmt.Errorf("failed to parse solar api url (%s): %w", f.apiURL, err)
	}
	if f.plane.Latitude < -90 || f.plane.Latitude > 90 || f.plane.Longitude < -180 || f.plane.Longitude > 180 {
		return fmt.Errorf("invalid solar plane location: %v,%v", f.plane.Latitude, f.plane.Longitude)
	}
	if f.plane.Declination < 0 || f.plane.Declination > 90 {
		return fmt.Errorf("invalid solar plane declination: %v", f.plane.Declination)
	}
	return nil
}

type estimateResponse struct {
	Result struct {
		Watts map[string]float64 `json:"watts"`
	} `json:"result"`
	Message struct {
		Code int    `json:"code"`
		Text string `json:"text"`
		Info struct {
			Timezone string `json:"timezone"`
		} `json:"info"`
	} `json:"message"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Forecast returns the expected PV power in watts keyed by time.
func (f *ForecastSolar) Forecast(ctx context.Context) (map[time.Time]float64, error) {
	now := f.now()
	f.mu.Lock()
	if f.cached != nil && now.Sub(f.lastFetch) < f.ttl {
		cached := f.cached
		f.mu.Unlock()
		return cached, nil
	}
	f.mu.Unlock()

	watts, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.cached = watts
	f.lastFetch = now
	f.mu.Unlock()
	return watts, nil
}

func (f *ForecastSolar) fetch(ctx context.Context) (map[time.Time]float64, error) {
	parts := []string{f.apiURL}
	if f.apiKey != "" {
		parts = append(parts, url.PathEscape(f.apiKey))
	}
	parts = append(parts,
		"estimate",
		formatFloat(f.plane.Latitude),
		formatFloat(f.plane.Longitude),
		formatFloat(f.plane.Declination),
		formatFloat(f.plane.Azimuth),
		formatFloat(f.plane.KWP),
	)
	u := strings.Join(parts, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	log.Ctx(ctx).DebugContext(ctx, "fetching solar forecast")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch solar forecast: %w", err)
	}
	defer resp.Body.Close()

	var res estimateResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode solar forecast (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forecast.solar returned status %d: %s", resp.StatusCode, res.Message.Text)
	}

	loc := time.UTC
	if res.Message.Info.Timezone != "" {
		l, err := time.LoadLocation(res.Message.Info.Timezone)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "unknown forecast timezone", slog.String("timezone", res.Message.Info.Timezone))
		} else {
			loc = l
		}
	}

	watts := make(map[time.Time]float64, len(res.Result.Watts))
	for k, v := range res.Result.Watts {
		ts, err := time.ParseInLocation(time.DateTime, k, loc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse forecast time", slog.String("value", k), slog.Any("error", err))
			continue
		}
		watts[ts.UTC()] = v
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched solar forecast", slog.Int("count", len(watts)))
	return watts, nil
}
