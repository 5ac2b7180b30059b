package utility

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/slxcharge/slxcharge/pkg/common"
	"github.com/slxcharge/slxcharge/pkg/log"
)

const pjmComedPNodeID = "33092371"

var (
	// ComEd timestamps are central time, PJM's are eastern.
	ctLocation = mustLoadLocation("America/Chicago")
	etLocation = mustLoadLocation("America/New_York")
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Errorf("failed to load location %s: %w", name, err))
	}
	return loc
}

// ComEd prices hours with the ComEd hourly pricing program: real-time 5
// minute prices averaged per hour for the past, PJM day-ahead prices for the
// future when a PJM key is configured.
type ComEd struct {
	apiURL    string
	pjmAPIKey string
	pjmAPIURL string
	client    *http.Client
	now       func() time.Time

	mu          sync.Mutex
	lastFetch   time.Time
	cachedStart time.Time
	cachedEnd   time.Time
	cached      []Price
}

func configuredComEd() *ComEd {
	c := &ComEd{
		client: common.HTTPClient(10 * time.Second),
		now:    time.Now,
	}
	apiURL := lflag.String("comed-api-url", "https://hourlypricing.comed.com/api", "URL for the ComEd Hourly Pricing API")
	pjmURL := lflag.String("pjm-api-url", "https://api.pjm.com/api/v1/da_hrl_lmps", "URL for the PJM API")
	pjmKey := lflag.String("pjm-api-key", "", "API Key for PJM Data Miner 2 (optional)")

	lflag.Do(func() {
		c.apiURL = *apiURL
		c.pjmAPIURL = *pjmURL
		c.pjmAPIKey = *pjmKey
	})
	return c
}

// Validate ensures the configuration is valid.
func (c *ComEd) Validate() error {
	if c.apiURL == "" {
		return fmt.Errorf("comed-api-url is required")
	}
	if _, err := url.Parse(c.apiURL); err != nil {
		return fmt.Errorf("failed to parse comed url (%s): %w", c.apiURL, err)
	}
	if c.pjmAPIURL != "" {
		if _, err := url.Parse(c.pjmAPIURL); err != nil {
			return fmt.Errorf("failed to parse pjm url (%s): %w", c.pjmAPIURL, err)
		}
	}
	return nil
}

// EnergyCosts implements Provider. Real-time averages override day-ahead
// prices for the same hour.
func (c *ComEd) EnergyCosts(ctx context.Context, start, end time.Time) (map[time.Time]float64, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("invalid range: %s - %s", start, end)
	}
	now := c.now()

	var prices []Price
	if end.After(now) && c.pjmAPIKey != "" {
		future, err := c.fetchPJMDayAhead(ctx, pjmComedPNodeID)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get pjm day ahead prices", slog.Any("error", err))
		} else {
			prices = append(prices, future...)
		}
	}
	if start.Before(now) {
		recentEnd := end
		if recentEnd.After(now) {
			recentEnd = now
		}
		recent, err := c.cachedPrices(ctx, start, recentEnd)
		if err != nil {
			return nil, err
		}
		prices = append(prices, recent...)
	}
	return hourlyCosts(prices, start, end), nil
}

// cachedPrices returns the hourly averages for the range, reusing the last
// response until a new 5 minute block starts.
func (c *ComEd) cachedPrices(ctx context.Context, start, end time.Time) ([]Price, error) {
	block := c.now().Truncate(5 * time.Minute)

	c.mu.Lock()
	if !c.lastFetch.IsZero() && !block.After(c.lastFetch) &&
		!start.Before(c.cachedStart) && !end.After(c.cachedEnd) {
		prices := append([]Price(nil), c.cached...)
		c.mu.Unlock()
		return prices, nil
	}
	c.mu.Unlock()

	prices, err := c.fetchPricesRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached = prices
	c.cachedStart = start
	c.cachedEnd = end
	c.lastFetch = block
	c.mu.Unlock()

	return append([]Price(nil), prices...), nil
}

type comedPriceEntry struct {
	MillisUTC string `json:"millisUTC"`
	Price     string `json:"price"`
}

// fetchPricesRange requests the 5 minute feed and averages it into hourly
// buckets.
func (c *ComEd) fetchPricesRange(ctx context.Context, start, end time.Time) ([]Price, error) {
	start = start.In(ctLocation)
	end = end.In(ctLocation)

	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}

	params := url.Values{}
	params.Set("type", "5minutefeed")
	params.Set("datestart", start.Format("200601021504"))
	params.Set("dateend", end.Format("200601021504"))
	params.Set("format", "json")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching prices from comed", slog.String("url", u.String()))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comed api returned status: %d", resp.StatusCode)
	}

	var data []comedPriceEntry
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	type hourlyData struct {
		start    time.Time
		sum      float64
		count    int
		lastTime time.Time
	}
	hours := make(map[int64]*hourlyData)

	for _, item := range data {
		ms, err := strconv.ParseInt(item.MillisUTC, 10, 64)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse comed millisUTC", slog.String("value", item.MillisUTC), slog.Any("error", err))
			continue
		}
		centsPerKWH, err := strconv.ParseFloat(item.Price, 64)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse comed price", slog.String("value", item.Price), slog.Any("error", err))
			continue
		}

		// the feed stamps each price with the end of its 5 minute interval
		tsEnd := time.UnixMilli(ms).In(ctLocation)
		hourStart := tsEnd.Add(-time.Millisecond).Truncate(time.Hour)
		key := hourStart.Unix()

		h, ok := hours[key]
		if !ok {
			h = &hourlyData{start: hourStart}
			hours[key] = h
		}
		h.sum += centsPerKWH
		h.count++
		if tsEnd.After(h.lastTime) {
			h.lastTime = tsEnd
		}
	}

	prices := make([]Price, 0, len(hours))
	for _, h := range hours {
		prices = append(prices, Price{
			Provider:      "comed",
			TSStart:       h.start,
			TSEnd:         h.lastTime,
			DollarsPerKWH: h.sum / float64(h.count) / 100,
			SampleCount:   h.count,
		})
	}
	sort.Slice(prices, func(i, j int) bool {
		return prices[i].TSStart.Before(prices[j].TSStart)
	})

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched comed prices",
		slog.Int("samples", len(data)),
		slog.Int("hours", len(prices)),
	)
	return prices, nil
}

type pjmItem struct {
	DatetimeBeginningEPT string  `json:"datetime_beginning_ept"`
	TotalLMPDA           float64 `json:"total_lmp_da"`
}

func (c *ComEd) fetchPJMDayAhead(ctx context.Context, pnodeID string) ([]Price, error) {
	now := c.now().In(etLocation)
	today := now.Format("2006-01-02")
	tomorrow := now.AddDate(0, 0, 1).Format("2006-01-02")
	dateRange := fmt.Sprintf("%s 00:00 to %s 23:59", today, tomorrow)

	u, err := url.Parse(c.pjmAPIURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pjm url (%s): %w", c.pjmAPIURL, err)
	}
	q := u.Query()
	q.Set("pnode_id", pnodeID)
	q.Set("datetime_beginning_ept", dateRange)
	q.Set("format", "json")
	q.Set("fields", "datetime_beginning_ept,total_lmp_da")
	// download removes the metadata and returns only the rows
	q.Set("download", "true")
	q.Set("startRow", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.pjmAPIKey)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pjm prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pjm api status: %d", resp.StatusCode)
	}

	var res []pjmItem
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode pjm response: %w", err)
	}

	prices := make([]Price, 0, len(res))
	for _, item := range res {
		t, err := time.ParseInLocation("2006-01-02T15:04:05", item.DatetimeBeginningEPT, etLocation)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse pjm time", slog.String("time", item.DatetimeBeginningEPT), slog.Any("error", err))
			continue
		}
		t = t.Truncate(time.Hour)
		prices = append(prices, Price{
			Provider:      "pjm",
			TSStart:       t,
			TSEnd:         t.Add(time.Hour),
			DollarsPerKWH: item.TotalLMPDA / 1000,
		})
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched pjm prices",
		slog.Int("count", len(prices)),
		slog.String("pnodeID", pnodeID),
	)
	return prices, nil
}
