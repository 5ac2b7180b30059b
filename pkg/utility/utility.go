package utility

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Provider returns the cost of grid energy.
type Provider interface {
	// EnergyCosts returns dollars per kWh keyed by the UTC start of each hour
	// in [start, end). Hours without a known price are absent.
	EnergyCosts(ctx context.Context, start, end time.Time) (map[time.Time]float64, error)
}

// Price is the cost of electricity in a time interval.
type Price struct {
	Provider      string    `json:"provider"`
	TSStart       time.Time `json:"tsStart"`
	TSEnd         time.Time `json:"tsEnd"`
	DollarsPerKWH float64   `json:"dollarsPerKWH"`

	SampleCount int `json:"-"`
}

// Configured registers the utility flags and the supported providers. The
// active provider is picked with --utility-provider.
func Configured() *Map {
	m := NewMap()
	m.SetProvider("tou", configuredTOU())
	m.SetProvider("comed", configuredComEd())
	active := lflag.String("utility-provider", "", "Energy cost provider: tou, comed or empty for none")
	lflag.Do(func() {
		m.mu.Lock()
		m.active = *active
		m.mu.Unlock()
	})
	return m
}

// Map manages the available utility providers.
type Map struct {
	mu        sync.Mutex
	providers map[string]Provider
	active    string
}

// NewMap creates a new Map.
func NewMap() *Map {
	return &Map{
		providers: make(map[string]Provider),
	}
}

// Provider returns the provider with the given name.
func (m *Map) Provider(name string) (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.providers[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("unknown utility provider: %s", name)
}

// SetProvider sets the provider for the given name.
func (m *Map) SetProvider(name string, p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = p
}

// SetActive selects the provider returned by Active.
func (m *Map) SetActive(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = name
}

// Active returns the selected provider, or false when none is selected.
func (m *Map) Active() (Provider, bool, error) {
	m.mu.Lock()
	name := m.active
	m.mu.Unlock()
	if name == "" {
		return nil, false, nil
	}
	p, err := m.Provider(name)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// hourlyCosts flattens prices into a map keyed by the UTC hour start, keeping
// only hours within [start, end). Later prices for the same hour win.
func hourlyCosts(prices []Price, start, end time.Time) map[time.Time]float64 {
	sort.SliceStable(prices, func(i, j int) bool {
		return prices[i].TSStart.Before(prices[j].TSStart)
	})
	costs := make(map[time.Time]float64, len(prices))
	for _, p := range prices {
		h := p.TSStart.UTC().Truncate(time.Hour)
		if h.Before(start.UTC().Truncate(time.Hour)) || !h.Before(end) {
			continue
		}
		costs[h] = p.DollarsPerKWH
	}
	return costs
}
