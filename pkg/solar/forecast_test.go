package solar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const estimateBody = `{
	"result": {
		"watts": {
			"2024-04-15 06:32:00": 0,
			"2024-04-15 07:00:00": 312,
			"2024-04-15 12:00:00": 2060,
			"bogus": 1
		},
		"watt_hours_day": {"2024-04-15": 14360}
	},
	"message": {"code": 0, "type": "success", "text": "", "info": {"timezone": "Europe/Berlin"}}
}`

func TestForecast(t *testing.T) {
	t.Run("parses local timestamps", func(t *testing.T) {
		requests := 0
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			assert.Equal(t, "/key/estimate/52.5/13.4/35/0/5.5", r.URL.Path)
			_, _ = w.Write([]byte(estimateBody))
		}))
		defer ts.Close()

		now := time.Date(2024, 4, 15, 4, 0, 0, 0, time.UTC)
		f := New(ts.URL, "key", Plane{Latitude: 52.5, Longitude: 13.4, Declination: 35, Azimuth: 0, KWP: 5.5}, ts.Client())
		f.now = func() time.Time { return now }

		watts, err := f.Forecast(context.Background())
		require.NoError(t, err)
		assert.Len(t, watts, 3)
		// CEST is UTC+2
		assert.Equal(t, 2060.0, watts[time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)])
		assert.Equal(t, 312.0, watts[time.Date(2024, 4, 15, 5, 0, 0, 0, time.UTC)])

		_, err = f.Forecast(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, requests, "expected cached response")

		now = now.Add(2 * time.Hour)
		_, err = f.Forecast(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, requests)
	})

	t.Run("rate limited", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/estimate/1/2/30/-10/3", r.URL.Path)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"result":null,"message":{"code":429,"type":"error","text":"Rate limit for API calls reached."}}`))
		}))
		defer ts.Close()

		f := New(ts.URL, "", Plane{Latitude: 1, Longitude: 2, Declination: 30, Azimuth: -10, KWP: 3}, ts.Client())
		_, err := f.Forecast(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Rate limit")
	})

	t.Run("validate", func(t *testing.T) {
		assert.False(t, New("", "", Plane{}, nil).Enabled())
		assert.NoError(t, New("", "", Plane{}, nil).Validate())
		assert.NoError(t, New("https://api.forecast.solar", "", Plane{Latitude: 52, Longitude: 13, Declination: 30, KWP: 4}, nil).Validate())
		assert.Error(t, New("https://api.forecast.solar", "", Plane{Latitude: 100, KWP: 4}, nil).Validate())
		assert.Error(t, New("https://api.forecast.solar", "", Plane{Declination: 120, KWP: 4}, nil).Validate())
	})
}
