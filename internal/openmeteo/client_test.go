package openmeteo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

const archiveBody = `{
  "latitude": 60.16,
  "longitude": 24.94,
  "daily_units": {"time": "iso8601", "temperature_2m_mean": "°C"},
  "daily": {
    "time": ["2024-01-01", "2024-01-02", "2024-01-03"],
    "temperature_2m_mean": [-3.2, null, 1.5],
    "precipitation_sum": [0.0, 2.1, 4.4],
    "wind_speed_10m_max": [14.8, 20.3, 31.0],
    "wind_direction_10m_dominant": [210, 190, 270]
  }
}`

func TestHistoricalWeather(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"start_date": q.Get("start_date"),
			"end_date":   q.Get("end_date"),
			"daily":      q.Get("daily"),
			"latitude":   q.Get("latitude"),
		}
		fmt.Fprint(w, archiveBody)
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/v1/archive", "", time.Second, zap.NewNop().Sugar())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	records, err := client.HistoricalWeather(context.Background(), "helsinki", start, end, 60.1733244, 24.9410248)
	if err != nil {
		t.Fatalf("HistoricalWeather returned error: %v", err)
	}

	if gotQuery["start_date"] != "2024-01-01" || gotQuery["end_date"] != "2024-01-03" {
		t.Errorf("unexpected date range in query: %v", gotQuery)
	}
	if gotQuery["daily"] != "temperature_2m_mean,precipitation_sum,wind_speed_10m_max,wind_direction_10m_dominant" {
		t.Errorf("unexpected daily variables: %q", gotQuery["daily"])
	}
	if gotQuery["latitude"] != "60.1733244" {
		t.Errorf("unexpected latitude: %q", gotQuery["latitude"])
	}

	// The day with a null temperature is dropped
	if len(records) != 2 {
		t.Fatalf("got %d records, expected 2", len(records))
	}
	if !records[0].Date.Equal(start) {
		t.Errorf("first date = %v, expected %v", records[0].Date, start)
	}
	if records[1].PrecipitationSum != 4.4 || records[1].WindSpeed10mMax != 31.0 || records[1].City != "helsinki" {
		t.Errorf("unexpected second record: %+v", records[1])
	}
}

func TestHistoricalWeatherErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{
			name:    "api reason",
			status:  http.StatusBadRequest,
			body:    `{"error":true,"reason":"Parameter 'start_date' is out of allowed range"}`,
			wantErr: "out of allowed range",
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `oops`,
			wantErr: "500",
		},
		{
			name:    "ragged arrays",
			status:  http.StatusOK,
			body:    `{"daily":{"time":["2024-01-01"],"temperature_2m_mean":[],"precipitation_sum":[1],"wind_speed_10m_max":[1],"wind_direction_10m_dominant":[1]}}`,
			wantErr: "temperature_2m_mean",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "", time.Second, zap.NewNop().Sugar())
			day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			_, err := client.HistoricalWeather(context.Background(), "helsinki", day, day, 1, 1)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestHistoricalWeatherRejectsReversedRange(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", "", time.Second, zap.NewNop().Sugar())
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if _, err := client.HistoricalWeather(context.Background(), "x", start, start.AddDate(0, 0, -1), 0, 0); err == nil {
		t.Error("expected error for end before start")
	}
}

func TestCityCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "helsinki" {
			fmt.Fprint(w, `{"results":[{"name":"Helsinki","latitude":60.16952,"longitude":24.93545,"country":"Finland"}]}`)
			return
		}
		fmt.Fprint(w, `{"generationtime_ms":0.2}`)
	}))
	defer srv.Close()

	client := NewClient("", srv.URL, time.Second, zap.NewNop().Sugar())

	lat, lon, err := client.CityCoordinates(context.Background(), "helsinki")
	if err != nil {
		t.Fatalf("CityCoordinates returned error: %v", err)
	}
	if lat != 60.16952 || lon != 24.93545 {
		t.Errorf("got (%v,%v), expected (60.16952,24.93545)", lat, lon)
	}

	_, _, err = client.CityCoordinates(context.Background(), "atlantis")
	if !errors.Is(err, ErrCityNotFound) {
		t.Errorf("expected ErrCityNotFound, got %v", err)
	}
}
