// Package openmeteo provides integration with the Open-Meteo historical
// weather archive and geocoding APIs.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chrissnell/aqbackfill/internal/types"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// DailyVariables are the archive variables stored in the weather feature group
var DailyVariables = []string{
	"temperature_2m_mean",
	"precipitation_sum",
	"wind_speed_10m_max",
	"wind_direction_10m_dominant",
}

// ErrCityNotFound is returned when geocoding finds no match for a city
var ErrCityNotFound = errors.New("city not found")

// Client holds our Open-Meteo configuration
type Client struct {
	archiveURL   string
	geocodingURL string
	httpClient   *http.Client
	logger       *zap.SugaredLogger
}

type archiveResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Daily     struct {
		Time                     []string   `json:"time"`
		Temperature2mMean        []*float64 `json:"temperature_2m_mean"`
		PrecipitationSum         []*float64 `json:"precipitation_sum"`
		WindSpeed10mMax          []*float64 `json:"wind_speed_10m_max"`
		WindDirection10mDominant []*float64 `json:"wind_direction_10m_dominant"`
	} `json:"daily"`
}

type errorResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

type geocodingResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Country   string  `json:"country"`
	} `json:"results"`
}

// NewClient creates a client for the given archive and geocoding endpoints
func NewClient(archiveURL, geocodingURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		archiveURL:   archiveURL,
		geocodingURL: geocodingURL,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.Named("openmeteo"),
	}
}

// HistoricalWeather downloads daily weather for city between start and end
// (inclusive). Days where any variable is missing are dropped and the result
// is ordered by date.
func (c *Client) HistoricalWeather(ctx context.Context, city string, start, end time.Time, latitude, longitude float64) ([]types.Weather, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s is before start date %s", end.Format(dateLayout), start.Format(dateLayout))
	}

	v := url.Values{}
	v.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	v.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	v.Set("start_date", start.Format(dateLayout))
	v.Set("end_date", end.Format(dateLayout))
	v.Set("daily", strings.Join(DailyVariables, ","))
	v.Set("timezone", "GMT")

	response := &archiveResponse{}
	if err := c.get(ctx, c.archiveURL, v, response); err != nil {
		return nil, err
	}

	d := response.Daily
	n := len(d.Time)
	for name, column := range map[string][]*float64{
		"temperature_2m_mean":         d.Temperature2mMean,
		"precipitation_sum":           d.PrecipitationSum,
		"wind_speed_10m_max":          d.WindSpeed10mMax,
		"wind_direction_10m_dominant": d.WindDirection10mDominant,
	} {
		if len(column) != n {
			return nil, fmt.Errorf("open-meteo returned %d values for %s but %d dates", len(column), name, n)
		}
	}

	records := make([]types.Weather, 0, n)
	dropped := 0
	for i := 0; i < n; i++ {
		date, err := time.ParseInLocation(dateLayout, d.Time[i], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("open-meteo returned invalid date %q: %w", d.Time[i], err)
		}
		if d.Temperature2mMean[i] == nil || d.PrecipitationSum[i] == nil ||
			d.WindSpeed10mMax[i] == nil || d.WindDirection10mDominant[i] == nil {
			dropped++
			continue
		}
		records = append(records, types.Weather{
			Date:                     date,
			Temperature2mMean:        float32(*d.Temperature2mMean[i]),
			PrecipitationSum:         float32(*d.PrecipitationSum[i]),
			WindSpeed10mMax:          float32(*d.WindSpeed10mMax[i]),
			WindDirection10mDominant: float32(*d.WindDirection10mDominant[i]),
			City:                     city,
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})

	c.logger.Infow("fetched historical weather",
		"city", city,
		"start", start.Format(dateLayout),
		"end", end.Format(dateLayout),
		"days", len(records),
		"dropped", dropped)

	return records, nil
}

// CityCoordinates geocodes city and returns the coordinates of the best match
func (c *Client) CityCoordinates(ctx context.Context, city string) (latitude, longitude float64, err error) {
	v := url.Values{}
	v.Set("name", city)
	v.Set("count", "1")
	v.Set("language", "en")
	v.Set("format", "json")

	response := &geocodingResponse{}
	if err := c.get(ctx, c.geocodingURL, v, response); err != nil {
		return 0, 0, err
	}

	if len(response.Results) == 0 {
		return 0, 0, fmt.Errorf("%w: %s", ErrCityNotFound, city)
	}

	hit := response.Results[0]
	c.logger.Infof("geocoded %s to %s, %s (%.6f,%.6f)", city, hit.Name, hit.Country, hit.Latitude, hit.Longitude)
	return hit.Latitude, hit.Longitude, nil
}

func (c *Client) get(ctx context.Context, endpoint string, v url.Values, target interface{}) error {
	reqURL := endpoint + "?" + v.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("error creating Open-Meteo HTTP request: %w", err)
	}

	c.logger.Debugf("Making request to Open-Meteo: %v", reqURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error making request to Open-Meteo: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading Open-Meteo response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Reason != "" {
			return fmt.Errorf("bad response from Open-Meteo (%s): %s", resp.Status, apiErr.Reason)
		}
		return fmt.Errorf("bad response from Open-Meteo: %s", resp.Status)
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("unable to decode Open-Meteo response: %w", err)
	}
	return nil
}
