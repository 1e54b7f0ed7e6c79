// Package aqicn fetches current air quality readings from the World Air
// Quality Index project (aqicn.org / waqi.info).
package aqicn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chrissnell/aqbackfill/internal/types"
	"go.uber.org/zap"
)

const (
	defaultFeedURL = "https://api.waqi.info/feed"
	unknownStation = "Unknown station"
)

var (
	// ErrNoPM25 is returned when the station answers but reports no PM2.5
	ErrNoPM25 = errors.New("station response does not contain a pm25 reading")
)

// APIError carries the message the API returned with a non-ok status
type APIError struct {
	Status  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aqicn API returned status %q: %s", e.Status, e.Message)
}

// feedResponse is the envelope of every feed call. Data is an object on
// success and a plain string ("Unknown station", "Invalid key") otherwise.
type feedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type feedData struct {
	IAQI map[string]struct {
		V *float64 `json:"v"`
	} `json:"iaqi"`
}

// Client talks to the aqicn feed API
type Client struct {
	httpClient *http.Client
	apiKey     string
	feedURL    string
	logger     *zap.SugaredLogger
}

// NewClient creates a client authenticated with apiKey
func NewClient(apiKey string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		feedURL:    defaultFeedURL,
		logger:     logger.Named("aqicn"),
	}
}

// WithFeedURL overrides the base URL used for the country/street fallback
// lookups.
func (c *Client) WithFeedURL(feedURL string) *Client {
	c.feedURL = strings.TrimRight(feedURL, "/")
	return c
}

// GetPM25 fetches the current PM2.5 reading of the sensor and returns it as an
// air quality record dated day. When the sensor URL is not recognised the
// station is looked up by country/street and then by country/city/street.
func (c *Client) GetPM25(ctx context.Context, sensor types.Sensor, day time.Time) (types.AirQuality, error) {
	candidates := []string{
		strings.TrimRight(sensor.URL, "/"),
		fmt.Sprintf("%s/%s/%s", c.feedURL, url.PathEscape(sensor.Country), url.PathEscape(sensor.Street)),
		fmt.Sprintf("%s/%s/%s/%s", c.feedURL, url.PathEscape(sensor.Country), url.PathEscape(sensor.City), url.PathEscape(sensor.Street)),
	}

	var resp *feedResponse
	for _, endpoint := range candidates {
		var err error
		resp, err = c.fetch(ctx, endpoint)
		if err != nil {
			return types.AirQuality{}, err
		}
		if dataMessage(resp.Data) != unknownStation {
			break
		}
		c.logger.Debugf("station %s unknown, trying next lookup", redact(endpoint))
	}

	if resp.Status != "ok" {
		return types.AirQuality{}, &APIError{Status: resp.Status, Message: dataMessage(resp.Data)}
	}

	var data feedData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return types.AirQuality{}, fmt.Errorf("unable to decode aqicn feed data: %w", err)
	}

	pm25, ok := data.IAQI["pm25"]
	if !ok || pm25.V == nil {
		return types.AirQuality{}, ErrNoPM25
	}

	return types.AirQuality{
		Date:    day.UTC().Truncate(24 * time.Hour),
		PM25:    float32(*pm25.V),
		Country: sensor.Country,
		City:    sensor.City,
		Street:  sensor.Street,
		URL:     sensor.URL,
	}, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) (*feedResponse, error) {
	v := url.Values{}
	v.Set("token", c.apiKey)
	reqURL := endpoint + "/?" + v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating aqicn API HTTP request: %w", err)
	}

	c.logger.Debugf("Making request to aqicn: %s", redact(endpoint))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error embeds the full URL, token included
		return nil, fmt.Errorf("error making request to aqicn %s: %w", redact(endpoint), unwrapURLError(err))
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading aqicn response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aqicn API responded with status %s", resp.Status)
	}

	response := &feedResponse{}
	if err := json.NewDecoder(bytes.NewReader(bodyBytes)).Decode(response); err != nil {
		return nil, fmt.Errorf("unable to decode aqicn API response: %w", err)
	}

	return response, nil
}

// dataMessage returns the data field when the API used it to carry a message
func dataMessage(raw json.RawMessage) string {
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ""
	}
	return msg
}

func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
