// Package app runs the one-off backfill that seeds the air quality and
// weather feature groups.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/chrissnell/aqbackfill/internal/airquality"
	"github.com/chrissnell/aqbackfill/internal/aqicn"
	"github.com/chrissnell/aqbackfill/internal/featurestore"
	"github.com/chrissnell/aqbackfill/internal/metrics"
	"github.com/chrissnell/aqbackfill/internal/openmeteo"
	"github.com/chrissnell/aqbackfill/internal/types"
	"github.com/chrissnell/aqbackfill/pkg/aqi"
	"github.com/chrissnell/aqbackfill/pkg/config"
	"go.uber.org/zap"
)

const (
	APIKeySecret         = "AQICN_API_KEY"
	SensorLocationSecret = "SENSOR_LOCATION_JSON"

	AirQualityGroup = "air_quality"
	WeatherGroup    = "weather"
)

// ErrMissingAPIKey is returned when no AQICN API key is configured
var ErrMissingAPIKey = errors.New("AQICN_API_KEY is not set")

// SensorLocation is stored as the SENSOR_LOCATION_JSON secret so later
// pipelines can find the sensor again.
type SensorLocation struct {
	Country   string `json:"country"`
	City      string `json:"city"`
	Street    string `json:"street"`
	AQICNURL  string `json:"aqicn_url"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// Result summarises a backfill run
type Result struct {
	CSVRowsRead      int
	CSVRowsDropped   int
	AirQualityRows   int
	WeatherRows      int
	EarliestDate     time.Time
	Today            time.Time
	Sample           *types.AirQuality
	AirQualityCommit *featurestore.Commit
	WeatherCommit    *featurestore.Commit
}

// Backfill holds everything a run needs
type Backfill struct {
	settings *config.Settings
	logger   *zap.SugaredLogger
	metrics  *metrics.Recorder
	now      func() time.Time
}

// New creates a backfill for settings
func New(settings *config.Settings, logger *zap.SugaredLogger) *Backfill {
	return &Backfill{
		settings: settings,
		logger:   logger,
		metrics:  metrics.NewRecorder(),
		now:      time.Now,
	}
}

// Metrics returns the recorder filled in by Run
func (b *Backfill) Metrics() *metrics.Recorder {
	return b.metrics
}

// Run performs the backfill. It stops at the first error except for the
// sample AQICN call, which only logs a hint.
func (b *Backfill) Run(ctx context.Context) (result *Result, err error) {
	started := b.now()
	defer func() {
		b.finish(ctx, started, err == nil)
	}()

	s := b.settings

	project, err := featurestore.Login(ctx, s.FeatureStore, b.logger)
	if err != nil {
		return nil, err
	}
	defer project.Close()
	fs := project.FeatureStore()
	secrets := project.SecretsAPI()

	today := airquality.Day(b.now())
	if err := airquality.CheckFilePath(s.Backfill.CSVFile); err != nil {
		return nil, err
	}

	if s.AQICN.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	weather := openmeteo.NewClient(s.Weather.ArchiveURL, s.Weather.GeocodingURL, s.Backfill.HTTPTimeout, b.logger)
	latitude, longitude, err := b.coordinates(ctx, weather)
	if err != nil {
		return nil, err
	}

	if err := replaceSecret(ctx, b.logger, secrets, APIKeySecret, s.AQICN.APIKey); err != nil {
		return nil, err
	}

	sensor := types.Sensor{
		Country: s.AQICN.Country,
		City:    s.AQICN.City,
		Street:  s.AQICN.Street,
		URL:     s.AQICN.URL,
	}
	result = &Result{Today: today}

	aqicnClient := aqicn.NewClient(s.AQICN.APIKey, s.Backfill.HTTPTimeout, b.logger).WithFeedURL(s.AQICN.FeedURL)
	sample, err := aqicnClient.GetPM25(ctx, sensor, today)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.logger.Warnf("sample request failed: %v", err)
		b.logger.Warn("It looks like the AQICN_API_KEY doesn't work for your sensor. Is the API key correct? Is the sensor URL correct?")
	} else {
		index := aqi.CalculatePM25(sample.PM25)
		b.logger.Infof("%s, %s: pm25 today is %.1f (AQI %d, %s)", sample.Street, sample.City, sample.PM25, index, aqi.GetCategory(index))
		result.Sample = &sample
	}

	readings, err := airquality.ReadFile(s.Backfill.CSVFile)
	if err != nil {
		return nil, err
	}
	airQuality := airquality.Clean(readings, sensor)
	result.CSVRowsRead = len(readings)
	result.CSVRowsDropped = len(readings) - len(airQuality)
	b.metrics.CSVRows(result.CSVRowsRead, result.CSVRowsDropped)
	b.logger.Infof("read %d rows from %s, %d dropped for a missing pm25 or a repeated day", len(readings), s.Backfill.CSVFile, result.CSVRowsDropped)

	earliest, ok := airquality.EarliestDate(airQuality)
	if !ok {
		return nil, fmt.Errorf("%s has no rows with a pm25 value", s.Backfill.CSVFile)
	}
	result.EarliestDate = earliest

	weatherRecords, err := weather.HistoricalWeather(ctx, sensor.City, earliest, today, latitude, longitude)
	if err != nil {
		return nil, err
	}

	aqSuite := AirQualitySuite()
	weatherSuite := WeatherSuite()

	location, err := json.Marshal(SensorLocation{
		Country:   sensor.Country,
		City:      sensor.City,
		Street:    sensor.Street,
		AQICNURL:  sensor.URL,
		Latitude:  formatCoordinate(s.Location.Latitude, latitude),
		Longitude: formatCoordinate(s.Location.Longitude, longitude),
	})
	if err != nil {
		return nil, fmt.Errorf("error encoding sensor location: %w", err)
	}
	if err := replaceSecret(ctx, b.logger, secrets, SensorLocationSecret, string(location)); err != nil {
		return nil, err
	}

	aqGroup, err := featurestore.GetOrCreateFeatureGroup[types.AirQuality](ctx, fs, featurestore.Spec{
		Name:        AirQualityGroup,
		Version:     1,
		Description: "Air Quality characteristics of each day",
		PrimaryKey:  []string{"country", "city", "street"},
		EventTime:   "date",
		Suite:       aqSuite,
	})
	if err != nil {
		return nil, err
	}
	result.AirQualityCommit, err = insert(ctx, b, aqGroup, airQuality, airQualityDescriptions)
	if err != nil {
		return nil, err
	}
	result.AirQualityRows = len(airQuality)

	weatherGroup, err := featurestore.GetOrCreateFeatureGroup[types.Weather](ctx, fs, featurestore.Spec{
		Name:        WeatherGroup,
		Version:     1,
		Description: "Weather characteristics of each day",
		PrimaryKey:  []string{"city"},
		EventTime:   "date",
		Suite:       weatherSuite,
	})
	if err != nil {
		return nil, err
	}
	result.WeatherCommit, err = insert(ctx, b, weatherGroup, weatherRecords, weatherDescriptions)
	if err != nil {
		return nil, err
	}
	result.WeatherRows = len(weatherRecords)

	b.logger.Infow("backfill complete",
		"air_quality_rows", result.AirQualityRows,
		"weather_rows", result.WeatherRows,
		"earliest", earliest.Format("2006-01-02"),
		"today", today.Format("2006-01-02"))

	return result, nil
}

// insert writes rows to fg and then documents its features
func insert[T any](ctx context.Context, b *Backfill, fg *featurestore.FeatureGroup[T], rows []T, descriptions map[string]string) (*featurestore.Commit, error) {
	commit, err := fg.Insert(ctx, rows)
	if err != nil {
		var verr *featurestore.ValidationError
		if errors.As(err, &verr) {
			b.metrics.ValidationFailures(fg.Name(), len(verr.Report.Failed()))
		}
		return nil, err
	}
	b.metrics.RowsInserted(fg.Name(), commit.Rows)
	if failed := len(commit.Report.Failed()); failed > 0 {
		b.metrics.ValidationFailures(fg.Name(), failed)
	}

	names := make([]string, 0, len(descriptions))
	for name := range descriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := fg.UpdateFeatureDescription(ctx, name, descriptions[name]); err != nil {
			return nil, err
		}
	}

	return commit, nil
}

// coordinates returns the configured location or geocodes the sensor's city
func (b *Backfill) coordinates(ctx context.Context, weather *openmeteo.Client) (float64, float64, error) {
	lat, lon, ok, err := b.settings.Location.Coordinates()
	if err != nil {
		return 0, 0, err
	}
	if ok {
		return lat, lon, nil
	}

	b.logger.Infof("no location configured, geocoding %s", b.settings.AQICN.City)
	lat, lon, err = weather.CityCoordinates(ctx, b.settings.AQICN.City)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to find coordinates of %s: %w", b.settings.AQICN.City, err)
	}
	return lat, lon, nil
}

// replaceSecret deletes the named secret if it exists and stores value
func replaceSecret(ctx context.Context, logger *zap.SugaredLogger, secrets *featurestore.SecretsAPI, name, value string) error {
	secret, err := secrets.GetSecret(ctx, name)
	if err != nil {
		return err
	}
	if secret != nil {
		if err := secret.Delete(ctx); err != nil {
			return err
		}
		logger.Infof("Replacing existing %s", name)
	}

	_, err = secrets.CreateSecret(ctx, name, value)
	return err
}

func (b *Backfill) finish(ctx context.Context, started time.Time, succeeded bool) {
	finished := b.now()
	b.metrics.RunFinished(finished.Sub(started), succeeded, finished)

	url := b.settings.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	// The run context may already be cancelled; the push gets its own deadline
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := b.metrics.Push(pushCtx, url, b.settings.Metrics.Job); err != nil {
		b.logger.Warnf("unable to push metrics: %v", err)
		return
	}
	b.logger.Debugf("pushed run metrics to %s", url)
}

// formatCoordinate keeps the operator's spelling of a configured coordinate
func formatCoordinate(configured string, value float64) string {
	if configured != "" {
		return configured
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
