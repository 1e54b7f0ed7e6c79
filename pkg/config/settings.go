// Package config holds the settings of the feature backfill and the loader
// that layers defaults, an optional YAML file, a dotenv file and the process
// environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Settings represents the complete configuration structure
type Settings struct {
	AQICN        AQICNSettings        `koanf:"aqicn"`
	Location     LocationSettings     `koanf:"location"`
	Backfill     BackfillSettings     `koanf:"backfill"`
	Weather      WeatherSettings      `koanf:"weather"`
	FeatureStore FeatureStoreSettings `koanf:"featurestore"`
	Metrics      MetricsSettings      `koanf:"metrics"`
}

// AQICNSettings describes the air quality sensor and how to reach it
type AQICNSettings struct {
	APIKey  string `koanf:"api_key"`
	URL     string `koanf:"url"`
	Country string `koanf:"country"`
	City    string `koanf:"city"`
	Street  string `koanf:"street"`
	// FeedURL is the base of the country/city/street fallback lookups
	FeedURL string `koanf:"feed_url"`
}

// LocationSettings pins the sensor location. Both values are kept as the
// decimal strings the operator typed so they can be stored verbatim.
type LocationSettings struct {
	Latitude  string `koanf:"latitude"`
	Longitude string `koanf:"longitude"`
}

type BackfillSettings struct {
	CSVFile     string        `koanf:"csv_file"`
	HTTPTimeout time.Duration `koanf:"http_timeout"`
}

type WeatherSettings struct {
	ArchiveURL   string `koanf:"archive_url"`
	GeocodingURL string `koanf:"geocoding_url"`
}

// FeatureStoreSettings selects the database backing the feature store.
// Driver is either "sqlite" or "postgres"; ValidationPolicy is "strict" or
// "always".
type FeatureStoreSettings struct {
	Driver           string `koanf:"driver"`
	DSN              string `koanf:"dsn"`
	ValidationPolicy string `koanf:"validation_policy"`
}

type MetricsSettings struct {
	PushgatewayURL string `koanf:"pushgateway_url"`
	Job            string `koanf:"job"`
}

// New returns Settings populated with defaults
func New() *Settings {
	return &Settings{
		AQICN: AQICNSettings{
			Country: "finland",
			City:    "helsinki",
			Street:  "kallio",
			URL:     "https://api.waqi.info/feed/@5725",
			FeedURL: "https://api.waqi.info/feed",
		},
		Backfill: BackfillSettings{
			CSVFile:     "data/helsinki-air-quality.csv",
			HTTPTimeout: 30 * time.Second,
		},
		Weather: WeatherSettings{
			ArchiveURL:   "https://archive-api.open-meteo.com/v1/archive",
			GeocodingURL: "https://geocoding-api.open-meteo.com/v1/search",
		},
		FeatureStore: FeatureStoreSettings{
			Driver:           "sqlite",
			DSN:              "featurestore.db",
			ValidationPolicy: "strict",
		},
		Metrics: MetricsSettings{
			Job: "feature_backfill",
		},
	}
}

// Validate checks the settings that every run depends on. The API key is
// deliberately not checked here; the backfill reports it with its own hint.
func (s *Settings) Validate() error {
	var errs []error

	for name, value := range map[string]string{
		"aqicn.url":         s.AQICN.URL,
		"aqicn.country":     s.AQICN.Country,
		"aqicn.city":        s.AQICN.City,
		"aqicn.street":      s.AQICN.Street,
		"backfill.csv_file": s.Backfill.CSVFile,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s must be set", name))
		}
	}

	switch s.FeatureStore.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported feature store driver %q. Use 'sqlite' or 'postgres'", s.FeatureStore.Driver))
	}
	if s.FeatureStore.DSN == "" {
		errs = append(errs, errors.New("featurestore.dsn must be set"))
	}

	switch s.FeatureStore.ValidationPolicy {
	case "strict", "always":
	default:
		errs = append(errs, fmt.Errorf("unsupported validation policy %q. Use 'strict' or 'always'", s.FeatureStore.ValidationPolicy))
	}

	if (s.Location.Latitude == "") != (s.Location.Longitude == "") {
		errs = append(errs, errors.New("location.latitude and location.longitude must be set together"))
	}
	if _, _, ok, err := s.Location.Coordinates(); ok && err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Coordinates parses the configured location. ok is false when no location
// has been configured.
func (l LocationSettings) Coordinates() (lat, lon float64, ok bool, err error) {
	if l.Latitude == "" || l.Longitude == "" {
		return 0, 0, false, nil
	}
	lat, err = strconv.ParseFloat(l.Latitude, 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, true, fmt.Errorf("invalid latitude %q", l.Latitude)
	}
	lon, err = strconv.ParseFloat(l.Longitude, 64)
	if err != nil || lon < -180 || lon > 180 {
		return 0, 0, true, fmt.Errorf("invalid longitude %q", l.Longitude)
	}
	return lat, lon, true, nil
}

// Redacted returns a copy that is safe to log
func (s Settings) Redacted() Settings {
	if s.AQICN.APIKey != "" {
		s.AQICN.APIKey = "********"
	}
	if s.FeatureStore.Driver == "postgres" && s.FeatureStore.DSN != "" {
		s.FeatureStore.DSN = "********"
	}
	return s
}
