package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chrissnell/aqbackfill/pkg/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestLoad(t *testing.T) {
	convey.Convey("Given a settings loader", t, func() {
		clearSettingsEnvVars()
		dir := t.TempDir()

		convey.Convey("When loading with defaults only", func() {
			cfg, err := config.Load(config.LoadOptions{EnvFile: filepath.Join(dir, "missing.env")})

			convey.Convey("Then the defaults are used", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.AQICN.APIKey, convey.ShouldBeEmpty)
				convey.So(cfg.Backfill.CSVFile, convey.ShouldEqual, "data/helsinki-air-quality.csv")
				convey.So(cfg.Backfill.HTTPTimeout, convey.ShouldEqual, 30*time.Second)
				convey.So(cfg.FeatureStore.Driver, convey.ShouldEqual, "sqlite")
				convey.So(cfg.FeatureStore.ValidationPolicy, convey.ShouldEqual, "strict")
				convey.So(cfg.Weather.ArchiveURL, convey.ShouldEqual, "https://archive-api.open-meteo.com/v1/archive")
			})
		})

		convey.Convey("When loading with environment variables", func() {
			_ = os.Setenv("AQICN_API_KEY", "secret-token")
			_ = os.Setenv("AQICN_STREET", "mannerheimintie")
			_ = os.Setenv("BACKFILL_HTTP_TIMEOUT", "5s")
			_ = os.Setenv("FEATURESTORE_VALIDATION_POLICY", "always")
			defer clearSettingsEnvVars()

			cfg, err := config.Load(config.LoadOptions{})

			convey.Convey("Then they override the defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.AQICN.APIKey, convey.ShouldEqual, "secret-token")
				convey.So(cfg.AQICN.Street, convey.ShouldEqual, "mannerheimintie")
				convey.So(cfg.AQICN.City, convey.ShouldEqual, "helsinki")
				convey.So(cfg.Backfill.HTTPTimeout, convey.ShouldEqual, 5*time.Second)
				convey.So(cfg.FeatureStore.ValidationPolicy, convey.ShouldEqual, "always")
			})
		})

		convey.Convey("When loading a YAML file, a dotenv file and the environment", func() {
			yamlFile := writeFile(dir, "backfill.yaml", `
aqicn:
  country: sweden
  city: stockholm
  street: hornsgatan
featurestore:
  driver: sqlite
  dsn: /tmp/fs.db
`)
			envFile := writeFile(dir, ".env", `
AQICN_API_KEY=from-dotenv
AQICN_CITY=uppsala
LOCATION_LATITUDE=59.8586
LOCATION_LONGITUDE=17.6389
`)
			_ = os.Setenv("AQICN_API_KEY", "from-environment")
			defer clearSettingsEnvVars()

			cfg, err := config.Load(config.LoadOptions{ConfigFile: yamlFile, EnvFile: envFile})

			convey.Convey("Then the environment beats dotenv, which beats YAML", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.AQICN.Country, convey.ShouldEqual, "sweden")
				convey.So(cfg.AQICN.Street, convey.ShouldEqual, "hornsgatan")
				convey.So(cfg.AQICN.City, convey.ShouldEqual, "uppsala")
				convey.So(cfg.AQICN.APIKey, convey.ShouldEqual, "from-environment")
				convey.So(cfg.FeatureStore.DSN, convey.ShouldEqual, "/tmp/fs.db")

				lat, lon, ok, err := cfg.Location.Coordinates()
				convey.So(err, convey.ShouldBeNil)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(lat, convey.ShouldAlmostEqual, 59.8586, 1e-9)
				convey.So(lon, convey.ShouldAlmostEqual, 17.6389, 1e-9)
			})
		})

		convey.Convey("When the feature store driver is unknown", func() {
			_ = os.Setenv("FEATURESTORE_DRIVER", "mysql")
			defer clearSettingsEnvVars()

			cfg, err := config.Load(config.LoadOptions{})

			convey.Convey("Then loading fails", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "unsupported feature store driver")
			})
		})

		convey.Convey("When only a latitude is configured", func() {
			_ = os.Setenv("LOCATION_LATITUDE", "60.17")
			defer clearSettingsEnvVars()

			_, err := config.Load(config.LoadOptions{})

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "must be set together")
			})
		})

		convey.Convey("When the YAML file does not exist", func() {
			_, err := config.Load(config.LoadOptions{ConfigFile: filepath.Join(dir, "nope.yaml")})

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestRedacted(t *testing.T) {
	convey.Convey("Given settings holding secrets", t, func() {
		s := config.New()
		s.AQICN.APIKey = "token"
		s.FeatureStore.Driver = "postgres"
		s.FeatureStore.DSN = "postgres://user:pw@db/features"

		r := s.Redacted()

		convey.So(r.AQICN.APIKey, convey.ShouldNotContainSubstring, "token")
		convey.So(r.FeatureStore.DSN, convey.ShouldNotContainSubstring, "pw")
		convey.So(s.AQICN.APIKey, convey.ShouldEqual, "token")
	})
}

func clearSettingsEnvVars() {
	envVars := []string{
		"AQICN_API_KEY",
		"AQICN_URL",
		"AQICN_COUNTRY",
		"AQICN_CITY",
		"AQICN_STREET",
		"LOCATION_LATITUDE",
		"LOCATION_LONGITUDE",
		"BACKFILL_CSV_FILE",
		"BACKFILL_HTTP_TIMEOUT",
		"FEATURESTORE_DRIVER",
		"FEATURESTORE_DSN",
		"FEATURESTORE_VALIDATION_POLICY",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func writeFile(dir, name, content string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		panic(err)
	}
	return path
}
