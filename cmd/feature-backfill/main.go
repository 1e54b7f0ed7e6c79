package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/chrissnell/aqbackfill/internal/app"
	"github.com/chrissnell/aqbackfill/internal/log"
	"github.com/chrissnell/aqbackfill/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "", "Optional YAML configuration file")
	envFile := flag.String("env-file", ".env", "dotenv file with AQICN_* and other settings (ignored if missing)")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("feature-backfill %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Load configuration
	settings, err := config.Load(config.LoadOptions{ConfigFile: *cfgFile, EnvFile: *envFile})
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	log.Debugf("settings: %+v", settings.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backfill := app.New(settings, log.GetSugaredLogger())
	result, err := backfill.Run(ctx)
	if err != nil {
		if errors.Is(err, app.ErrMissingAPIKey) {
			log.Errorf("You need to set AQICN_API_KEY either in the environment or in %s", *envFile)
		} else {
			log.Errorf("Backfill failed: %v", err)
		}
		log.Sync()
		os.Exit(1)
	}

	log.Infof("Backfilled %d air quality rows and %d weather rows starting %s",
		result.AirQualityRows, result.WeatherRows, result.EarliestDate.Format("2006-01-02"))
}
