package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envSections lists the environment prefixes that map onto Settings sections.
// AQICN_API_KEY becomes aqicn.api_key, FEATURESTORE_DSN becomes
// featurestore.dsn and so on.
var envSections = []string{"AQICN_", "LOCATION_", "BACKFILL_", "WEATHER_", "FEATURESTORE_", "METRICS_"}

// LoadOptions points the loader at optional files
type LoadOptions struct {
	// ConfigFile is a YAML file. Empty means none.
	ConfigFile string
	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string
}

// Load builds Settings by layering, from lowest to highest precedence:
//  1. defaults (New)
//  2. the YAML file, if ConfigFile is set
//  3. the dotenv file, if it exists
//  4. the process environment
func Load(opts LoadOptions) (*Settings, error) {
	k := koanf.New(".")

	if opts.ConfigFile != "" {
		if err := k.Load(file.Provider(opts.ConfigFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.EnvFile != "" {
		if _, err := os.Stat(opts.EnvFile); err == nil {
			if err := k.Load(file.Provider(opts.EnvFile), dotenv.ParserEnv("", ".", sectionKey)); err != nil {
				return nil, fmt.Errorf("error reading env file %s: %w", opts.EnvFile, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading env file %s: %w", opts.EnvFile, err)
		}
	}

	for _, prefix := range envSections {
		if err := k.Load(env.Provider(prefix, ".", sectionKey), nil); err != nil {
			return nil, fmt.Errorf("error reading %s* environment: %w", prefix, err)
		}
	}

	cfg := *New()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("error decoding configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// sectionKey turns SECTION_SOME_KEY into section.some_key
func sectionKey(s string) string {
	return strings.Replace(strings.ToLower(s), "_", ".", 1)
}
