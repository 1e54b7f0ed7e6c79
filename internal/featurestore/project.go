// Package featurestore is a small feature store on top of gorm. Feature groups
// are versioned, primary-keyed tables with an event-time column; every write
// is validated against the group's expectation suite, recorded as a commit and
// summarised with descriptive statistics. The same database keeps a simple
// secrets table.
package featurestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/chrissnell/aqbackfill/internal/database"
	"github.com/chrissnell/aqbackfill/pkg/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ValidationPolicy decides what happens to a write that fails validation
type ValidationPolicy string

const (
	// PolicyStrict rejects the whole write
	PolicyStrict ValidationPolicy = "strict"
	// PolicyAlways writes anyway and keeps the failed report
	PolicyAlways ValidationPolicy = "always"
)

var (
	ErrFeatureGroupNotFound = errors.New("feature group not found")
	ErrFeatureNotFound      = errors.New("feature not found")
	ErrSecretExists         = errors.New("secret already exists")
)

// Project is a logged-in session against a feature store database
type Project struct {
	db      *gorm.DB
	fs      *FeatureStore
	secrets *SecretsAPI
}

// FeatureStore hands out feature groups
type FeatureStore struct {
	db     *gorm.DB
	policy ValidationPolicy
	logger *zap.SugaredLogger
}

// Login connects to the database described by settings and makes sure the
// metadata tables exist.
func Login(ctx context.Context, settings config.FeatureStoreSettings, logger *zap.SugaredLogger) (*Project, error) {
	policy := ValidationPolicy(settings.ValidationPolicy)
	switch policy {
	case "":
		policy = PolicyStrict
	case PolicyStrict, PolicyAlways:
	default:
		return nil, fmt.Errorf("unknown validation policy %q", settings.ValidationPolicy)
	}

	db, err := database.CreateConnection(settings.Driver, settings.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to log in to feature store: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(metadataModels...); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("unable to create feature store metadata tables: %w", err)
	}

	logger = logger.Named("featurestore")
	logger.Infof("logged in to %s feature store", settings.Driver)

	return &Project{
		db: db,
		fs: &FeatureStore{
			db:     db,
			policy: policy,
			logger: logger,
		},
		secrets: &SecretsAPI{db: db},
	}, nil
}

// FeatureStore returns the project's feature store
func (p *Project) FeatureStore() *FeatureStore {
	return p.fs
}

// SecretsAPI returns the project's secrets store
func (p *Project) SecretsAPI() *SecretsAPI {
	return p.secrets
}

// Close closes the database connection
func (p *Project) Close() error {
	return database.Close(p.db)
}

// Policy reports the validation policy applied to inserts
func (fs *FeatureStore) Policy() ValidationPolicy {
	return fs.policy
}
