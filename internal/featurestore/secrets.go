package featurestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SecretsAPI stores named secrets next to the feature groups
type SecretsAPI struct {
	db *gorm.DB
}

// Secret is a stored secret. Its String form never includes the value.
type Secret struct {
	Name      string
	Value     string
	CreatedAt time.Time

	api *SecretsAPI
}

func (s *Secret) String() string {
	return "secret " + s.Name
}

// GetSecret returns the named secret, or nil when it does not exist
func (api *SecretsAPI) GetSecret(ctx context.Context, name string) (*Secret, error) {
	var rec secretRecord
	err := api.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading secret %s: %w", name, err)
	}
	return api.secret(rec), nil
}

// CreateSecret stores a new secret. It fails with ErrSecretExists if a secret
// with that name is already stored.
func (api *SecretsAPI) CreateSecret(ctx context.Context, name, value string) (*Secret, error) {
	if name == "" {
		return nil, errors.New("secret name must not be empty")
	}

	rec := secretRecord{Name: name, Value: value, CreatedAt: time.Now().UTC()}
	err := api.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&secretRecord{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrSecretExists, name)
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		if errors.Is(err, ErrSecretExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating secret %s: %w", name, err)
	}

	return api.secret(rec), nil
}

// Delete removes the secret from the store
func (s *Secret) Delete(ctx context.Context) error {
	if err := s.api.db.WithContext(ctx).Where("name = ?", s.Name).Delete(&secretRecord{}).Error; err != nil {
		return fmt.Errorf("error deleting secret %s: %w", s.Name, err)
	}
	return nil
}

func (api *SecretsAPI) secret(rec secretRecord) *Secret {
	return &Secret{Name: rec.Name, Value: rec.Value, CreatedAt: rec.CreatedAt, api: api}
}
