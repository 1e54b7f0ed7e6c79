package featurestore

import (
	"time"

	"github.com/chrissnell/aqbackfill/pkg/expectations"
)

// featureGroupRecord is the metadata row of a feature group
type featureGroupRecord struct {
	ID          uint                `gorm:"primaryKey"`
	Name        string              `gorm:"column:name;not null;uniqueIndex:idx_feature_groups_name_version"`
	Version     int                 `gorm:"column:version;not null;uniqueIndex:idx_feature_groups_name_version"`
	Description string              `gorm:"column:description"`
	PrimaryKey  []string            `gorm:"column:primary_key;serializer:json"`
	EventTime   string              `gorm:"column:event_time;not null"`
	Suite       *expectations.Suite `gorm:"column:expectation_suite;serializer:json"`
	CreatedAt   time.Time           `gorm:"column:created_at"`
}

func (featureGroupRecord) TableName() string {
	return "feature_groups"
}

// featureRecord documents a single column of a feature group
type featureRecord struct {
	ID             uint   `gorm:"primaryKey"`
	FeatureGroupID uint   `gorm:"column:feature_group_id;not null;uniqueIndex:idx_features_group_name"`
	Name           string `gorm:"column:name;not null;uniqueIndex:idx_features_group_name"`
	Type           string `gorm:"column:type;not null"`
	PrimaryKey     bool   `gorm:"column:primary_key"`
	EventTime      bool   `gorm:"column:event_time"`
	Description    string `gorm:"column:description"`
}

func (featureRecord) TableName() string {
	return "features"
}

type validationReportRecord struct {
	ID             string              `gorm:"primaryKey;column:id"`
	FeatureGroupID uint                `gorm:"column:feature_group_id;index"`
	Success        bool                `gorm:"column:success"`
	Ingested       bool                `gorm:"column:ingested"`
	Report         expectations.Report `gorm:"column:report;serializer:json"`
	CreatedAt      time.Time           `gorm:"column:created_at"`
}

func (validationReportRecord) TableName() string {
	return "validation_reports"
}

type commitRecord struct {
	ID                 string    `gorm:"primaryKey;column:id"`
	FeatureGroupID     uint      `gorm:"column:feature_group_id;index"`
	Rows               int       `gorm:"column:rows"`
	ValidationReportID string    `gorm:"column:validation_report_id"`
	CommittedAt        time.Time `gorm:"column:committed_at"`
}

func (commitRecord) TableName() string {
	return "commits"
}

type statisticsRecord struct {
	ID             uint    `gorm:"primaryKey"`
	CommitID       string  `gorm:"column:commit_id;index"`
	FeatureGroupID uint    `gorm:"column:feature_group_id;index"`
	Feature        string  `gorm:"column:feature"`
	Count          int     `gorm:"column:count"`
	Mean           float64 `gorm:"column:mean"`
	StdDev         float64 `gorm:"column:stddev"`
	Min            float64 `gorm:"column:min"`
	Max            float64 `gorm:"column:max"`
}

func (statisticsRecord) TableName() string {
	return "feature_statistics"
}

type secretRecord struct {
	Name      string    `gorm:"primaryKey;column:name"`
	Value     string    `gorm:"column:value;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (secretRecord) TableName() string {
	return "secrets"
}

// metadataModels are migrated on every login
var metadataModels = []interface{}{
	&featureGroupRecord{},
	&featureRecord{},
	&validationReportRecord{},
	&commitRecord{},
	&statisticsRecord{},
	&secretRecord{},
}
