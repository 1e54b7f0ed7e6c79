package featurestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chrissnell/aqbackfill/pkg/expectations"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

const insertBatchSize = 500

var groupNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Spec describes a feature group to get or create
type Spec struct {
	Name        string
	Version     int
	Description string
	PrimaryKey  []string
	EventTime   string
	Suite       *expectations.Suite
}

// FeatureGroup is a versioned table of rows of type T
type FeatureGroup[T any] struct {
	fs       *FeatureStore
	record   featureGroupRecord
	schema   *schema.Schema
	features map[string]featureRecord
}

// Commit describes one successful write to a feature group
type Commit struct {
	ID                 string
	FeatureGroup       string
	Version            int
	Rows               int
	ValidationReportID string
	Report             expectations.Report
	CommittedAt        time.Time
}

// FeatureStatistics are the descriptive statistics of one numeric feature,
// computed at commit time.
type FeatureStatistics struct {
	Feature string
	Count   int
	Mean    float64
	StdDev  float64
	Min     float64
	Max     float64
}

// ValidationError is returned when a write is rejected by the expectation
// suite of the feature group.
type ValidationError struct {
	FeatureGroup string
	Report       expectations.Report
}

func (e *ValidationError) Error() string {
	failed := e.Report.Failed()
	names := make([]string, 0, len(failed))
	for _, res := range failed {
		if res.Exception != "" {
			names = append(names, fmt.Sprintf("%s: %s", res.Expectation, res.Exception))
			continue
		}
		if res.ObservedValue != nil {
			names = append(names, fmt.Sprintf("%s observed %v", res.Expectation, *res.ObservedValue))
			continue
		}
		names = append(names, fmt.Sprintf("%s with %d unexpected values", res.Expectation, res.UnexpectedCount))
	}
	return fmt.Sprintf("feature group %s failed validation (%d of %d expectations): %s",
		e.FeatureGroup, len(failed), e.Report.EvaluatedExpectations, strings.Join(names, "; "))
}

// TableName is the name of the table holding the group's rows
func TableName(name string, version int) string {
	return fmt.Sprintf("%s_%d", name, version)
}

// GetOrCreateFeatureGroup returns the feature group identified by spec's name
// and version, creating it from T when it does not exist yet. An existing
// group keeps its stored expectation suite.
func GetOrCreateFeatureGroup[T any](ctx context.Context, fs *FeatureStore, spec Spec) (*FeatureGroup[T], error) {
	if !groupNamePattern.MatchString(spec.Name) {
		return nil, fmt.Errorf("invalid feature group name %q", spec.Name)
	}
	if spec.Version < 1 {
		return nil, fmt.Errorf("feature group %s: version must be at least 1", spec.Name)
	}

	s, err := parseSchema[T](fs.db)
	if err != nil {
		return nil, err
	}
	if len(spec.PrimaryKey) == 0 {
		return nil, fmt.Errorf("feature group %s: primary key must not be empty", spec.Name)
	}
	for _, col := range append([]string{spec.EventTime}, spec.PrimaryKey...) {
		if _, ok := s.FieldsByDBName[col]; !ok {
			return nil, fmt.Errorf("feature group %s: column %q is not a field of %s", spec.Name, col, s.Name)
		}
	}

	fg, err := GetFeatureGroup[T](ctx, fs, spec.Name, spec.Version)
	if err == nil {
		fs.logger.Infof("using existing feature group %s v%d", spec.Name, spec.Version)
		return fg, nil
	}
	if !errors.Is(err, ErrFeatureGroupNotFound) {
		return nil, err
	}

	rec := featureGroupRecord{
		Name:        spec.Name,
		Version:     spec.Version,
		Description: spec.Description,
		PrimaryKey:  spec.PrimaryKey,
		EventTime:   spec.EventTime,
		Suite:       spec.Suite,
		CreatedAt:   time.Now().UTC(),
	}
	table := TableName(spec.Name, spec.Version)

	err = fs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("error creating feature group metadata: %w", err)
		}

		features := make([]featureRecord, 0, len(s.Fields))
		for _, field := range s.Fields {
			if field.DBName == "" {
				continue
			}
			features = append(features, featureRecord{
				FeatureGroupID: rec.ID,
				Name:           field.DBName,
				Type:           featureType(field.FieldType),
				PrimaryKey:     contains(spec.PrimaryKey, field.DBName),
				EventTime:      field.DBName == spec.EventTime,
			})
		}
		if err := tx.Create(&features).Error; err != nil {
			return fmt.Errorf("error creating feature metadata: %w", err)
		}

		if err := tx.Table(table).AutoMigrate(new(T)); err != nil {
			return fmt.Errorf("error creating table %s: %w", table, err)
		}

		keyCols := append(append([]string{}, spec.PrimaryKey...), spec.EventTime)
		index := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_key ON %s (%s)",
			table, table, strings.Join(keyCols, ", "))
		if err := tx.Exec(index).Error; err != nil {
			return fmt.Errorf("error creating key index on %s: %w", table, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fs.logger.Infow("created feature group",
		"name", spec.Name,
		"version", spec.Version,
		"table", table,
		"primary_key", spec.PrimaryKey,
		"event_time", spec.EventTime)

	return GetFeatureGroup[T](ctx, fs, spec.Name, spec.Version)
}

// GetFeatureGroup loads an existing feature group. It returns
// ErrFeatureGroupNotFound when no group with that name and version exists.
func GetFeatureGroup[T any](ctx context.Context, fs *FeatureStore, name string, version int) (*FeatureGroup[T], error) {
	s, err := parseSchema[T](fs.db)
	if err != nil {
		return nil, err
	}

	var rec featureGroupRecord
	err = fs.db.WithContext(ctx).Where("name = ? AND version = ?", name, version).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s v%d", ErrFeatureGroupNotFound, name, version)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading feature group %s v%d: %w", name, version, err)
	}

	var features []featureRecord
	if err := fs.db.WithContext(ctx).Where("feature_group_id = ?", rec.ID).Find(&features).Error; err != nil {
		return nil, fmt.Errorf("error loading features of %s v%d: %w", name, version, err)
	}

	fg := &FeatureGroup[T]{
		fs:       fs,
		record:   rec,
		schema:   s,
		features: make(map[string]featureRecord, len(features)),
	}
	for _, f := range features {
		fg.features[f.Name] = f
	}
	return fg, nil
}

func (fg *FeatureGroup[T]) Name() string {
	return fg.record.Name
}

func (fg *FeatureGroup[T]) Version() int {
	return fg.record.Version
}

// Suite returns the expectation suite attached to the group, if any
func (fg *FeatureGroup[T]) Suite() *expectations.Suite {
	return fg.record.Suite
}

func (fg *FeatureGroup[T]) table() string {
	return TableName(fg.record.Name, fg.record.Version)
}

// Insert validates rows against the group's suite and upserts them on
// primary key and event time. Under the strict policy a failed validation
// rejects the whole write with a *ValidationError.
func (fg *FeatureGroup[T]) Insert(ctx context.Context, rows []T) (*Commit, error) {
	rows = fg.dedupe(rows)
	columns := fg.columns(rows)

	report := expectations.Report{Success: true}
	if fg.record.Suite != nil {
		report = expectations.Validate(fg.record.Suite, columns)
	}
	ingest := report.Success || fg.fs.policy == PolicyAlways

	reportRec := validationReportRecord{
		ID:             uuid.New().String(),
		FeatureGroupID: fg.record.ID,
		Success:        report.Success,
		Ingested:       ingest,
		Report:         report,
		CreatedAt:      time.Now().UTC(),
	}

	if !ingest {
		if err := fg.fs.db.WithContext(ctx).Create(&reportRec).Error; err != nil {
			return nil, fmt.Errorf("error storing validation report: %w", err)
		}
		fg.fs.logger.Warnw("rejected write that failed validation",
			"feature_group", fg.record.Name,
			"version", fg.record.Version,
			"failed", len(report.Failed()))
		return nil, &ValidationError{FeatureGroup: fg.record.Name, Report: report}
	}
	if !report.Success {
		fg.fs.logger.Warnf("feature group %s failed validation, writing anyway", fg.record.Name)
	}

	commit := commitRecord{
		ID:                 uuid.New().String(),
		FeatureGroupID:     fg.record.ID,
		Rows:               len(rows),
		ValidationReportID: reportRec.ID,
		CommittedAt:        time.Now().UTC(),
	}
	stats := fg.statistics(commit.ID, columns)

	keyCols := make([]clause.Column, 0, len(fg.record.PrimaryKey)+1)
	for _, col := range fg.record.PrimaryKey {
		keyCols = append(keyCols, clause.Column{Name: col})
	}
	keyCols = append(keyCols, clause.Column{Name: fg.record.EventTime})

	err := fg.fs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(rows); start += insertBatchSize {
			end := start + insertBatchSize
			if end > len(rows) {
				end = len(rows)
			}
			batch := rows[start:end]
			err := tx.Table(fg.table()).
				Clauses(clause.OnConflict{Columns: keyCols, UpdateAll: true}).
				Create(&batch).Error
			if err != nil {
				return fmt.Errorf("error writing rows to %s: %w", fg.table(), err)
			}
		}
		if err := tx.Create(&reportRec).Error; err != nil {
			return fmt.Errorf("error storing validation report: %w", err)
		}
		if err := tx.Create(&commit).Error; err != nil {
			return fmt.Errorf("error storing commit: %w", err)
		}
		if len(stats) > 0 {
			if err := tx.Create(&stats).Error; err != nil {
				return fmt.Errorf("error storing feature statistics: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fg.fs.logger.Infow("committed rows",
		"feature_group", fg.record.Name,
		"version", fg.record.Version,
		"rows", len(rows),
		"commit", commit.ID)

	return &Commit{
		ID:                 commit.ID,
		FeatureGroup:       fg.record.Name,
		Version:            fg.record.Version,
		Rows:               commit.Rows,
		ValidationReportID: reportRec.ID,
		Report:             report,
		CommittedAt:        commit.CommittedAt,
	}, nil
}

// UpdateFeatureDescription documents a single feature of the group
func (fg *FeatureGroup[T]) UpdateFeatureDescription(ctx context.Context, feature, description string) error {
	f, ok := fg.features[feature]
	if !ok {
		return fmt.Errorf("%w: %s has no feature %q", ErrFeatureNotFound, fg.record.Name, feature)
	}

	err := fg.fs.db.WithContext(ctx).Model(&featureRecord{}).
		Where("id = ?", f.ID).
		Update("description", description).Error
	if err != nil {
		return fmt.Errorf("error updating description of %s.%s: %w", fg.record.Name, feature, err)
	}

	f.Description = description
	fg.features[feature] = f
	return nil
}

// FeatureDescriptions returns the stored description of every feature
func (fg *FeatureGroup[T]) FeatureDescriptions(ctx context.Context) (map[string]string, error) {
	var features []featureRecord
	if err := fg.fs.db.WithContext(ctx).Where("feature_group_id = ?", fg.record.ID).Find(&features).Error; err != nil {
		return nil, fmt.Errorf("error loading features of %s: %w", fg.record.Name, err)
	}
	descriptions := make(map[string]string, len(features))
	for _, f := range features {
		descriptions[f.Name] = f.Description
	}
	return descriptions, nil
}

// Read returns every row of the group ordered by event time
func (fg *FeatureGroup[T]) Read(ctx context.Context) ([]T, error) {
	order := append([]string{fg.record.EventTime}, fg.record.PrimaryKey...)

	var rows []T
	if err := fg.fs.db.WithContext(ctx).Table(fg.table()).Order(strings.Join(order, ", ")).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error reading %s: %w", fg.table(), err)
	}
	return rows, nil
}

// Statistics returns the feature statistics of the latest commit
func (fg *FeatureGroup[T]) Statistics(ctx context.Context) ([]FeatureStatistics, error) {
	var latest commitRecord
	err := fg.fs.db.WithContext(ctx).
		Where("feature_group_id = ?", fg.record.ID).
		Order("committed_at DESC").
		First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading latest commit of %s: %w", fg.record.Name, err)
	}

	var recs []statisticsRecord
	if err := fg.fs.db.WithContext(ctx).Where("commit_id = ?", latest.ID).Order("feature").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("error loading statistics of %s: %w", fg.record.Name, err)
	}

	stats := make([]FeatureStatistics, 0, len(recs))
	for _, r := range recs {
		stats = append(stats, FeatureStatistics{
			Feature: r.Feature,
			Count:   r.Count,
			Mean:    r.Mean,
			StdDev:  r.StdDev,
			Min:     r.Min,
			Max:     r.Max,
		})
	}
	return stats, nil
}

// dedupe keeps the last of several rows that share primary key and event
// time, in order of first appearance. A single upsert statement may not touch
// the same row twice.
func (fg *FeatureGroup[T]) dedupe(rows []T) []T {
	keyCols := append(append([]string{}, fg.record.PrimaryKey...), fg.record.EventTime)

	index := make(map[string]int, len(rows))
	unique := make([]T, 0, len(rows))
	var b strings.Builder
	for i := range rows {
		b.Reset()
		v := reflect.Indirect(reflect.ValueOf(&rows[i]).Elem())
		for _, col := range keyCols {
			f, ok := fg.schema.FieldsByDBName[col]
			if !ok {
				continue
			}
			field := v.FieldByIndex(f.StructField.Index).Interface()
			if t, ok := field.(time.Time); ok {
				field = t.UTC().Format(time.RFC3339Nano)
			}
			fmt.Fprintf(&b, "%v\x00", field)
		}
		key := b.String()
		if j, ok := index[key]; ok {
			unique[j] = rows[i]
			continue
		}
		index[key] = len(unique)
		unique = append(unique, rows[i])
	}

	if dropped := len(rows) - len(unique); dropped > 0 {
		fg.fs.logger.Warnf("%s: %d rows share a key with a later row and were replaced", fg.record.Name, dropped)
	}
	return unique
}

// columns extracts every numeric field of rows as a float64 column
func (fg *FeatureGroup[T]) columns(rows []T) expectations.Columns {
	columns := expectations.Columns{}
	for _, field := range fg.schema.Fields {
		if field.DBName == "" || !isNumeric(field.FieldType) {
			continue
		}
		values := make([]float64, 0, len(rows))
		for i := range rows {
			v := reflect.Indirect(reflect.ValueOf(&rows[i]).Elem()).FieldByIndex(field.StructField.Index)
			values = append(values, toFloat(v))
		}
		columns[field.DBName] = values
	}
	return columns
}

func (fg *FeatureGroup[T]) statistics(commitID string, columns expectations.Columns) []statisticsRecord {
	var recs []statisticsRecord
	for name, values := range columns {
		present := make([]float64, 0, len(values))
		for _, v := range values {
			if !math.IsNaN(v) {
				present = append(present, v)
			}
		}
		if len(present) == 0 {
			continue
		}
		mean, std := stat.MeanStdDev(present, nil)
		if len(present) < 2 {
			std = 0
		}
		recs = append(recs, statisticsRecord{
			CommitID:       commitID,
			FeatureGroupID: fg.record.ID,
			Feature:        name,
			Count:          len(present),
			Mean:           mean,
			StdDev:         std,
			Min:            floats.Min(present),
			Max:            floats.Max(present),
		})
	}
	return recs
}

var schemaCache = &sync.Map{}

func parseSchema[T any](db *gorm.DB) (*schema.Schema, error) {
	s, err := schema.Parse(new(T), schemaCache, db.NamingStrategy)
	if err != nil {
		return nil, fmt.Errorf("unable to derive feature schema: %w", err)
	}
	return s, nil
}

func featureType(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == reflect.TypeOf(time.Time{}) {
		return "timestamp"
	}
	switch t.Kind() {
	case reflect.Float32:
		return "float"
	case reflect.Float64:
		return "double"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "bigint"
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		return "string"
	default:
		return t.Kind().String()
	}
}

func isNumeric(t reflect.Type) bool {
	switch featureType(t) {
	case "float", "double", "bigint":
		return true
	}
	return false
}

// toFloat converts a numeric value, mapping nil pointers to NaN
func toFloat(v reflect.Value) float64 {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return math.NaN()
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	}
	return math.NaN()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
