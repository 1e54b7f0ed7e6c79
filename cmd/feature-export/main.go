package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chrissnell/aqbackfill/internal/featurestore"
	"github.com/chrissnell/aqbackfill/internal/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

type Config struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	FeatureGroup string
	Version      int
	Format       ExportFormat
	Output       string
	Query        string
}

func main() {
	cfg, debug, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Println(err)
		os.Exit(2)
	}

	if err := log.Init(debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	table := featurestore.TableName(cfg.FeatureGroup, cfg.Version)
	if cfg.Output == "" {
		cfg.Output = table
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	connStr := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Infof("Connected to database %s@%s:%d", cfg.Database, cfg.Host, cfg.Port)

	// The event time column orders the export
	var eventTime string
	err = pool.QueryRow(ctx, "SELECT event_time FROM feature_groups WHERE name = $1 AND version = $2",
		cfg.FeatureGroup, cfg.Version).Scan(&eventTime)
	if errors.Is(err, pgx.ErrNoRows) {
		log.Fatalf("Feature group %s v%d does not exist", cfg.FeatureGroup, cfg.Version)
	}
	if err != nil {
		log.Fatalf("Failed to look up feature group: %v", err)
	}

	query, countQuery := buildQueries(table, eventTime, cfg.Query)

	var totalCount int64
	if err := pool.QueryRow(ctx, countQuery).Scan(&totalCount); err != nil {
		log.Fatalf("Failed to get record count: %v", err)
	}
	log.Infof("Found %d records to export from %s", totalCount, table)

	rows, err := pool.Query(ctx, query)
	if err != nil {
		log.Fatalf("Failed to execute query: %v", err)
	}
	defer rows.Close()

	filename := cfg.Output + "." + string(cfg.Format)
	file, err := os.Create(filename)
	if err != nil {
		log.Fatalf("Failed to create file: %v", err)
	}
	defer file.Close()

	exp := &exporter{total: totalCount}
	src := &pgxSource{rows: rows}
	switch cfg.Format {
	case FormatCSV:
		err = exp.toCSV(file, src)
	case FormatJSON:
		err = exp.toJSON(file, src)
	}
	if err != nil {
		log.Fatalf("%s export failed: %v", cfg.Format, err)
	}

	log.Infof("Exported %d records to %s", exp.count, filename)
}

// parseFlags reads the export settings from args
func parseFlags(args []string) (Config, bool, error) {
	var cfg Config
	fs := flag.NewFlagSet("feature-export", flag.ContinueOnError)

	fs.StringVar(&cfg.Host, "host", "localhost", "Database host")
	fs.IntVar(&cfg.Port, "port", 5432, "Database port")
	fs.StringVar(&cfg.Database, "database", "featurestore", "Database name")
	fs.StringVar(&cfg.User, "user", "postgres", "Database user")
	fs.StringVar(&cfg.Password, "password", "", "Database password")
	fs.StringVar(&cfg.SSLMode, "sslmode", "disable", "SSL mode (disable, require, etc)")
	fs.StringVar(&cfg.FeatureGroup, "feature-group", "air_quality", "Feature group to export")
	fs.IntVar(&cfg.Version, "fg-version", 1, "Feature group version")
	formatStr := fs.String("format", "csv", "Export format: csv or json")
	fs.StringVar(&cfg.Output, "output", "", "Output file base name (extension added automatically). Defaults to <feature-group>_<fg-version>")
	fs.StringVar(&cfg.Query, "query", "", "Optional WHERE clause for filtering data (e.g., \"date > '2024-01-01'\")")
	debug := fs.Bool("debug", false, "Turn on debugging output")
	if err := fs.Parse(args); err != nil {
		return cfg, false, err
	}

	switch ExportFormat(*formatStr) {
	case FormatCSV, FormatJSON:
		cfg.Format = ExportFormat(*formatStr)
	default:
		return cfg, false, fmt.Errorf("invalid format: %s. Must be csv or json", *formatStr)
	}
	return cfg, *debug, nil
}

// buildQueries returns the export and count queries for table
func buildQueries(table, eventTime, where string) (query, countQuery string) {
	ident := pgx.Identifier{table}.Sanitize()
	query = "SELECT * FROM " + ident
	countQuery = "SELECT COUNT(*) FROM " + ident
	if where != "" {
		query += " WHERE " + where
		countQuery += " WHERE " + where
	}
	query += " ORDER BY " + pgx.Identifier{eventTime}.Sanitize()
	return query, countQuery
}

// pgxSource adapts pgx rows to the exporter
type pgxSource struct {
	rows pgx.Rows
}

func (s *pgxSource) Columns() []string {
	fieldDescs := s.rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}
	return columns
}

func (s *pgxSource) Next() bool {
	return s.rows.Next()
}

func (s *pgxSource) Values() (map[string]interface{}, error) {
	return pgx.RowToMap(s.rows)
}

func (s *pgxSource) Err() error {
	return s.rows.Err()
}
