package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/chrissnell/aqbackfill/internal/log"
)

// rowSource yields rows as column -> value maps
type rowSource interface {
	Columns() []string
	Next() bool
	Values() (map[string]interface{}, error)
	Err() error
}

type exporter struct {
	total        int64
	count        int64
	lastProgress int
}

func (e *exporter) toCSV(w io.Writer, src rowSource) error {
	writer := csv.NewWriter(w)

	columns := src.Columns()
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}

		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = formatValue(values[col])
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
		e.progress()
	}
	if err := src.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}

	writer.Flush()
	return writer.Error()
}

func (e *exporter) toJSON(w io.Writer, src rowSource) error {
	// Start JSON array
	if _, err := io.WriteString(w, "[\n"); err != nil {
		return err
	}

	first := true
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}

		b, err := json.Marshal(values)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}

		sep := ",\n  "
		if first {
			sep = "  "
			first = false
		}
		if _, err := io.WriteString(w, sep+string(b)); err != nil {
			return err
		}
		e.progress()
	}
	if err := src.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}

	// Close JSON array
	_, err := io.WriteString(w, "\n]\n")
	return err
}

// progress logs at each percentage point
func (e *exporter) progress() {
	e.count++
	if e.total > 0 {
		progress := int(e.count * 100 / e.total)
		if progress != e.lastProgress {
			log.Infof("Progress: %d%% (%d/%d records)", progress, e.count, e.total)
			e.lastProgress = progress
		}
	} else if e.count%10000 == 0 {
		log.Infof("Processed %d records...", e.count)
	}
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
