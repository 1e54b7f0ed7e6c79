// Package airquality reads historical PM2.5 measurements exported from
// aqicn.org and turns them into feature rows.
package airquality

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chrissnell/aqbackfill/internal/types"
)

// Reading is one parsed CSV row. PM25 is nil when the cell was empty or held
// a missing-value marker.
type Reading struct {
	Line int
	Date time.Time
	PM25 *float64
}

var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"2006-1-2 15:04:05",
	"2006/1/2 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

var missingMarkers = map[string]bool{
	"":     true,
	"-":    true,
	"NA":   true,
	"N/A":  true,
	"n/a":  true,
	"#N/A": true,
	"NaN":  true,
	"nan":  true,
	"-nan": true,
	"null": true,
	"NULL": true,
	"None": true,
}

// CheckFilePath verifies that the CSV export exists before any network work
// is done.
func CheckFilePath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("air quality file %s not found: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("air quality file %s is a directory", path)
	}
	return nil
}

// ReadFile opens path and parses it with ReadCSV
func ReadFile(path string) ([]Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	readings, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return readings, nil
}

// ReadCSV parses a CSV with a header row that contains at least the date and
// pm25 columns. Other columns (pm10, o3, no2...) are ignored.
func ReadCSV(r io.Reader) ([]Reading, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty CSV: no header row")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	dateCol, pm25Col := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "date":
			dateCol = i
		case "pm25":
			pm25Col = i
		}
	}
	if dateCol < 0 || pm25Col < 0 {
		return nil, fmt.Errorf("CSV header %v must contain 'date' and 'pm25' columns", header)
	}

	var readings []Reading
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)

		// Blank trailing lines are skipped by encoding/csv, but rows that
		// are too short for our columns are an error.
		if len(record) <= dateCol || len(record) <= pm25Col {
			return nil, fmt.Errorf("line %d: expected at least %d fields, got %d", line, max(dateCol, pm25Col)+1, len(record))
		}

		date, err := parseDate(record[dateCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		pm25, err := parsePM25(record[pm25Col])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		readings = append(readings, Reading{Line: line, Date: date, PM25: pm25})
	}

	return readings, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func parsePM25(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if missingMarkers[s] {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid pm25 value %q", s)
	}
	if math.IsNaN(v) {
		return nil, nil
	}
	return &v, nil
}

// Clean keeps only the date and pm25 columns, narrows pm25 to float32, drops
// rows without a pm25 value and tags every row with the sensor it came from.
// Dates are truncated to the UTC day and a day that appears more than once
// keeps its last row. The result is ordered by date.
func Clean(readings []Reading, sensor types.Sensor) []types.AirQuality {
	records := make([]types.AirQuality, 0, len(readings))
	byDay := make(map[time.Time]int, len(readings))
	for _, r := range readings {
		if r.PM25 == nil {
			continue
		}
		pm25 := float32(*r.PM25)
		if math.IsNaN(float64(pm25)) {
			continue
		}
		record := types.AirQuality{
			Date:    Day(r.Date),
			PM25:    pm25,
			Country: sensor.Country,
			City:    sensor.City,
			Street:  sensor.Street,
			URL:     sensor.URL,
		}
		if i, ok := byDay[record.Date]; ok {
			records[i] = record
			continue
		}
		byDay[record.Date] = len(records)
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})

	return records
}

// Day returns midnight UTC of the calendar day t falls on in UTC
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EarliestDate returns the date of the oldest record. ok is false for an
// empty slice.
func EarliestDate(records []types.AirQuality) (earliest time.Time, ok bool) {
	for i, r := range records {
		if i == 0 || r.Date.Before(earliest) {
			earliest = r.Date
		}
	}
	return earliest, len(records) > 0
}
