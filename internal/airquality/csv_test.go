package airquality

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/chrissnell/aqbackfill/internal/types"
)

const aqicnExport = `date, pm25, pm10, o3, no2, so2, co
2024/1/3, 21, 9, 18, 12, 1,
2024/1/1, 35, 12, 20, 15, 1,
2024/1/2, , 8, 22, 9, 1,
2024/1/4, 7.5, 4, 25, 6, ,
2024/1/5, NaN, 6, 21, 7, 1,
`

var sensor = types.Sensor{
	Country: "finland",
	City:    "helsinki",
	Street:  "kallio",
	URL:     "https://api.waqi.info/feed/@5725",
}

func TestReadCSV(t *testing.T) {
	readings, err := ReadCSV(strings.NewReader(aqicnExport))
	if err != nil {
		t.Fatalf("ReadCSV returned error: %v", err)
	}

	if len(readings) != 5 {
		t.Fatalf("got %d readings, expected 5", len(readings))
	}

	first := readings[0]
	if !first.Date.Equal(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first date = %v", first.Date)
	}
	if first.PM25 == nil || *first.PM25 != 21 {
		t.Errorf("first pm25 = %v, expected 21", first.PM25)
	}
	if first.Line != 2 {
		t.Errorf("first line = %d, expected 2", first.Line)
	}

	if readings[2].PM25 != nil {
		t.Errorf("empty pm25 cell should be missing, got %v", *readings[2].PM25)
	}
	if readings[4].PM25 != nil {
		t.Errorf("NaN pm25 cell should be missing, got %v", *readings[4].PM25)
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name:    "empty input",
			input:   "",
			wantErr: "no header row",
		},
		{
			name:    "missing pm25 column",
			input:   "date, pm10\n2024-01-01, 3\n",
			wantErr: "must contain 'date' and 'pm25'",
		},
		{
			name:    "bad date",
			input:   "date,pm25\nyesterday,3\n",
			wantErr: `line 2: unparseable date "yesterday"`,
		},
		{
			name:    "bad number",
			input:   "date,pm25\n2024-01-01,3\n2024-01-02,high\n",
			wantErr: `line 3: invalid pm25 value "high"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParseDateLayouts(t *testing.T) {
	expected := time.Date(2023, 11, 7, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2023-11-07", "2023/11/7", "2023-11-07 00:00:00", "2023-11-07T00:00:00", "2023-11-07T00:00:00Z"} {
		got, err := parseDate(s)
		if err != nil {
			t.Errorf("parseDate(%q) returned error: %v", s, err)
			continue
		}
		if !got.Equal(expected) {
			t.Errorf("parseDate(%q) = %v, expected %v", s, got, expected)
		}
	}
}

func TestClean(t *testing.T) {
	readings, err := ReadCSV(strings.NewReader(aqicnExport))
	if err != nil {
		t.Fatalf("ReadCSV returned error: %v", err)
	}

	records := Clean(readings, sensor)

	// Rows with missing pm25 are dropped
	if len(records) != 3 {
		t.Fatalf("got %d records, expected 3", len(records))
	}

	// pm25 is narrowed to a 32-bit float
	if kind := reflect.TypeOf(records[0].PM25).Kind(); kind != reflect.Float32 {
		t.Errorf("pm25 kind = %v, expected float32", kind)
	}

	expectedDates := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
	}
	expectedPM25 := []float32{35, 21, 7.5}
	for i, r := range records {
		if !r.Date.Equal(expectedDates[i]) {
			t.Errorf("record %d date = %v, expected %v", i, r.Date, expectedDates[i])
		}
		if r.PM25 != expectedPM25[i] {
			t.Errorf("record %d pm25 = %v, expected %v", i, r.PM25, expectedPM25[i])
		}
		if r.Country != sensor.Country || r.City != sensor.City || r.Street != sensor.Street || r.URL != sensor.URL {
			t.Errorf("record %d not tagged with sensor: %+v", i, r)
		}
	}

	earliest, ok := EarliestDate(records)
	if !ok || !earliest.Equal(expectedDates[0]) {
		t.Errorf("EarliestDate = %v, %v; expected %v", earliest, ok, expectedDates[0])
	}
}

func TestCleanTruncatesAndMergesDays(t *testing.T) {
	readings, err := ReadCSV(strings.NewReader(`date,pm25
2024-03-02 08:00:00,10
2024-03-01 08:00:00,20
2024-03-01T23:30:00+02:00,25
2024-03-01,30
`))
	if err != nil {
		t.Fatalf("ReadCSV returned error: %v", err)
	}

	records := Clean(readings, sensor)
	if len(records) != 2 {
		t.Fatalf("got %d records, expected 2", len(records))
	}

	expected := []struct {
		date time.Time
		pm25 float32
	}{
		{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 30},
		{time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), 10},
	}
	for i, want := range expected {
		if !records[i].Date.Equal(want.date) || records[i].Date.Location() != time.UTC {
			t.Errorf("record %d date = %v, expected %v", i, records[i].Date, want.date)
		}
		if records[i].PM25 != want.pm25 {
			t.Errorf("record %d pm25 = %v, expected %v", i, records[i].PM25, want.pm25)
		}
	}
}

func TestDay(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 3, 2, 1, 0, 0, 0, time.FixedZone("EET", 2*3600)), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := Day(tt.in); !got.Equal(tt.want) {
			t.Errorf("Day(%v) = %v, expected %v", tt.in, got, tt.want)
		}
	}
}

func TestEarliestDateEmpty(t *testing.T) {
	if _, ok := EarliestDate(nil); ok {
		t.Error("EarliestDate(nil) should report ok=false")
	}
}

func TestCheckFilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aq.csv")

	if err := CheckFilePath(path); err == nil || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	if err := CheckFilePath(dir); err == nil {
		t.Error("expected error for a directory")
	}

	if err := os.WriteFile(path, []byte(aqicnExport), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := CheckFilePath(path); err != nil {
		t.Errorf("CheckFilePath returned error for existing file: %v", err)
	}

	readings, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if len(readings) != 5 {
		t.Errorf("ReadFile got %d readings, expected 5", len(readings))
	}
}
