package aqi

import "testing"

func TestCalculatePM25(t *testing.T) {
	tests := []struct {
		name     string
		pm25     float32
		expected int32
	}{
		{name: "negative reading", pm25: -3, expected: 0},
		{name: "zero", pm25: 0, expected: 0},
		{name: "top of good band", pm25: 12.0, expected: 50},
		{name: "bottom of moderate band", pm25: 12.1, expected: 51},
		{name: "between breakpoints", pm25: 12.05, expected: 51},
		{name: "inside moderate band", pm25: 30.0, expected: 89},
		{name: "top of hazardous band", pm25: 500.4, expected: 500},
		{name: "off the scale", pm25: 900, expected: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculatePM25(tt.pm25)
			if got != tt.expected {
				t.Errorf("CalculatePM25(%v) = %d, expected %d", tt.pm25, got, tt.expected)
			}
		})
	}
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		aqi      int32
		expected string
	}{
		{0, "Good"},
		{50, "Good"},
		{51, "Moderate"},
		{150, "Unhealthy for Sensitive Groups"},
		{200, "Unhealthy"},
		{300, "Very Unhealthy"},
		{301, "Hazardous"},
	}

	for _, tt := range tests {
		if got := GetCategory(tt.aqi); got != tt.expected {
			t.Errorf("GetCategory(%d) = %q, expected %q", tt.aqi, got, tt.expected)
		}
	}
}
