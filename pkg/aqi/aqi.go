// Package aqi converts PM2.5 concentrations into US EPA Air Quality Index values
package aqi

import "math"

type breakpoint struct {
	cLow, cHigh float64
	iLow, iHigh float64
}

// EPA breakpoints for 24-hour PM2.5 averages (μg/m³)
var pm25Breakpoints = []breakpoint{
	{0.0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 350.4, 301, 400},
	{350.5, 500.4, 401, 500},
}

// CalculatePM25 calculates the Air Quality Index from PM2.5 concentration (μg/m³).
// Negative concentrations map to 0 and anything beyond the last breakpoint to 500.
func CalculatePM25(pm25 float32) int32 {
	if pm25 < 0 {
		return 0
	}

	pm := float64(pm25)
	for _, bp := range pm25Breakpoints {
		if pm <= bp.cHigh {
			// Readings that fall between two breakpoints (e.g. 12.05) are
			// clamped to the lower edge of the band they belong to.
			if pm < bp.cLow {
				pm = bp.cLow
			}
			// I = (I_high - I_low) / (C_high - C_low) * (C - C_low) + I_low
			aqi := ((bp.iHigh-bp.iLow)/(bp.cHigh-bp.cLow))*(pm-bp.cLow) + bp.iLow
			return int32(math.Round(aqi))
		}
	}

	return 500
}

// GetCategory returns the AQI category name for a given AQI value
func GetCategory(aqi int32) string {
	switch {
	case aqi <= 50:
		return "Good"
	case aqi <= 100:
		return "Moderate"
	case aqi <= 150:
		return "Unhealthy for Sensitive Groups"
	case aqi <= 200:
		return "Unhealthy"
	case aqi <= 300:
		return "Very Unhealthy"
	default:
		return "Hazardous"
	}
}
