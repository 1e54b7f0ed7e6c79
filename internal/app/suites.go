package app

import "github.com/chrissnell/aqbackfill/pkg/expectations"

// The sensor saturates at 500 µg/m³. The strict lower bound of -0.1 lets
// through the zero readings some sensors report.
const (
	pm25Lower   = -0.1
	pm25Upper   = 500
	weatherLow  = -0.1
	weatherHigh = 1000
)

// AirQualitySuite bounds every pm25 value by bounding the column's minimum
// and maximum.
func AirQualitySuite() *expectations.Suite {
	return expectations.NewSuite("aq_expectation_suite").
		AddExpectation(expectations.MinBetween("pm25", pm25Lower, pm25Upper, true)).
		AddExpectation(expectations.MaxBetween("pm25", pm25Lower, pm25Upper, true))
}

// WeatherSuite bounds precipitation and wind speed
func WeatherSuite() *expectations.Suite {
	suite := expectations.NewSuite("weather_expectation_suite")
	for _, col := range []string{"precipitation_sum", "wind_speed_10m_max"} {
		suite.AddExpectation(expectations.MinBetween(col, weatherLow, weatherHigh, true))
		suite.AddExpectation(expectations.MaxBetween(col, weatherLow, weatherHigh, true))
	}
	return suite
}

var airQualityDescriptions = map[string]string{
	"date":    "Date of measurement of air quality",
	"country": "Country where the air quality was measured (sometimes a city in aqicn.org)",
	"city":    "City where the air quality was measured",
	"street":  "Street in the city where the air quality was measured",
	"url":     "aqicn.org feed URL of the sensor",
	"pm25":    "Particles less than 2.5 micrometers in diameter (fine particles) pose health risk",
}

var weatherDescriptions = map[string]string{
	"date":                        "Date of measurement of weather",
	"city":                        "City where weather is measured/forecast for",
	"temperature_2m_mean":         "Temperature in Celsius",
	"precipitation_sum":           "Precipitation (rain/snow) in mm",
	"wind_speed_10m_max":          "Wind speed at 10m above ground",
	"wind_direction_10m_dominant": "Dominant wind direction over the day",
}
