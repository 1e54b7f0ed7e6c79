package types

import (
	"time"
)

// AirQuality is one daily PM2.5 measurement from a sensor. A sensor is
// identified by country, city and street; Date is the event time.
type AirQuality struct {
	Date    time.Time `gorm:"column:date;not null" json:"date"`
	PM25    float32   `gorm:"column:pm25;not null" json:"pm25"`
	Country string    `gorm:"column:country;not null" json:"country"`
	City    string    `gorm:"column:city;not null" json:"city"`
	Street  string    `gorm:"column:street;not null" json:"street"`
	URL     string    `gorm:"column:url" json:"url"`
}

// Weather is one day of weather for a city, as reported by the Open-Meteo
// archive. Temperatures are in °C, precipitation in mm, wind speed in km/h and
// wind direction in degrees.
type Weather struct {
	Date                     time.Time `gorm:"column:date;not null" json:"date"`
	Temperature2mMean        float32   `gorm:"column:temperature_2m_mean" json:"temperature_2m_mean"`
	PrecipitationSum         float32   `gorm:"column:precipitation_sum" json:"precipitation_sum"`
	WindSpeed10mMax          float32   `gorm:"column:wind_speed_10m_max" json:"wind_speed_10m_max"`
	WindDirection10mDominant float32   `gorm:"column:wind_direction_10m_dominant" json:"wind_direction_10m_dominant"`
	City                     string    `gorm:"column:city;not null" json:"city"`
}

// Sensor describes where air quality is measured and where its feed lives
type Sensor struct {
	Country string
	City    string
	Street  string
	URL     string
}
