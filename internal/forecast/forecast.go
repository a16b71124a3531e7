package forecast

import "time"

// View selects which resolution of a model's output to work with.
type View string

const (
	ViewHourly View = "hourly"
	ViewDaily  View = "daily"
)

// Canonical metric keys. Every upstream vocabulary is mapped onto these;
// daily blocks append statistical suffixes (_max, _sum, _dominant, ...)
// to the same bases.
const (
	MetricTemperature   = "temperature_2m"
	MetricPrecipitation = "precipitation"
	MetricRain          = "rain"
	MetricSnowfall      = "snowfall"
	MetricWindSpeed     = "wind_speed_10m"
	MetricWindDirection = "wind_direction_10m"
	MetricWindGusts     = "wind_gusts_10m"
	MetricCloudCover    = "cloud_cover"
	MetricVisibility    = "visibility"
)

// Point is one timestamp of a normalized series. Values holds only the
// metrics the model actually reported for that timestamp; canonical
// units are °C, liquid-equivalent mm, km/h, percent and km.
type Point struct {
	Time       time.Time          `json:"time"`
	Values     map[string]float64 `json:"values"`
	PrecipType PrecipType         `json:"precip_type,omitempty"`
}

// Series is one model's normalized forecast for a single view.
type Series struct {
	ModelKey string  `json:"model"`
	View     View    `json:"view"`
	Derived  bool    `json:"derived,omitempty"`
	Points   []Point `json:"points"`
}
