package catalog

// MedianKey identifies the synthetic ensemble member derived each cycle
// from the real models' series.
const MedianKey = "median"

// BoundingBox limits a regional model to the area its grid covers.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Model describes one upstream numerical weather model: its stable key,
// the endpoint path it is served from, the parameters it publishes, how
// far out it forecasts, and (for regional models) where it applies.
type Model struct {
	Key          string
	Name         string
	Endpoint     string
	HourlyParams []string
	DailyParams  []string
	HorizonDays  int
	Region       *BoundingBox // nil means global coverage
}

// EligibleAt reports whether the model covers the given coordinates.
func (m Model) EligibleAt(lat, lon float64) bool {
	return m.Region == nil || m.Region.Contains(lat, lon)
}

// Eligible splits the catalog into models that cover the coordinates and
// the keys of those that do not. Ineligibility is not a failure; callers
// log the skipped keys and move on.
func Eligible(all []Model, lat, lon float64) (eligible []Model, skipped []string) {
	for _, m := range all {
		if m.EligibleAt(lat, lon) {
			eligible = append(eligible, m)
		} else {
			skipped = append(skipped, m.Key)
		}
	}
	return eligible, skipped
}

var (
	hourlyFull = []string{
		"temperature_2m", "precipitation", "rain", "snowfall",
		"wind_speed_10m", "wind_direction_10m", "wind_gusts_10m",
		"cloud_cover", "visibility",
	}
	// Some models publish no visibility field.
	hourlyNoVis = []string{
		"temperature_2m", "precipitation", "rain", "snowfall",
		"wind_speed_10m", "wind_direction_10m", "wind_gusts_10m",
		"cloud_cover",
	}
	dailyStandard = []string{
		"temperature_2m_max", "temperature_2m_min", "precipitation_sum",
		"rain_sum", "snowfall_sum", "wind_speed_10m_max",
		"wind_gusts_10m_max", "wind_direction_10m_dominant",
		"cloud_cover_mean",
	}

	centralEurope = &BoundingBox{MinLat: 43.0, MaxLat: 58.0, MinLon: -4.0, MaxLon: 21.0}
	europe        = &BoundingBox{MinLat: 39.0, MaxLat: 63.5, MinLon: -25.0, MaxLon: 45.0}
	nordics       = &BoundingBox{MinLat: 52.3, MaxLat: 80.0, MinLon: -17.1, MaxLon: 41.5}
	conus         = &BoundingBox{MinLat: 21.1, MaxLat: 52.6, MinLon: -134.0, MaxLon: -60.3}
)

// Default returns the shipped model catalog. Keys and endpoints follow the
// upstream API's naming; horizon caps reflect how far each model publishes.
func Default() []Model {
	return []Model{
		{Key: "icon_seamless", Name: "DWD ICON", Endpoint: "dwd-icon", HourlyParams: hourlyFull, DailyParams: dailyStandard, HorizonDays: 7},
		{Key: "icon_d2", Name: "DWD ICON D2", Endpoint: "dwd-icon", HourlyParams: hourlyFull, DailyParams: dailyStandard, HorizonDays: 2, Region: centralEurope},
		{Key: "gfs_seamless", Name: "NOAA GFS", Endpoint: "gfs", HourlyParams: hourlyFull, DailyParams: dailyStandard, HorizonDays: 7},
		{Key: "gfs_hrrr", Name: "NOAA HRRR", Endpoint: "gfs", HourlyParams: hourlyFull, DailyParams: dailyStandard, HorizonDays: 2, Region: conus},
		{Key: "ecmwf_ifs025", Name: "ECMWF IFS", Endpoint: "ecmwf", HourlyParams: hourlyNoVis, DailyParams: dailyStandard, HorizonDays: 7},
		{Key: "meteofrance_seamless", Name: "Meteo-France", Endpoint: "meteofrance", HourlyParams: hourlyNoVis, DailyParams: dailyStandard, HorizonDays: 4},
		{Key: "ukmo_seamless", Name: "UK Met Office", Endpoint: "ukmo", HourlyParams: hourlyFull, DailyParams: dailyStandard, HorizonDays: 7},
		{Key: "jma_seamless", Name: "JMA", Endpoint: "jma", HourlyParams: hourlyNoVis, DailyParams: dailyStandard, HorizonDays: 7},
		{Key: "gem_seamless", Name: "Canadian GEM", Endpoint: "gem", HourlyParams: hourlyNoVis, DailyParams: dailyStandard, HorizonDays: 7},
		{Key: "bom_access_global", Name: "BOM ACCESS-G", Endpoint: "bom", HourlyParams: hourlyNoVis, DailyParams: dailyStandard, HorizonDays: 7},
		{Key: "metno_nordic", Name: "MET Norway Nordic", Endpoint: "metno", HourlyParams: hourlyFull, DailyParams: dailyStandard, HorizonDays: 2, Region: nordics},
		{Key: "knmi_harmonie_arome_europe", Name: "KNMI Harmonie", Endpoint: "knmi", HourlyParams: hourlyFull, DailyParams: dailyStandard, HorizonDays: 2, Region: europe},
	}
}
