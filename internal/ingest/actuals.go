package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kentwelham/gradecast/internal/forecast"
	"github.com/kentwelham/gradecast/internal/models"
)

// actualsModelKey is the upstream's blended analysis product; its past
// hours stand in for station observations.
const actualsModelKey = "best_match"

var actualsParams = []string{
	"temperature_2m", "rain", "snowfall", "wind_speed_10m",
	"wind_gusts_10m", "cloud_cover", "visibility",
}

// ActualsSource pulls recently observed hours for a location through the
// same normalizer as the forecasts, so both sides of every comparison
// share one unit-conversion path.
type ActualsSource struct {
	client *Client
}

func NewActualsSource(client *Client) *ActualsSource {
	return &ActualsSource{client: client}
}

// Fetch returns completed past hours for the location, newest window
// first trimmed to strictly-before the current hour. The caller decides
// how far back to ask and owns storing the records.
func (a *ActualsSource) Fetch(ctx context.Context, loc models.Location, pastDays int, now time.Time) ([]models.ActualWeatherRecord, error) {
	body, err := a.client.get(ctx, actualsModelKey, a.url(loc, pastDays))
	if err != nil {
		return nil, err
	}
	a.client.recordPayload(actualsModelKey, loc.ID, body)

	series, err := forecast.Normalize(actualsModelKey, body, forecast.ViewHourly)
	if err != nil {
		return nil, fmt.Errorf("normalize actuals: %w", err)
	}

	cutoff := now.UTC().Truncate(time.Hour)
	var out []models.ActualWeatherRecord
	for _, p := range series.Points {
		if !p.Time.Before(cutoff) {
			// The current hour is still accumulating.
			continue
		}
		out = append(out, recordFromPoint(loc.ID, p))
	}
	return out, nil
}

func (a *ActualsSource) url(loc models.Location, pastDays int) string {
	if pastDays < 1 {
		pastDays = 1
	}
	v := url.Values{}
	v.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	v.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	v.Set("models", actualsModelKey)
	v.Set("hourly", strings.Join(actualsParams, ","))
	v.Set("past_days", strconv.Itoa(pastDays))
	v.Set("forecast_days", "1")
	v.Set("timezone", "UTC")
	return a.client.baseURL + "/v1/forecast?" + v.Encode()
}

func recordFromPoint(locationID int64, p forecast.Point) models.ActualWeatherRecord {
	return models.ActualWeatherRecord{
		LocationID:  locationID,
		Time:        p.Time,
		Temperature: nullFrom(p.Values, forecast.MetricTemperature),
		Rain:        nullFrom(p.Values, forecast.MetricRain),
		Snowfall:    nullFrom(p.Values, forecast.MetricSnowfall),
		WindSpeed:   nullFrom(p.Values, forecast.MetricWindSpeed),
		WindGusts:   nullFrom(p.Values, forecast.MetricWindGusts),
		CloudCover:  nullFrom(p.Values, forecast.MetricCloudCover),
		Visibility:  nullFrom(p.Values, forecast.MetricVisibility),
	}
}

func nullFrom(values map[string]float64, metric string) sql.NullFloat64 {
	v, ok := values[metric]
	return sql.NullFloat64{Float64: v, Valid: ok}
}
