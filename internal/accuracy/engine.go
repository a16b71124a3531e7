package accuracy

import (
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kentwelham/gradecast/internal/forecast"
	"github.com/kentwelham/gradecast/internal/metrics"
	"github.com/kentwelham/gradecast/internal/models"
	"github.com/kentwelham/gradecast/internal/store"
)

const (
	// warmupMargin keeps a target hour out of reconciliation until it is
	// comfortably in the past and its observation can exist.
	warmupMargin = time.Hour

	// minLeadHours excludes trivially-accurate near-term predictions
	// from tracking; maxLeadHours caps tracking at the five-day window.
	minLeadHours = 1
	maxLeadHours = 120
)

// scoreableMetrics is the hourly vocabulary that feeds MAE tracking.
// Wind direction is circular, so its absolute error is meaningless and
// it stays out.
var scoreableMetrics = map[string]bool{
	forecast.MetricTemperature:   true,
	forecast.MetricPrecipitation: true,
	forecast.MetricRain:          true,
	forecast.MetricSnowfall:      true,
	forecast.MetricWindSpeed:     true,
	forecast.MetricWindGusts:     true,
	forecast.MetricCloudCover:    true,
	forecast.MetricVisibility:    true,
}

// Engine owns the forecast lifecycle from pending through due to
// scored or expired. The stores stay dumb; every lifecycle rule lives here.
type Engine struct {
	store     store.Store
	retention time.Duration

	mu sync.Mutex // one reconciliation pass at a time per process
}

func NewEngine(s store.Store, retention time.Duration) *Engine {
	return &Engine{store: s, retention: retention}
}

// PendingPoints turns normalized hourly series into trackable forecast
// rows. Daily series and out-of-window lead times are dropped here;
// reconciliation re-checks the window before scoring.
func (e *Engine) PendingPoints(locationID int64, series []forecast.Series, generatedAt time.Time) []models.PendingForecast {
	var out []models.PendingForecast
	for _, s := range series {
		if s.View != forecast.ViewHourly {
			continue
		}
		for _, p := range s.Points {
			lead := leadHours(generatedAt, p.Time)
			if lead < minLeadHours || lead > maxLeadHours {
				continue
			}
			keys := make([]string, 0, len(p.Values))
			for metric := range p.Values {
				if scoreableMetrics[metric] {
					keys = append(keys, metric)
				}
			}
			sort.Strings(keys)
			for _, metric := range keys {
				out = append(out, models.PendingForecast{
					LocationID:  locationID,
					ModelKey:    s.ModelKey,
					MetricKey:   metric,
					TargetTime:  p.Time,
					Value:       p.Values[metric],
					LeadHours:   lead,
					GeneratedAt: generatedAt,
				})
			}
		}
	}
	return out
}

// leadHours counts the whole hours between generation and target, so a
// forecast for the already-started hour comes out as zero.
func leadHours(generatedAt, target time.Time) int {
	return int(target.Sub(generatedAt).Hours())
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Due     int
	Scored  int
	Skipped int
}

// Reconcile matches due pending forecasts against observed actuals and
// retires the matched ones: history written, score folded, pending row
// deleted, all in one storage transaction. Forecasts without a usable
// actual stay pending without any partial effect.
func (e *Engine) Reconcile(now time.Time) (PassResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := now.UTC().Add(-warmupMargin)
	due, err := e.store.DuePendingForecasts(cutoff)
	if err != nil {
		return PassResult{}, fmt.Errorf("load due forecasts: %w", err)
	}
	if len(due) == 0 {
		return PassResult{}, nil
	}

	// Grouped by location to batch the actual-range lookups; scores do
	// not depend on this grouping.
	byLocation := make(map[int64][]models.PendingForecast)
	var locationIDs []int64
	for _, f := range due {
		if _, ok := byLocation[f.LocationID]; !ok {
			locationIDs = append(locationIDs, f.LocationID)
		}
		byLocation[f.LocationID] = append(byLocation[f.LocationID], f)
	}
	sort.Slice(locationIDs, func(i, j int) bool { return locationIDs[i] < locationIDs[j] })

	var items []models.ReconciledForecast
	for _, locID := range locationIDs {
		group := byLocation[locID]
		from, to := group[0].TargetTime, group[0].TargetTime
		for _, f := range group[1:] {
			if f.TargetTime.Before(from) {
				from = f.TargetTime
			}
			if f.TargetTime.After(to) {
				to = f.TargetTime
			}
		}
		actuals, err := e.store.ActualsForRange(locID, from, to)
		if err != nil {
			return PassResult{}, fmt.Errorf("load actuals for location %d: %w", locID, err)
		}
		byHour := make(map[time.Time]models.ActualWeatherRecord, len(actuals))
		for _, rec := range actuals {
			byHour[rec.Time] = rec
		}

		for _, f := range group {
			if f.LeadHours < minLeadHours || f.LeadHours > maxLeadHours {
				continue
			}
			rec, ok := byHour[f.TargetTime]
			if !ok {
				continue
			}
			actual, ok := actualValue(rec, f.MetricKey)
			if !ok {
				continue
			}
			items = append(items, models.ReconciledForecast{
				PendingID: f.ID,
				Interval:  bucketForLead(f.LeadHours),
				Record: models.HistoricalForecastRecord{
					LocationID: f.LocationID,
					ModelKey:   f.ModelKey,
					MetricKey:  f.MetricKey,
					TargetTime: f.TargetTime,
					LeadHours:  f.LeadHours,
					Forecast:   f.Value,
					Actual:     actual,
					AbsError:   math.Abs(f.Value - actual),
				},
			})
		}
	}

	scored, err := e.store.ApplyReconciliation(items)
	if err != nil {
		return PassResult{}, fmt.Errorf("apply reconciliation: %w", err)
	}
	metrics.ForecastsScored.Add(float64(scored))

	result := PassResult{Due: len(due), Scored: scored, Skipped: len(due) - len(items)}
	log.Printf("accuracy: reconciled %d of %d due forecasts (%d skipped)", result.Scored, result.Due, result.Skipped)
	return result, nil
}

// bucketForLead assigns a lead time to its accuracy interval.
func bucketForLead(lead int) string {
	switch {
	case lead <= 24:
		return models.Interval24h
	case lead <= 48:
		return models.Interval48h
	default:
		return models.Interval5d
	}
}

// actualValue pulls the observed value for a metric out of an actuals
// row. NULL means the hour was recorded without that observation, so the
// forecast is not scoreable yet.
func actualValue(rec models.ActualWeatherRecord, metric string) (float64, bool) {
	switch metric {
	case forecast.MetricTemperature:
		return nullable(rec.Temperature.Float64, rec.Temperature.Valid)
	case forecast.MetricRain:
		return nullable(rec.Rain.Float64, rec.Rain.Valid)
	case forecast.MetricSnowfall:
		return nullable(rec.Snowfall.Float64, rec.Snowfall.Valid)
	case forecast.MetricPrecipitation:
		// Derived from the phases; both observations must exist.
		if !rec.Rain.Valid || !rec.Snowfall.Valid {
			return 0, false
		}
		return rec.Rain.Float64 + rec.Snowfall.Float64, true
	case forecast.MetricWindSpeed:
		return nullable(rec.WindSpeed.Float64, rec.WindSpeed.Valid)
	case forecast.MetricWindGusts:
		return nullable(rec.WindGusts.Float64, rec.WindGusts.Valid)
	case forecast.MetricCloudCover:
		return nullable(rec.CloudCover.Float64, rec.CloudCover.Valid)
	case forecast.MetricVisibility:
		return nullable(rec.Visibility.Float64, rec.Visibility.Valid)
	}
	return 0, false
}

func nullable(v float64, valid bool) (float64, bool) {
	if !valid {
		return 0, false
	}
	return v, true
}

// PruneResult reports what a retention pass removed.
type PruneResult struct {
	ExpiredPending int
	History        int
	Actuals        int
}

// Prune deletes rows older than the retention horizon. Pending rows
// removed here never found a matching actual; they expire unscored.
func (e *Engine) Prune(now time.Time) (PruneResult, error) {
	cutoff := now.UTC().Add(-e.retention)

	expired, err := e.store.DeletePendingBefore(cutoff)
	if err != nil {
		return PruneResult{}, fmt.Errorf("prune pending: %w", err)
	}
	if expired > 0 {
		metrics.PendingExpired.Add(float64(expired))
		log.Printf("accuracy: %d pending forecasts expired unscored past %s", expired, cutoff.Format(time.RFC3339))
	}

	history, err := e.store.DeleteHistoryBefore(cutoff)
	if err != nil {
		return PruneResult{}, fmt.Errorf("prune history: %w", err)
	}
	actuals, err := e.store.DeleteActualsBefore(cutoff)
	if err != nil {
		return PruneResult{}, fmt.Errorf("prune actuals: %w", err)
	}
	return PruneResult{ExpiredPending: expired, History: history, Actuals: actuals}, nil
}

// Reset clears every accuracy table for a fresh baseline.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ResetAccuracyData()
}
