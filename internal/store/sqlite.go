package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kentwelham/gradecast/internal/models"
)

// SQLiteStore is the durable adapter backed by database/sql with the
// modernc.org/sqlite driver.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) UpsertLocation(loc models.Location) error {
	_, err := s.db.Exec(`
		INSERT INTO locations (id, name, latitude, longitude)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude
	`, loc.ID, loc.Name, loc.Latitude, loc.Longitude)
	return err
}

func (s *SQLiteStore) ListLocations() ([]models.Location, error) {
	rows, err := s.db.Query(`SELECT id, name, latitude, longitude FROM locations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []models.Location
	for rows.Next() {
		var loc models.Location
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.Latitude, &loc.Longitude); err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

func (s *SQLiteStore) AddPendingForecasts(batch []models.PendingForecast) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO pending_forecasts (location_id, model_key, metric_key, target_time, forecast_value, lead_hours, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_id, model_key, metric_key, target_time) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	added := 0
	for _, f := range batch {
		res, err := stmt.Exec(f.LocationID, f.ModelKey, f.MetricKey, f.TargetTime.UTC(), f.Value, f.LeadHours, f.GeneratedAt.UTC())
		if err != nil {
			return 0, fmt.Errorf("insert pending forecast: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

func (s *SQLiteStore) DuePendingForecasts(cutoff time.Time) ([]models.PendingForecast, error) {
	rows, err := s.db.Query(`
		SELECT id, location_id, model_key, metric_key, target_time, forecast_value, lead_hours, generated_at
		FROM pending_forecasts
		WHERE target_time <= ?
		ORDER BY location_id, model_key, metric_key, target_time
	`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []models.PendingForecast
	for rows.Next() {
		var f models.PendingForecast
		if err := rows.Scan(&f.ID, &f.LocationID, &f.ModelKey, &f.MetricKey, &f.TargetTime, &f.Value, &f.LeadHours, &f.GeneratedAt); err != nil {
			return nil, err
		}
		f.TargetTime = f.TargetTime.UTC()
		f.GeneratedAt = f.GeneratedAt.UTC()
		due = append(due, f)
	}
	return due, rows.Err()
}

func (s *SQLiteStore) DeletePendingBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM pending_forecasts WHERE target_time < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) AddActualWeather(rec models.ActualWeatherRecord) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO actual_weather (location_id, time, temperature, rain, snowfall, wind_speed, wind_gusts, cloud_cover, visibility)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_id, time) DO NOTHING
	`, rec.LocationID, rec.Time.UTC(), rec.Temperature, rec.Rain, rec.Snowfall, rec.WindSpeed, rec.WindGusts, rec.CloudCover, rec.Visibility)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) ActualsForRange(locationID int64, from, to time.Time) ([]models.ActualWeatherRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, location_id, time, temperature, rain, snowfall, wind_speed, wind_gusts, cloud_cover, visibility, created_at
		FROM actual_weather
		WHERE location_id = ? AND time >= ? AND time <= ?
		ORDER BY time ASC
	`, locationID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ActualWeatherRecord
	for rows.Next() {
		var rec models.ActualWeatherRecord
		if err := rows.Scan(&rec.ID, &rec.LocationID, &rec.Time, &rec.Temperature, &rec.Rain, &rec.Snowfall, &rec.WindSpeed, &rec.WindGusts, &rec.CloudCover, &rec.Visibility, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Time = rec.Time.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) LatestActualTime(locationID int64) (time.Time, bool, error) {
	row := s.db.QueryRow(`
		SELECT time FROM actual_weather
		WHERE location_id = ?
		ORDER BY time DESC
		LIMIT 1
	`, locationID)

	var t time.Time
	err := row.Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), true, nil
}

func (s *SQLiteStore) DeleteActualsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM actual_weather WHERE time < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) HistoricalForecasts(locationID int64, from, to time.Time) ([]models.HistoricalForecastRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, location_id, model_key, metric_key, target_time, lead_hours, forecast_value, actual_value, abs_error, created_at
		FROM historical_forecasts
		WHERE location_id = ? AND target_time >= ? AND target_time <= ?
		ORDER BY target_time ASC, model_key, metric_key
	`, locationID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.HistoricalForecastRecord
	for rows.Next() {
		var rec models.HistoricalForecastRecord
		if err := rows.Scan(&rec.ID, &rec.LocationID, &rec.ModelKey, &rec.MetricKey, &rec.TargetTime, &rec.LeadHours, &rec.Forecast, &rec.Actual, &rec.AbsError, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.TargetTime = rec.TargetTime.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) DeleteHistoryBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM historical_forecasts WHERE target_time < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ApplyReconciliation retires scored pending rows in one transaction. The
// score fold uses SQLite's pre-update row values on both SET expressions,
// so the weighted-mean update reads the old MAE and old count atomically.
func (s *SQLiteStore) ApplyReconciliation(items []models.ReconciledForecast) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	type scoreKey struct {
		loc                     int64
		model, metric, interval string
	}
	type delta struct {
		errSum float64
		count  int
	}
	deltas := make(map[scoreKey]*delta)

	applied := 0
	for _, it := range items {
		res, err := tx.Exec(`DELETE FROM pending_forecasts WHERE id = ?`, it.PendingID)
		if err != nil {
			return 0, fmt.Errorf("retire pending %d: %w", it.PendingID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n == 0 {
			// Another pass already retired this row; its score
			// contribution was applied there.
			continue
		}

		r := it.Record
		if _, err := tx.Exec(`
			INSERT INTO historical_forecasts (location_id, model_key, metric_key, target_time, lead_hours, forecast_value, actual_value, abs_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.LocationID, r.ModelKey, r.MetricKey, r.TargetTime.UTC(), r.LeadHours, r.Forecast, r.Actual, r.AbsError); err != nil {
			return 0, fmt.Errorf("insert history: %w", err)
		}

		k := scoreKey{r.LocationID, r.ModelKey, r.MetricKey, it.Interval}
		d := deltas[k]
		if d == nil {
			d = &delta{}
			deltas[k] = d
		}
		d.errSum += r.AbsError
		d.count++
		applied++
	}

	for k, d := range deltas {
		if _, err := tx.Exec(`
			INSERT INTO accuracy_scores (location_id, model_key, metric_key, interval_key, mean_abs_error, hours_tracked)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(location_id, model_key, metric_key, interval_key) DO UPDATE SET
				mean_abs_error = (accuracy_scores.mean_abs_error * accuracy_scores.hours_tracked + excluded.mean_abs_error * excluded.hours_tracked)
					/ (accuracy_scores.hours_tracked + excluded.hours_tracked),
				hours_tracked = accuracy_scores.hours_tracked + excluded.hours_tracked
		`, k.loc, k.model, k.metric, k.interval, d.errSum/float64(d.count), d.count); err != nil {
			return 0, fmt.Errorf("fold score %s/%s/%s: %w", k.model, k.metric, k.interval, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return applied, nil
}

func (s *SQLiteStore) AccuracyScores() ([]models.AccuracyScore, error) {
	rows, err := s.db.Query(`
		SELECT location_id, model_key, metric_key, interval_key, mean_abs_error, hours_tracked
		FROM accuracy_scores
		ORDER BY location_id, model_key, metric_key, interval_key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []models.AccuracyScore
	for rows.Next() {
		var sc models.AccuracyScore
		if err := rows.Scan(&sc.LocationID, &sc.ModelKey, &sc.MetricKey, &sc.Interval, &sc.MeanAbsError, &sc.HoursTracked); err != nil {
			return nil, err
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

func (s *SQLiteStore) ResetAccuracyData() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"pending_forecasts", "actual_weather", "historical_forecasts", "accuracy_scores"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// AcquireLease is a single conditional upsert: the DO UPDATE clause only
// fires for the current holder or an expired row, so two candidates racing
// on the same lease cannot both see rows affected.
func (s *SQLiteStore) AcquireLease(id, holderID string, now time.Time, maxAge time.Duration) (bool, error) {
	nowMs := now.UnixMilli()
	staleMs := nowMs - maxAge.Milliseconds()
	res, err := s.db.Exec(`
		INSERT INTO leases (id, holder_id, timestamp_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			holder_id = excluded.holder_id,
			timestamp_ms = excluded.timestamp_ms
		WHERE leases.holder_id = excluded.holder_id OR leases.timestamp_ms <= ?
	`, id, holderID, nowMs, staleMs)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) RenewLease(id, holderID string, now time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE leases SET timestamp_ms = ? WHERE id = ? AND holder_id = ?
	`, now.UnixMilli(), id, holderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) ReleaseLease(id, holderID string) error {
	_, err := s.db.Exec(`DELETE FROM leases WHERE id = ? AND holder_id = ?`, id, holderID)
	return err
}

// GetLease returns the current lease row, or nil if none exists.
func (s *SQLiteStore) GetLease(id string) (*models.Lease, error) {
	row := s.db.QueryRow(`SELECT id, holder_id, timestamp_ms FROM leases WHERE id = ?`, id)
	var l models.Lease
	err := row.Scan(&l.ID, &l.HolderID, &l.TimestampMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
