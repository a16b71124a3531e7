package models

import (
	"database/sql"
	"time"
)

// Accuracy interval keys, bucketed by forecast lead time.
const (
	Interval24h = "24h"
	Interval48h = "48h"
	Interval5d  = "5d"
)

var Intervals = []string{Interval24h, Interval48h, Interval5d}

type Location struct {
	ID        int64
	Name      string
	Latitude  float64
	Longitude float64
}

// PendingForecast is a stored prediction awaiting a matching observation.
// One row per (location, model, metric, target hour); never mutated in
// place, only deleted on scoring or expiry.
type PendingForecast struct {
	ID          int64
	LocationID  int64
	ModelKey    string
	MetricKey   string
	TargetTime  time.Time // UTC, top of hour
	Value       float64
	LeadHours   int
	GeneratedAt time.Time
}

// ActualWeatherRecord is one observed hour for a location, in canonical
// units (temperature C, rain/snowfall liquid-equivalent mm, wind km/h,
// cloud cover %, visibility km).
type ActualWeatherRecord struct {
	ID          int64
	LocationID  int64
	Time        time.Time // UTC, top of hour
	Temperature sql.NullFloat64
	Rain        sql.NullFloat64
	Snowfall    sql.NullFloat64
	WindSpeed   sql.NullFloat64
	WindGusts   sql.NullFloat64
	CloudCover  sql.NullFloat64
	Visibility  sql.NullFloat64
	CreatedAt   time.Time
}

// HistoricalForecastRecord is the append-only audit trail of scored
// forecasts.
type HistoricalForecastRecord struct {
	ID         int64
	LocationID int64
	ModelKey   string
	MetricKey  string
	TargetTime time.Time
	LeadHours  int
	Forecast   float64
	Actual     float64
	AbsError   float64
	CreatedAt  time.Time
}

// AccuracyScore is one (location, model, metric, interval) bucket of the
// running mean absolute error.
type AccuracyScore struct {
	LocationID   int64
	ModelKey     string
	MetricKey    string
	Interval     string
	MeanAbsError float64
	HoursTracked int
}

// ReconciledForecast pairs a due pending row with its scored outcome. The
// store retires the pending row, writes the history record, and folds the
// error into the interval bucket as one atomic unit.
type ReconciledForecast struct {
	PendingID int64
	Interval  string
	Record    HistoricalForecastRecord
}

// ModelFailure reports one model's fetch or parse failure for a cycle.
type ModelFailure struct {
	Model  string `json:"model"`
	Reason string `json:"reason"`
}

// Lease is the single-row coordination record for leader election.
type Lease struct {
	ID          string
	HolderID    string
	TimestampMs int64
}
