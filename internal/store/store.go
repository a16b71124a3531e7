package store

import (
	"time"

	"github.com/kentwelham/gradecast/internal/models"
)

// Store is the narrow persistence contract the core runs against. The
// adapters are intentionally dumb: what counts as "due" or "stale" is
// decided by the callers, the adapters just execute it atomically.
type Store interface {
	// Locations are immutable reference data, seeded at startup.
	UpsertLocation(loc models.Location) error
	ListLocations() ([]models.Location, error)

	// Pending forecasts. Adds are first-write-wins per
	// (location, model, metric, target hour) and report how many rows
	// were actually new.
	AddPendingForecasts(batch []models.PendingForecast) (int, error)
	DuePendingForecasts(cutoff time.Time) ([]models.PendingForecast, error)
	DeletePendingBefore(cutoff time.Time) (int, error)

	// Observed weather. Insert-or-ignore on (location, hour); the sync
	// job re-requests overlapping windows.
	AddActualWeather(rec models.ActualWeatherRecord) (bool, error)
	ActualsForRange(locationID int64, from, to time.Time) ([]models.ActualWeatherRecord, error)
	LatestActualTime(locationID int64) (time.Time, bool, error)
	DeleteActualsBefore(cutoff time.Time) (int, error)

	// Scored history.
	HistoricalForecasts(locationID int64, from, to time.Time) ([]models.HistoricalForecastRecord, error)
	DeleteHistoryBefore(cutoff time.Time) (int, error)

	// Accuracy scores. ApplyReconciliation retires each pending row,
	// writes its history record, and folds its error into the matching
	// interval bucket, all in one transaction; a pending row another
	// pass already retired contributes nothing. Returns how many items
	// were applied.
	ApplyReconciliation(items []models.ReconciledForecast) (int, error)
	AccuracyScores() ([]models.AccuracyScore, error)
	ResetAccuracyData() error

	// Leadership lease. Acquire succeeds if no lease row exists, the
	// row is older than maxAge, or holderID already holds it; the write
	// is conditional and race-free under the adapter's transaction
	// guarantees. Renew reports whether the lease is still held.
	AcquireLease(id, holderID string, now time.Time, maxAge time.Duration) (bool, error)
	RenewLease(id, holderID string, now time.Time) (bool, error)
	ReleaseLease(id, holderID string) error
	GetLease(id string) (*models.Lease, error)
}

// PayloadRecorder is an optional capability for keeping raw upstream
// response bodies around, so forecasts can be re-normalized after a
// parser fix. The in-memory adapter does not implement it.
type PayloadRecorder interface {
	RecordPayload(modelKey string, locationID int64, fetchedAt time.Time, body []byte) error
	DeletePayloadsBefore(cutoff time.Time) (int, error)
}

// Versioned is an optional capability reporting the applied schema
// version. The in-memory adapter has no schema to version.
type Versioned interface {
	MigrationVersion() (int, error)
}
