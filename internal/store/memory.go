package store

import (
	"sort"
	"sync"
	"time"

	"github.com/kentwelham/gradecast/internal/models"
)

type pendingKey struct {
	locationID int64
	modelKey   string
	metricKey  string
	target     int64
}

type actualKey struct {
	locationID int64
	hour       int64
}

type scoreKey struct {
	locationID int64
	modelKey   string
	metricKey  string
	interval   string
}

// MemoryStore is the in-memory adapter. One mutex stands in for the SQL
// adapter's transactions, which makes every multi-step operation atomic
// by construction.
type MemoryStore struct {
	mu sync.Mutex

	nextPendingID int64
	nextHistoryID int64
	nextActualID  int64

	locations map[int64]models.Location
	pending   map[int64]models.PendingForecast
	pendingBy map[pendingKey]int64
	actuals   map[actualKey]models.ActualWeatherRecord
	history   []models.HistoricalForecastRecord
	scores    map[scoreKey]models.AccuracyScore
	leases    map[string]models.Lease
}

var _ Store = (*MemoryStore)(nil)

func NewMemory() *MemoryStore {
	return &MemoryStore{
		locations: make(map[int64]models.Location),
		pending:   make(map[int64]models.PendingForecast),
		pendingBy: make(map[pendingKey]int64),
		actuals:   make(map[actualKey]models.ActualWeatherRecord),
		scores:    make(map[scoreKey]models.AccuracyScore),
		leases:    make(map[string]models.Lease),
	}
}

func (s *MemoryStore) UpsertLocation(loc models.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[loc.ID] = loc
	return nil
}

func (s *MemoryStore) ListLocations() ([]models.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Location, 0, len(s.locations))
	for _, loc := range s.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AddPendingForecasts(batch []models.PendingForecast) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, f := range batch {
		key := pendingKey{f.LocationID, f.ModelKey, f.MetricKey, f.TargetTime.UTC().Unix()}
		if _, exists := s.pendingBy[key]; exists {
			continue
		}
		s.nextPendingID++
		f.ID = s.nextPendingID
		f.TargetTime = f.TargetTime.UTC()
		f.GeneratedAt = f.GeneratedAt.UTC()
		s.pending[f.ID] = f
		s.pendingBy[key] = f.ID
		added++
	}
	return added, nil
}

func (s *MemoryStore) DuePendingForecasts(cutoff time.Time) ([]models.PendingForecast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.PendingForecast
	for _, f := range s.pending {
		if !f.TargetTime.After(cutoff) {
			due = append(due, f)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		if a.ModelKey != b.ModelKey {
			return a.ModelKey < b.ModelKey
		}
		if a.MetricKey != b.MetricKey {
			return a.MetricKey < b.MetricKey
		}
		return a.TargetTime.Before(b.TargetTime)
	})
	return due, nil
}

func (s *MemoryStore) DeletePendingBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, f := range s.pending {
		if f.TargetTime.Before(cutoff) {
			s.deletePendingLocked(id, f)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) deletePendingLocked(id int64, f models.PendingForecast) {
	delete(s.pending, id)
	delete(s.pendingBy, pendingKey{f.LocationID, f.ModelKey, f.MetricKey, f.TargetTime.Unix()})
}

func (s *MemoryStore) AddActualWeather(rec models.ActualWeatherRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := actualKey{rec.LocationID, rec.Time.UTC().Unix()}
	if _, exists := s.actuals[key]; exists {
		return false, nil
	}
	s.nextActualID++
	rec.ID = s.nextActualID
	rec.Time = rec.Time.UTC()
	rec.CreatedAt = time.Now().UTC()
	s.actuals[key] = rec
	return true, nil
}

func (s *MemoryStore) ActualsForRange(locationID int64, from, to time.Time) ([]models.ActualWeatherRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ActualWeatherRecord
	for _, rec := range s.actuals {
		if rec.LocationID != locationID {
			continue
		}
		if rec.Time.Before(from) || rec.Time.After(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (s *MemoryStore) LatestActualTime(locationID int64) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest time.Time
	found := false
	for _, rec := range s.actuals {
		if rec.LocationID != locationID {
			continue
		}
		if !found || rec.Time.After(latest) {
			latest = rec.Time
			found = true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) DeleteActualsBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, rec := range s.actuals {
		if rec.Time.Before(cutoff) {
			delete(s.actuals, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) HistoricalForecasts(locationID int64, from, to time.Time) ([]models.HistoricalForecastRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.HistoricalForecastRecord
	for _, rec := range s.history {
		if rec.LocationID != locationID {
			continue
		}
		if rec.TargetTime.Before(from) || rec.TargetTime.After(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.TargetTime.Equal(b.TargetTime) {
			return a.TargetTime.Before(b.TargetTime)
		}
		if a.ModelKey != b.ModelKey {
			return a.ModelKey < b.ModelKey
		}
		return a.MetricKey < b.MetricKey
	})
	return out, nil
}

func (s *MemoryStore) DeleteHistoryBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.history[:0]
	deleted := 0
	for _, rec := range s.history {
		if rec.TargetTime.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.history = kept
	return deleted, nil
}

func (s *MemoryStore) ApplyReconciliation(items []models.ReconciledForecast) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, it := range items {
		f, exists := s.pending[it.PendingID]
		if !exists {
			continue
		}
		s.deletePendingLocked(it.PendingID, f)

		r := it.Record
		s.nextHistoryID++
		r.ID = s.nextHistoryID
		r.TargetTime = r.TargetTime.UTC()
		r.CreatedAt = time.Now().UTC()
		s.history = append(s.history, r)

		key := scoreKey{r.LocationID, r.ModelKey, r.MetricKey, it.Interval}
		sc, ok := s.scores[key]
		if !ok {
			sc = models.AccuracyScore{
				LocationID: r.LocationID,
				ModelKey:   r.ModelKey,
				MetricKey:  r.MetricKey,
				Interval:   it.Interval,
			}
		}
		old := float64(sc.HoursTracked)
		sc.MeanAbsError = (sc.MeanAbsError*old + r.AbsError) / (old + 1)
		sc.HoursTracked++
		s.scores[key] = sc
		applied++
	}
	return applied, nil
}

func (s *MemoryStore) AccuracyScores() ([]models.AccuracyScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AccuracyScore, 0, len(s.scores))
	for _, sc := range s.scores {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		if a.ModelKey != b.ModelKey {
			return a.ModelKey < b.ModelKey
		}
		if a.MetricKey != b.MetricKey {
			return a.MetricKey < b.MetricKey
		}
		return a.Interval < b.Interval
	})
	return out, nil
}

func (s *MemoryStore) ResetAccuracyData() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = make(map[int64]models.PendingForecast)
	s.pendingBy = make(map[pendingKey]int64)
	s.actuals = make(map[actualKey]models.ActualWeatherRecord)
	s.history = nil
	s.scores = make(map[scoreKey]models.AccuracyScore)
	return nil
}

func (s *MemoryStore) AcquireLease(id, holderID string, now time.Time, maxAge time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := now.UnixMilli()
	l, exists := s.leases[id]
	if exists && l.HolderID != holderID && nowMs-l.TimestampMs < maxAge.Milliseconds() {
		return false, nil
	}
	s.leases[id] = models.Lease{ID: id, HolderID: holderID, TimestampMs: nowMs}
	return true, nil
}

func (s *MemoryStore) RenewLease(id, holderID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.leases[id]
	if !exists || l.HolderID != holderID {
		return false, nil
	}
	l.TimestampMs = now.UnixMilli()
	s.leases[id] = l
	return true, nil
}

func (s *MemoryStore) ReleaseLease(id, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, exists := s.leases[id]; exists && l.HolderID == holderID {
		delete(s.leases, id)
	}
	return nil
}

func (s *MemoryStore) GetLease(id string) (*models.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.leases[id]
	if !exists {
		return nil, nil
	}
	return &l, nil
}
