package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kentwelham/gradecast/internal/accuracy"
	"github.com/kentwelham/gradecast/internal/catalog"
	"github.com/kentwelham/gradecast/internal/leader"
	"github.com/kentwelham/gradecast/internal/models"
	"github.com/kentwelham/gradecast/internal/store"
)

func newCycleStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// A second pool connection would get its own empty in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

// temperatureBody renders an open-meteo style hourly payload with one
// temperature column.
func temperatureBody(times []time.Time, temps []float64) string {
	ts := make([]string, len(times))
	for i, h := range times {
		ts[i] = `"` + h.Format("2006-01-02T15:04") + `"`
	}
	vs := make([]string, len(temps))
	for i, v := range temps {
		vs[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprintf(`{"hourly":{"time":[%s],"temperature_2m":[%s]},"hourly_units":{"temperature_2m":"°C"}}`,
		strings.Join(ts, ","), strings.Join(vs, ","))
}

func TestCycleRequiresToken(t *testing.T) {
	c := NewCycle(newCycleStore(t), nil, nil, nil, nil, 0)
	if err := c.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error without a leadership token")
	}
	if c.LastStatus() != nil {
		t.Error("rejected run must not record a cycle status")
	}
}

func TestPastDaysWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		latest time.Time // zero means no stored actuals
		want   int
	}{
		{name: "no actuals yet", want: 2},
		{name: "fresh", latest: now.Add(-30 * time.Minute), want: 1},
		{name: "three day gap", latest: now.Add(-72 * time.Hour), want: 4},
		{name: "long outage capped", latest: now.Add(-240 * time.Hour), want: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemory()
			if !tt.latest.IsZero() {
				if _, err := s.AddActualWeather(models.ActualWeatherRecord{LocationID: 1, Time: tt.latest}); err != nil {
					t.Fatalf("seed actual: %v", err)
				}
			}
			c := NewCycle(s, nil, nil, nil, nil, 0)
			got, err := c.pastDaysFor(now, models.Location{ID: 1, Name: "Testville"})
			if err != nil {
				t.Fatalf("pastDaysFor: %v", err)
			}
			if got != tt.want {
				t.Errorf("pastDaysFor = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCycleEndToEnd(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Hour)
	pastHours := []time.Time{base.Add(-4 * time.Hour), base.Add(-3 * time.Hour), base.Add(-2 * time.Hour)}
	futureHours := []time.Time{base.Add(3 * time.Hour), base.Add(4 * time.Hour), base.Add(5 * time.Hour)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("models") {
		case "best_match":
			fmt.Fprint(w, temperatureBody(pastHours, []float64{3.0, 3.5, 4.0}))
		case "gfs_seamless":
			fmt.Fprint(w, temperatureBody(futureHours, []float64{5.0, 5.5, 6.0}))
		default:
			http.Error(w, "unknown model", http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	s := newCycleStore(t)
	loc := models.Location{ID: 1, Name: "Testville", Latitude: 47.0, Longitude: 11.0}
	if err := s.UpsertLocation(loc); err != nil {
		t.Fatalf("seed location: %v", err)
	}

	// One already-due prediction from an earlier cycle: forecast 5.5 for
	// two hours ago against the 4.0 the actuals fixture reports there.
	seeded := []models.PendingForecast{{
		LocationID:  1,
		ModelKey:    "gfs_seamless",
		MetricKey:   "temperature_2m",
		TargetTime:  base.Add(-2 * time.Hour),
		Value:       5.5,
		LeadHours:   24,
		GeneratedAt: base.Add(-26 * time.Hour),
	}}
	if _, err := s.AddPendingForecasts(seeded); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	client := NewClient(startTestQueue(t), srv.URL, s)
	engine := accuracy.NewEngine(s, 30*24*time.Hour)
	modelCatalog := []catalog.Model{
		{Key: "gfs_seamless", Endpoint: "gfs", HourlyParams: []string{"temperature_2m"}, HorizonDays: 3},
		{Key: "broken_model", Endpoint: "gfs", HourlyParams: []string{"temperature_2m"}, HorizonDays: 3},
	}
	cycle := NewCycle(s, client, NewActualsSource(client), engine, modelCatalog, 30*24*time.Hour)

	tok := &leader.Token{LeaseID: "test", HolderID: "tester", AcquiredAt: time.Now()}
	if err := cycle.Run(context.Background(), tok); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	status := cycle.LastStatus()
	if status == nil {
		t.Fatal("no cycle status recorded")
	}
	if !status.Succeeded {
		t.Errorf("Succeeded = false, failures: %v", status.Failures)
	}
	// gfs_seamless plus the derived median, three hours each.
	if status.PointsStored != 6 {
		t.Errorf("PointsStored = %d, want 6", status.PointsStored)
	}
	if status.PointsScored != 1 {
		t.Errorf("PointsScored = %d, want 1", status.PointsScored)
	}
	if len(status.Failures) != 1 || status.Failures[0].Model != "broken_model" {
		t.Fatalf("Failures = %v, want exactly one for broken_model", status.Failures)
	}
	if !strings.Contains(status.Failures[0].Reason, "status 404") {
		t.Errorf("failure reason = %q, want the upstream status", status.Failures[0].Reason)
	}

	latest, ok, err := s.LatestActualTime(1)
	if err != nil || !ok {
		t.Fatalf("LatestActualTime: ok=%v err=%v", ok, err)
	}
	if want := base.Add(-2 * time.Hour); !latest.Equal(want) {
		t.Errorf("latest actual = %s, want %s", latest, want)
	}

	scores, err := s.AccuracyScores()
	if err != nil {
		t.Fatalf("AccuracyScores: %v", err)
	}
	if len(scores) != 1 {
		t.Fatalf("len(scores) = %d, want 1: %v", len(scores), scores)
	}
	sc := scores[0]
	if sc.ModelKey != "gfs_seamless" || sc.MetricKey != "temperature_2m" || sc.Interval != models.Interval24h {
		t.Errorf("score bucket = %s/%s/%s, want gfs_seamless/temperature_2m/24h", sc.ModelKey, sc.MetricKey, sc.Interval)
	}
	if sc.MeanAbsError != 1.5 || sc.HoursTracked != 1 {
		t.Errorf("score = %v over %d, want 1.5 over 1", sc.MeanAbsError, sc.HoursTracked)
	}

	due, err := s.DuePendingForecasts(base.Add(12 * time.Hour))
	if err != nil {
		t.Fatalf("DuePendingForecasts: %v", err)
	}
	if len(due) != 6 {
		t.Errorf("stored pending rows = %d, want 6", len(due))
	}
	seen := map[string]bool{}
	for _, p := range due {
		seen[p.ModelKey] = true
	}
	if !seen["gfs_seamless"] || !seen[catalog.MedianKey] {
		t.Errorf("pending models = %v, want gfs_seamless and %s", seen, catalog.MedianKey)
	}
}
