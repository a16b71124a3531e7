package accuracy

import (
	"database/sql"
	"testing"
	"time"

	"github.com/kentwelham/gradecast/internal/forecast"
	"github.com/kentwelham/gradecast/internal/models"
	"github.com/kentwelham/gradecast/internal/store"
)

func hourly(model string, points ...forecast.Point) forecast.Series {
	return forecast.Series{ModelKey: model, View: forecast.ViewHourly, Points: points}
}

func pt(ts time.Time, values map[string]float64) forecast.Point {
	return forecast.Point{Time: ts, Values: values}
}

func valid(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func TestBucketForLead(t *testing.T) {
	tests := []struct {
		lead int
		want string
	}{
		{1, models.Interval24h},
		{24, models.Interval24h},
		{25, models.Interval48h},
		{30, models.Interval48h},
		{48, models.Interval48h},
		{49, models.Interval5d},
		{120, models.Interval5d},
	}
	for _, tt := range tests {
		if got := bucketForLead(tt.lead); got != tt.want {
			t.Errorf("bucketForLead(%d) = %q, want %q", tt.lead, got, tt.want)
		}
	}
}

func TestLeadHoursTruncates(t *testing.T) {
	gen := time.Date(2026, 8, 18, 12, 5, 0, 0, time.UTC)
	if got := leadHours(gen, time.Date(2026, 8, 18, 13, 0, 0, 0, time.UTC)); got != 0 {
		t.Errorf("partial hour lead = %d, want 0", got)
	}
	if got := leadHours(gen.Truncate(time.Hour), time.Date(2026, 8, 18, 13, 0, 0, 0, time.UTC)); got != 1 {
		t.Errorf("full hour lead = %d, want 1", got)
	}
	if got := leadHours(gen.Truncate(time.Hour), time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)); got != 120 {
		t.Errorf("five day lead = %d, want 120", got)
	}
}

func TestPendingPointsFiltering(t *testing.T) {
	gen := time.Date(2026, 8, 18, 12, 0, 0, 0, time.UTC)
	e := NewEngine(store.NewMemory(), 30*24*time.Hour)

	series := []forecast.Series{
		hourly("gfs_seamless",
			// Lead 0: the already-started hour is never tracked.
			pt(gen, map[string]float64{forecast.MetricTemperature: 20}),
			pt(gen.Add(time.Hour), map[string]float64{
				forecast.MetricTemperature:   20,
				forecast.MetricWindDirection: 180,
				forecast.MetricRain:          0.1,
			}),
			pt(gen.Add(120*time.Hour), map[string]float64{forecast.MetricTemperature: 19}),
			pt(gen.Add(121*time.Hour), map[string]float64{forecast.MetricTemperature: 18}),
		),
		// Daily series never generate pending rows.
		{ModelKey: "gfs_seamless", View: forecast.ViewDaily, Points: []forecast.Point{
			pt(gen.Add(24*time.Hour), map[string]float64{"temperature_2m_max": 25}),
		}},
		// The synthetic median is tracked like any other model.
		{ModelKey: "median", View: forecast.ViewHourly, Derived: true, Points: []forecast.Point{
			pt(gen.Add(time.Hour), map[string]float64{forecast.MetricTemperature: 21}),
		}},
	}

	rows := e.PendingPoints(1, series, gen)
	if len(rows) != 4 {
		t.Fatalf("expected 4 pending rows, got %d: %+v", len(rows), rows)
	}

	// Sorted metric emission within a point: rain before temperature.
	if rows[0].MetricKey != forecast.MetricRain || rows[1].MetricKey != forecast.MetricTemperature {
		t.Errorf("unexpected metric order: %q, %q", rows[0].MetricKey, rows[1].MetricKey)
	}
	if rows[0].LeadHours != 1 {
		t.Errorf("lead = %d, want 1", rows[0].LeadHours)
	}
	for _, r := range rows {
		if r.MetricKey == forecast.MetricWindDirection {
			t.Error("wind direction generated a pending row")
		}
		if r.LeadHours > maxLeadHours {
			t.Errorf("row beyond tracking horizon: %+v", r)
		}
	}
	if rows[3].ModelKey != "median" {
		t.Errorf("median series missing from pending rows: %+v", rows[3])
	}
}

func TestReconcileLifecycle(t *testing.T) {
	mem := store.NewMemory()
	e := NewEngine(mem, 30*24*time.Hour)

	gen := time.Date(2026, 8, 18, 12, 0, 0, 0, time.UTC)
	target := gen.Add(30 * time.Hour)

	rows := e.PendingPoints(1, []forecast.Series{
		hourly("gfs_seamless", pt(target, map[string]float64{forecast.MetricTemperature: 21.5})),
	}, gen)
	if len(rows) != 1 || rows[0].LeadHours != 30 {
		t.Fatalf("unexpected pending rows: %+v", rows)
	}
	if _, err := mem.AddPendingForecasts(rows); err != nil {
		t.Fatalf("add pending: %v", err)
	}
	if _, err := mem.AddActualWeather(models.ActualWeatherRecord{
		LocationID: 1, Time: target, Temperature: valid(20.0),
	}); err != nil {
		t.Fatalf("add actual: %v", err)
	}

	res, err := e.Reconcile(target.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Due != 1 || res.Scored != 1 || res.Skipped != 0 {
		t.Fatalf("unexpected pass result: %+v", res)
	}

	scores, err := mem.AccuracyScores()
	if err != nil {
		t.Fatalf("scores: %v", err)
	}
	if len(scores) != 1 {
		t.Fatalf("expected exactly one score bucket, got %+v", scores)
	}
	sc := scores[0]
	if sc.Interval != models.Interval48h {
		t.Errorf("lead 30 landed in %q, want %q", sc.Interval, models.Interval48h)
	}
	if sc.MeanAbsError != 1.5 || sc.HoursTracked != 1 {
		t.Errorf("score = %+v, want MAE 1.5 over 1 hour", sc)
	}

	history, err := mem.HistoricalForecasts(1, target.Add(-time.Hour), target.Add(time.Hour))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].AbsError != 1.5 {
		t.Fatalf("unexpected history: %+v", history)
	}

	// A second pass finds nothing due: the row was retired.
	res, err = e.Reconcile(target.Add(3 * time.Hour))
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if res.Due != 0 || res.Scored != 0 {
		t.Errorf("second pass not idempotent: %+v", res)
	}
}

func TestReconcileWarmupMargin(t *testing.T) {
	mem := store.NewMemory()
	e := NewEngine(mem, 30*24*time.Hour)

	target := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	if _, err := mem.AddPendingForecasts([]models.PendingForecast{{
		LocationID: 1, ModelKey: "icon_seamless", MetricKey: forecast.MetricTemperature,
		TargetTime: target, Value: 18, LeadHours: 12, GeneratedAt: target.Add(-12 * time.Hour),
	}}); err != nil {
		t.Fatalf("add pending: %v", err)
	}
	if _, err := mem.AddActualWeather(models.ActualWeatherRecord{
		LocationID: 1, Time: target, Temperature: valid(17.5),
	}); err != nil {
		t.Fatalf("add actual: %v", err)
	}

	// Half an hour past the target hour is inside the warm-up margin.
	res, err := e.Reconcile(target.Add(30 * time.Minute))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Due != 0 {
		t.Fatalf("forecast due inside warm-up margin: %+v", res)
	}

	res, err = e.Reconcile(target.Add(time.Hour))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Due != 1 || res.Scored != 1 {
		t.Fatalf("forecast not scored after margin: %+v", res)
	}
}

func TestReconcileMissingActualStaysPending(t *testing.T) {
	mem := store.NewMemory()
	e := NewEngine(mem, 30*24*time.Hour)

	target := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	now := target.Add(2 * time.Hour)
	if _, err := mem.AddPendingForecasts([]models.PendingForecast{
		{LocationID: 1, ModelKey: "icon_seamless", MetricKey: forecast.MetricTemperature,
			TargetTime: target, Value: 18, LeadHours: 6, GeneratedAt: target.Add(-6 * time.Hour)},
		{LocationID: 1, ModelKey: "icon_seamless", MetricKey: forecast.MetricWindSpeed,
			TargetTime: target, Value: 20, LeadHours: 6, GeneratedAt: target.Add(-6 * time.Hour)},
	}); err != nil {
		t.Fatalf("add pending: %v", err)
	}

	// No actual at all: both stay pending.
	res, err := e.Reconcile(now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Due != 2 || res.Scored != 0 || res.Skipped != 2 {
		t.Fatalf("unexpected pass with no actuals: %+v", res)
	}

	// An actual with a NULL wind speed scores only the temperature.
	if _, err := mem.AddActualWeather(models.ActualWeatherRecord{
		LocationID: 1, Time: target, Temperature: valid(17.0),
	}); err != nil {
		t.Fatalf("add actual: %v", err)
	}
	res, err = e.Reconcile(now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Due != 2 || res.Scored != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected pass with partial actual: %+v", res)
	}

	// The skipped wind speed row is still there for a later pass.
	res, err = e.Reconcile(now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Due != 1 || res.Scored != 0 {
		t.Fatalf("wind speed row vanished without scoring: %+v", res)
	}
}

func TestReconcileDerivesActualPrecipitation(t *testing.T) {
	mem := store.NewMemory()
	e := NewEngine(mem, 30*24*time.Hour)

	target := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	if _, err := mem.AddPendingForecasts([]models.PendingForecast{{
		LocationID: 1, ModelKey: "gfs_seamless", MetricKey: forecast.MetricPrecipitation,
		TargetTime: target, Value: 1.0, LeadHours: 6, GeneratedAt: target.Add(-6 * time.Hour),
	}}); err != nil {
		t.Fatalf("add pending: %v", err)
	}
	if _, err := mem.AddActualWeather(models.ActualWeatherRecord{
		LocationID: 1, Time: target, Rain: valid(0.4), Snowfall: valid(0.2),
	}); err != nil {
		t.Fatalf("add actual: %v", err)
	}

	if _, err := e.Reconcile(target.Add(2 * time.Hour)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	scores, _ := mem.AccuracyScores()
	if len(scores) != 1 {
		t.Fatalf("expected 1 score, got %+v", scores)
	}
	// forecast 1.0 vs rain+snow 0.6
	if got := scores[0].MeanAbsError; got < 0.4-1e-9 || got > 0.4+1e-9 {
		t.Errorf("MAE = %v, want 0.4", got)
	}

	// With the snowfall observation missing the total is not derivable.
	mem2 := store.NewMemory()
	e2 := NewEngine(mem2, 30*24*time.Hour)
	if _, err := mem2.AddPendingForecasts([]models.PendingForecast{{
		LocationID: 1, ModelKey: "gfs_seamless", MetricKey: forecast.MetricPrecipitation,
		TargetTime: target, Value: 1.0, LeadHours: 6, GeneratedAt: target.Add(-6 * time.Hour),
	}}); err != nil {
		t.Fatalf("add pending: %v", err)
	}
	if _, err := mem2.AddActualWeather(models.ActualWeatherRecord{
		LocationID: 1, Time: target, Rain: valid(0.4),
	}); err != nil {
		t.Fatalf("add actual: %v", err)
	}
	res, err := e2.Reconcile(target.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Scored != 0 || res.Skipped != 1 {
		t.Errorf("precipitation scored against a partial observation: %+v", res)
	}
}

// seedTwoLocations stores the same due forecasts and actuals for the
// locations listed, so grouping behavior can be compared across stores.
func seedTwoLocations(t *testing.T, s store.Store, locations ...int64) {
	t.Helper()
	base := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	for _, loc := range locations {
		var batch []models.PendingForecast
		for i := 0; i < 3; i++ {
			target := base.Add(time.Duration(i) * time.Hour)
			batch = append(batch, models.PendingForecast{
				LocationID: loc, ModelKey: "gfs_seamless", MetricKey: forecast.MetricTemperature,
				TargetTime: target, Value: 20 + float64(i) + float64(loc),
				LeadHours: 24, GeneratedAt: target.Add(-24 * time.Hour),
			})
			if _, err := s.AddActualWeather(models.ActualWeatherRecord{
				LocationID: loc, Time: target, Temperature: valid(20),
			}); err != nil {
				t.Fatalf("add actual: %v", err)
			}
		}
		if _, err := s.AddPendingForecasts(batch); err != nil {
			t.Fatalf("add pending: %v", err)
		}
	}
}

func scoreMap(t *testing.T, s store.Store) map[models.AccuracyScore]bool {
	t.Helper()
	scores, err := s.AccuracyScores()
	if err != nil {
		t.Fatalf("scores: %v", err)
	}
	out := make(map[models.AccuracyScore]bool, len(scores))
	for _, sc := range scores {
		out[sc] = true
	}
	return out
}

func TestReconcileGroupingIndependence(t *testing.T) {
	now := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)

	all := store.NewMemory()
	seedTwoLocations(t, all, 1, 2)
	if _, err := NewEngine(all, 30*24*time.Hour).Reconcile(now); err != nil {
		t.Fatalf("reconcile all: %v", err)
	}

	split1 := store.NewMemory()
	seedTwoLocations(t, split1, 1)
	if _, err := NewEngine(split1, 30*24*time.Hour).Reconcile(now); err != nil {
		t.Fatalf("reconcile location 1: %v", err)
	}
	split2 := store.NewMemory()
	seedTwoLocations(t, split2, 2)
	if _, err := NewEngine(split2, 30*24*time.Hour).Reconcile(now); err != nil {
		t.Fatalf("reconcile location 2: %v", err)
	}

	merged := scoreMap(t, split1)
	for sc := range scoreMap(t, split2) {
		merged[sc] = true
	}
	got := scoreMap(t, all)
	if len(got) != len(merged) {
		t.Fatalf("score sets differ: all-at-once %d, split %d", len(got), len(merged))
	}
	for sc := range merged {
		if !got[sc] {
			t.Errorf("score %+v missing from all-at-once pass", sc)
		}
	}
}

func TestPruneExpiresUnscored(t *testing.T) {
	mem := store.NewMemory()
	retention := 30 * 24 * time.Hour
	e := NewEngine(mem, retention)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-retention - time.Hour)
	fresh := now.Add(-2 * time.Hour)

	if _, err := mem.AddPendingForecasts([]models.PendingForecast{
		{LocationID: 1, ModelKey: "gfs_seamless", MetricKey: forecast.MetricTemperature,
			TargetTime: stale, Value: 15, LeadHours: 24, GeneratedAt: stale.Add(-24 * time.Hour)},
		{LocationID: 1, ModelKey: "gfs_seamless", MetricKey: forecast.MetricTemperature,
			TargetTime: fresh, Value: 18, LeadHours: 24, GeneratedAt: fresh.Add(-24 * time.Hour)},
	}); err != nil {
		t.Fatalf("add pending: %v", err)
	}
	if _, err := mem.AddActualWeather(models.ActualWeatherRecord{
		LocationID: 1, Time: stale, Temperature: valid(14),
	}); err != nil {
		t.Fatalf("add actual: %v", err)
	}

	res, err := e.Prune(now)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if res.ExpiredPending != 1 {
		t.Errorf("expired = %d, want 1", res.ExpiredPending)
	}
	if res.Actuals != 1 {
		t.Errorf("pruned actuals = %d, want 1", res.Actuals)
	}

	// The expired row is gone without a score or history record.
	scores, _ := mem.AccuracyScores()
	if len(scores) != 0 {
		t.Errorf("expired row produced scores: %+v", scores)
	}
	pass, err := e.Reconcile(now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if pass.Due != 1 {
		t.Errorf("fresh row should remain due, got %+v", pass)
	}
}

func TestResetClearsAccuracyBaseline(t *testing.T) {
	mem := store.NewMemory()
	e := NewEngine(mem, 30*24*time.Hour)

	target := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	if _, err := mem.AddPendingForecasts([]models.PendingForecast{{
		LocationID: 1, ModelKey: "gfs_seamless", MetricKey: forecast.MetricTemperature,
		TargetTime: target, Value: 21, LeadHours: 12, GeneratedAt: target.Add(-12 * time.Hour),
	}}); err != nil {
		t.Fatalf("add pending: %v", err)
	}
	if _, err := mem.AddActualWeather(models.ActualWeatherRecord{
		LocationID: 1, Time: target, Temperature: valid(20),
	}); err != nil {
		t.Fatalf("add actual: %v", err)
	}
	if _, err := e.Reconcile(target.Add(2 * time.Hour)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if scores, _ := mem.AccuracyScores(); len(scores) == 0 {
		t.Fatal("expected scores before reset")
	}

	if err := e.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	scores, err := mem.AccuracyScores()
	if err != nil {
		t.Fatalf("scores: %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("scores survived reset: %+v", scores)
	}
	res, err := e.Reconcile(target.Add(3 * time.Hour))
	if err != nil {
		t.Fatalf("reconcile after reset: %v", err)
	}
	if res.Due != 0 {
		t.Errorf("pending rows survived reset: %+v", res)
	}
}
