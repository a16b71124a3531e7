package ingest

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kentwelham/gradecast/internal/accuracy"
	"github.com/kentwelham/gradecast/internal/catalog"
	"github.com/kentwelham/gradecast/internal/forecast"
	"github.com/kentwelham/gradecast/internal/leader"
	"github.com/kentwelham/gradecast/internal/metrics"
	"github.com/kentwelham/gradecast/internal/models"
	"github.com/kentwelham/gradecast/internal/store"
)

const (
	// defaultActualsDays seeds the observation window for a location
	// with no stored actuals yet; maxActualsDays caps catch-up after
	// downtime at what the upstream will serve.
	defaultActualsDays = 2
	maxActualsDays     = 7
)

// CycleStatus is the record of the most recent update cycle, surfaced
// on the health endpoint.
type CycleStatus struct {
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
	Succeeded    bool                  `json:"succeeded"`
	Failures     []models.ModelFailure `json:"failures,omitempty"`
	PointsStored int                   `json:"points_stored"`
	PointsScored int                   `json:"points_scored"`
}

// Cycle runs the full update pass: sync actuals, fetch and aggregate
// forecasts, store pending points, reconcile due ones, prune. Per-model
// problems are collected as data; storage problems abort the pass.
type Cycle struct {
	store     store.Store
	client    *Client
	actuals   *ActualsSource
	engine    *accuracy.Engine
	models    []catalog.Model
	retention time.Duration

	mu   sync.Mutex
	last *CycleStatus
}

func NewCycle(s store.Store, client *Client, actuals *ActualsSource, engine *accuracy.Engine, modelCatalog []catalog.Model, retention time.Duration) *Cycle {
	return &Cycle{
		store:     s,
		client:    client,
		actuals:   actuals,
		engine:    engine,
		models:    modelCatalog,
		retention: retention,
	}
}

// Run executes one cycle under the caller's leadership token. The token
// is required; cycles never consult ambient leader state.
func (c *Cycle) Run(ctx context.Context, tok *leader.Token) error {
	if tok == nil {
		return fmt.Errorf("cycle requires a held leadership token")
	}

	now := time.Now().UTC()
	status := CycleStatus{StartedAt: now}
	err := c.run(ctx, now, &status)
	status.FinishedAt = time.Now().UTC()
	status.Succeeded = err == nil
	sort.Slice(status.Failures, func(i, j int) bool {
		if status.Failures[i].Model != status.Failures[j].Model {
			return status.Failures[i].Model < status.Failures[j].Model
		}
		return status.Failures[i].Reason < status.Failures[j].Reason
	})

	c.mu.Lock()
	c.last = &status
	c.mu.Unlock()

	elapsed := status.FinishedAt.Sub(status.StartedAt).Round(time.Millisecond)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		log.Printf("ingest: cycle failed after %s: %v", elapsed, err)
		return err
	}
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	log.Printf("ingest: cycle finished in %s: %d points stored, %d scored, %d model failures",
		elapsed, status.PointsStored, status.PointsScored, len(status.Failures))
	return nil
}

// LastStatus returns a copy of the most recent cycle's record, or nil
// before the first cycle.
func (c *Cycle) LastStatus() *CycleStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	s := *c.last
	return &s
}

func (c *Cycle) run(ctx context.Context, now time.Time, status *CycleStatus) error {
	locations, err := c.store.ListLocations()
	if err != nil {
		return fmt.Errorf("list locations: %w", err)
	}

	for _, loc := range locations {
		if err := c.syncActuals(ctx, now, loc, status); err != nil {
			return err
		}

		eligible, skipped := catalog.Eligible(c.models, loc.Latitude, loc.Longitude)
		if len(skipped) > 0 {
			log.Printf("ingest: %s: models not eligible at %.2f,%.2f: %s",
				loc.Name, loc.Latitude, loc.Longitude, strings.Join(skipped, ", "))
		}
		if len(eligible) == 0 {
			continue
		}

		series, failures := c.fetchAll(ctx, loc, eligible, forecast.ViewHourly)
		status.Failures = append(status.Failures, failures...)
		if len(series) == 0 {
			continue
		}
		series = append(series, forecast.Ensemble(series, forecast.ViewHourly))

		added, err := c.store.AddPendingForecasts(c.engine.PendingPoints(loc.ID, series, now))
		if err != nil {
			return fmt.Errorf("store pending forecasts for %s: %w", loc.Name, err)
		}
		status.PointsStored += added
		metrics.PendingStored.Add(float64(added))
	}

	pass, err := c.engine.Reconcile(now)
	if err != nil {
		return err
	}
	status.PointsScored = pass.Scored

	pruned, err := c.engine.Prune(now)
	if err != nil {
		return err
	}
	if pruned.ExpiredPending+pruned.History+pruned.Actuals > 0 {
		log.Printf("ingest: pruned %d pending, %d history, %d actual rows past retention",
			pruned.ExpiredPending, pruned.History, pruned.Actuals)
	}
	if rec, ok := c.store.(store.PayloadRecorder); ok {
		if _, err := rec.DeletePayloadsBefore(now.Add(-c.retention)); err != nil {
			log.Printf("ingest: prune payloads: %v", err)
		}
	}
	return nil
}

// syncActuals tops up the observed-weather table for one location. A
// fetch failure is recorded like any model failure; only storage errors
// propagate.
func (c *Cycle) syncActuals(ctx context.Context, now time.Time, loc models.Location, status *CycleStatus) error {
	days, err := c.pastDaysFor(now, loc)
	if err != nil {
		return fmt.Errorf("latest actual for %s: %w", loc.Name, err)
	}
	records, err := c.actuals.Fetch(ctx, loc, days, now)
	if err != nil {
		metrics.ModelFailures.WithLabelValues(actualsModelKey).Inc()
		status.Failures = append(status.Failures, models.ModelFailure{Model: actualsModelKey, Reason: err.Error()})
		return nil
	}
	for _, rec := range records {
		if _, err := c.store.AddActualWeather(rec); err != nil {
			return fmt.Errorf("store actual for %s at %s: %w", loc.Name, rec.Time.Format(time.RFC3339), err)
		}
	}
	return nil
}

// pastDaysFor sizes the observation request to the gap since the last
// stored hour, so restarts catch up without re-requesting the world.
func (c *Cycle) pastDaysFor(now time.Time, loc models.Location) (int, error) {
	latest, ok, err := c.store.LatestActualTime(loc.ID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return defaultActualsDays, nil
	}
	days := int(now.Sub(latest).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	if days > maxActualsDays {
		days = maxActualsDays
	}
	return days, nil
}

type fetchOutcome struct {
	series  forecast.Series
	failure *models.ModelFailure
}

// fetchAll fans the eligible models out concurrently and joins on a
// channel carrying either a series or a tagged failure, so one model's
// problem never cancels the rest.
func (c *Cycle) fetchAll(ctx context.Context, loc models.Location, eligible []catalog.Model, view forecast.View) ([]forecast.Series, []models.ModelFailure) {
	results := make(chan fetchOutcome, len(eligible))
	for _, m := range eligible {
		go func() {
			s, err := c.client.FetchForecast(ctx, loc, m, view)
			if err != nil {
				metrics.ModelFailures.WithLabelValues(m.Key).Inc()
				results <- fetchOutcome{failure: &models.ModelFailure{Model: m.Key, Reason: err.Error()}}
				return
			}
			results <- fetchOutcome{series: s}
		}()
	}

	var series []forecast.Series
	var failures []models.ModelFailure
	for range eligible {
		out := <-results
		if out.failure != nil {
			failures = append(failures, *out.failure)
			continue
		}
		series = append(series, out.series)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].ModelKey < series[j].ModelKey })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Model < failures[j].Model })
	return series, failures
}

// Ensemble fetches every eligible model for one location on demand and
// appends the derived median. Storage stays untouched.
func (c *Cycle) Ensemble(ctx context.Context, loc models.Location, view forecast.View) ([]forecast.Series, []models.ModelFailure) {
	eligible, _ := catalog.Eligible(c.models, loc.Latitude, loc.Longitude)
	series, failures := c.fetchAll(ctx, loc, eligible, view)
	if len(series) > 0 {
		series = append(series, forecast.Ensemble(series, view))
	}
	return series, failures
}
