package api

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kentwelham/gradecast/internal/forecast"
	"github.com/kentwelham/gradecast/internal/models"
)

const (
	defaultActualsHours = 24
	defaultHistoryHours = 48
	maxWindowHours      = 30 * 24
)

type locationView struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := s.store.ListLocations()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]locationView, 0, len(locations))
	for _, loc := range locations {
		views = append(views, locationView{
			ID:        loc.ID,
			Name:      loc.Name,
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
		})
	}
	writeJSON(w, views)
}

type accuracyCell struct {
	MeanAbsError float64 `json:"mean_abs_error"`
	HoursTracked int     `json:"hours_tracked"`
}

type (
	intervalScores map[string]accuracyCell
	metricScores   map[string]intervalScores
	modelScores    map[string]metricScores
)

// handleAccuracy returns the running scores nested by location name,
// model, metric, and lead interval.
func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	scores, err := s.store.AccuracyScores()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	locations, err := s.store.ListLocations()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	names := make(map[int64]string, len(locations))
	for _, loc := range locations {
		names[loc.ID] = loc.Name
	}

	out := make(map[string]modelScores)
	for _, sc := range scores {
		name, ok := names[sc.LocationID]
		if !ok {
			name = "location-" + strconv.FormatInt(sc.LocationID, 10)
		}
		if out[name] == nil {
			out[name] = modelScores{}
		}
		if out[name][sc.ModelKey] == nil {
			out[name][sc.ModelKey] = metricScores{}
		}
		if out[name][sc.ModelKey][sc.MetricKey] == nil {
			out[name][sc.ModelKey][sc.MetricKey] = intervalScores{}
		}
		out[name][sc.ModelKey][sc.MetricKey][sc.Interval] = accuracyCell{
			MeanAbsError: sc.MeanAbsError,
			HoursTracked: sc.HoursTracked,
		}
	}
	writeJSON(w, out)
}

type actualView struct {
	Time        time.Time `json:"time"`
	Temperature *float64  `json:"temperature_2m,omitempty"`
	Rain        *float64  `json:"rain,omitempty"`
	Snowfall    *float64  `json:"snowfall,omitempty"`
	WindSpeed   *float64  `json:"wind_speed_10m,omitempty"`
	WindGusts   *float64  `json:"wind_gusts_10m,omitempty"`
	CloudCover  *float64  `json:"cloud_cover,omitempty"`
	Visibility  *float64  `json:"visibility,omitempty"`
}

func (s *Server) handleActuals(w http.ResponseWriter, r *http.Request) {
	locationID, err := locationParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hours := hoursParam(r, defaultActualsHours)
	to := time.Now().UTC()
	from := to.Add(-time.Duration(hours) * time.Hour)

	records, err := s.store.ActualsForRange(locationID, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]actualView, 0, len(records))
	for _, rec := range records {
		views = append(views, actualView{
			Time:        rec.Time,
			Temperature: floatPtr(rec.Temperature),
			Rain:        floatPtr(rec.Rain),
			Snowfall:    floatPtr(rec.Snowfall),
			WindSpeed:   floatPtr(rec.WindSpeed),
			WindGusts:   floatPtr(rec.WindGusts),
			CloudCover:  floatPtr(rec.CloudCover),
			Visibility:  floatPtr(rec.Visibility),
		})
	}
	writeJSON(w, views)
}

type historyView struct {
	Model      string    `json:"model"`
	Metric     string    `json:"metric"`
	TargetTime time.Time `json:"target_time"`
	LeadHours  int       `json:"lead_hours"`
	Forecast   float64   `json:"forecast"`
	Actual     float64   `json:"actual"`
	AbsError   float64   `json:"abs_error"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	locationID, err := locationParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hours := hoursParam(r, defaultHistoryHours)
	model := r.URL.Query().Get("model")
	metric := r.URL.Query().Get("metric")

	to := time.Now().UTC()
	from := to.Add(-time.Duration(hours) * time.Hour)
	records, err := s.store.HistoricalForecasts(locationID, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]historyView, 0, len(records))
	for _, rec := range records {
		if model != "" && rec.ModelKey != model {
			continue
		}
		if metric != "" && rec.MetricKey != metric {
			continue
		}
		views = append(views, historyView{
			Model:      rec.ModelKey,
			Metric:     rec.MetricKey,
			TargetTime: rec.TargetTime,
			LeadHours:  rec.LeadHours,
			Forecast:   rec.Forecast,
			Actual:     rec.Actual,
			AbsError:   rec.AbsError,
		})
	}
	writeJSON(w, views)
}

type ensembleResponse struct {
	Location string                `json:"location"`
	View     forecast.View         `json:"view"`
	Series   []forecast.Series     `json:"series"`
	Failures []models.ModelFailure `json:"failures,omitempty"`
}

// handleEnsemble fetches all eligible models live and returns them with
// the derived median appended. Nothing is stored.
func (s *Server) handleEnsemble(w http.ResponseWriter, r *http.Request) {
	if s.cycle == nil {
		http.Error(w, "live fetch not configured", http.StatusServiceUnavailable)
		return
	}
	locationID, err := locationParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view := forecast.ViewHourly
	switch r.URL.Query().Get("view") {
	case "", "hourly":
	case "daily":
		view = forecast.ViewDaily
	default:
		http.Error(w, "view must be hourly or daily", http.StatusBadRequest)
		return
	}

	locations, err := s.store.ListLocations()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var loc *models.Location
	for i := range locations {
		if locations[i].ID == locationID {
			loc = &locations[i]
			break
		}
	}
	if loc == nil {
		http.Error(w, fmt.Sprintf("unknown location %d", locationID), http.StatusNotFound)
		return
	}

	series, failures := s.cycle.Ensemble(r.Context(), *loc, view)
	writeJSON(w, ensembleResponse{
		Location: loc.Name,
		View:     view,
		Series:   series,
		Failures: failures,
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pass, err := s.engine.Reconcile(time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{
		"due":     pass.Due,
		"scored":  pass.Scored,
		"skipped": pass.Skipped,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.engine.Reset(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Printf("api: accuracy data reset")
	writeJSON(w, map[string]string{"status": "reset"})
}

func locationParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("location")
	if raw == "" {
		return 0, fmt.Errorf("location parameter required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid location %q", raw)
	}
	return id, nil
}

func hoursParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > maxWindowHours {
		return maxWindowHours
	}
	return n
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
