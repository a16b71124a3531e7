package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kentwelham/gradecast/internal/accuracy"
	"github.com/kentwelham/gradecast/internal/ingest"
	"github.com/kentwelham/gradecast/internal/leader"
	"github.com/kentwelham/gradecast/internal/store"
)

type Server struct {
	store   store.Store
	engine  *accuracy.Engine
	cycle   *ingest.Cycle
	elector *leader.Elector
	port    string
}

func NewServer(s store.Store, engine *accuracy.Engine, cycle *ingest.Cycle, elector *leader.Elector, port string) *Server {
	return &Server{
		store:   s,
		engine:  engine,
		cycle:   cycle,
		elector: elector,
		port:    port,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/locations", s.handleLocations)
	mux.HandleFunc("/api/accuracy", s.handleAccuracy)
	mux.HandleFunc("/api/actuals", s.handleActuals)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/ensemble", s.handleEnsemble)
	mux.HandleFunc("/api/reconcile", s.handleReconcile)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

type HealthStatus struct {
	Status        string              `json:"status"`
	Leader        string              `json:"leader,omitempty"`
	SchemaVersion int                 `json:"schema_version,omitempty"`
	LastCycle     *ingest.CycleStatus `json:"last_cycle,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}

	if s.elector != nil {
		health.Leader = s.elector.State().String()
	}
	if v, ok := s.store.(store.Versioned); ok {
		version, err := v.MigrationVersion()
		if err != nil {
			health.Status = "error"
		} else {
			health.SchemaVersion = version
		}
	}
	if s.cycle != nil {
		if last := s.cycle.LastStatus(); last != nil {
			health.LastCycle = last
			if !last.Succeeded && health.Status == "ok" {
				health.Status = "degraded"
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Printf("api: write health: %v", err)
	}
}
