package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/kentwelham/gradecast/internal/leader"
)

// Scheduler drives recurring update cycles, gated on leadership so two
// replicas sharing a database never double-fetch.
type Scheduler struct {
	cron     *gocron.Scheduler
	cycle    *Cycle
	elector  *leader.Elector
	interval time.Duration
}

func NewScheduler(cycle *Cycle, elector *leader.Elector, interval time.Duration) *Scheduler {
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		cycle:    cycle,
		elector:  elector,
		interval: interval,
	}
}

// Run ticks once immediately, then on the configured interval until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.tick(ctx)

	minutes := int(s.interval.Minutes())
	if minutes < 1 {
		minutes = 60
	}
	if _, err := s.cron.Every(minutes).Minutes().Do(func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule cycle job: %w", err)
	}
	s.cron.StartAsync()

	<-ctx.Done()
	log.Println("scheduler: shutting down")
	s.cron.Stop()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	tok, err := s.elector.TryAcquire(ctx)
	if err != nil {
		log.Printf("scheduler: acquire lease: %v", err)
		return
	}
	if tok == nil {
		log.Println("scheduler: not leader, skipping cycle")
		return
	}
	if err := s.cycle.Run(ctx, tok); err != nil {
		log.Printf("scheduler: cycle: %v", err)
	}
}
