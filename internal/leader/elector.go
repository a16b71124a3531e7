package leader

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kentwelham/gradecast/internal/metrics"
	"github.com/kentwelham/gradecast/internal/store"
)

// DefaultLeaseID names the single lease every replica competes for.
const DefaultLeaseID = "gradecast-cycle"

// State of a replica with respect to the cycle lease.
type State int

const (
	NotLeader State = iota
	Leader
)

func (s State) String() string {
	if s == Leader {
		return "leader"
	}
	return "not-leader"
}

// Token proves one successful acquisition. Leadership-gated calls take
// the token as an argument; nothing reads ambient leader state.
type Token struct {
	LeaseID    string
	HolderID   string
	AcquiredAt time.Time
}

// Elector competes for a lease on behalf of one replica and keeps it
// renewed in the background while held.
type Elector struct {
	store      store.Store
	leaseID    string
	holderID   string
	ttl        time.Duration
	renewEvery time.Duration
	clock      func() time.Time

	mu          sync.Mutex
	state       State
	token       *Token
	renewCancel context.CancelFunc
}

// NewElector uses ttl as the staleness bound after which a silent
// holder's lease is up for grabs; renewEvery must stay well under it.
func NewElector(s store.Store, holderID string, ttl, renewEvery time.Duration) *Elector {
	return &Elector{
		store:      s,
		leaseID:    DefaultLeaseID,
		holderID:   holderID,
		ttl:        ttl,
		renewEvery: renewEvery,
		clock:      time.Now,
	}
}

// TryAcquire attempts the conditional lease write. A nil token with a
// nil error is the normal not-leader outcome, not a failure. Each call
// goes to the store even while Leader, so a silently lost lease demotes
// here rather than lingering until the next renewal tick. The first
// successful acquisition starts the renewal goroutine, which runs until
// ctx is cancelled, leadership is lost, or Resign is called.
func (e *Elector) TryAcquire(ctx context.Context) (*Token, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	ok, err := e.store.AcquireLease(e.leaseID, e.holderID, now, e.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		e.demoteLocked()
		return nil, nil
	}

	if e.token == nil {
		e.token = &Token{LeaseID: e.leaseID, HolderID: e.holderID, AcquiredAt: now}
	}
	e.state = Leader
	metrics.LeaderState.Set(1)
	if e.renewCancel == nil {
		renewCtx, cancel := context.WithCancel(ctx)
		e.renewCancel = cancel
		go e.renewLoop(renewCtx)
	}
	return e.token, nil
}

// renewLoop keeps the held lease fresh. It stops itself on loss or
// renewal error instead of waiting to be cancelled from outside.
func (e *Elector) renewLoop(ctx context.Context) {
	ticker := time.NewTicker(e.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := e.store.RenewLease(e.leaseID, e.holderID, e.clock())
			if err != nil {
				log.Printf("leader: renew %s: %v", e.leaseID, err)
				e.demote()
				return
			}
			if !held {
				log.Printf("leader: lease %s now held elsewhere, stepping down", e.leaseID)
				e.demote()
				return
			}
		}
	}
}

func (e *Elector) demote() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.demoteLocked()
}

func (e *Elector) demoteLocked() {
	e.state = NotLeader
	e.token = nil
	if e.renewCancel != nil {
		e.renewCancel()
		e.renewCancel = nil
	}
	metrics.LeaderState.Set(0)
}

// State reports the replica's current view of its leadership.
func (e *Elector) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Resign steps down and releases the lease row so a peer can take over
// without waiting out the staleness bound. Safe to call when not leader.
func (e *Elector) Resign() {
	e.mu.Lock()
	wasLeader := e.state == Leader
	e.demoteLocked()
	e.mu.Unlock()

	if wasLeader {
		if err := e.store.ReleaseLease(e.leaseID, e.holderID); err != nil {
			log.Printf("leader: release %s: %v", e.leaseID, err)
		}
	}
}
