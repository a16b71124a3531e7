package fetch

import (
	"context"
	"net/http"
	"time"
)

// Queue funnels all upstream requests through a single dispatch loop.
// Consecutive dispatches are kept at least a fixed interval apart; the
// spacing applies to dispatch times, so a slow response does not delay
// the request behind it.
type Queue struct {
	client  *http.Client
	spacing time.Duration
	jobs    chan job
}

type job struct {
	req  *http.Request
	done chan result
}

type result struct {
	resp *http.Response
	err  error
}

func NewQueue(client *http.Client, spacing time.Duration) *Queue {
	return &Queue{
		client:  client,
		spacing: spacing,
		jobs:    make(chan job),
	}
}

// Run dispatches queued requests until ctx is cancelled. Requests already
// dispatched run to completion; only the loop stops.
func (q *Queue) Run(ctx context.Context) {
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			if wait := q.spacing - time.Since(last); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					j.done <- result{err: ctx.Err()}
					return
				case <-timer.C:
				}
			}
			last = time.Now()
			go func(j job) {
				resp, err := q.client.Do(j.req)
				j.done <- result{resp: resp, err: err}
			}(j)
		}
	}
}

// Do enqueues req and blocks until the response arrives or ctx is
// cancelled. A cancelled caller abandons only its wait; the dispatched
// request still completes and its body is closed here.
func (q *Queue) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	j := job{req: req, done: make(chan result, 1)}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case q.jobs <- j:
	}

	select {
	case <-ctx.Done():
		go func() {
			if r := <-j.done; r.resp != nil {
				r.resp.Body.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-j.done:
		return r.resp, r.err
	}
}
