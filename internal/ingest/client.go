package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/kentwelham/gradecast/internal/catalog"
	"github.com/kentwelham/gradecast/internal/fetch"
	"github.com/kentwelham/gradecast/internal/forecast"
	"github.com/kentwelham/gradecast/internal/metrics"
	"github.com/kentwelham/gradecast/internal/models"
	"github.com/kentwelham/gradecast/internal/store"
)

const DefaultBaseURL = "https://api.open-meteo.com"

// Client fetches per-model forecasts through the shared rate-limited
// queue. Each model endpoint gets its own circuit breaker.
type Client struct {
	queue    *fetch.Queue
	baseURL  string
	recorder store.PayloadRecorder // optional raw capture, may be nil

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewClient(queue *fetch.Queue, baseURL string, recorder store.PayloadRecorder) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		queue:    queue,
		baseURL:  strings.TrimRight(baseURL, "/"),
		recorder: recorder,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// FetchForecast fetches one model for one view and normalizes it. Errors
// are per-model data failures for the caller to collect, never reasons
// to abort the other models.
func (c *Client) FetchForecast(ctx context.Context, loc models.Location, m catalog.Model, view forecast.View) (forecast.Series, error) {
	body, err := c.get(ctx, m.Key, c.forecastURL(loc, m, view))
	if err != nil {
		return forecast.Series{}, err
	}
	c.recordPayload(m.Key, loc.ID, body)
	return forecast.Normalize(m.Key, body, view)
}

func (c *Client) forecastURL(loc models.Location, m catalog.Model, view forecast.View) string {
	v := url.Values{}
	v.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	v.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	v.Set("models", m.Key)
	v.Set("timezone", "UTC")
	switch view {
	case forecast.ViewDaily:
		v.Set("daily", strings.Join(m.DailyParams, ","))
	default:
		v.Set("hourly", strings.Join(m.HourlyParams, ","))
	}
	if m.HorizonDays > 0 {
		v.Set("forecast_days", strconv.Itoa(m.HorizonDays))
	}
	return c.baseURL + "/v1/" + m.Endpoint + "?" + v.Encode()
}

// get runs one rate-limited GET with retries and the model's breaker.
// Rate limiting and server errors retry under exponential backoff; any
// other non-200 status is permanent. An open breaker fails fast.
func (c *Client) get(ctx context.Context, modelKey, rawURL string) ([]byte, error) {
	cb := c.breakerFor(modelKey)

	var body []byte
	operation := func() error {
		result, err := cb.Execute(func() (interface{}, error) {
			req, reqErr := http.NewRequest(http.MethodGet, rawURL, nil)
			if reqErr != nil {
				return nil, backoff.Permanent(reqErr)
			}

			start := time.Now()
			resp, doErr := c.queue.Do(ctx, req)
			metrics.UpstreamLatency.WithLabelValues(modelKey).Observe(time.Since(start).Seconds())
			if doErr != nil {
				metrics.UpstreamRequests.WithLabelValues(modelKey, "error").Inc()
				return nil, fmt.Errorf("fetch: %w", doErr)
			}
			defer resp.Body.Close()
			metrics.UpstreamRequests.WithLabelValues(modelKey, strconv.Itoa(resp.StatusCode)).Inc()

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500 {
				return nil, fmt.Errorf("status %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				b, _ := io.ReadAll(resp.Body)
				return nil, backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
			}

			b, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return nil, backoff.Permanent(fmt.Errorf("read body: %w", readErr))
			}
			return b, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = result.([]byte)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) breakerFor(modelKey string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[modelKey]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        modelKey,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		})
		c.breakers[modelKey] = cb
	}
	return cb
}

// recordPayload captures the raw body when a recorder is wired in.
// Capture is best effort and never fails a fetch.
func (c *Client) recordPayload(modelKey string, locationID int64, body []byte) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordPayload(modelKey, locationID, time.Now().UTC(), body); err != nil {
		log.Printf("ingest: record payload for %s: %v", modelKey, err)
	}
}
