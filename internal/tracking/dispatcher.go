// Package tracking delivers experiment exposures to an HTTP endpoint.
// Delivery is asynchronous: the evaluator's tracking callback only
// enqueues, and a single worker posts signed events with retry.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagkit/internal/engine"
)

const (
	// DefaultQueueSize is the buffer size for the event queue
	DefaultQueueSize = 1000

	// maxResponseBodySize limits how much of an error response we log (1KB)
	maxResponseBodySize = 1024

	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
)

// Observer is notified about delivery outcomes, for metrics.
type Observer interface {
	TrackingDelivered(success bool)
	TrackingDropped()
}

// Dispatcher posts exposure events to a single endpoint.
type Dispatcher struct {
	url        string
	secret     string
	client     *http.Client
	maxRetries uint
	initial    time.Duration
	log        zerolog.Logger
	observer   Observer

	queue  chan Event
	done   chan struct{}
	closed atomic.Bool
}

type Option func(*Dispatcher)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option { return func(d *Dispatcher) { d.client = c } }

// WithMaxRetries sets how many times a failed delivery is retried.
func WithMaxRetries(n uint) Option { return func(d *Dispatcher) { d.maxRetries = n } }

// WithInitialBackoff sets the first retry delay; later delays grow exponentially.
func WithInitialBackoff(interval time.Duration) Option {
	return func(d *Dispatcher) { d.initial = interval }
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = log.With().Str("component", "tracking").Logger() }
}

func WithObserver(o Observer) Option { return func(d *Dispatcher) { d.observer = o } }

// NewDispatcher creates a dispatcher posting to url. An empty secret sends
// unsigned events. Call Start before tracking and Close on shutdown.
func NewDispatcher(url, secret string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		url:        url,
		secret:     secret,
		client:     &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		initial:    500 * time.Millisecond,
		log:        zerolog.Nop(),
		queue:      make(chan Event, DefaultQueueSize),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins processing events from the queue
func (d *Dispatcher) Start() {
	go d.worker()
}

// Close stops accepting events and waits for the queue to drain.
// It is safe to call more than once.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(d.queue)
	<-d.done
	return nil
}

// Track has the engine.TrackingCallback signature, so a dispatcher can be
// installed directly on an evaluator context.
func (d *Dispatcher) Track(exp *engine.Experiment, res *engine.ExperimentResult) {
	d.Dispatch(NewEvent(exp, res))
}

// Dispatch queues an event for delivery. It never blocks: when the queue
// is full or the dispatcher is closed the event is dropped and logged.
func (d *Dispatcher) Dispatch(event Event) {
	if d.closed.Load() {
		d.drop(event, "dispatcher closed")
		return
	}
	defer func() {
		// Close raced with the check above.
		if recover() != nil {
			d.drop(event, "dispatcher closed")
		}
	}()
	select {
	case d.queue <- event:
	default:
		d.drop(event, "queue full")
	}
}

func (d *Dispatcher) drop(event Event, reason string) {
	d.log.Warn().Str("experiment", event.Experiment.Key).Str("reason", reason).Msg("dropping exposure")
	if d.observer != nil {
		d.observer.TrackingDropped()
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)

	for event := range d.queue {
		err := d.deliver(context.Background(), event)
		if d.observer != nil {
			d.observer.TrackingDelivered(err == nil)
		}
		if err != nil {
			d.log.Error().Err(err).Str("experiment", event.Experiment.Key).Msg("delivery failed permanently")
		}
	}
}

// errClient marks a 4xx response; those are not retried.
var errClient = errors.New("endpoint rejected event")

// deliver posts one event, retrying transport errors and 5xx responses with
// exponential backoff. Every attempt carries the same delivery id so the
// receiver can deduplicate.
func (d *Dispatcher) deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	deliveryID := uuid.New().String()
	signature := ""
	if d.secret != "" {
		signature = ComputeHMAC(payload, d.secret)
	}

	attempt := 0
	op := func() (int, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Flagkit-Event", event.Type)
		req.Header.Set("X-Flagkit-Delivery", deliveryID)
		if signature != "" {
			req.Header.Set("X-Flagkit-Signature", signature)
		}

		start := time.Now()
		resp, err := d.client.Do(req)
		if err != nil {
			d.log.Debug().Err(err).Int("attempt", attempt).Msg("delivery attempt failed")
			return 0, err
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
		resp.Body.Close()

		d.log.Debug().
			Str("delivery_id", deliveryID).
			Int("status", resp.StatusCode).
			Int("attempt", attempt).
			Dur("duration", time.Since(start)).
			Msg("delivery attempt")

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp.StatusCode, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return resp.StatusCode, backoff.Permanent(fmt.Errorf("%w: status %d: %s", errClient, resp.StatusCode, body))
		default:
			return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, body)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initial
	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.maxRetries+1),
	)
	return err
}
