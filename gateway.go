package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/robbyt/go-supervisor/supervisor"
)

var (
	// ErrQueueFull is returned by Enqueue when the send queue has no room
	// left. Callers should retry later.
	ErrQueueFull = errors.New("send queue is full")

	// ErrInvalidRequest is returned by Enqueue for a request without a
	// recipient or a message.
	ErrInvalidRequest = errors.New("both 'to' and 'message' fields are required")

	// ErrDuplicateJob is returned by Enqueue when the requested job ID is
	// still tracked.
	ErrDuplicateJob = errors.New("job id already in use")
)

// Sender submits one text message. *modem.Modem implements it.
type Sender interface {
	SendSMS(ctx context.Context, recipient, message string) (int, error)
}

// JobState is the lifecycle state of a queued message.
type JobState string

const (
	JobQueued JobState = "queued"
	JobSent   JobState = "sent"
	JobFailed JobState = "failed"
)

// Job is a snapshot of a queued message.
type Job struct {
	ID        string   `json:"id"`
	To        string   `json:"to"`
	State     JobState `json:"status"`
	Attempts  int      `json:"attempts"`
	Reference int      `json:"reference,omitempty"`
	Error     string   `json:"error,omitempty"`

	message string
}

// rateLimiter admits at most limit events per window with at least
// interval between two events.
type rateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	interval time.Duration
	events   []time.Time
	now      func() time.Time
}

func newRateLimiter(perMinute int, interval time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:    perMinute,
		window:   time.Minute,
		interval: interval,
		now:      time.Now,
	}
}

// reserve records an event and returns zero when one is allowed now.
// Otherwise it returns how long to wait before asking again.
func (r *rateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cut := now.Add(-r.window)
	kept := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	r.events = kept

	var wait time.Duration
	if len(r.events) >= r.limit {
		wait = r.events[0].Add(r.window).Sub(now)
	}
	if n := len(r.events); n > 0 {
		if d := r.events[n-1].Add(r.interval).Sub(now); d > wait {
			wait = d
		}
	}
	if wait > 0 {
		return wait
	}

	r.events = append(r.events, now)
	return 0
}

// wait blocks until an event is admitted or ctx is done.
func (r *rateLimiter) wait(ctx context.Context) error {
	for {
		d := r.reserve()
		if d == 0 {
			return nil
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryJitter spreads retries between 800ms and 1400ms.
func retryJitter() time.Duration {
	return time.Duration(800+rand.IntN(600)) * time.Millisecond
}

// Interface guard: ensure Gateway implements supervisor.Runnable
var _ supervisor.Runnable = (*Gateway)(nil)

// GatewayConfig holds the settings of a Gateway.
type GatewayConfig struct {
	Sender          Sender
	Logger          *slog.Logger
	RatePerMinute   int
	MinSendInterval time.Duration
	MaxRetries      int
	QueueSize       int
	// RetryDelay returns the pause before a retry. Defaults to 800-1400ms.
	RetryDelay func() time.Duration
	// History is the number of jobs kept for status lookups.
	History int
}

// Gateway queues outgoing messages and submits them one at a time
// through its Sender, honouring the rate limit and retrying failures.
type Gateway struct {
	logger     *slog.Logger
	sender     Sender
	limiter    *rateLimiter
	maxRetries int
	retryDelay func() time.Duration
	queue      chan *Job

	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	history int

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewGateway creates a Gateway. Run must be called for queued messages to
// be sent.
func NewGateway(config GatewayConfig) (*Gateway, error) {
	if config.Sender == nil {
		return nil, errors.New("gateway: sender is required")
	}
	if config.RatePerMinute <= 0 {
		return nil, fmt.Errorf("gateway: invalid rate per minute %d", config.RatePerMinute)
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.History <= 0 {
		config.History = config.QueueSize
	}
	if config.RetryDelay == nil {
		config.RetryDelay = retryJitter
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Gateway{
		logger:     config.Logger,
		sender:     config.Sender,
		limiter:    newRateLimiter(config.RatePerMinute, config.MinSendInterval),
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
		queue:      make(chan *Job, config.QueueSize),
		jobs:       make(map[string]*Job),
		history:    config.History,
		stopped:    make(chan struct{}),
	}, nil
}

func (g *Gateway) String() string {
	return "Gateway"
}

// Enqueue queues a message and returns its job ID. An empty id gets a
// fresh UUID.
func (g *Gateway) Enqueue(id, to, message string) (string, error) {
	if strings.TrimSpace(to) == "" || message == "" {
		return "", ErrInvalidRequest
	}
	if id == "" {
		u, err := uuid.NewV4()
		if err != nil {
			return "", fmt.Errorf("generating job id: %w", err)
		}
		id = u.String()
	}

	job := &Job{ID: id, To: to, State: JobQueued, message: message}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.jobs[id]; ok {
		return "", fmt.Errorf("job %s: %w", id, ErrDuplicateJob)
	}
	select {
	case g.queue <- job:
	default:
		return "", ErrQueueFull
	}
	g.track(job)

	g.logger.Debug("Message queued", "id", id, "to", to)
	return id, nil
}

// track records job and forgets the oldest finished jobs beyond the
// history size. g.mu must be held.
func (g *Gateway) track(job *Job) {
	g.jobs[job.ID] = job
	g.order = append(g.order, job.ID)
	for len(g.order) > g.history {
		oldest := g.jobs[g.order[0]]
		if oldest != nil && oldest.State == JobQueued {
			break
		}
		delete(g.jobs, g.order[0])
		g.order = g.order[1:]
	}
}

// Status returns a snapshot of the job with the given ID.
func (g *Gateway) Status(id string) (Job, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	job, ok := g.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Pending returns the number of messages waiting in the queue.
func (g *Gateway) Pending() int {
	return len(g.queue)
}

// Run implements the Runnable interface and sends queued messages until
// ctx is cancelled or Stop is called
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-g.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()

	g.logger.Info("Gateway started")
	for {
		select {
		case <-ctx.Done():
			g.logger.Info("Gateway stopped", "pending", len(g.queue))
			return nil
		case job := <-g.queue:
			g.send(ctx, job)
		}
	}
}

// Stop implements the Runnable interface. A Gateway stopped before Run
// returns from Run right away.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() { close(g.stopped) })
}

func (g *Gateway) send(ctx context.Context, job *Job) {
	logger := g.logger.With("id", job.ID, "to", job.To)
	for {
		if err := g.limiter.wait(ctx); err != nil {
			return
		}

		ref, err := g.sender.SendSMS(ctx, job.To, job.message)
		attempts := g.update(job, func(j *Job) {
			j.Attempts++
			if err == nil {
				j.State = JobSent
				j.Reference = ref
				j.Error = ""
			} else {
				j.Error = err.Error()
			}
		})
		if err == nil {
			logger.Info("Message sent", "reference", ref, "attempts", attempts)
			return
		}
		if ctx.Err() != nil {
			return
		}

		if attempts > g.maxRetries {
			g.update(job, func(j *Job) { j.State = JobFailed })
			logger.Error("Message failed permanently", "error", err, "attempts", attempts)
			return
		}

		delay := g.retryDelay()
		logger.Warn("Message failed, retrying", "error", err, "attempt", attempts, "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			return
		}
	}
}

func (g *Gateway) update(job *Job, fn func(*Job)) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(job)
	return job.Attempts
}
