// Package scheduler runs the bot's periodic tasks. Each task owns one
// goroutine and one ticker, so a task never overlaps itself; a tick that
// fires while the previous body is still running is dropped, not queued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/ilikepancakes-ink/twittwebot/common/id"
	"github.com/ilikepancakes-ink/twittwebot/common/logger"
	"github.com/ilikepancakes-ink/twittwebot/internal/metrics"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

// cronPoll is how often cron-scheduled tasks check whether they are due.
// Variable so tests can tighten it.
var cronPoll = time.Minute

// Task is one periodic unit of work. Exactly one of Interval or Cron
// drives the cadence; Cron wins when both are set.
type Task struct {
	Name      string
	Interval  time.Duration
	Cron      string // optional cron expression, evaluated once per minute
	OnStartup bool   // fire once immediately when the scheduler starts
	Run       func(ctx context.Context) error
}

type Config struct {
	TickTimeout time.Duration
}

// Scheduler drives registered tasks until Stop is called. Tasks must be
// registered before Start.
type Scheduler struct {
	timeout time.Duration
	metrics *metrics.Metrics

	mu      sync.Mutex
	runners []*runner
	cancel  context.CancelFunc
	started bool
}

func New(cfg Config, m *metrics.Metrics) *Scheduler {
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 10 * time.Minute
	}
	return &Scheduler{
		timeout: cfg.TickTimeout,
		metrics: m,
	}
}

// Register adds a task. Returns an error for an unusable cadence so a
// config typo surfaces at startup rather than as a silent dead task.
func (s *Scheduler) Register(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %s: missing run function", task.Name)
	}
	if task.Cron != "" {
		if _, err := cronexpr.Parse(task.Cron); err != nil {
			return fmt.Errorf("task %s: invalid cron %q: %w", task.Name, task.Cron, err)
		}
	} else if task.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", task.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("task %s: scheduler already started", task.Name)
	}
	s.runners = append(s.runners, &runner{
		task:      task,
		timeout:   s.timeout,
		metrics:   s.metrics,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		status:    model.TaskStatus{Name: task.Name, State: model.TaskStateIdle},
	})
	return nil
}

// Start launches one goroutine per registered task.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, r := range s.runners {
		go r.loop(runCtx)
	}
	slog.InfoContext(ctx, "scheduler started", "tasks", len(s.runners))
}

// Stop prevents new ticks and waits up to grace for in-flight ticks to
// finish, then cancels their context and waits for the goroutines to exit.
func (s *Scheduler) Stop(grace time.Duration) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	runners := s.runners
	cancel := s.cancel
	s.mu.Unlock()

	for _, r := range runners {
		close(r.stopCh)
	}

	done := make(chan struct{})
	go func() {
		for _, r := range runners {
			<-r.stoppedCh
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("shutdown grace exceeded, cancelling in-flight ticks")
		cancel()
		<-done
	}
	cancel()
}

// Statuses reports the ops view of every task.
func (s *Scheduler) Statuses() []model.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]model.TaskStatus, 0, len(s.runners))
	for _, r := range s.runners {
		statuses = append(statuses, r.snapshot())
	}
	return statuses
}

// runner owns one task's goroutine and status record.
type runner struct {
	task    Task
	timeout time.Duration
	metrics *metrics.Metrics

	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu     sync.Mutex
	status model.TaskStatus
}

func (r *runner) loop(ctx context.Context) {
	defer close(r.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Task:      logger.Ptr(r.task.Name),
		Component: "twittwebot.scheduler",
	})

	if r.task.OnStartup {
		r.runOnce(ctx)
	}

	if r.task.Cron != "" {
		r.cronLoop(ctx)
		return
	}

	ticker := time.NewTicker(r.task.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "task scheduled", "interval", r.task.Interval, "on_startup", r.task.OnStartup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "task stopping")
			return
		case <-ticker.C:
			r.runOnce(ctx)
			// A tick that queued up behind a long run is dropped, not
			// executed back to back.
			r.drain(ticker)
		}
	}
}

// cronLoop wakes once a minute and runs the task when the expression's
// next firing since the last run has passed.
func (r *runner) cronLoop(ctx context.Context) {
	expr := cronexpr.MustParse(r.task.Cron)
	last := time.Now()

	ticker := time.NewTicker(cronPoll)
	defer ticker.Stop()

	slog.InfoContext(ctx, "task scheduled", "cron", r.task.Cron, "next", expr.Next(last))

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "task stopping")
			return
		case <-ticker.C:
			if next := expr.Next(last); !next.After(time.Now()) {
				r.runOnce(ctx)
				last = time.Now()
			}
		}
	}
}

func (r *runner) drain(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
			r.skip()
		default:
			return
		}
	}
}

func (r *runner) runOnce(ctx context.Context) {
	if !r.begin() {
		r.skip()
		return
	}

	tickID := id.New()
	ctx = logger.WithLogFields(ctx, logger.LogFields{TickID: logger.Ptr(tickID)})

	sc := logger.StartSpan(ctx, "tick."+r.task.Name)
	defer sc.End()
	ctx = sc.Context()

	tickCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	slog.DebugContext(ctx, "tick started")

	err := r.runSafe(tickCtx)
	duration := time.Since(start)

	r.end(err)
	if err != nil {
		sc.RecordError(err)
		r.metrics.TickObserved(r.task.Name, metrics.OutcomeError)
		slog.ErrorContext(ctx, "tick failed", "error", err, "duration_ms", duration.Milliseconds())
		return
	}
	r.metrics.TickObserved(r.task.Name, metrics.OutcomeOK)
	slog.InfoContext(ctx, "tick finished", "duration_ms", duration.Milliseconds())
}

// runSafe converts a panic in the task body into an error so one bad tick
// cannot take the whole process down.
func (r *runner) runSafe(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "panic recovered in tick", "panic", rec)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.task.Run(ctx)
}

// begin flips the task to RUNNING; false means a tick is already in flight.
func (r *runner) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.State == model.TaskStateRunning {
		return false
	}
	now := time.Now().UTC()
	r.status.State = model.TaskStateRunning
	r.status.LastStart = &now
	return true
}

func (r *runner) end(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.status.State = model.TaskStateIdle
	r.status.LastEnd = &now
	r.status.Runs++
	if err != nil {
		r.status.LastError = err.Error()
	} else {
		r.status.LastError = ""
	}
}

func (r *runner) skip() {
	r.mu.Lock()
	r.status.Skips++
	r.mu.Unlock()
	r.metrics.TickObserved(r.task.Name, metrics.OutcomeSkipped)
}

func (r *runner) snapshot() model.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
