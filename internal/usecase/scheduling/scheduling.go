package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduledAction identifies a type of scheduled action.
type ScheduledAction string

const (
	ActionConsolidate ScheduledAction = "consolidate"
	ActionStatsReport ScheduledAction = "stats_report"
	ActionExport      ScheduledAction = "export"
)

// ScheduledTask defines a recurring task.
type ScheduledTask struct {
	Name     string
	Schedule string // cron expression "0 3 * * *" OR duration "6h"
	Action   ScheduledAction
	Timeout  time.Duration // per-run timeout; 0 = 5m default
	OneShot  bool
}

const defaultTaskTimeout = 5 * time.Minute

// Scheduler runs vault maintenance on a recurring schedule. Every job is
// wrapped with SkipIfStillRunning, so a slow consolidation pass never
// overlaps its next tick.
type Scheduler struct {
	cron    *cron.Cron
	actions map[ScheduledAction]func(ctx context.Context) error
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		actions: make(map[ScheduledAction]func(ctx context.Context) error),
		logger:  logger,
	}
}

// RegisterAction registers a handler for a scheduled action type.
func (s *Scheduler) RegisterAction(action ScheduledAction, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask adds a scheduled task. The schedule can be a cron expression or a
// duration string.
func (s *Scheduler) AddTask(task ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}

	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	taskName := task.Name
	oneShot := task.OneShot
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	logger := s.logger

	var entryID cron.EntryID
	job := cron.FuncJob(func() {
		// Read context under lock
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx == nil {
			logger.Debug("scheduler stopped, skipping task", "task", taskName)
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		if err := fn(taskCtx); err != nil {
			logger.Warn("scheduled task failed",
				"task", taskName,
				"error", err,
				"duration", time.Since(start))
		} else {
			logger.Info("scheduled task completed",
				"task", taskName,
				"duration", time.Since(start))
		}

		if oneShot {
			s.cron.Remove(entryID)
		}
	})

	chain := cron.NewChain(cron.SkipIfStillRunning(&cronLogger{logger: logger}))
	entryID = s.cron.Schedule(schedule, chain.Then(job))

	logger.Info("task added to scheduler", "name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals the scheduler to stop and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.started = false
	return nil
}

// parseSchedule tries to parse a schedule string as a cron expression first,
// then falls back to time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	// Try cron expression first.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	// Fall back to duration.
	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// ParseSchedule exposes schedule parsing for external callers.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	return parseSchedule(schedule)
}

// constantDelay implements cron.Schedule for a fixed interval.
// Unlike cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}

// cronLogger adapts slog to the cron.Logger interface so chain wrappers
// report through the same structured log.
type cronLogger struct {
	logger *slog.Logger
}

func (c *cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error(msg, append(keysAndValues, "error", err)...)
}
