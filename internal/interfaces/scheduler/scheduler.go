package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ScheduleTime represents a specific time of day when a task should run.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	_, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// JobProvider builds the jobs of one task run.
type JobProvider func(ctx context.Context) ([]Job, error)

// Task is a named job provider fired once a day at a fixed time.
type Task struct {
	Name string
	At   string
	Jobs JobProvider
}

type task struct {
	name    string
	at      ScheduleTime
	jobs    JobProvider
	lastRun string
}

// Config holds configuration for the scheduler.
type Config struct {
	Tasks        []Task
	WorkerCount  int
	JobDelay     time.Duration
	JobTimeout   time.Duration
	QueueSize    int
	RunOnStartup bool
}

// Scheduler fires daily tasks and feeds their jobs to a shared worker pool.
type Scheduler struct {
	workerPool   *WorkerPool
	tasks        []*task
	runOnStartup bool
	logger       *zap.Logger
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New creates a scheduler with the given configuration.
func New(config Config, logger *zap.Logger) (*Scheduler, error) {
	if len(config.Tasks) == 0 {
		return nil, fmt.Errorf("at least one task is required")
	}

	tasks := make([]*task, 0, len(config.Tasks))
	for _, t := range config.Tasks {
		at, err := ParseScheduleTime(t.At)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q for %s: %w", t.At, t.Name, err)
		}
		if t.Jobs == nil {
			return nil, fmt.Errorf("task %s has no job provider", t.Name)
		}
		tasks = append(tasks, &task{name: t.Name, at: at, jobs: t.Jobs})
	}

	logger = logger.Named("scheduler")
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		workerPool:   NewWorkerPool(config.WorkerCount, config.JobDelay, config.JobTimeout, config.QueueSize, logger),
		tasks:        tasks,
		runOnStartup: config.RunOnStartup,
		logger:       logger,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start launches the worker pool and the scheduling loop.
func (s *Scheduler) Start() {
	s.workerPool.Start()

	if s.runOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for _, t := range s.tasks {
				s.runTask(t)
			}
		}()
	}

	s.wg.Add(1)
	go s.scheduleLoop()

	for _, t := range s.tasks {
		s.logger.Info("task scheduled", zap.String("task", t.name), zap.String("at", t.at.String()))
	}
}

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, t := range s.due(s.now()) {
				s.runTask(t)
			}
		}
	}
}

// due returns the tasks scheduled for now's minute that have not run in it yet.
func (s *Scheduler) due(now time.Time) []*task {
	key := now.Format("2006-01-02 15:04")

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*task
	for _, t := range s.tasks {
		if now.Hour() != t.at.Hour || now.Minute() != t.at.Minute || t.lastRun == key {
			continue
		}
		t.lastRun = key
		out = append(out, t)
	}
	return out
}

func (s *Scheduler) runTask(t *task) {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	jobs, err := t.jobs(ctx)
	if err != nil {
		s.logger.Error("failed to fetch jobs", zap.String("task", t.name), zap.Error(err))
		return
	}
	if len(jobs) == 0 {
		s.logger.Info("no jobs to process", zap.String("task", t.name))
		return
	}

	s.logger.Info("task triggered", zap.String("task", t.name), zap.Int("jobs", len(jobs)))
	s.workerPool.SubmitBatch(jobs)
}

// Trigger runs the named task immediately. It reports false for unknown names
// and once shutdown has begun.
func (s *Scheduler) Trigger(name string) bool {
	for _, t := range s.tasks {
		if t.name != name {
			continue
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			return false
		}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.runTask(t)
		}()
		return true
	}
	return false
}

// NextRun returns the next time any task is due after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	var next time.Time
	for _, t := range s.tasks {
		at := time.Date(now.Year(), now.Month(), now.Day(), t.at.Hour, t.at.Minute, 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next
}

// Shutdown stops the scheduling loop, then drains the worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("timeout waiting for scheduler loop to stop")
	}

	s.workerPool.ShutdownWithTimeout(timeout)
	s.logger.Info("scheduler stopped")
}
