// Package worker runs periodic maintenance tasks: pruning old usage rows,
// evicting idle sessions and purging expired session tokens.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/parley/internal/metrics"
)

// Worker runs registered tasks on their intervals from a single goroutine.
type Worker struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	tasks []*scheduledTask

	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once
}

type scheduledTask struct {
	task     Task
	interval time.Duration
	next     time.Time
	disabled bool
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		config: config,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}, nil
}

// Register schedules task every interval. A non-positive interval uses
// PollInterval. The first run is due immediately. Call this before Start().
func (w *Worker) Register(task Task, interval time.Duration) {
	if interval <= 0 {
		interval = w.config.PollInterval
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, s := range w.tasks {
		if s.task.Name() == task.Name() {
			w.logger.Warn("replacing registered task", "task", task.Name())
			s.task, s.interval, s.disabled = task, interval, false
			return
		}
	}
	w.tasks = append(w.tasks, &scheduledTask{task: task, interval: interval})
	w.logger.Debug("registered task", "task", task.Name(), "interval", interval)
}

// Start runs due tasks once, then on every poll tick until Stop is called
// or ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("worker started", "tasks", len(w.tasks), "poll_interval", w.config.PollInterval)
}

// Stop signals the loop to exit and waits up to ShutdownTimeout for a
// running task to finish. Safe to call more than once.
func (w *Worker) Stop() {
	w.once.Do(func() {
		w.logger.Info("stopping worker")
		close(w.stopCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("worker shutdown timeout exceeded, a task may still be running")
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.RunDue(ctx)
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunDue(ctx)
		}
	}
}

// RunDue runs every task whose next run time has passed and returns how
// many ran.
func (w *Worker) RunDue(ctx context.Context) int {
	now := w.now()

	w.mu.Lock()
	var due []*scheduledTask
	for _, s := range w.tasks {
		if !s.disabled && !now.Before(s.next) {
			s.next = now.Add(s.interval)
			due = append(due, s)
		}
	}
	w.mu.Unlock()

	for _, s := range due {
		if ctx.Err() != nil {
			break
		}
		if err := w.execute(ctx, s.task); err != nil && IsPermanent(err) {
			w.mu.Lock()
			s.disabled = true
			w.mu.Unlock()
			w.logger.Error("task disabled after permanent failure", "task", s.task.Name(), "error", err)
		}
	}
	return len(due)
}

// execute runs one task under TaskTimeout and records its outcome.
func (w *Worker) execute(ctx context.Context, task Task) error {
	logger := w.logger.With("task", task.Name())

	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	if err := task.Run(taskCtx); err != nil {
		metrics.TaskFailed(task.Name())
		logger.Error("task failed", "error", err)
		return err
	}

	duration := time.Since(start)
	metrics.TaskCompleted(task.Name(), duration)
	logger.Debug("task completed", "duration_ms", duration.Milliseconds())
	return nil
}
