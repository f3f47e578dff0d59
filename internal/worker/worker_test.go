package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name: "poll interval too short",
			config: Config{
				PollInterval:    500 * time.Millisecond,
				TaskTimeout:     time.Minute,
				ShutdownTimeout: 30 * time.Second,
			},
			wantErr: true,
		},
		{
			name: "task timeout too short",
			config: Config{
				PollInterval:    time.Minute,
				TaskTimeout:     0,
				ShutdownTimeout: 30 * time.Second,
			},
			wantErr: true,
		},
		{
			name: "shutdown timeout too short",
			config: Config{
				PollInterval:    time.Minute,
				TaskTimeout:     time.Minute,
				ShutdownTimeout: time.Millisecond,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "permanent error",
			err:  NewPermanentError(context.Canceled),
			want: true,
		},
		{
			name: "wrapped permanent error",
			err:  errors.Join(errors.New("outer"), NewPermanentError(context.Canceled)),
			want: true,
		},
		{
			name: "regular error",
			err:  context.Canceled,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Scheduling
// =============================================================================

type countingTask struct {
	name string
	err  error

	mu   sync.Mutex
	runs int
}

func (c *countingTask) Name() string { return c.name }

func (c *countingTask) Run(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	return c.err
}

func (c *countingTask) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func newTestWorker(t *testing.T) (*Worker, *time.Time) {
	t.Helper()
	w, err := New(DefaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	return w, &now
}

func TestWorker_RunDueHonorsIntervals(t *testing.T) {
	w, now := newTestWorker(t)
	fast := &countingTask{name: "fast"}
	slow := &countingTask{name: "slow"}
	w.Register(fast, time.Minute)
	w.Register(slow, time.Hour)

	if n := w.RunDue(context.Background()); n != 2 {
		t.Fatalf("first pass should run every task, ran %d", n)
	}

	*now = now.Add(time.Minute)
	w.RunDue(context.Background())

	if fast.count() != 2 {
		t.Errorf("fast task runs = %d, want 2", fast.count())
	}
	if slow.count() != 1 {
		t.Errorf("slow task runs = %d, want 1", slow.count())
	}
}

func TestWorker_TransientFailureIsRetried(t *testing.T) {
	w, now := newTestWorker(t)
	task := &countingTask{name: "flaky", err: errors.New("connection reset")}
	w.Register(task, time.Minute)

	w.RunDue(context.Background())
	*now = now.Add(time.Minute)
	w.RunDue(context.Background())

	if task.count() != 2 {
		t.Errorf("runs = %d, want 2", task.count())
	}
}

func TestWorker_PermanentFailureDisablesTask(t *testing.T) {
	w, now := newTestWorker(t)
	task := &countingTask{name: "broken", err: NewPermanentError(errors.New("misconfigured"))}
	w.Register(task, time.Minute)

	w.RunDue(context.Background())
	*now = now.Add(time.Hour)
	w.RunDue(context.Background())

	if task.count() != 1 {
		t.Errorf("runs = %d, want 1", task.count())
	}
}

func TestWorker_StartStop(t *testing.T) {
	w, _ := newTestWorker(t)
	task := &countingTask{name: "once"}
	w.Register(task, time.Hour)

	w.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for task.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()
	w.Stop()

	if task.count() != 1 {
		t.Errorf("runs = %d, want 1", task.count())
	}
}

// =============================================================================
// Tasks
// =============================================================================

type fakeUsagePurger struct {
	cutoff domain.Day
	rows   int64
	err    error
}

func (f *fakeUsagePurger) PurgeBefore(ctx context.Context, cutoff domain.Day) (int64, error) {
	f.cutoff = cutoff
	return f.rows, f.err
}

func TestUsageRetentionTask(t *testing.T) {
	purger := &fakeUsagePurger{rows: 12}
	task := NewUsageRetentionTask(purger, 30, testLogger())
	task.now = func() time.Time { return time.Date(2025, 3, 14, 1, 0, 0, 0, time.FixedZone("UTC+9", 9*3600)) }

	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// 01:00 at UTC+9 is still 2025-03-13 in UTC.
	if purger.cutoff != "2025-02-11" {
		t.Errorf("cutoff = %q, want 2025-02-11", purger.cutoff)
	}
}

func TestUsageRetentionTask_Errors(t *testing.T) {
	t.Run("store failure is transient", func(t *testing.T) {
		task := NewUsageRetentionTask(&fakeUsagePurger{err: errors.New("timeout")}, 30, testLogger())
		err := task.Run(context.Background())
		if err == nil || IsPermanent(err) {
			t.Errorf("expected transient error, got %v", err)
		}
	})

	t.Run("short retention is permanent", func(t *testing.T) {
		task := NewUsageRetentionTask(&fakeUsagePurger{}, 1, testLogger())
		if err := task.Run(context.Background()); !IsPermanent(err) {
			t.Errorf("expected permanent error, got %v", err)
		}
	})
}

type fakeEvictor struct {
	maxIdle time.Duration
}

func (f *fakeEvictor) EvictIdle(maxIdle time.Duration) int {
	f.maxIdle = maxIdle
	return 3
}

func TestSessionEvictionTask(t *testing.T) {
	evictor := &fakeEvictor{}
	task := NewSessionEvictionTask(evictor, 30*time.Minute, testLogger())

	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if evictor.maxIdle != 30*time.Minute {
		t.Errorf("maxIdle = %v, want 30m", evictor.maxIdle)
	}
}

type fakeTokenPurger struct {
	n   int64
	err error
}

func (f *fakeTokenPurger) PurgeExpired(ctx context.Context) (int64, error) {
	return f.n, f.err
}

func TestExpiredSessionPurgeTask(t *testing.T) {
	if err := NewExpiredSessionPurgeTask(&fakeTokenPurger{n: 2}, testLogger()).Run(context.Background()); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if err := NewExpiredSessionPurgeTask(&fakeTokenPurger{err: errors.New("down")}, testLogger()).Run(context.Background()); err == nil {
		t.Error("expected error")
	}
}
