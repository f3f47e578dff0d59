package metrics

import "time"

// TaskCompleted records a successful maintenance task run.
func TaskCompleted(task string, duration time.Duration) {
	TasksTotal.WithLabelValues(task, "completed").Inc()
	TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// TaskFailed records a failed maintenance task run.
func TaskFailed(task string) {
	TasksTotal.WithLabelValues(task, "failed").Inc()
}
