package metrics

import "time"

// Send decision outcomes.
const (
	OutcomeCounted   = "counted"
	OutcomeUnlimited = "unlimited"
	OutcomeExhausted = "exhausted"
	OutcomeFailed    = "failed"
)

// SendDecision records the outcome of one send attempt.
func SendDecision(outcome string) {
	SendDecisionsTotal.WithLabelValues(outcome).Inc()
}

// EntitlementFetched records a completed snapshot fetch.
func EntitlementFetched(degraded bool, duration time.Duration) {
	result := "ok"
	if degraded {
		result = "degraded"
	}
	EntitlementFetchesTotal.WithLabelValues(result).Inc()
	EntitlementFetchDuration.Observe(duration.Seconds())
}

// NotificationSurfaced records a threshold notification.
func NotificationSurfaced(kind string) {
	QuotaNotificationsTotal.WithLabelValues(kind).Inc()
}
