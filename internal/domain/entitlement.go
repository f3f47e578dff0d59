package domain

import "time"

// DefaultDailyLimit is the number of free-tier messages allowed per calendar day.
const DefaultDailyLimit = 5

// Day identifies a calendar day in the viewer's time zone, formatted YYYY-MM-DD.
type Day string

// DayOf returns the calendar day of t in t's location.
func DayOf(t time.Time) Day {
	return Day(t.Format(time.DateOnly))
}

// Usage is a quota store's view of one user's day.
type Usage struct {
	Used  int
	Limit int
}

// NotificationKind identifies a quota threshold event surfaced to the UI.
type NotificationKind string

const (
	NotificationApproachingLimit NotificationKind = "approaching-limit"
	NotificationLimitReached     NotificationKind = "limit-reached"
)

// Snapshot holds the inputs of a user's entitlement. Everything a caller
// needs to decide on a send is derived from it by Recompute; no derived
// value is stored here.
type Snapshot struct {
	Profile      ProfileFact
	Subscription *SubscriptionFact
	MessagesUsed int
	DailyLimit   int
	Day          Day
	FetchedAt    time.Time

	// Degraded marks the fail-closed fallback applied after a failed fetch.
	Degraded bool
}

// Entitlement is the derived, client-visible view of a Snapshot.
type Entitlement struct {
	Plan              PlanTier   `json:"plan"`
	MessagesUsed      int        `json:"messages_used"`
	DailyLimit        int        `json:"daily_limit"`
	MessagesRemaining int        `json:"messages_remaining"`
	CanSend           bool       `json:"can_send"`
	TrialEndsAt       *time.Time `json:"trial_ends_at,omitempty"`
	Day               Day        `json:"day"`
	FetchedAt         time.Time  `json:"fetched_at"`
	Degraded          bool       `json:"degraded"`
}

// Recompute derives the entitlement of s at now. It is the only place plan,
// remaining count and send permission are computed.
func Recompute(s Snapshot, now time.Time) Entitlement {
	plan := ResolvePlan(s.Profile, s.Subscription, now)
	remaining := s.DailyLimit - s.MessagesUsed
	if remaining < 0 {
		remaining = 0
	}

	return Entitlement{
		Plan:              plan,
		MessagesUsed:      s.MessagesUsed,
		DailyLimit:        s.DailyLimit,
		MessagesRemaining: remaining,
		CanSend:           plan.IsUnlimited() || s.MessagesUsed < s.DailyLimit,
		TrialEndsAt:       s.Profile.TrialEndsAt,
		Day:               s.Day,
		FetchedAt:         s.FetchedAt,
		Degraded:          s.Degraded,
	}
}

// FallbackSnapshot is the fail-closed snapshot: free plan with the whole
// daily allowance consumed.
func FallbackSnapshot(limit int, day Day, now time.Time) Snapshot {
	return Snapshot{
		Profile:      ProfileFact{Role: RoleUser},
		MessagesUsed: limit,
		DailyLimit:   limit,
		Day:          day,
		FetchedAt:    now,
		Degraded:     true,
	}
}
