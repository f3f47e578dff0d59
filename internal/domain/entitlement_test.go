package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecompute_RemainingNeverNegative(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	for used := 0; used <= 8; used++ {
		for _, limit := range []int{1, 3, 5} {
			e := Recompute(Snapshot{MessagesUsed: used, DailyLimit: limit}, now)

			want := limit - used
			if want < 0 {
				want = 0
			}
			assert.Equal(t, want, e.MessagesRemaining, "used=%d limit=%d", used, limit)
			assert.Equal(t, used < limit, e.CanSend, "used=%d limit=%d", used, limit)
			assert.Equal(t, PlanFree, e.Plan)
		}
	}
}

func TestRecompute_UnlimitedPlansCanAlwaysSend(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	trialEnds := now.Add(time.Hour)

	tests := []struct {
		name    string
		profile ProfileFact
		sub     *SubscriptionFact
		want    PlanTier
	}{
		{"admin", ProfileFact{Role: RoleAdmin}, nil, PlanAdmin},
		{"premium", ProfileFact{IsPremium: true}, nil, PlanPremium},
		{"subscriber", ProfileFact{}, &SubscriptionFact{Status: SubscriptionStatusActive}, PlanPremium},
		{"trial", ProfileFact{TrialEndsAt: &trialEnds}, nil, PlanTrial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Recompute(Snapshot{
				Profile:      tt.profile,
				Subscription: tt.sub,
				MessagesUsed: 9,
				DailyLimit:   5,
			}, now)

			assert.Equal(t, tt.want, e.Plan)
			assert.True(t, e.CanSend)
			assert.Equal(t, 0, e.MessagesRemaining)
		})
	}
}

func TestRecompute_TrialWindowClosesWithoutRefetch(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	trialEnds := now.Add(time.Hour)
	snap := Snapshot{
		Profile:      ProfileFact{TrialEndsAt: &trialEnds},
		MessagesUsed: 5,
		DailyLimit:   5,
	}

	during := Recompute(snap, now)
	assert.Equal(t, PlanTrial, during.Plan)
	assert.True(t, during.CanSend)
	assert.Equal(t, &trialEnds, during.TrialEndsAt)

	after := Recompute(snap, now.Add(2*time.Hour))
	assert.Equal(t, PlanFree, after.Plan)
	assert.False(t, after.CanSend)
}

func TestFallbackSnapshot_FailsClosed(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	snap := FallbackSnapshot(DefaultDailyLimit, DayOf(now), now)
	e := Recompute(snap, now)

	assert.True(t, e.Degraded)
	assert.Equal(t, PlanFree, e.Plan)
	assert.Equal(t, DefaultDailyLimit, e.MessagesUsed)
	assert.Equal(t, 0, e.MessagesRemaining)
	assert.False(t, e.CanSend)
}

func TestDayOf_UsesLocation(t *testing.T) {
	utc := time.Date(2025, 3, 14, 23, 30, 0, 0, time.UTC)
	tokyo := time.FixedZone("JST", 9*60*60)

	assert.Equal(t, Day("2025-03-14"), DayOf(utc))
	assert.Equal(t, Day("2025-03-15"), DayOf(utc.In(tokyo)))
}
