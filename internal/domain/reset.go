package domain

import "time"

// Countdown is the time left until the daily quota resets.
type Countdown struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// NextReset returns the start of the calendar day after now, in now's location.
func NextReset(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// TimeUntilReset returns whole hours and minutes until the next local
// midnight. Seconds are truncated, so 23:59:00 yields 0h1m and 00:00:30
// yields 23h59m.
func TimeUntilReset(now time.Time) Countdown {
	left := NextReset(now).Sub(now)
	return Countdown{
		Hours:   int(left / time.Hour),
		Minutes: int((left % time.Hour) / time.Minute),
	}
}
