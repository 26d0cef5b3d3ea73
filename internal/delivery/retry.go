package delivery

import "time"

var DefaultRetrySchedule = []time.Duration{
	1 * time.Minute,
	10 * time.Minute,
	100 * time.Minute,
}

// Backoff returns the delay before retry number n (1-indexed). Retries past
// the end of the schedule reuse its last delay, so the delay never decreases
// for a schedule that doesn't.
func Backoff(n int, schedule []time.Duration) time.Duration {
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	idx := n - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
