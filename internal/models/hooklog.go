package models

import "time"

type HookLogStatus string

const (
	HookLogPending    HookLogStatus = "pending"
	HookLogInProgress HookLogStatus = "in_progress"
	HookLogSuccess    HookLogStatus = "success"
	HookLogFailed     HookLogStatus = "failed"
)

func (s HookLogStatus) Valid() bool {
	switch s {
	case HookLogPending, HookLogInProgress, HookLogSuccess, HookLogFailed:
		return true
	}
	return false
}

// CanTransition reports whether the delivery log state machine allows from -> to.
func CanTransition(from, to HookLogStatus) bool {
	switch to {
	case HookLogInProgress:
		return from == HookLogPending || from == HookLogFailed
	case HookLogSuccess:
		return from == HookLogInProgress
	case HookLogFailed:
		// attempt outcome, or operator override from any non-success state
		return from != HookLogSuccess
	case HookLogPending:
		// operator retry
		return from == HookLogFailed
	}
	return false
}

// HookLog records one delivery attempt-series of a submission to a hook.
// Only the latest attempt's status code and message are kept.
type HookLog struct {
	ID           string        `json:"id"`
	HookID       string        `json:"hook_id"`
	SubmissionID string        `json:"submission_id"`
	Status       HookLogStatus `json:"status"`
	StatusCode   int           `json:"status_code"`
	Message      string        `json:"message"`
	RetryCount   int           `json:"retry_count"`
	// Generation is bumped by every claim and operator action; a dispatched
	// task only runs if the generation it was scheduled with is still current.
	Generation    int64      `json:"-"`
	Payload       []byte     `json:"-"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Delivered is the only reportable "delivered" condition.
func (l *HookLog) Delivered() bool {
	return l.Status == HookLogSuccess
}

type HookStats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"in_progress"`
	Success    int64 `json:"success"`
	Failed     int64 `json:"failed"`
}
