package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shohag/formhook/internal/models"
)

// ErrHookBusy is returned when deleting a hook whose logs are still pending
// or in flight.
var ErrHookBusy = errors.New("storage: hook has deliveries pending")

// Lookups return nil, nil when the row does not exist.
type Storage interface {
	// Forms
	CreateForm(ctx context.Context, f *models.Form) error
	GetForm(ctx context.Context, uid string) (*models.Form, error)
	ListForms(ctx context.Context) ([]models.Form, error)

	// Submissions
	CreateSubmission(ctx context.Context, sub *models.Submission) error
	GetSubmission(ctx context.Context, formUID, submissionID, ownerID string) (*models.Submission, error)

	// Hooks
	CreateHook(ctx context.Context, h *models.Hook) error
	GetHook(ctx context.Context, id string) (*models.Hook, error)
	ListHooks(ctx context.Context, formUID string) ([]models.Hook, error)
	ListActiveHooks(ctx context.Context, formUID string) ([]models.Hook, error)
	UpdateHook(ctx context.Context, h *models.Hook) error
	DeleteHook(ctx context.Context, id string) error

	// Hook logs
	CreateHookLog(ctx context.Context, l *models.HookLog) (*models.HookLog, bool, error)
	GetHookLog(ctx context.Context, id string) (*models.HookLog, error)
	ListHookLogs(ctx context.Context, filter LogFilter) ([]models.HookLog, error)
	ClaimHookLog(ctx context.Context, id string, generation int64, maxRetries int, now time.Time) (*models.HookLog, error)
	SaveHookLogPayload(ctx context.Context, id string, generation int64, payload []byte) (bool, error)
	CompleteHookLog(ctx context.Context, id string, generation int64, c Completion) (bool, error)
	ParkHookLog(ctx context.Context, id string, generation int64, now time.Time) (bool, error)
	FailHookLog(ctx context.Context, id string, now time.Time) (*models.HookLog, error)
	ResetHookLog(ctx context.Context, id string, now time.Time) (*models.HookLog, error)
	ListDueHookLogs(ctx context.Context, now time.Time, limit int) ([]models.HookLog, error)
	ListStaleHookLogs(ctx context.Context, before time.Time, limit int) ([]models.HookLog, error)
	GetHookStats(ctx context.Context, hookID string) (*models.HookStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type LogFilter struct {
	HookID string
	Status models.HookLogStatus
	Limit  int
	Offset int
}

// Completion is the outcome written when an attempt finishes.
type Completion struct {
	Status        models.HookLogStatus
	StatusCode    int
	Message       string
	NextAttemptAt *time.Time
	UpdatedAt     time.Time
}
