package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/formhook/internal/config"
	"github.com/shohag/formhook/internal/faults"
	"github.com/shohag/formhook/internal/metrics"
	"github.com/shohag/formhook/internal/models"
	"github.com/shohag/formhook/internal/payload"
	"github.com/shohag/formhook/internal/storage"
)

const interruptedMessage = "attempt interrupted"

// Engine turns submissions into hook logs and drives each log through its
// delivery attempts. Every transition is a compare-and-set on the log's
// generation, so duplicate or stale tasks are harmless.
type Engine struct {
	store      storage.Storage
	client     Deliverer
	tasks      Scheduler
	maxRetries int
	schedule   []time.Duration
	staleAfter time.Duration
	grace      time.Duration
	log        zerolog.Logger
	now        func() time.Time

	queueMu sync.Mutex
	queued  map[queuedAttempt]struct{}
}

// queuedAttempt identifies an attempt handed to the scheduler and not yet
// finished.
type queuedAttempt struct {
	logID      string
	generation int64
}

func NewEngine(store storage.Storage, client Deliverer, tasks Scheduler, cfg config.DeliveryConfig, log zerolog.Logger) *Engine {
	schedule := cfg.RetrySchedule
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	return &Engine{
		store:      store,
		client:     client,
		tasks:      tasks,
		maxRetries: cfg.MaxRetries,
		schedule:   schedule,
		staleAfter: cfg.StaleAfter,
		grace:      2 * cfg.PollInterval,
		log:        log.With().Str("component", "delivery").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		queued:     make(map[queuedAttempt]struct{}),
	}
}

// TriggerDelivery records a pending log for the hook and submission and
// dispatches its first attempt. Triggering the same pair twice returns the
// existing log without a second dispatch.
func (e *Engine) TriggerDelivery(ctx context.Context, hookID, submissionID string) (*models.HookLog, error) {
	hook, err := e.store.GetHook(ctx, hookID)
	if err != nil {
		return nil, faults.NewInternal(err, "load hook")
	}
	if hook == nil {
		return nil, faults.NewHookNotFound(hookID)
	}
	if !hook.Active {
		return nil, faults.NewHookInactive(hookID)
	}
	return e.trigger(ctx, hook, submissionID)
}

// TriggerSubmission fans a new submission out to every active hook of its form.
func (e *Engine) TriggerSubmission(ctx context.Context, formUID, submissionID string) ([]models.HookLog, error) {
	hooks, err := e.store.ListActiveHooks(ctx, formUID)
	if err != nil {
		return nil, faults.NewInternal(err, "list active hooks")
	}

	logs := make([]models.HookLog, 0, len(hooks))
	for i := range hooks {
		l, err := e.trigger(ctx, &hooks[i], submissionID)
		if err != nil {
			return logs, err
		}
		logs = append(logs, *l)
	}
	return logs, nil
}

func (e *Engine) trigger(ctx context.Context, hook *models.Hook, submissionID string) (*models.HookLog, error) {
	now := e.now()
	l, created, err := e.store.CreateHookLog(ctx, &models.HookLog{
		ID:           models.NewID("hl"),
		HookID:       hook.ID,
		SubmissionID: submissionID,
		Status:       models.HookLogPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, faults.NewInternal(err, "create hook log")
	}
	if created {
		e.log.Debug().Str("log_id", l.ID).Str("hook_id", hook.ID).Str("submission_id", submissionID).Msg("delivery triggered")
		e.dispatch(l.ID, l.Generation)
	}
	return l, nil
}

// dispatch queues an attempt for the log at generation. It reports false when
// the same attempt is already queued or running.
func (e *Engine) dispatch(logID string, generation int64) bool {
	key := queuedAttempt{logID: logID, generation: generation}
	e.queueMu.Lock()
	if _, ok := e.queued[key]; ok {
		e.queueMu.Unlock()
		return false
	}
	e.queued[key] = struct{}{}
	e.queueMu.Unlock()

	e.tasks.RunNow(func(ctx context.Context) {
		defer func() {
			e.queueMu.Lock()
			delete(e.queued, key)
			e.queueMu.Unlock()
		}()
		e.Attempt(ctx, logID, generation)
	})
	return true
}

func (e *Engine) attemptTask(logID string, generation int64) Task {
	return func(ctx context.Context) { e.Attempt(ctx, logID, generation) }
}

// Attempt performs one delivery attempt for the log if it is still at the
// given generation. It never returns an error: every outcome, including a
// panic, ends as a written update of the log.
func (e *Engine) Attempt(ctx context.Context, logID string, generation int64) {
	current, err := e.store.GetHookLog(ctx, logID)
	if err != nil {
		e.log.Error().Err(err).Str("log_id", logID).Msg("failed to load hook log")
		return
	}
	if current == nil || current.Generation != generation {
		return
	}

	isRetry := current.Status == models.HookLogFailed
	hook, err := e.store.GetHook(ctx, current.HookID)
	if err != nil {
		e.log.Error().Err(err).Str("log_id", logID).Msg("failed to load hook")
		return
	}
	if isRetry && (hook == nil || !hook.Active) {
		if _, err := e.store.ParkHookLog(ctx, logID, generation, e.now()); err != nil {
			e.log.Error().Err(err).Str("log_id", logID).Msg("failed to park hook log")
		}
		e.log.Info().Str("log_id", logID).Msg("retry skipped, hook is no longer active")
		return
	}

	l, err := e.store.ClaimHookLog(ctx, logID, generation, e.maxRetries, e.now())
	if err != nil {
		e.log.Error().Err(err).Str("log_id", logID).Msg("failed to claim hook log")
		return
	}
	if l == nil {
		if isRetry && current.RetryCount >= e.maxRetries {
			// retry budget shrank since this retry was scheduled
			if _, err := e.store.ParkHookLog(ctx, logID, generation, e.now()); err != nil {
				e.log.Error().Err(err).Str("log_id", logID).Msg("failed to park hook log")
			}
		}
		return
	}

	defer func() {
		if v := recover(); v != nil {
			e.log.Error().Interface("panic", v).Str("log_id", logID).Msg("delivery attempt panicked")
			e.finish(ctx, l, hook, Outcome{
				Body: fmt.Sprintf("internal error: %v", v),
				Err:  faults.NewInternal(fmt.Errorf("%v", v), "delivery attempt panicked"),
			})
		}
	}()

	e.finish(ctx, l, hook, e.deliver(ctx, l, hook))
}

func (e *Engine) deliver(ctx context.Context, l *models.HookLog, hook *models.Hook) Outcome {
	if hook == nil {
		err := faults.NewHookNotFound(l.HookID)
		return Outcome{Body: faults.Message(err), Err: err}
	}

	svc, err := payload.ServiceFor(hook.Format)
	if err != nil {
		return Outcome{Body: faults.Message(err), Err: err}
	}

	body := l.Payload
	if body == nil {
		body, err = e.render(ctx, hook, l.SubmissionID)
		if err != nil {
			return Outcome{Body: faults.Message(err), Err: err}
		}
		ok, err := e.store.SaveHookLogPayload(ctx, l.ID, l.Generation, body)
		if err != nil {
			err = faults.NewInternal(err, "store rendered payload")
			return Outcome{Body: faults.Message(err), Err: err}
		}
		if !ok {
			return Outcome{Body: "hook log moved on before delivery", Err: errLogMoved}
		}
	}

	out := e.client.Deliver(ctx, Request{
		Hook:        hook,
		LogID:       l.ID,
		ContentType: svc.ContentType(),
		Payload:     body,
	})

	outcome := "success"
	if !out.Success {
		outcome = "failed"
	}
	metrics.DeliveryAttemptsTotal.WithLabelValues(string(hook.Format), outcome).Inc()
	return out
}

var errLogMoved = errors.New("delivery: hook log moved on")

func (e *Engine) render(ctx context.Context, hook *models.Hook, submissionID string) ([]byte, error) {
	form, err := e.store.GetForm(ctx, hook.FormUID)
	if err != nil {
		return nil, faults.NewInternal(err, "load form")
	}
	if form == nil {
		return nil, faults.NewFormNotFound(hook.FormUID)
	}
	return payload.Build(ctx, e.store, hook, form, submissionID)
}

// finish writes the outcome of the attempt claimed as l. A retryable failure
// of an active hook with retries left is rescheduled on the backoff schedule.
func (e *Engine) finish(ctx context.Context, l *models.HookLog, hook *models.Hook, out Outcome) {
	if errors.Is(out.Err, errLogMoved) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	now := e.now()

	c := storage.Completion{
		Status:     models.HookLogFailed,
		StatusCode: out.StatusCode,
		Message:    out.Body,
		UpdatedAt:  now,
	}

	var delay time.Duration
	retry := false
	switch {
	case out.Success:
		c.Status = models.HookLogSuccess
	case faults.Retryable(out.Err) && l.RetryCount < e.maxRetries && hook != nil && hook.Active:
		retry = true
		delay = Backoff(l.RetryCount+1, e.schedule)
		next := now.Add(delay)
		c.NextAttemptAt = &next
	}

	ok, err := e.store.CompleteHookLog(ctx, l.ID, l.Generation, c)
	if err != nil {
		e.log.Error().Err(err).Str("log_id", l.ID).Msg("failed to record delivery outcome")
		return
	}
	if !ok {
		e.log.Info().Str("log_id", l.ID).Msg("delivery outcome dropped, hook log was changed meanwhile")
		return
	}

	event := e.log.Info()
	if !out.Success {
		event = e.log.Warn().Str("error", faults.Message(out.Err))
	}
	event.Str("log_id", l.ID).
		Str("hook_id", l.HookID).
		Int("status_code", out.StatusCode).
		Int("retry_count", l.RetryCount).
		Dur("latency", out.Latency).
		Msg("delivery attempt finished")

	if retry {
		metrics.RetriesScheduledTotal.Inc()
		e.tasks.Schedule(e.attemptTask(l.ID, l.Generation), delay)
		return
	}
	metrics.HookLogsFinalTotal.WithLabelValues(string(c.Status)).Inc()
}

// Retry puts a failed log back to pending with a fresh retry budget and
// dispatches it.
func (e *Engine) Retry(ctx context.Context, logID string) (*models.HookLog, error) {
	current, err := e.getLog(ctx, logID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(current.Status, models.HookLogPending) {
		return nil, faults.NewInvalidTransition(string(current.Status), string(models.HookLogPending))
	}
	hook, err := e.store.GetHook(ctx, current.HookID)
	if err != nil {
		return nil, faults.NewInternal(err, "load hook")
	}
	if hook == nil {
		return nil, faults.NewHookNotFound(current.HookID)
	}
	if !hook.Active {
		return nil, faults.NewHookInactive(hook.ID)
	}

	l, err := e.store.ResetHookLog(ctx, logID, e.now())
	if err != nil {
		return nil, faults.NewInternal(err, "reset hook log")
	}
	if l == nil {
		return nil, faults.NewInvalidTransition(string(current.Status), string(models.HookLogPending))
	}
	e.dispatch(l.ID, l.Generation)
	return l, nil
}

// RetryFailed resets and dispatches every failed log of the hook. It returns
// how many logs were re-queued.
func (e *Engine) RetryFailed(ctx context.Context, hookID string) (int, error) {
	hook, err := e.store.GetHook(ctx, hookID)
	if err != nil {
		return 0, faults.NewInternal(err, "load hook")
	}
	if hook == nil {
		return 0, faults.NewHookNotFound(hookID)
	}
	if !hook.Active {
		return 0, faults.NewHookInactive(hookID)
	}

	const page = 100
	var failed []models.HookLog
	for offset := 0; ; offset += page {
		logs, err := e.store.ListHookLogs(ctx, storage.LogFilter{
			HookID: hookID, Status: models.HookLogFailed, Limit: page, Offset: offset,
		})
		if err != nil {
			return 0, faults.NewInternal(err, "list failed hook logs")
		}
		failed = append(failed, logs...)
		if len(logs) < page {
			break
		}
	}

	n := 0
	for _, f := range failed {
		l, err := e.store.ResetHookLog(ctx, f.ID, e.now())
		if err != nil {
			return n, faults.NewInternal(err, "reset hook log")
		}
		if l == nil {
			continue
		}
		e.dispatch(l.ID, l.Generation)
		n++
	}
	return n, nil
}

// ForceFail marks a log failed regardless of its in-flight state. Scheduled
// retries and late outcomes of the voided attempt are discarded.
func (e *Engine) ForceFail(ctx context.Context, logID string) (*models.HookLog, error) {
	current, err := e.getLog(ctx, logID)
	if err != nil {
		return nil, err
	}
	if current.Delivered() {
		return nil, faults.NewInvalidTransition(string(current.Status), string(models.HookLogFailed))
	}
	l, err := e.store.FailHookLog(ctx, logID, e.now())
	if err != nil {
		return nil, faults.NewInternal(err, "fail hook log")
	}
	if l == nil {
		return nil, faults.NewInvalidTransition(string(current.Status), string(models.HookLogFailed))
	}
	e.log.Info().Str("log_id", l.ID).Msg("hook log forced to failed")
	return l, nil
}

func (e *Engine) getLog(ctx context.Context, logID string) (*models.HookLog, error) {
	l, err := e.store.GetHookLog(ctx, logID)
	if err != nil {
		return nil, faults.NewInternal(err, "load hook log")
	}
	if l == nil {
		return nil, faults.NewLogNotFound(logID)
	}
	return l, nil
}

// DispatchDue dispatches up to limit logs that are pending or whose retry
// time has come. Pending logs younger than the grace period still have their
// first task queued and are left alone, as are logs whose attempt is already
// queued. It returns how many were dispatched.
func (e *Engine) DispatchDue(ctx context.Context, limit int) (int, error) {
	now := e.now()
	due, err := e.store.ListDueHookLogs(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, l := range due {
		if l.Status == models.HookLogPending && now.Sub(l.UpdatedAt) < e.grace {
			continue
		}
		if e.dispatch(l.ID, l.Generation) {
			n++
		}
	}
	return n, nil
}

// RecoverStale fails attempts that have been in flight longer than the
// configured staleness window, scheduling a retry where one is allowed.
func (e *Engine) RecoverStale(ctx context.Context, limit int) (int, error) {
	if e.staleAfter <= 0 {
		return 0, nil
	}
	stale, err := e.store.ListStaleHookLogs(ctx, e.now().Add(-e.staleAfter), limit)
	if err != nil {
		return 0, err
	}
	for i := range stale {
		l := &stale[i]
		hook, err := e.store.GetHook(ctx, l.HookID)
		if err != nil {
			return i, err
		}
		e.log.Warn().Str("log_id", l.ID).Time("since", l.UpdatedAt).Msg("recovering interrupted delivery")
		e.finish(ctx, l, hook, Outcome{
			Body: interruptedMessage,
			Err:  faults.NewTransportFailure(errors.New(interruptedMessage)),
		})
	}
	return len(stale), nil
}
