package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shohag/formhook/internal/models"
)

func newTestStore(t *testing.T) *SQLStorage {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "formhook.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedHook(t *testing.T, s *SQLStorage) (*models.Form, *models.Hook) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	form := &models.Form{UID: "aForm", Name: "survey", OwnerID: "owner", VersionID: "v1",
		Fields: []string{"q1", "group1/q2"}, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateForm(ctx, form); err != nil {
		t.Fatalf("create form: %v", err)
	}
	hook := &models.Hook{
		ID: models.NewID("hk"), FormUID: form.UID, Name: "ext", Endpoint: "http://external.service.local/",
		Active: true, Format: models.FormatJSON, SubsetFields: []string{"q1"},
		Settings:  models.HookSettings{CustomHeaders: map[string]string{"X-Token": "1234abcd"}},
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateHook(ctx, hook); err != nil {
		t.Fatalf("create hook: %v", err)
	}
	return form, hook
}

func seedLog(t *testing.T, s *SQLStorage, hookID, submissionID string) *models.HookLog {
	t.Helper()
	now := time.Now().UTC()
	l, created, err := s.CreateHookLog(context.Background(), &models.HookLog{
		ID: models.NewID("hl"), HookID: hookID, SubmissionID: submissionID,
		Status: models.HookLogPending, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil || !created {
		t.Fatalf("create log: created=%v err=%v", created, err)
	}
	return l
}

func TestHookRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, hook := seedHook(t, s)

	got, err := s.GetHook(ctx, hook.ID)
	if err != nil || got == nil {
		t.Fatalf("get hook: %v %v", got, err)
	}
	if !got.Active || got.Format != models.FormatJSON || got.Settings.CustomHeaders["X-Token"] != "1234abcd" {
		t.Fatalf("hook not stored faithfully: %+v", got)
	}
	if len(got.SubsetFields) != 1 || got.SubsetFields[0] != "q1" {
		t.Fatalf("unexpected subset fields %v", got.SubsetFields)
	}

	got.Active = false
	got.UpdatedAt = time.Now().UTC()
	if err := s.UpdateHook(ctx, got); err != nil {
		t.Fatalf("update hook: %v", err)
	}
	active, err := s.ListActiveHooks(ctx, "aForm")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active hooks, got %d", len(active))
	}

	if missing, err := s.GetHook(ctx, "hk_missing"); err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing hook, got %v %v", missing, err)
	}
}

func TestSubmissionOwnerScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedHook(t, s)

	sub := &models.Submission{ID: "sub_1", FormUID: "aForm", OwnerID: "owner", VersionID: "v1",
		Fields: []models.FieldValue{{Path: "q1", Value: "one"}}, CreatedAt: time.Now().UTC()}
	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("create submission: %v", err)
	}
	got, err := s.GetSubmission(ctx, "aForm", "sub_1", "owner")
	if err != nil || got == nil || got.Fields[0].Value != "one" {
		t.Fatalf("get submission: %+v %v", got, err)
	}
	if other, err := s.GetSubmission(ctx, "aForm", "sub_1", "someone-else"); err != nil || other != nil {
		t.Fatalf("expected submission hidden from other owner, got %+v %v", other, err)
	}
}

func TestCreateHookLogIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	_, hook := seedHook(t, s)
	first := seedLog(t, s, hook.ID, "sub_1")

	now := time.Now().UTC()
	again, created, err := s.CreateHookLog(context.Background(), &models.HookLog{
		ID: models.NewID("hl"), HookID: hook.ID, SubmissionID: "sub_1",
		Status: models.HookLogPending, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("expected the existing log back, got created=%v id=%s", created, again.ID)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	s := newTestStore(t)
	_, hook := seedHook(t, s)
	l := seedLog(t, s, hook.ID, "sub_1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimHookLog(context.Background(), l.ID, l.Generation, 3, time.Now().UTC())
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if claimed != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one claim to win, got %d", winners)
	}

	got, _ := s.GetHookLog(context.Background(), l.ID)
	if got.Status != models.HookLogInProgress || got.Generation != l.Generation+1 {
		t.Fatalf("unexpected claimed log %+v", got)
	}
}

func TestCompleteRequiresCurrentGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, hook := seedHook(t, s)
	l := seedLog(t, s, hook.ID, "sub_1")

	claimed, err := s.ClaimHookLog(ctx, l.ID, 0, 3, time.Now().UTC())
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}
	ok, err := s.SaveHookLogPayload(ctx, l.ID, claimed.Generation, []byte(`{"q1":"one"}`))
	if err != nil || !ok {
		t.Fatalf("save payload: %v %v", ok, err)
	}

	stale := storageCompletion(models.HookLogSuccess, 200)
	if ok, _ := s.CompleteHookLog(ctx, l.ID, claimed.Generation-1, stale); ok {
		t.Fatalf("stale generation must not complete the log")
	}
	if ok, err := s.CompleteHookLog(ctx, l.ID, claimed.Generation, storageCompletion(models.HookLogFailed, 404)); err != nil || !ok {
		t.Fatalf("complete: %v %v", ok, err)
	}

	got, _ := s.GetHookLog(ctx, l.ID)
	if got.Status != models.HookLogFailed || got.StatusCode != 404 || string(got.Payload) != `{"q1":"one"}` {
		t.Fatalf("unexpected log %+v", got)
	}
}

func storageCompletion(status models.HookLogStatus, code int) Completion {
	return Completion{Status: status, StatusCode: code, Message: "msg", UpdatedAt: time.Now().UTC()}
}

func TestFailAndResetHookLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, hook := seedHook(t, s)
	l := seedLog(t, s, hook.ID, "sub_1")

	claimed, _ := s.ClaimHookLog(ctx, l.ID, 0, 3, time.Now().UTC())
	next := time.Now().UTC().Add(time.Hour)
	c := storageCompletion(models.HookLogFailed, 500)
	c.NextAttemptAt = &next
	if ok, _ := s.CompleteHookLog(ctx, l.ID, claimed.Generation, c); !ok {
		t.Fatalf("complete failed")
	}
	retry, err := s.ClaimHookLog(ctx, l.ID, claimed.Generation, 3, time.Now().UTC())
	if err != nil || retry == nil || retry.RetryCount != 1 {
		t.Fatalf("claiming a failed log must count a retry: %+v %v", retry, err)
	}
	s.CompleteHookLog(ctx, l.ID, retry.Generation, c)

	failed, err := s.FailHookLog(ctx, l.ID, time.Now().UTC())
	if err != nil || failed == nil {
		t.Fatalf("fail: %v %v", failed, err)
	}
	if failed.RetryCount != 1 || failed.NextAttemptAt != nil || failed.Generation != retry.Generation+1 {
		t.Fatalf("override must keep retries and void schedule: %+v", failed)
	}

	reset, err := s.ResetHookLog(ctx, l.ID, time.Now().UTC())
	if err != nil || reset == nil {
		t.Fatalf("reset: %v %v", reset, err)
	}
	if reset.Status != models.HookLogPending || reset.RetryCount != 0 {
		t.Fatalf("unexpected reset log %+v", reset)
	}
	if again, err := s.ResetHookLog(ctx, l.ID, time.Now().UTC()); err != nil || again != nil {
		t.Fatalf("reset of a pending log must be refused, got %+v %v", again, err)
	}
}

func TestFailHookLogRefusesSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, hook := seedHook(t, s)
	l := seedLog(t, s, hook.ID, "sub_1")
	claimed, _ := s.ClaimHookLog(ctx, l.ID, 0, 3, time.Now().UTC())
	s.CompleteHookLog(ctx, l.ID, claimed.Generation, storageCompletion(models.HookLogSuccess, 200))

	got, err := s.FailHookLog(ctx, l.ID, time.Now().UTC())
	if err != nil || got != nil {
		t.Fatalf("expected success to be final, got %+v %v", got, err)
	}
}

func TestListDueHookLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, hook := seedHook(t, s)
	pending := seedLog(t, s, hook.ID, "sub_pending")
	later := seedLog(t, s, hook.ID, "sub_later")
	parked := seedLog(t, s, hook.ID, "sub_parked")

	now := time.Now().UTC()
	future := now.Add(time.Hour)
	c, _ := s.ClaimHookLog(ctx, later.ID, 0, 3, now)
	fc := storageCompletion(models.HookLogFailed, 500)
	fc.NextAttemptAt = &future
	s.CompleteHookLog(ctx, later.ID, c.Generation, fc)

	c, _ = s.ClaimHookLog(ctx, parked.ID, 0, 3, now)
	s.CompleteHookLog(ctx, parked.ID, c.Generation, storageCompletion(models.HookLogFailed, 500))

	due, err := s.ListDueHookLogs(ctx, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].ID != pending.ID {
		t.Fatalf("expected only the pending log to be due, got %+v", due)
	}

	due, _ = s.ListDueHookLogs(ctx, future.Add(time.Second), 10)
	if len(due) != 2 {
		t.Fatalf("expected pending and retry logs due, got %d", len(due))
	}
}

func TestDeleteHookRefusedWhilePending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, hook := seedHook(t, s)
	l := seedLog(t, s, hook.ID, "sub_1")

	if err := s.DeleteHook(ctx, hook.ID); !errors.Is(err, ErrHookBusy) {
		t.Fatalf("expected ErrHookBusy, got %v", err)
	}

	claimed, _ := s.ClaimHookLog(ctx, l.ID, 0, 3, time.Now().UTC())
	s.CompleteHookLog(ctx, l.ID, claimed.Generation, storageCompletion(models.HookLogSuccess, 200))

	if err := s.DeleteHook(ctx, hook.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.GetHookLog(ctx, l.ID); got != nil {
		t.Fatalf("expected logs to be removed with the hook")
	}
}

func TestHookStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, hook := seedHook(t, s)
	seedLog(t, s, hook.ID, "sub_1")
	l := seedLog(t, s, hook.ID, "sub_2")
	claimed, _ := s.ClaimHookLog(ctx, l.ID, 0, 3, time.Now().UTC())
	s.CompleteHookLog(ctx, l.ID, claimed.Generation, storageCompletion(models.HookLogSuccess, 200))

	stats, err := s.GetHookStats(ctx, hook.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Pending != 1 || stats.Success != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPostgresPlaceholders(t *testing.T) {
	s := &SQLStorage{dialect: dialect{numbered: true}}
	got := s.q(`UPDATE t SET a = ? WHERE b = ? AND c IN (?, ?)`)
	want := `UPDATE t SET a = $1 WHERE b = $2 AND c IN ($3, $4)`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestClaimRefusesExhaustedRetries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, hook := seedHook(t, s)
	l := seedLog(t, s, hook.ID, "sub_1")

	claimed, _ := s.ClaimHookLog(ctx, l.ID, 0, 0, time.Now().UTC())
	if claimed == nil || claimed.RetryCount != 0 {
		t.Fatalf("first attempt must be claimable with no retries allowed: %+v", claimed)
	}
	s.CompleteHookLog(ctx, l.ID, claimed.Generation, storageCompletion(models.HookLogFailed, 500))

	again, err := s.ClaimHookLog(ctx, l.ID, claimed.Generation, 0, time.Now().UTC())
	if err != nil || again != nil {
		t.Fatalf("retry beyond the limit must be refused, got %+v %v", again, err)
	}
}
