package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shohag/formhook/internal/models"
)

type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of "?"
	numbered bool
	schema   []string
}

// SQLStorage implements Storage over database/sql for every supported dialect.
type SQLStorage struct {
	db      *sql.DB
	dialect dialect
}

// q rewrites "?" placeholders for dialects that number them.
func (s *SQLStorage) q(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStorage) Migrate(ctx context.Context) error {
	for _, q := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

// --- Forms ---

const formColumns = `uid, name, owner_id, version_id, fields, created_at, updated_at`

func (s *SQLStorage) CreateForm(ctx context.Context, f *models.Form) error {
	fields, err := json.Marshal(f.Fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO forms (`+formColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		f.UID, f.Name, f.OwnerID, f.VersionID, string(fields), f.CreatedAt, f.UpdatedAt,
	)
	return err
}

func scanForm(row scanner) (*models.Form, error) {
	var f models.Form
	var fields string
	if err := row.Scan(&f.UID, &f.Name, &f.OwnerID, &f.VersionID, &fields, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &f.Fields); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLStorage) GetForm(ctx context.Context, uid string) (*models.Form, error) {
	f, err := scanForm(s.db.QueryRowContext(ctx, s.q(`SELECT `+formColumns+` FROM forms WHERE uid = ?`), uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

func (s *SQLStorage) ListForms(ctx context.Context) ([]models.Form, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+formColumns+` FROM forms ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var forms []models.Form
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		forms = append(forms, *f)
	}
	return forms, rows.Err()
}

// --- Submissions ---

func (s *SQLStorage) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	fields, err := json.Marshal(sub.Fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO submissions (id, form_uid, owner_id, version_id, fields, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		sub.ID, sub.FormUID, sub.OwnerID, sub.VersionID, string(fields), sub.CreatedAt,
	)
	return err
}

func (s *SQLStorage) GetSubmission(ctx context.Context, formUID, submissionID, ownerID string) (*models.Submission, error) {
	var sub models.Submission
	var fields string
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, form_uid, owner_id, version_id, fields, created_at FROM submissions
		 WHERE id = ? AND form_uid = ? AND owner_id = ?`),
		submissionID, formUID, ownerID,
	).Scan(&sub.ID, &sub.FormUID, &sub.OwnerID, &sub.VersionID, &fields, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &sub.Fields); err != nil {
		return nil, err
	}
	return &sub, nil
}

// --- Hooks ---

const hookColumns = `id, form_uid, name, endpoint, active, format, subset_fields, payload_template, settings, created_at, updated_at`

func (s *SQLStorage) CreateHook(ctx context.Context, h *models.Hook) error {
	subset, settings, err := encodeHook(h)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO hooks (`+hookColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		h.ID, h.FormUID, h.Name, h.Endpoint, h.Active, string(h.Format), subset, h.PayloadTemplate, settings, h.CreatedAt, h.UpdatedAt,
	)
	return err
}

func encodeHook(h *models.Hook) (string, string, error) {
	subset := h.SubsetFields
	if subset == nil {
		subset = []string{}
	}
	subsetJSON, err := json.Marshal(subset)
	if err != nil {
		return "", "", err
	}
	settingsJSON, err := json.Marshal(h.Settings)
	if err != nil {
		return "", "", err
	}
	return string(subsetJSON), string(settingsJSON), nil
}

func scanHook(row scanner) (*models.Hook, error) {
	var h models.Hook
	var format, subset, settings string
	err := row.Scan(&h.ID, &h.FormUID, &h.Name, &h.Endpoint, &h.Active, &format, &subset, &h.PayloadTemplate, &settings, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	h.Format = models.ExportFormat(format)
	if err := json.Unmarshal([]byte(subset), &h.SubsetFields); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settings), &h.Settings); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *SQLStorage) GetHook(ctx context.Context, id string) (*models.Hook, error) {
	h, err := scanHook(s.db.QueryRowContext(ctx, s.q(`SELECT `+hookColumns+` FROM hooks WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

func (s *SQLStorage) listHooks(ctx context.Context, query string, args ...any) ([]models.Hook, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hooks []models.Hook
	for rows.Next() {
		h, err := scanHook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, *h)
	}
	return hooks, rows.Err()
}

func (s *SQLStorage) ListHooks(ctx context.Context, formUID string) ([]models.Hook, error) {
	return s.listHooks(ctx, `SELECT `+hookColumns+` FROM hooks WHERE form_uid = ? ORDER BY created_at`, formUID)
}

func (s *SQLStorage) ListActiveHooks(ctx context.Context, formUID string) ([]models.Hook, error) {
	return s.listHooks(ctx, `SELECT `+hookColumns+` FROM hooks WHERE form_uid = ? AND active = ? ORDER BY created_at`, formUID, true)
}

func (s *SQLStorage) UpdateHook(ctx context.Context, h *models.Hook) error {
	subset, settings, err := encodeHook(h)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`UPDATE hooks SET name = ?, endpoint = ?, active = ?, format = ?, subset_fields = ?, payload_template = ?, settings = ?, updated_at = ?
		 WHERE id = ?`),
		h.Name, h.Endpoint, h.Active, string(h.Format), subset, h.PayloadTemplate, settings, h.UpdatedAt, h.ID,
	)
	return err
}

// DeleteHook removes the hook and its logs, unless a log is still pending or
// in progress.
func (s *SQLStorage) DeleteHook(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var busy int
	err = tx.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*) FROM hook_logs WHERE hook_id = ? AND status IN (?, ?)`),
		id, models.HookLogPending, models.HookLogInProgress,
	).Scan(&busy)
	if err != nil {
		return err
	}
	if busy > 0 {
		return ErrHookBusy
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM hook_logs WHERE hook_id = ?`), id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM hooks WHERE id = ?`), id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Hook logs ---

const hookLogColumns = `id, hook_id, submission_id, status, status_code, message, retry_count, generation, payload, next_attempt_at, created_at, updated_at`

func scanHookLog(row scanner) (*models.HookLog, error) {
	var l models.HookLog
	var status string
	err := row.Scan(&l.ID, &l.HookID, &l.SubmissionID, &status, &l.StatusCode, &l.Message, &l.RetryCount,
		&l.Generation, &l.Payload, &l.NextAttemptAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Status = models.HookLogStatus(status)
	return &l, nil
}

func (s *SQLStorage) queryHookLog(ctx context.Context, query string, args ...any) (*models.HookLog, error) {
	l, err := scanHookLog(s.db.QueryRowContext(ctx, s.q(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (s *SQLStorage) listHookLogs(ctx context.Context, query string, args ...any) ([]models.HookLog, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.HookLog
	for rows.Next() {
		l, err := scanHookLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

// CreateHookLog inserts l unless a log already exists for the same hook and
// submission, in which case the existing one is returned with created=false.
func (s *SQLStorage) CreateHookLog(ctx context.Context, l *models.HookLog) (*models.HookLog, bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO hook_logs (`+hookLogColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (hook_id, submission_id) DO NOTHING`),
		l.ID, l.HookID, l.SubmissionID, string(l.Status), l.StatusCode, l.Message, l.RetryCount,
		l.Generation, l.Payload, l.NextAttemptAt, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	stored, err := s.queryHookLog(ctx,
		`SELECT `+hookLogColumns+` FROM hook_logs WHERE hook_id = ? AND submission_id = ?`, l.HookID, l.SubmissionID)
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

func (s *SQLStorage) GetHookLog(ctx context.Context, id string) (*models.HookLog, error) {
	return s.queryHookLog(ctx, `SELECT `+hookLogColumns+` FROM hook_logs WHERE id = ?`, id)
}

func (s *SQLStorage) ListHookLogs(ctx context.Context, f LogFilter) ([]models.HookLog, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `SELECT ` + hookLogColumns + ` FROM hook_logs WHERE hook_id = ?`
	args := []any{f.HookID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)
	return s.listHookLogs(ctx, query, args...)
}

// ClaimHookLog moves a pending or failed log to in_progress if its generation
// still matches, and returns it with the bumped generation. Claiming a failed
// log starts a retry: its retry count is incremented and the claim is refused
// once the count has reached maxRetries. A nil log means another dispatch got
// there first or the task is stale.
func (s *SQLStorage) ClaimHookLog(ctx context.Context, id string, generation int64, maxRetries int, now time.Time) (*models.HookLog, error) {
	return s.queryHookLog(ctx,
		`UPDATE hook_logs SET status = ?,
		   retry_count = CASE WHEN status = ? THEN retry_count + 1 ELSE retry_count END,
		   generation = generation + 1, next_attempt_at = NULL, updated_at = ?
		 WHERE id = ? AND generation = ? AND (status = ? OR (status = ? AND retry_count < ?))
		 RETURNING `+hookLogColumns,
		string(models.HookLogInProgress), string(models.HookLogFailed), now,
		id, generation, string(models.HookLogPending), string(models.HookLogFailed), maxRetries,
	)
}

func (s *SQLStorage) SaveHookLogPayload(ctx context.Context, id string, generation int64, payload []byte) (bool, error) {
	return s.execOne(ctx,
		`UPDATE hook_logs SET payload = ? WHERE id = ? AND generation = ? AND status = ?`,
		payload, id, generation, string(models.HookLogInProgress),
	)
}

// CompleteHookLog records the outcome of the in-flight attempt of the given
// generation. It is a no-op once an operator action or a newer claim has
// moved the log on.
func (s *SQLStorage) CompleteHookLog(ctx context.Context, id string, generation int64, c Completion) (bool, error) {
	return s.execOne(ctx,
		`UPDATE hook_logs SET status = ?, status_code = ?, message = ?, next_attempt_at = ?, updated_at = ?
		 WHERE id = ? AND generation = ? AND status = ?`,
		string(c.Status), c.StatusCode, c.Message, c.NextAttemptAt, c.UpdatedAt,
		id, generation, string(models.HookLogInProgress),
	)
}

// ParkHookLog stops automatic dispatch of a failed log without touching its
// status or retry count.
func (s *SQLStorage) ParkHookLog(ctx context.Context, id string, generation int64, now time.Time) (bool, error) {
	return s.execOne(ctx,
		`UPDATE hook_logs SET next_attempt_at = NULL, updated_at = ? WHERE id = ? AND generation = ? AND status = ?`,
		now, id, generation, string(models.HookLogFailed),
	)
}

// FailHookLog forces a non-successful log to failed. The retry count is kept
// and the generation bump voids every task still scheduled for it.
func (s *SQLStorage) FailHookLog(ctx context.Context, id string, now time.Time) (*models.HookLog, error) {
	return s.queryHookLog(ctx,
		`UPDATE hook_logs SET status = ?, generation = generation + 1, next_attempt_at = NULL, updated_at = ?
		 WHERE id = ? AND status <> ?
		 RETURNING `+hookLogColumns,
		string(models.HookLogFailed), now, id, string(models.HookLogSuccess),
	)
}

// ResetHookLog puts a failed log back to pending with a fresh retry budget.
func (s *SQLStorage) ResetHookLog(ctx context.Context, id string, now time.Time) (*models.HookLog, error) {
	return s.queryHookLog(ctx,
		`UPDATE hook_logs SET status = ?, retry_count = 0, generation = generation + 1, next_attempt_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ?
		 RETURNING `+hookLogColumns,
		string(models.HookLogPending), now, id, string(models.HookLogFailed),
	)
}

// ListDueHookLogs returns pending logs and failed logs whose retry is due.
func (s *SQLStorage) ListDueHookLogs(ctx context.Context, now time.Time, limit int) ([]models.HookLog, error) {
	return s.listHookLogs(ctx,
		`SELECT `+hookLogColumns+` FROM hook_logs
		 WHERE (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
		    OR (status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		string(models.HookLogPending), now, string(models.HookLogFailed), now, limit,
	)
}

func (s *SQLStorage) ListStaleHookLogs(ctx context.Context, before time.Time, limit int) ([]models.HookLog, error) {
	return s.listHookLogs(ctx,
		`SELECT `+hookLogColumns+` FROM hook_logs WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC LIMIT ?`,
		string(models.HookLogInProgress), before, limit,
	)
}

func (s *SQLStorage) GetHookStats(ctx context.Context, hookID string) (*models.HookStats, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT status, COUNT(*) FROM hook_logs WHERE hook_id = ? GROUP BY status`), hookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.HookStats{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		switch models.HookLogStatus(status) {
		case models.HookLogPending:
			stats.Pending = n
		case models.HookLogInProgress:
			stats.InProgress = n
		case models.HookLogSuccess:
			stats.Success = n
		case models.HookLogFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

func (s *SQLStorage) execOne(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
