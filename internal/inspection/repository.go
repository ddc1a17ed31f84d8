package inspection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/db"
	"github.com/heimdex/heimdex-inspect/internal/frames"
)

type Repository interface {
	Create(ctx context.Context, insp *Inspection) error
	// CreateWithFrames inserts an inspection together with its frames
	// atomically.
	CreateWithFrames(ctx context.Context, insp *Inspection, fs []frames.Frame) error
	Get(ctx context.Context, id string) (*Inspection, error)
	List(ctx context.Context, filter ListFilter) ([]*Inspection, error)
	Delete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]*Inspection, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)

	AddFrames(ctx context.Context, frames []frames.Frame) error
	ListFrames(ctx context.Context, inspectionID string) ([]frames.Frame, error)

	// ListRunnable returns PENDING inspections and FAILED ones whose retry is
	// due, oldest first.
	ListRunnable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*Inspection, error)
	// Claim moves a runnable inspection to PROCESSING and counts the attempt.
	// It reports false when another worker got there first or the
	// inspection is no longer runnable.
	Claim(ctx context.Context, id string, maxAttempts int, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, message string, nextAttemptAt *time.Time, now time.Time) error
	MarkInterrupted(ctx context.Context, nextAttemptAt, now time.Time) (int, error)

	// SaveResults replaces the inspection's findings and scorecard in one
	// transaction. Prior action items are removed with the findings. The
	// returned findings carry their persisted ids.
	SaveResults(ctx context.Context, inspectionID string, results *Results, now time.Time) ([]*Finding, error)
	// CompleteWithActionItems replaces the action items and marks a
	// PROCESSING inspection COMPLETED.
	CompleteWithActionItems(ctx context.Context, inspectionID string, items []*ActionItem, now time.Time) error
	// ResetForReprocess clears results and makes the inspection PENDING
	// again. It fails with ErrConflict while the inspection is PROCESSING.
	ResetForReprocess(ctx context.Context, id string, now time.Time) error

	ListFindings(ctx context.Context, inspectionID string) ([]*Finding, error)
	GetFinding(ctx context.Context, id string) (*Finding, error)
	UpdateFindingReview(ctx context.Context, f *Finding) error

	ListActionItems(ctx context.Context, inspectionID string) ([]*ActionItem, error)
	GetActionItem(ctx context.Context, id string) (*ActionItem, error)
	UpdateActionItem(ctx context.Context, item *ActionItem) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

var scoreColumns = func() [compliance.NumScored]string {
	var cols [compliance.NumScored]string
	for i, c := range compliance.ScoredCategories {
		cols[i] = strings.ToLower(c.String()) + "_score"
	}
	return cols
}()

var inspectionColumns = "id, title, mode, status, overall_score, " +
	strings.Join(scoreColumns[:], ", ") +
	", frames_analyzed, warnings, error_message, attempts, next_attempt_at, expires_at, started_at, completed_at, created_at, updated_at"

const findingColumns = `id, inspection_id, frame_id, category, severity, title, description, bounding_box,
	confidence, average_confidence, affected_frame_count, first_timestamp, last_timestamp,
	recommended_action, estimated_minutes, position, is_resolved, is_approved, is_rejected, rejection_reason,
	created_at, updated_at`

const actionItemColumns = `id, inspection_id, finding_id, title, description, priority, status, due_date,
	notes, position, completed_at, created_at, updated_at`

const runnableWhere = `status = 'PENDING' OR (status = 'FAILED' AND attempts < %s AND next_attempt_at IS NOT NULL AND next_attempt_at <= %s)`

type scanner interface {
	Scan(dest ...any) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(conn *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: conn}
}

var _ Repository = (*SQLiteRepository)(nil)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLiteRepository) Create(ctx context.Context, insp *Inspection) error {
	return insertInspection(ctx, r.db, insp)
}

// CreateWithFrames inserts the inspection and its frames in one transaction,
// so the runner never sees a PENDING inspection without its frames.
func (r *SQLiteRepository) CreateWithFrames(ctx context.Context, insp *Inspection, fs []frames.Frame) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertInspection(ctx, tx, insp); err != nil {
		return fmt.Errorf("insert inspection: %w", err)
	}
	if err := insertFrames(ctx, tx, fs); err != nil {
		return err
	}
	return tx.Commit()
}

func insertInspection(ctx context.Context, db execer, insp *Inspection) error {
	warnings, err := encodeWarnings(insp.Warnings)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO inspections (id, title, mode, status, frames_analyzed, warnings, error_message, attempts,
			next_attempt_at, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, insp.ID, insp.Title, string(insp.Mode), string(insp.Status), insp.FramesAnalyzed, warnings, insp.ErrorMessage,
		insp.Attempts, nullTime(insp.NextAttemptAt), nullTime(insp.ExpiresAt), formatTime(insp.CreatedAt), formatTime(insp.UpdatedAt))
	return err
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Inspection, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+inspectionColumns+" FROM inspections WHERE id = ?", id)
	insp, err := scanInspection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return insp, err
}

func (r *SQLiteRepository) List(ctx context.Context, filter ListFilter) ([]*Inspection, error) {
	query := "SELECT " + inspectionColumns + " FROM inspections WHERE 1 = 1"
	var args []any
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, string(filter.Mode))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return r.queryInspections(ctx, query, args...)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM inspections WHERE id = ?", id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *SQLiteRepository) ListExpired(ctx context.Context, now time.Time) ([]*Inspection, error) {
	return r.queryInspections(ctx, "SELECT "+inspectionColumns+` FROM inspections
		WHERE mode = 'COACHING' AND expires_at IS NOT NULL AND expires_at <= ? AND status != 'PROCESSING'
		ORDER BY expires_at`, formatTime(now))
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM inspections GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func (r *SQLiteRepository) queryInspections(ctx context.Context, query string, args ...any) ([]*Inspection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Inspection
	for rows.Next() {
		insp, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, insp)
	}
	return out, rows.Err()
}

func scanInspection(s scanner) (*Inspection, error) {
	var insp Inspection
	var mode, status, warnings, createdAt, updatedAt string
	var overall sql.NullFloat64
	var scores [compliance.NumScored]sql.NullFloat64
	var nextAttempt, expires, started, completed sql.NullString

	dest := []any{&insp.ID, &insp.Title, &mode, &status, &overall}
	for i := range scores {
		dest = append(dest, &scores[i])
	}
	dest = append(dest, &insp.FramesAnalyzed, &warnings, &insp.ErrorMessage, &insp.Attempts,
		&nextAttempt, &expires, &started, &completed, &createdAt, &updatedAt)

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	insp.Mode = Mode(mode)
	insp.Status = Status(status)
	if overall.Valid {
		card := &compliance.Scorecard{Overall: overall.Float64}
		for i, sc := range scores {
			card.Scores[i] = sc.Float64
		}
		insp.Scorecard = card
	}
	if err := decodeWarnings([]byte(warnings), &insp.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings of %s: %w", insp.ID, err)
	}
	insp.NextAttemptAt = parseNullTime(nextAttempt)
	insp.ExpiresAt = parseNullTime(expires)
	insp.StartedAt = parseNullTime(started)
	insp.CompletedAt = parseNullTime(completed)
	insp.CreatedAt = parseTime(createdAt)
	insp.UpdatedAt = parseTime(updatedAt)
	return &insp, nil
}

func (r *SQLiteRepository) AddFrames(ctx context.Context, fs []frames.Frame) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertFrames(ctx, tx, fs); err != nil {
		return err
	}
	return tx.Commit()
}

func insertFrames(ctx context.Context, db execer, fs []frames.Frame) error {
	for _, f := range fs {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO frames (id, inspection_id, frame_number, timestamp, path, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, f.ID, f.InspectionID, f.Number, f.Timestamp, f.Path, formatTime(f.CreatedAt)); err != nil {
			return fmt.Errorf("insert frame %d: %w", f.Number, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) ListFrames(ctx context.Context, inspectionID string) ([]frames.Frame, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, inspection_id, frame_number, timestamp, path, created_at
		FROM frames WHERE inspection_id = ? ORDER BY timestamp, frame_number
	`, inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []frames.Frame
	for rows.Next() {
		var f frames.Frame
		var createdAt string
		if err := rows.Scan(&f.ID, &f.InspectionID, &f.Number, &f.Timestamp, &f.Path, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt = parseTime(createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListRunnable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*Inspection, error) {
	query := "SELECT " + inspectionColumns + " FROM inspections WHERE " +
		fmt.Sprintf(runnableWhere, "?", "?") + " ORDER BY created_at LIMIT ?"
	return r.queryInspections(ctx, query, maxAttempts, formatTime(now), limit)
}

func (r *SQLiteRepository) Claim(ctx context.Context, id string, maxAttempts int, now time.Time) (bool, error) {
	ts := formatTime(now)
	res, err := r.db.ExecContext(ctx, `
		UPDATE inspections
		SET status = 'PROCESSING', attempts = attempts + 1, started_at = ?, next_attempt_at = NULL, updated_at = ?
		WHERE id = ? AND (`+fmt.Sprintf(runnableWhere, "?", "?")+`)
	`, ts, ts, id, maxAttempts, ts)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id, message string, nextAttemptAt *time.Time, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE inspections SET status = 'FAILED', error_message = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?
	`, message, nullTime(nextAttemptAt), formatTime(now), id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *SQLiteRepository) MarkInterrupted(ctx context.Context, nextAttemptAt, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE inspections SET status = 'FAILED', error_message = ?, next_attempt_at = ?, updated_at = ?
		WHERE status = 'PROCESSING'
	`, InterruptedMessage, formatTime(nextAttemptAt), formatTime(now))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SQLiteRepository) SaveResults(ctx context.Context, inspectionID string, results *Results, now time.Time) ([]*Finding, error) {
	warnings, err := encodeWarnings(results.Warnings)
	if err != nil {
		return nil, err
	}
	ts := formatTime(now)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sets := []string{"overall_score = ?"}
	args := []any{results.Scorecard.Overall}
	for i, col := range scoreColumns {
		sets = append(sets, col+" = ?")
		args = append(args, results.Scorecard.Scores[i])
	}
	sets = append(sets, "frames_analyzed = ?", "warnings = ?", "updated_at = ?")
	args = append(args, results.FramesAnalyzed, warnings, ts, inspectionID)

	res, err := tx.ExecContext(ctx, "UPDATE inspections SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update scorecard: %w", err)
	}
	if err := expectRow(res); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM action_items WHERE inspection_id = ?", inspectionID); err != nil {
		return nil, fmt.Errorf("delete action items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM findings WHERE inspection_id = ?", inspectionID); err != nil {
		return nil, fmt.Errorf("delete findings: %w", err)
	}

	saved := make([]*Finding, 0, len(results.Findings))
	for i, in := range results.Findings {
		f := *in
		f.InspectionID = inspectionID
		if f.ID == "" {
			f.ID = NewID()
		}
		f.CreatedAt, f.UpdatedAt = now, now
		box, err := encodeBox(f.Box)
		if err != nil {
			return nil, err
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO findings (`+findingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (inspection_id, category, severity, title) DO UPDATE SET
				frame_id = excluded.frame_id, description = excluded.description, bounding_box = excluded.bounding_box,
				confidence = excluded.confidence, average_confidence = excluded.average_confidence,
				affected_frame_count = excluded.affected_frame_count, first_timestamp = excluded.first_timestamp,
				last_timestamp = excluded.last_timestamp, recommended_action = excluded.recommended_action,
				estimated_minutes = excluded.estimated_minutes, position = excluded.position, updated_at = excluded.updated_at
			RETURNING id
		`, f.ID, f.InspectionID, nullString(f.FrameID), f.Category.String(), string(f.Severity), f.Title, f.Description, box,
			f.Confidence, f.AverageConfidence, f.AffectedFrameCount, f.FirstTimestamp, f.LastTimestamp,
			f.RecommendedAction, f.EstimatedMinutes, i, boolToInt(f.IsResolved), boolToInt(f.IsApproved), boolToInt(f.IsRejected),
			f.RejectionReason, ts, ts).Scan(&f.ID)
		if err != nil {
			return nil, fmt.Errorf("upsert finding %q: %w", f.Title, err)
		}
		saved = append(saved, &f)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

func (r *SQLiteRepository) CompleteWithActionItems(ctx context.Context, inspectionID string, items []*ActionItem, now time.Time) error {
	ts := formatTime(now)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM action_items WHERE inspection_id = ?", inspectionID); err != nil {
		return fmt.Errorf("delete action items: %w", err)
	}
	for i, it := range items {
		if it.ID == "" {
			it.ID = NewID()
		}
		it.InspectionID = inspectionID
		it.CreatedAt, it.UpdatedAt = now, now
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO action_items (`+actionItemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, it.ID, inspectionID, nullString(it.FindingID), it.Title, it.Description, string(it.Priority), string(it.Status),
			nullTime(it.DueDate), it.Notes, i, nullTime(it.CompletedAt), ts, ts); err != nil {
			return fmt.Errorf("insert action item %q: %w", it.Title, err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE inspections SET status = 'COMPLETED', error_message = '', next_attempt_at = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'PROCESSING'
	`, ts, ts, inspectionID)
	if err != nil {
		return fmt.Errorf("complete inspection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete inspection: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("complete inspection %s: %w", inspectionID, ErrConflict)
	}
	return tx.Commit()
}

func (r *SQLiteRepository) ResetForReprocess(ctx context.Context, id string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, "SELECT status FROM inspections WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if Status(status) == StatusProcessing {
		return fmt.Errorf("inspection %s is processing: %w", id, ErrConflict)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM action_items WHERE inspection_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM findings WHERE inspection_id = ?", id); err != nil {
		return err
	}

	sets := []string{"overall_score = NULL"}
	for _, col := range scoreColumns {
		sets = append(sets, col+" = NULL")
	}
	sets = append(sets, "status = 'PENDING'", "frames_analyzed = 0", "warnings = '[]'", "error_message = ''",
		"attempts = 0", "next_attempt_at = NULL", "started_at = NULL", "completed_at = NULL", "updated_at = ?")
	if _, err := tx.ExecContext(ctx, "UPDATE inspections SET "+strings.Join(sets, ", ")+" WHERE id = ?", formatTime(now), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepository) ListFindings(ctx context.Context, inspectionID string) ([]*Finding, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+findingColumns+" FROM findings WHERE inspection_id = ? ORDER BY position", inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetFinding(ctx context.Context, id string) (*Finding, error) {
	f, err := scanFinding(r.db.QueryRowContext(ctx, "SELECT "+findingColumns+" FROM findings WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

func (r *SQLiteRepository) UpdateFindingReview(ctx context.Context, f *Finding) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE findings SET is_resolved = ?, is_approved = ?, is_rejected = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ?
	`, boolToInt(f.IsResolved), boolToInt(f.IsApproved), boolToInt(f.IsRejected), f.RejectionReason, formatTime(f.UpdatedAt), f.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func scanFinding(s scanner) (*Finding, error) {
	var f Finding
	var position int
	var category, severity, createdAt, updatedAt string
	var frameID, box sql.NullString
	var resolved, approved, rejected int

	err := s.Scan(&f.ID, &f.InspectionID, &frameID, &category, &severity, &f.Title, &f.Description, &box,
		&f.Confidence, &f.AverageConfidence, &f.AffectedFrameCount, &f.FirstTimestamp, &f.LastTimestamp,
		&f.RecommendedAction, &f.EstimatedMinutes, &position, &resolved, &approved, &rejected, &f.RejectionReason,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if f.Category, err = compliance.ParseCategory(category); err != nil {
		return nil, fmt.Errorf("finding %s: %w", f.ID, err)
	}
	f.Severity = compliance.Severity(severity)
	f.FrameID = frameID.String
	if f.Box, err = decodeBox([]byte(box.String)); err != nil {
		return nil, fmt.Errorf("finding %s: %w", f.ID, err)
	}
	f.IsResolved = resolved == 1
	f.IsApproved = approved == 1
	f.IsRejected = rejected == 1
	f.CreatedAt = parseTime(createdAt)
	f.UpdatedAt = parseTime(updatedAt)
	return &f, nil
}

func (r *SQLiteRepository) ListActionItems(ctx context.Context, inspectionID string) ([]*ActionItem, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+actionItemColumns+" FROM action_items WHERE inspection_id = ? ORDER BY position", inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ActionItem
	for rows.Next() {
		it, err := scanActionItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetActionItem(ctx context.Context, id string) (*ActionItem, error) {
	it, err := scanActionItem(r.db.QueryRowContext(ctx, "SELECT "+actionItemColumns+" FROM action_items WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

func (r *SQLiteRepository) UpdateActionItem(ctx context.Context, it *ActionItem) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE action_items SET status = ?, notes = ?, completed_at = ?, updated_at = ? WHERE id = ?
	`, string(it.Status), it.Notes, nullTime(it.CompletedAt), formatTime(it.UpdatedAt), it.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func scanActionItem(s scanner) (*ActionItem, error) {
	var it ActionItem
	var position int
	var priority, status, createdAt, updatedAt string
	var findingID, dueDate, completedAt sql.NullString

	if err := s.Scan(&it.ID, &it.InspectionID, &findingID, &it.Title, &it.Description, &priority, &status,
		&dueDate, &it.Notes, &position, &completedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	it.FindingID = findingID.String
	it.Priority = compliance.Priority(priority)
	it.Status = compliance.ActionStatus(status)
	it.DueDate = parseNullTime(dueDate)
	it.CompletedAt = parseNullTime(completedAt)
	it.CreatedAt = parseTime(createdAt)
	it.UpdatedAt = parseTime(updatedAt)
	return &it, nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(db.TimeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(db.TimeFormat, s)
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeWarnings(w []string) (string, error) {
	if w == nil {
		w = []string{}
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode warnings: %w", err)
	}
	return string(b), nil
}

func decodeWarnings(b []byte, dst *[]string) error {
	*dst = []string{}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

func encodeBox(box *compliance.BoundingBox) (any, error) {
	if box == nil {
		return nil, nil
	}
	b, err := json.Marshal(box)
	if err != nil {
		return nil, fmt.Errorf("encode bounding box: %w", err)
	}
	return string(b), nil
}

func decodeBox(b []byte) (*compliance.BoundingBox, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var box compliance.BoundingBox
	if err := json.Unmarshal(b, &box); err != nil {
		return nil, fmt.Errorf("decode bounding box: %w", err)
	}
	return &box, nil
}
