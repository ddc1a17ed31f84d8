package inspection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/frames"
)

// PostgresRepository stores inspections in Postgres. It is selected when the
// database URL is a postgres:// URL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) Create(ctx context.Context, insp *Inspection) error {
	return pgInsertInspection(ctx, r.pool, insp)
}

func (r *PostgresRepository) CreateWithFrames(ctx context.Context, insp *Inspection, fs []frames.Frame) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := pgInsertInspection(ctx, tx, insp); err != nil {
		return fmt.Errorf("insert inspection: %w", err)
	}
	if err := pgInsertFrames(ctx, tx, fs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func pgInsertInspection(ctx context.Context, db pgExecer, insp *Inspection) error {
	warnings, err := encodeWarnings(insp.Warnings)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO inspections (id, title, mode, status, frames_analyzed, warnings, error_message, attempts,
			next_attempt_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, insp.ID, insp.Title, string(insp.Mode), string(insp.Status), insp.FramesAnalyzed, warnings, insp.ErrorMessage,
		insp.Attempts, utcPtr(insp.NextAttemptAt), utcPtr(insp.ExpiresAt), insp.CreatedAt.UTC(), insp.UpdatedAt.UTC())
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Inspection, error) {
	insp, err := scanPgInspection(r.pool.QueryRow(ctx, "SELECT "+inspectionColumns+" FROM inspections WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return insp, err
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Inspection, error) {
	query := "SELECT " + inspectionColumns + " FROM inspections WHERE 1 = 1"
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Mode != "" {
		args = append(args, string(filter.Mode))
		query += fmt.Sprintf(" AND mode = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return r.queryInspections(ctx, query, args...)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM inspections WHERE id = $1", id)
	if err != nil {
		return err
	}
	return expectTag(tag)
}

func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time) ([]*Inspection, error) {
	return r.queryInspections(ctx, "SELECT "+inspectionColumns+` FROM inspections
		WHERE mode = 'COACHING' AND expires_at IS NOT NULL AND expires_at <= $1 AND status != 'PROCESSING'
		ORDER BY expires_at`, now.UTC())
}

func (r *PostgresRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.pool.Query(ctx, "SELECT status, COUNT(*) FROM inspections GROUP BY status")
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

func (r *PostgresRepository) queryInspections(ctx context.Context, query string, args ...any) ([]*Inspection, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Inspection
	for rows.Next() {
		insp, err := scanPgInspection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, insp)
	}
	return out, rows.Err()
}

func scanPgInspection(s scanner) (*Inspection, error) {
	var insp Inspection
	var mode, status string
	var warnings []byte
	var overall *float64
	var scores [compliance.NumScored]*float64

	dest := []any{&insp.ID, &insp.Title, &mode, &status, &overall}
	for i := range scores {
		dest = append(dest, &scores[i])
	}
	dest = append(dest, &insp.FramesAnalyzed, &warnings, &insp.ErrorMessage, &insp.Attempts,
		&insp.NextAttemptAt, &insp.ExpiresAt, &insp.StartedAt, &insp.CompletedAt, &insp.CreatedAt, &insp.UpdatedAt)

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	insp.Mode = Mode(mode)
	insp.Status = Status(status)
	if overall != nil {
		card := &compliance.Scorecard{Overall: *overall}
		for i, sc := range scores {
			if sc != nil {
				card.Scores[i] = *sc
			}
		}
		insp.Scorecard = card
	}
	if err := decodeWarnings(warnings, &insp.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings of %s: %w", insp.ID, err)
	}
	return &insp, nil
}

func (r *PostgresRepository) AddFrames(ctx context.Context, fs []frames.Frame) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := pgInsertFrames(ctx, tx, fs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func pgInsertFrames(ctx context.Context, db pgExecer, fs []frames.Frame) error {
	for _, f := range fs {
		if _, err := db.Exec(ctx, `
			INSERT INTO frames (id, inspection_id, frame_number, timestamp, path, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, f.ID, f.InspectionID, f.Number, f.Timestamp, f.Path, f.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert frame %d: %w", f.Number, err)
		}
	}
	return nil
}

func (r *PostgresRepository) ListFrames(ctx context.Context, inspectionID string) ([]frames.Frame, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, inspection_id, frame_number, timestamp, path, created_at
		FROM frames WHERE inspection_id = $1 ORDER BY timestamp, frame_number
	`, inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []frames.Frame
	for rows.Next() {
		var f frames.Frame
		if err := rows.Scan(&f.ID, &f.InspectionID, &f.Number, &f.Timestamp, &f.Path, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListRunnable(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*Inspection, error) {
	query := "SELECT " + inspectionColumns + " FROM inspections WHERE " +
		fmt.Sprintf(runnableWhere, "$1", "$2") + " ORDER BY created_at LIMIT $3"
	return r.queryInspections(ctx, query, maxAttempts, now.UTC(), limit)
}

func (r *PostgresRepository) Claim(ctx context.Context, id string, maxAttempts int, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE inspections
		SET status = 'PROCESSING', attempts = attempts + 1, started_at = $1, next_attempt_at = NULL, updated_at = $1
		WHERE id = $2 AND (`+fmt.Sprintf(runnableWhere, "$3", "$1")+`)
	`, now.UTC(), id, maxAttempts)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id, message string, nextAttemptAt *time.Time, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE inspections SET status = 'FAILED', error_message = $1, next_attempt_at = $2, updated_at = $3
		WHERE id = $4
	`, message, utcPtr(nextAttemptAt), now.UTC(), id)
	if err != nil {
		return err
	}
	return expectTag(tag)
}

func (r *PostgresRepository) MarkInterrupted(ctx context.Context, nextAttemptAt, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE inspections SET status = 'FAILED', error_message = $1, next_attempt_at = $2, updated_at = $3
		WHERE status = 'PROCESSING'
	`, InterruptedMessage, nextAttemptAt.UTC(), now.UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) SaveResults(ctx context.Context, inspectionID string, results *Results, now time.Time) ([]*Finding, error) {
	warnings, err := encodeWarnings(results.Warnings)
	if err != nil {
		return nil, err
	}
	now = now.UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	args := []any{results.Scorecard.Overall}
	sets := []string{"overall_score = $1"}
	for i, col := range scoreColumns {
		args = append(args, results.Scorecard.Scores[i])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, results.FramesAnalyzed, warnings, now, inspectionID)
	n := len(args)
	sets = append(sets,
		fmt.Sprintf("frames_analyzed = $%d", n-3),
		fmt.Sprintf("warnings = $%d", n-2),
		fmt.Sprintf("updated_at = $%d", n-1))

	tag, err := tx.Exec(ctx, "UPDATE inspections SET "+strings.Join(sets, ", ")+fmt.Sprintf(" WHERE id = $%d", n), args...)
	if err != nil {
		return nil, fmt.Errorf("update scorecard: %w", err)
	}
	if err := expectTag(tag); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM action_items WHERE inspection_id = $1", inspectionID); err != nil {
		return nil, fmt.Errorf("delete action items: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM findings WHERE inspection_id = $1", inspectionID); err != nil {
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

		err = tx.QueryRow(ctx, `
			INSERT INTO findings (`+findingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
			ON CONFLICT (inspection_id, category, severity, title) DO UPDATE SET
				frame_id = EXCLUDED.frame_id, description = EXCLUDED.description, bounding_box = EXCLUDED.bounding_box,
				confidence = EXCLUDED.confidence, average_confidence = EXCLUDED.average_confidence,
				affected_frame_count = EXCLUDED.affected_frame_count, first_timestamp = EXCLUDED.first_timestamp,
				last_timestamp = EXCLUDED.last_timestamp, recommended_action = EXCLUDED.recommended_action,
				estimated_minutes = EXCLUDED.estimated_minutes, position = EXCLUDED.position, updated_at = EXCLUDED.updated_at
			RETURNING id
		`, f.ID, f.InspectionID, nullString(f.FrameID), f.Category.String(), string(f.Severity), f.Title, f.Description, box,
			f.Confidence, f.AverageConfidence, f.AffectedFrameCount, f.FirstTimestamp, f.LastTimestamp,
			f.RecommendedAction, f.EstimatedMinutes, i, f.IsResolved, f.IsApproved, f.IsRejected,
			f.RejectionReason, now, now).Scan(&f.ID)
		if err != nil {
			return nil, fmt.Errorf("upsert finding %q: %w", f.Title, err)
		}
		saved = append(saved, &f)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return saved, nil
}

func (r *PostgresRepository) CompleteWithActionItems(ctx context.Context, inspectionID string, items []*ActionItem, now time.Time) error {
	now = now.UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM action_items WHERE inspection_id = $1", inspectionID); err != nil {
		return fmt.Errorf("delete action items: %w", err)
	}
	for i, it := range items {
		if it.ID == "" {
			it.ID = NewID()
		}
		it.InspectionID = inspectionID
		it.CreatedAt, it.UpdatedAt = now, now
		if _, err := tx.Exec(ctx, `
			INSERT INTO action_items (`+actionItemColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, it.ID, inspectionID, nullString(it.FindingID), it.Title, it.Description, string(it.Priority), string(it.Status),
			utcPtr(it.DueDate), it.Notes, i, utcPtr(it.CompletedAt), now, now); err != nil {
			return fmt.Errorf("insert action item %q: %w", it.Title, err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE inspections SET status = 'COMPLETED', error_message = '', next_attempt_at = NULL, completed_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'PROCESSING'
	`, now, inspectionID)
	if err != nil {
		return fmt.Errorf("complete inspection: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("complete inspection %s: %w", inspectionID, ErrConflict)
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) ResetForReprocess(ctx context.Context, id string, now time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, "SELECT status FROM inspections WHERE id = $1 FOR UPDATE", id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if Status(status) == StatusProcessing {
		return fmt.Errorf("inspection %s is processing: %w", id, ErrConflict)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM action_items WHERE inspection_id = $1", id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM findings WHERE inspection_id = $1", id); err != nil {
		return err
	}

	sets := []string{"overall_score = NULL"}
	for _, col := range scoreColumns {
		sets = append(sets, col+" = NULL")
	}
	sets = append(sets, "status = 'PENDING'", "frames_analyzed = 0", "warnings = '[]'::jsonb", "error_message = ''",
		"attempts = 0", "next_attempt_at = NULL", "started_at = NULL", "completed_at = NULL", "updated_at = $1")
	if _, err := tx.Exec(ctx, "UPDATE inspections SET "+strings.Join(sets, ", ")+" WHERE id = $2", now.UTC(), id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) ListFindings(ctx context.Context, inspectionID string) ([]*Finding, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+findingColumns+" FROM findings WHERE inspection_id = $1 ORDER BY position", inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Finding
	for rows.Next() {
		f, err := scanPgFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetFinding(ctx context.Context, id string) (*Finding, error) {
	f, err := scanPgFinding(r.pool.QueryRow(ctx, "SELECT "+findingColumns+" FROM findings WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

func (r *PostgresRepository) UpdateFindingReview(ctx context.Context, f *Finding) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE findings SET is_resolved = $1, is_approved = $2, is_rejected = $3, rejection_reason = $4, updated_at = $5
		WHERE id = $6
	`, f.IsResolved, f.IsApproved, f.IsRejected, f.RejectionReason, f.UpdatedAt.UTC(), f.ID)
	if err != nil {
		return err
	}
	return expectTag(tag)
}

func scanPgFinding(s scanner) (*Finding, error) {
	var f Finding
	var position int
	var category, severity string
	var frameID *string
	var box []byte

	err := s.Scan(&f.ID, &f.InspectionID, &frameID, &category, &severity, &f.Title, &f.Description, &box,
		&f.Confidence, &f.AverageConfidence, &f.AffectedFrameCount, &f.FirstTimestamp, &f.LastTimestamp,
		&f.RecommendedAction, &f.EstimatedMinutes, &position, &f.IsResolved, &f.IsApproved, &f.IsRejected,
		&f.RejectionReason, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if f.Category, err = compliance.ParseCategory(category); err != nil {
		return nil, fmt.Errorf("finding %s: %w", f.ID, err)
	}
	f.Severity = compliance.Severity(severity)
	if frameID != nil {
		f.FrameID = *frameID
	}
	if f.Box, err = decodeBox(box); err != nil {
		return nil, fmt.Errorf("finding %s: %w", f.ID, err)
	}
	return &f, nil
}

func (r *PostgresRepository) ListActionItems(ctx context.Context, inspectionID string) ([]*ActionItem, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+actionItemColumns+" FROM action_items WHERE inspection_id = $1 ORDER BY position", inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ActionItem
	for rows.Next() {
		it, err := scanPgActionItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetActionItem(ctx context.Context, id string) (*ActionItem, error) {
	it, err := scanPgActionItem(r.pool.QueryRow(ctx, "SELECT "+actionItemColumns+" FROM action_items WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

func (r *PostgresRepository) UpdateActionItem(ctx context.Context, it *ActionItem) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE action_items SET status = $1, notes = $2, completed_at = $3, updated_at = $4 WHERE id = $5
	`, string(it.Status), it.Notes, utcPtr(it.CompletedAt), it.UpdatedAt.UTC(), it.ID)
	if err != nil {
		return err
	}
	return expectTag(tag)
}

func scanPgActionItem(s scanner) (*ActionItem, error) {
	var it ActionItem
	var position int
	var priority, status string
	var findingID *string

	if err := s.Scan(&it.ID, &it.InspectionID, &findingID, &it.Title, &it.Description, &priority, &status,
		&it.DueDate, &it.Notes, &position, &it.CompletedAt, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	if findingID != nil {
		it.FindingID = *findingID
	}
	it.Priority = compliance.Priority(priority)
	it.Status = compliance.ActionStatus(status)
	return &it, nil
}

func (r *PostgresRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, "SELECT value FROM config WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *PostgresRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}

func expectTag(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
