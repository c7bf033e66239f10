package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vzahanych/scene-sentry/internal/ai"
)

// AlertRecord is one persisted alert decision.
type AlertRecord struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id,omitempty"`
	FrameSeq     uint64         `json:"frame"`
	Reasons      []string       `json:"reasons"`
	Detections   []ai.Detection `json:"detections,omitempty"`
	SavedPath    string         `json:"saved_path,omitempty"`
	PersistError string         `json:"persist_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SaveAlert inserts or replaces rec.
func (m *Manager) SaveAlert(ctx context.Context, rec AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dets, err := json.Marshal(rec.Detections)
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}

	query := `
		INSERT INTO alerts (id, run_id, frame_seq, reasons, labels, detections, saved_path, persist_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			saved_path = excluded.saved_path,
			persist_error = excluded.persist_error
	`
	_, err = m.db.DB().ExecContext(ctx, query,
		rec.ID, rec.RunID, rec.FrameSeq,
		strings.Join(rec.Reasons, ","),
		strings.Join(ai.Labels(rec.Detections), ","),
		string(dets), rec.SavedPath, rec.PersistError, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// GetAlert returns nil, nil when id is unknown.
func (m *Manager) GetAlert(ctx context.Context, id string) (*AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row := m.db.DB().QueryRowContext(ctx, `
		SELECT id, run_id, frame_seq, reasons, detections, saved_path, persist_error, created_at
		FROM alerts WHERE id = ?`, id)
	rec, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return rec, nil
}

// ListAlertsOptions filters ListAlerts.
type ListAlertsOptions struct {
	RunID  string
	Reason string    // alerts carrying this reason
	Label  string    // alerts with a detection of this label
	Since  time.Time // created at or after
	Before time.Time // created strictly before
	Limit  int
	Offset int
}

// ListAlerts returns matching alerts, newest first, and the total count
// ignoring Limit and Offset.
func (m *Manager) ListAlerts(ctx context.Context, opts ListAlertsOptions) ([]AlertRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		where []string
		args  []interface{}
	)
	if opts.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, opts.RunID)
	}
	if opts.Reason != "" {
		where = append(where, "(',' || reasons || ',') LIKE ?")
		args = append(args, "%,"+opts.Reason+",%")
	}
	if opts.Label != "" {
		where = append(where, "(',' || labels || ',') LIKE ?")
		args = append(args, "%,"+opts.Label+",%")
	}
	if !opts.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, opts.Since)
	}
	if !opts.Before.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, opts.Before)
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	var total int
	if err := m.db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, run_id, frame_seq, reasons, detections, saved_path, persist_error, created_at
		FROM alerts %s
		ORDER BY created_at DESC, frame_seq DESC
		LIMIT ? OFFSET ?`, clause)
	rows, err := m.db.DB().QueryContext(ctx, query, append(args, limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

// DeleteAlert removes the alert row. The image file is the caller's business.
func (m *Manager) DeleteAlert(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.DB().ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*AlertRecord, error) {
	var (
		rec                        AlertRecord
		runID, dets, saved, perErr sql.NullString
		reasons                    string
	)
	if err := row.Scan(&rec.ID, &runID, &rec.FrameSeq, &reasons, &dets, &saved, &perErr, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.RunID = runID.String
	rec.SavedPath = saved.String
	rec.PersistError = perErr.String
	if reasons != "" {
		rec.Reasons = strings.Split(reasons, ",")
	}
	if dets.Valid && dets.String != "" && dets.String != "null" {
		if err := json.Unmarshal([]byte(dets.String), &rec.Detections); err != nil {
			rec.Detections = nil
		}
	}
	return &rec, nil
}
