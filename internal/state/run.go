package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunRecord is one pipeline lifetime.
type RunRecord struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	Frames     uint64     `json:"frames"`
	Alerts     uint64     `json:"alerts"`
	ExitReason string     `json:"exit_reason,omitempty"`
}

func (m *Manager) StartRun(ctx context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.DB().ExecContext(ctx,
		`INSERT INTO runs (id, source, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Source, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// FinishRun stamps the end of a run with its totals.
func (m *Manager) FinishRun(ctx context.Context, id string, frames, alerts uint64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.DB().ExecContext(ctx,
		`UPDATE runs SET stopped_at = ?, frames = ?, alerts = ?, exit_reason = ? WHERE id = ?`,
		time.Now(), frames, alerts, reason, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun returns nil, nil when id is unknown.
func (m *Manager) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		run     RunRecord
		stopped sql.NullTime
		reason  sql.NullString
	)
	err := m.db.DB().QueryRowContext(ctx,
		`SELECT id, source, started_at, stopped_at, frames, alerts, exit_reason FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Source, &run.StartedAt, &stopped, &run.Frames, &run.Alerts, &reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if stopped.Valid {
		run.StoppedAt = &stopped.Time
	}
	run.ExitReason = reason.String
	return &run, nil
}
