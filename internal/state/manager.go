package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/scene-sentry/internal/logger"
)

// Manager is the alert ledger: alerts, pipeline runs and small
// key/value state, in one SQLite file.
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens (creating if needed) the ledger at dbPath.
func NewManager(dbPath string, log *logger.Logger) (*Manager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	return &Manager{db: db, logger: log}, nil
}

func (m *Manager) Close() error {
	return m.db.Close()
}

// Ping checks the database is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.DB().PingContext(ctx)
}

// System state keys written around each run.
const (
	KeyLastRunID      = "last_run_id"
	KeyLastSource     = "last_source"
	KeyLastExitReason = "last_exit_reason"
)

func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	if _, err := m.db.DB().ExecContext(ctx, query, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}
	return nil
}

// GetSystemState returns "" for unknown keys.
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	err := m.db.DB().QueryRowContext(ctx, `SELECT value FROM system_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}
	return value, nil
}

// SystemState returns every stored key.
func (m *Manager) SystemState(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.DB().QueryContext(ctx, `SELECT key, value FROM system_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to list system state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan system state: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
