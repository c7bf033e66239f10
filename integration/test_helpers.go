package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vzahanych/scene-sentry/internal/config"
	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/state"
)

// TestEnvironment provides a test environment for integration tests
type TestEnvironment struct {
	TempDir     string
	Config      *config.Config
	Ledger      *state.Manager
	Logger      *logger.Logger
	CleanupFunc func()
}

// SetupTestEnvironment creates a data dir, a results dir and an open
// alert ledger under a temp dir.
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	tmpDir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Storage.ResultsDir = filepath.Join(tmpDir, "results")
	cfg.Storage.LedgerEnabled = true
	cfg.Storage.RetentionDays = 7
	cfg.Storage.MaxDiskUsagePercent = 100
	cfg.Log.Level = "debug"

	_ = os.MkdirAll(cfg.Storage.ResultsDir, 0755)

	log := logger.NewNopLogger()

	ledger, err := state.NewManager(cfg.LedgerPath(), log)
	if err != nil {
		t.Fatalf("Failed to create alert ledger: %v", err)
	}

	return &TestEnvironment{
		TempDir:     tmpDir,
		Config:      cfg,
		Ledger:      ledger,
		Logger:      log,
		CleanupFunc: func() { ledger.Close() },
	}
}

// Cleanup cleans up the test environment
func (e *TestEnvironment) Cleanup() {
	if e.CleanupFunc != nil {
		e.CleanupFunc()
	}
}

// WaitForCondition waits for a condition to become true
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		<-ticker.C
	}
	return condition()
}

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
