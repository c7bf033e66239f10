package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/state"
)

// pruneBatch bounds one ledger page during retention.
const pruneBatch = 200

// Ledger is the part of the alert ledger retention needs.
type Ledger interface {
	ListAlerts(ctx context.Context, opts state.ListAlertsOptions) ([]state.AlertRecord, int, error)
	DeleteAlert(ctx context.Context, id string) error
}

// RetentionPolicy removes alert images and ledger rows older than the
// retention window, then frees space oldest-first while the disk is over
// its limit.
type RetentionPolicy struct {
	retentionDays int
	resultsDir    string
	ledger        Ledger
	monitor       *DiskMonitor
	logger        *logger.Logger
	mu            sync.Mutex
	enforcing     bool
	now           func() time.Time
}

// NewRetentionPolicy creates a retention policy. ledger and monitor may
// be nil.
func NewRetentionPolicy(retentionDays int, resultsDir string, ledger Ledger, monitor *DiskMonitor, log *logger.Logger) *RetentionPolicy {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &RetentionPolicy{
		retentionDays: retentionDays,
		resultsDir:    resultsDir,
		ledger:        ledger,
		monitor:       monitor,
		logger:        log,
		now:           time.Now,
	}
}

// ErrEnforcing is returned when a retention pass is already running.
var ErrEnforcing = errors.New("retention policy is already being enforced")

// Enforce runs one retention pass and returns how many files it removed.
func (r *RetentionPolicy) Enforce(ctx context.Context) (int, error) {
	r.mu.Lock()
	if r.enforcing {
		r.mu.Unlock()
		return 0, ErrEnforcing
	}
	r.enforcing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enforcing = false
		r.mu.Unlock()
	}()

	cutoff := r.now().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
	removed := 0

	n, err := r.pruneLedger(ctx, cutoff)
	removed += n
	if err != nil {
		r.logger.Warn("Failed to prune alert ledger", "error", err)
	}

	n, err = r.deleteExpiredFiles(cutoff)
	removed += n
	if err != nil {
		r.logger.Warn("Failed to delete expired files", "error", err)
	}

	n, err = r.freeDiskSpace(ctx)
	removed += n
	if err != nil {
		r.logger.Warn("Failed to free disk space", "error", err)
	}

	if removed > 0 {
		r.logger.Info("Retention pass removed files", "count", removed, "cutoff", cutoff)
	}
	return removed, ctx.Err()
}

// pruneLedger deletes ledger rows created before cutoff and their images.
func (r *RetentionPolicy) pruneLedger(ctx context.Context, cutoff time.Time) (int, error) {
	if r.ledger == nil {
		return 0, nil
	}

	removed := 0
	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		recs, _, err := r.ledger.ListAlerts(ctx, state.ListAlertsOptions{Before: cutoff, Limit: pruneBatch})
		if err != nil {
			return removed, fmt.Errorf("failed to list expired alerts: %w", err)
		}
		if len(recs) == 0 {
			return removed, nil
		}

		deleted := 0
		for _, rec := range recs {
			if rec.SavedPath != "" {
				if err := os.Remove(rec.SavedPath); err == nil {
					removed++
				} else if !os.IsNotExist(err) {
					r.logger.Warn("Failed to delete alert image", "path", rec.SavedPath, "error", err)
				}
			}
			if err := r.ledger.DeleteAlert(ctx, rec.ID); err != nil {
				r.logger.Warn("Failed to delete alert record", "id", rec.ID, "error", err)
				continue
			}
			deleted++
		}
		if deleted == 0 {
			return removed, errors.New("no expired alert could be deleted")
		}
	}
}

// deleteExpiredFiles catches images the ledger does not know about, e.g.
// written while the ledger was disabled.
func (r *RetentionPolicy) deleteExpiredFiles(cutoff time.Time) (int, error) {
	files, err := r.resultFiles()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		if !f.modTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("Failed to delete expired file", "path", f.path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// freeDiskSpace removes the oldest images until the disk is back under
// its limit or nothing is left to remove.
func (r *RetentionPolicy) freeDiskSpace(ctx context.Context) (int, error) {
	if r.monitor == nil {
		return 0, nil
	}

	r.monitor.Invalidate()
	full, err := r.monitor.IsDiskFull(ctx)
	if err != nil || !full {
		return 0, err
	}

	files, err := r.resultFiles()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("Failed to delete file", "path", f.path, "error", err)
			continue
		}
		removed++

		r.monitor.Invalidate()
		full, err := r.monitor.IsDiskFull(ctx)
		if err != nil {
			return removed, err
		}
		if !full {
			break
		}
	}

	if removed > 0 {
		r.logger.Warn("Freed disk space by deleting oldest alert images", "count", removed)
	}
	return removed, nil
}

type resultFile struct {
	path    string
	modTime time.Time
}

// resultFiles lists alert images in the results directory, oldest first.
func (r *RetentionPolicy) resultFiles() ([]resultFile, error) {
	if r.resultsDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(r.resultsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	var files []resultFile
	for _, e := range entries {
		if e.IsDir() || !IsResultFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, resultFile{path: filepath.Join(r.resultsDir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	return files, nil
}

// IsResultFile reports whether name looks like an alert image this
// program wrote.
func IsResultFile(name string) bool {
	return strings.HasPrefix(name, "detection_") && strings.EqualFold(filepath.Ext(name), ".jpg")
}
