package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/service"
)

// ErrOutsideResults is returned for paths that escape the results directory.
var ErrOutsideResults = errors.New("path is outside the results directory")

// StorageConfig contains storage service configuration
type StorageConfig struct {
	ResultsDir          string
	RetentionDays       int
	MaxDiskUsagePercent float64
	JanitorInterval     time.Duration
	Ledger              Ledger
}

// StorageStats contains storage statistics
type StorageStats struct {
	ResultsDir       string    `json:"results_dir"`
	ResultFiles      int       `json:"result_files"`
	TotalSizeBytes   int64     `json:"total_size_bytes"`
	DiskUsagePercent float64   `json:"disk_usage_percent"`
	AvailableBytes   int64     `json:"available_bytes"`
	LastRetention    time.Time `json:"last_retention,omitempty"`
}

// StorageService owns the results directory: it answers whether there is
// room for another alert image and runs the retention janitor.
type StorageService struct {
	*service.ServiceBase

	resultsDir  string
	interval    time.Duration
	diskMonitor *DiskMonitor
	retention   *RetentionPolicy

	mu            sync.RWMutex
	lastRetention time.Time
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewStorageService creates the results directory and the janitor.
func NewStorageService(config StorageConfig, log *logger.Logger) (*StorageService, error) {
	if config.ResultsDir == "" {
		return nil, errors.New("results directory is required")
	}
	if err := os.MkdirAll(config.ResultsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	maxDiskUsage := config.MaxDiskUsagePercent
	if maxDiskUsage == 0 {
		maxDiskUsage = 90.0
	}
	interval := config.JanitorInterval
	if interval <= 0 {
		interval = time.Hour
	}

	s := &StorageService{
		ServiceBase: service.NewServiceBase("storage", log),
		resultsDir:  config.ResultsDir,
		interval:    interval,
	}
	s.diskMonitor = NewDiskMonitor(config.ResultsDir, maxDiskUsage, s.Logger())
	s.retention = NewRetentionPolicy(config.RetentionDays, config.ResultsDir, config.Ledger, s.diskMonitor, s.Logger())

	s.LogInfo("Storage service initialized",
		"results_dir", config.ResultsDir,
		"retention_days", s.retention.retentionDays,
		"max_disk_usage_percent", maxDiskUsage,
	)
	return s, nil
}

// ResultsDir returns the alert image directory
func (s *StorageService) ResultsDir() string {
	return s.resultsDir
}

// CheckDiskSpace reports whether another alert image may be written
func (s *StorageService) CheckDiskSpace(ctx context.Context) (bool, error) {
	return s.diskMonitor.CheckSpace(ctx)
}

// GetDiskUsage returns current disk usage statistics
func (s *StorageService) GetDiskUsage(ctx context.Context) (*DiskUsage, error) {
	return s.diskMonitor.GetUsage(ctx)
}

// EnforceRetention runs one retention pass now.
func (s *StorageService) EnforceRetention(ctx context.Context) error {
	removed, err := s.retention.Enforce(ctx)
	if errors.Is(err, ErrEnforcing) {
		return err
	}
	s.mu.Lock()
	s.lastRetention = time.Now()
	s.mu.Unlock()
	if removed > 0 {
		s.diskMonitor.Invalidate()
	}
	return err
}

// GetStorageStats returns storage statistics
func (s *StorageService) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	usage, err := s.diskMonitor.GetUsage(ctx)
	if err != nil {
		return nil, err
	}
	files, err := s.retention.resultFiles()
	if err != nil {
		return nil, err
	}

	stats := &StorageStats{
		ResultsDir:       s.resultsDir,
		ResultFiles:      len(files),
		DiskUsagePercent: usage.UsagePercent,
		AvailableBytes:   usage.AvailableBytes,
	}
	for _, f := range files {
		if info, err := os.Stat(f.path); err == nil {
			stats.TotalSizeBytes += info.Size()
		}
	}
	s.mu.RLock()
	stats.LastRetention = s.lastRetention
	s.mu.RUnlock()
	return stats, nil
}

// ResolveResult returns the cleaned path of an alert image, refusing
// anything outside the results directory.
func (s *StorageService) ResolveResult(path string) (string, error) {
	root, err := filepath.Abs(s.resultsDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", ErrOutsideResults
	}
	return abs, nil
}

// Start launches the retention janitor.
func (s *StorageService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.janitor(runCtx)
	s.Status().Set(service.StatusRunning)
	s.LogInfo("Retention janitor started", "interval", s.interval)
	return nil
}

// Stop stops the janitor and waits for a running pass to finish.
func (s *StorageService) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.Status().Set(service.StatusStopped)
	return nil
}

func (s *StorageService) janitor(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runRetention(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRetention(ctx)
		}
	}
}

func (s *StorageService) runRetention(ctx context.Context) {
	if err := s.EnforceRetention(ctx); err != nil && ctx.Err() == nil {
		s.LogError("Retention pass failed", err)
	}
}
