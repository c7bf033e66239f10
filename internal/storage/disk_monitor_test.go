package storage

import (
	"context"
	"testing"

	"github.com/vzahanych/scene-sentry/internal/logger"
)

func TestDiskMonitor_GetUsage(t *testing.T) {
	monitor := NewDiskMonitor(t.TempDir(), 80.0, logger.NewNopLogger())

	usage, err := monitor.GetUsage(context.Background())
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if usage.TotalBytes <= 0 {
		t.Error("TotalBytes should be greater than 0")
	}
	if usage.AvailableBytes < 0 {
		t.Error("AvailableBytes should not be negative")
	}
	if usage.UsagePercent < 0 || usage.UsagePercent > 100 {
		t.Errorf("UsagePercent should be between 0 and 100, got %f", usage.UsagePercent)
	}
}

func TestDiskMonitor_CheckSpace(t *testing.T) {
	ctx := context.Background()

	roomy := NewDiskMonitor(t.TempDir(), 100.1, logger.NewNopLogger())
	ok, err := roomy.CheckSpace(ctx)
	if err != nil {
		t.Fatalf("CheckSpace failed: %v", err)
	}
	if !ok {
		t.Error("usage can never reach 100.1%")
	}

	full := NewDiskMonitor(t.TempDir(), -1, logger.NewNopLogger())
	isFull, err := full.IsDiskFull(ctx)
	if err != nil {
		t.Fatalf("IsDiskFull failed: %v", err)
	}
	if !isFull {
		t.Error("a negative limit should always report full")
	}
}

func TestDiskMonitor_Cache(t *testing.T) {
	monitor := NewDiskMonitor(t.TempDir(), 80.0, logger.NewNopLogger())
	ctx := context.Background()

	first, err := monitor.GetUsage(ctx)
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	first.TotalBytes = -1

	second, err := monitor.GetUsage(ctx)
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if second.TotalBytes <= 0 {
		t.Error("cached usage must be returned as a copy")
	}

	monitor.Invalidate()
	if monitor.cachedUsage != nil {
		t.Error("Invalidate should drop the cached reading")
	}
}

func TestDiskMonitor_MissingPath(t *testing.T) {
	monitor := NewDiskMonitor("/nonexistent/scene-sentry", 80.0, logger.NewNopLogger())
	if _, err := monitor.GetUsage(context.Background()); err == nil {
		t.Error("expected an error for a missing path")
	}
}
