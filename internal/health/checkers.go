package health

import (
	"context"
	"fmt"
	"time"

	"github.com/vzahanych/scene-sentry/internal/pipeline"
	"github.com/vzahanych/scene-sentry/internal/storage"
)

func newCheck(name string) Check {
	return Check{Name: name, Timestamp: time.Now(), Details: make(map[string]interface{})}
}

// Pinger is anything with a connectivity probe, such as the alert ledger.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks the alert ledger
type DatabaseChecker struct {
	db   Pinger
	path string
}

func NewDatabaseChecker(db Pinger, path string) *DatabaseChecker {
	return &DatabaseChecker{db: db, path: path}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["path"] = c.path

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// DetectorProbe reaches the classifier's readiness endpoint.
type DetectorProbe interface {
	HealthCheck(ctx context.Context) error
}

// DetectorChecker checks the classifier service. An unreachable
// classifier degrades the pipeline without stopping it, so it is never
// reported unhealthy.
type DetectorChecker struct {
	probe      DetectorProbe
	serviceURL string
}

func NewDetectorChecker(probe DetectorProbe, serviceURL string) *DetectorChecker {
	return &DetectorChecker{probe: probe, serviceURL: serviceURL}
}

func (c *DetectorChecker) Name() string {
	return "detector"
}

func (c *DetectorChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["url"] = c.serviceURL

	if err := c.probe.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Classifier unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Classifier is reachable"
	return check
}

// DiskReporter reports usage of the results disk.
type DiskReporter interface {
	GetDiskUsage(ctx context.Context) (*storage.DiskUsage, error)
	CheckDiskSpace(ctx context.Context) (bool, error)
}

// StorageChecker checks there is room for alert images
type StorageChecker struct {
	disk DiskReporter
}

func NewStorageChecker(disk DiskReporter) *StorageChecker {
	return &StorageChecker{disk: disk}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	usage, err := c.disk.GetDiskUsage(ctx)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to read disk usage: %v", err)
		return check
	}
	check.Details["usage_percent"] = usage.UsagePercent
	check.Details["available_bytes"] = usage.AvailableBytes

	ok, err := c.disk.CheckDiskSpace(ctx)
	switch {
	case err != nil:
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to check disk space: %v", err)
	case !ok:
		check.Status = StatusDegraded
		check.Message = "Disk usage over limit, alert images are not being saved"
	default:
		check.Status = StatusHealthy
		check.Message = "Storage OK"
	}
	return check
}

// StatsProvider exposes pipeline counters.
type StatsProvider interface {
	Stats() pipeline.Stats
}

// PipelineChecker maps the pipeline state onto a health status.
type PipelineChecker struct {
	p StatsProvider
}

func NewPipelineChecker(p StatsProvider) *PipelineChecker {
	return &PipelineChecker{p: p}
}

func (c *PipelineChecker) Name() string {
	return "pipeline"
}

func (c *PipelineChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	stats := c.p.Stats()
	check.Details["state"] = stats.State.String()
	check.Details["frames_processed"] = stats.Frames
	check.Details["frames_dropped"] = stats.Dropped

	switch stats.State {
	case pipeline.StateRunning:
		check.Status = StatusHealthy
		check.Message = "Pipeline running"
	case pipeline.StateStopped:
		check.Status = StatusUnhealthy
		check.Message = "Pipeline stopped: " + stats.ExitReason
	default:
		check.Status = StatusDegraded
		check.Message = "Pipeline " + stats.State.String()
	}
	return check
}
