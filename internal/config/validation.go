package config

import (
	"fmt"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Profile != ProfileCamera && c.Profile != ProfileStream {
		errs = append(errs, fmt.Sprintf("invalid profile: %s (must be: camera or stream)", c.Profile))
	}

	if c.Source.OpenAttempts < 1 {
		errs = append(errs, fmt.Sprintf("source.open_attempts must be >= 1, got: %d", c.Source.OpenAttempts))
	}
	if c.Source.OpenRetryInterval < 0 || c.Source.ReadBackoff < 0 {
		errs = append(errs, "source retry intervals must not be negative")
	}

	if c.Pipeline.StatusEvery < 1 {
		errs = append(errs, fmt.Sprintf("pipeline.status_every must be >= 1, got: %d", c.Pipeline.StatusEvery))
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		errs = append(errs, fmt.Sprintf("pipeline.jpeg_quality must be between 1 and 100, got: %d", c.Pipeline.JPEGQuality))
	}
	if c.Pipeline.PopTimeout <= 0 {
		errs = append(errs, "pipeline.pop_timeout must be positive")
	}

	if c.Motion.MinArea < 0 {
		errs = append(errs, fmt.Sprintf("motion.min_area must be >= 0, got: %.1f", c.Motion.MinArea))
	}
	if c.Motion.DiffThreshold < 0 || c.Motion.DiffThreshold > 255 {
		errs = append(errs, fmt.Sprintf("motion.diff_threshold must be between 0 and 255, got: %.1f", c.Motion.DiffThreshold))
	}
	if c.Motion.BlurSize%2 == 0 {
		errs = append(errs, fmt.Sprintf("motion.blur_size must be odd, got: %d", c.Motion.BlurSize))
	}

	if c.Night.Threshold < 0 || c.Night.Threshold > 255 {
		errs = append(errs, fmt.Sprintf("night.threshold must be between 0 and 255, got: %.1f", c.Night.Threshold))
	}

	if c.Detector.ServiceURL == "" {
		errs = append(errs, "detector.service_url is required")
	}
	if c.Detector.ConfidenceThreshold < 0 || c.Detector.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("detector.confidence_threshold must be between 0 and 1, got: %.2f", c.Detector.ConfidenceThreshold))
	}
	if c.Detector.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("detector.max_retries must be >= 0, got: %d", c.Detector.MaxRetries))
	}

	if c.Storage.ResultsDir == "" {
		errs = append(errs, "storage.results_dir is required")
	}
	if c.Storage.LedgerEnabled && c.Storage.DataDir == "" {
		errs = append(errs, "storage.data_dir is required when the ledger is enabled")
	}
	if c.Storage.MaxDiskUsagePercent < 0 || c.Storage.MaxDiskUsagePercent > 100 {
		errs = append(errs, fmt.Sprintf("storage.max_disk_usage_percent must be between 0 and 100, got: %.2f", c.Storage.MaxDiskUsagePercent))
	}
	if c.Storage.RetentionDays < 0 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 0, got: %d", c.Storage.RetentionDays))
	}

	if c.Web.Enabled && (c.Web.Port < 1 || c.Web.Port > 65535) {
		errs = append(errs, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be: console or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
