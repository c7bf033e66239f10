package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// loadDotEnv exports variables from an optional .env file. Variables
// already present in the environment win.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies SENTRY_* environment variables on top of the file.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SENTRY_PROFILE"); val != "" {
		cfg.Profile = Profile(val)
	}

	cfg.Source.Ref = getEnv("SENTRY_SOURCE", cfg.Source.Ref)
	cfg.Source.Username = getEnv("SENTRY_SOURCE_USERNAME", cfg.Source.Username)
	cfg.Source.Password = getEnv("SENTRY_SOURCE_PASSWORD", cfg.Source.Password)
	cfg.Source.OpenAttempts = getEnvAsInt("SENTRY_SOURCE_OPEN_ATTEMPTS", cfg.Source.OpenAttempts)
	cfg.Source.ProbeRTSP = getEnvAsBool("SENTRY_SOURCE_PROBE_RTSP", cfg.Source.ProbeRTSP)

	cfg.Pipeline.StatusEvery = getEnvAsInt("SENTRY_STATUS_EVERY", cfg.Pipeline.StatusEvery)
	cfg.Pipeline.Annotate = getEnvAsBool("SENTRY_ANNOTATE", cfg.Pipeline.Annotate)
	cfg.Pipeline.StreamFrames = getEnvAsBool("SENTRY_STREAM_FRAMES", cfg.Pipeline.StreamFrames)
	cfg.Pipeline.StopOnDanger = getEnvAsBool("SENTRY_STOP_ON_DANGER", cfg.Pipeline.StopOnDanger)

	cfg.Motion.Enabled = getEnvAsBool("SENTRY_MOTION_ENABLED", cfg.Motion.Enabled)
	cfg.Motion.MinArea = getEnvAsFloat("SENTRY_MOTION_MIN_AREA", cfg.Motion.MinArea)
	cfg.Night.Enabled = getEnvAsBool("SENTRY_NIGHT_ENABLED", cfg.Night.Enabled)
	cfg.Night.Threshold = getEnvAsFloat("SENTRY_NIGHT_THRESHOLD", cfg.Night.Threshold)

	cfg.Detector.ServiceURL = getEnv("SENTRY_DETECTOR_URL", cfg.Detector.ServiceURL)
	cfg.Detector.ConfidenceThreshold = getEnvAsFloat("SENTRY_DETECTOR_CONFIDENCE", cfg.Detector.ConfidenceThreshold)
	cfg.Detector.Timeout = getEnvAsDuration("SENTRY_DETECTOR_TIMEOUT", cfg.Detector.Timeout)
	if val := os.Getenv("SENTRY_DETECTOR_CLASSES"); val != "" {
		cfg.Detector.EnabledClasses = splitList(val)
	}
	if val := os.Getenv("SENTRY_DANGEROUS_LABELS"); val != "" {
		cfg.Policy.DangerousLabels = splitList(val)
	}

	cfg.Storage.DataDir = getEnv("SENTRY_DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.ResultsDir = getEnv("SENTRY_RESULTS_DIR", cfg.Storage.ResultsDir)
	cfg.Storage.LedgerEnabled = getEnvAsBool("SENTRY_LEDGER_ENABLED", cfg.Storage.LedgerEnabled)
	cfg.Storage.RetentionDays = getEnvAsInt("SENTRY_RETENTION_DAYS", cfg.Storage.RetentionDays)

	cfg.Web.Enabled = getEnvAsBool("SENTRY_WEB_ENABLED", cfg.Web.Enabled)
	cfg.Web.Host = getEnv("SENTRY_WEB_HOST", cfg.Web.Host)
	cfg.Web.Port = getEnvAsInt("SENTRY_WEB_PORT", cfg.Web.Port)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Output = getEnv("LOG_OUTPUT", cfg.Log.Output)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
