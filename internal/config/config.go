package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile selects defaults tuned for a kind of source.
type Profile string

const (
	// ProfileCamera is a local camera pointed at a lit scene.
	ProfileCamera Profile = "camera"
	// ProfileStream is a network stream, usually darker and noisier.
	ProfileStream Profile = "stream"
)

// DefaultDangerousLabels is the label set used when none is configured.
var DefaultDangerousLabels = []string{
	"antifa", "cocaine", "confederate-flag", "destroy", "fire",
	"glass-defect", "gun", "heroin", "isis", "knife", "marijuana",
	"rocket", "shrooms", "smoke", "swastika", "wolfsangel",
	"celtic_cross", "Violence", "graffiti",
}

// Config represents the application configuration
type Config struct {
	Profile  Profile        `yaml:"profile"`
	Source   SourceConfig   `yaml:"source"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Motion   MotionConfig   `yaml:"motion"`
	Night    NightConfig    `yaml:"night"`
	Detector DetectorConfig `yaml:"detector"`
	Policy   PolicyConfig   `yaml:"policy"`
	Storage  StorageConfig  `yaml:"storage"`
	Web      WebConfig      `yaml:"web"`
	Log      LogConfig      `yaml:"log,omitempty"`
}

// SourceConfig describes where frames come from.
type SourceConfig struct {
	// Ref is a device index, a URL, a file path, or "-" for the JSON-lines pipe.
	Ref               string        `yaml:"ref"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	OpenAttempts      int           `yaml:"open_attempts"`
	OpenRetryInterval time.Duration `yaml:"open_retry_interval"`
	ReadBackoff       time.Duration `yaml:"read_backoff"`
	ProbeRTSP         bool          `yaml:"probe_rtsp"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
}

// PipelineConfig controls the processing loop.
type PipelineConfig struct {
	PopTimeout   time.Duration `yaml:"pop_timeout"`
	StatusEvery  int           `yaml:"status_every"`
	Annotate     bool          `yaml:"annotate"`
	StreamFrames bool          `yaml:"stream_frames"`
	JPEGQuality  int           `yaml:"jpeg_quality"`
	StopOnDanger bool          `yaml:"stop_on_danger"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// MotionConfig tunes the frame-difference motion detector.
type MotionConfig struct {
	Enabled          bool    `yaml:"enabled"`
	MinArea          float64 `yaml:"min_area"`
	DiffThreshold    float32 `yaml:"diff_threshold"`
	BlurSize         int     `yaml:"blur_size"`
	DilateIterations int     `yaml:"dilate_iterations"`
}

// NightConfig tunes the luminance-based night classifier.
type NightConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
}

// DetectorConfig points at the external classifier.
type DetectorConfig struct {
	ServiceURL          string        `yaml:"service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	EnabledClasses      []string      `yaml:"enabled_classes"`
	// ClassNames maps class indices to labels when the classifier only
	// returns an index.
	ClassNames []string      `yaml:"class_names"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// PolicyConfig decides which frames become alerts.
type PolicyConfig struct {
	DangerousLabels []string `yaml:"dangerous_labels"`
	CaseInsensitive bool     `yaml:"case_insensitive"`
}

// StorageConfig contains alert storage configuration
type StorageConfig struct {
	DataDir             string        `yaml:"data_dir"`
	ResultsDir          string        `yaml:"results_dir"`
	LedgerEnabled       bool          `yaml:"ledger_enabled"`
	RetentionDays       int           `yaml:"retention_days"`
	MaxDiskUsagePercent float64       `yaml:"max_disk_usage_percent"`
	JanitorInterval     time.Duration `yaml:"janitor_interval"`
}

// WebConfig contains the HTTP/WebSocket surface configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load reads configuration from path, then .env and the environment.
// An empty path falls back to the well-known locations; if none exists
// the defaults are used.
func Load(configPath string) (*Config, error) {
	explicit := configPath != ""
	if !explicit {
		configPath = getDefaultConfigPath()
	}

	var cfg Config
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	default:
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func getDefaultConfigPath() string {
	paths := []string{
		"./config/sentry.yaml",
		"./sentry.yaml",
		"/etc/scene-sentry/sentry.yaml",
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return paths[0]
}

// setDefaults fills zero values. Profile-dependent values are only set
// when the file and environment left them empty.
func (c *Config) setDefaults() {
	if c.Profile == "" {
		c.Profile = ProfileCamera
	}

	if c.Source.Ref == "" {
		c.Source.Ref = "0"
	}
	if c.Source.OpenAttempts == 0 {
		c.Source.OpenAttempts = 3
	}
	if c.Source.OpenRetryInterval == 0 {
		c.Source.OpenRetryInterval = time.Second
	}
	if c.Source.ReadBackoff == 0 {
		c.Source.ReadBackoff = 100 * time.Millisecond
	}
	if c.Source.ProbeTimeout == 0 {
		c.Source.ProbeTimeout = 5 * time.Second
	}

	if c.Pipeline.PopTimeout == 0 {
		c.Pipeline.PopTimeout = time.Second
	}
	if c.Pipeline.StatusEvery == 0 {
		c.Pipeline.StatusEvery = 30
	}
	if c.Pipeline.JPEGQuality == 0 {
		c.Pipeline.JPEGQuality = 95
	}
	if c.Pipeline.DrainTimeout == 0 {
		c.Pipeline.DrainTimeout = 5 * time.Second
	}

	if c.Motion.MinArea == 0 {
		c.Motion.MinArea = 500
	}
	if c.Motion.DiffThreshold == 0 {
		c.Motion.DiffThreshold = 25
	}
	if c.Motion.BlurSize == 0 {
		c.Motion.BlurSize = 21
	}
	if c.Motion.DilateIterations == 0 {
		c.Motion.DilateIterations = 2
	}

	if c.Night.Threshold == 0 {
		switch c.Profile {
		case ProfileStream:
			c.Night.Threshold = 50
		default:
			c.Night.Threshold = 100
		}
	}

	if c.Detector.ServiceURL == "" {
		c.Detector.ServiceURL = "http://localhost:8080"
	}
	if c.Detector.Timeout == 0 {
		c.Detector.Timeout = 10 * time.Second
	}
	if c.Detector.ConfidenceThreshold == 0 {
		c.Detector.ConfidenceThreshold = 0.25
	}
	if c.Detector.RetryDelay == 0 {
		c.Detector.RetryDelay = 200 * time.Millisecond
	}

	if c.Policy.DangerousLabels == nil {
		c.Policy.DangerousLabels = append([]string(nil), DefaultDangerousLabels...)
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.ResultsDir == "" {
		if c.Profile == ProfileStream {
			c.Storage.ResultsDir = filepath.Join("runs", "detect", "ip_camera")
		} else {
			c.Storage.ResultsDir = filepath.Join("runs", "detect", "camera")
		}
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 7
	}
	if c.Storage.MaxDiskUsagePercent == 0 {
		c.Storage.MaxDiskUsagePercent = 90
	}
	if c.Storage.JanitorInterval == 0 {
		c.Storage.JanitorInterval = time.Hour
	}

	if c.Web.Host == "" {
		c.Web.Host = "127.0.0.1"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8090
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}
}

// NightMotionEnabled reports whether the night-motion rule can fire.
func (c *Config) NightMotionEnabled() bool {
	return c.Motion.Enabled && c.Night.Enabled
}

// LedgerPath is where the SQLite alert ledger lives.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Storage.DataDir, "db", "alerts.db")
}
