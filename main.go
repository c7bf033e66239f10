package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vzahanych/scene-sentry/internal/app"
	"github.com/vzahanych/scene-sentry/internal/config"
	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/video"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath   string
		source       string
		profile      string
		stopOnDanger bool
		motion       bool
		night        bool
		web          bool
		listDevices  bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.StringVar(&source, "source", "", "Device index, stream URL, file path, or - for JSON lines on stdin")
	flag.StringVar(&profile, "profile", "", "Tuning profile: camera or stream")
	flag.BoolVar(&stopOnDanger, "stop-on-danger", false, "Exit on the first dangerous detection")
	flag.BoolVar(&motion, "motion", false, "Enable motion detection")
	flag.BoolVar(&night, "night", false, "Enable night classification")
	flag.BoolVar(&web, "web", false, "Serve the HTTP API")
	flag.BoolVar(&listDevices, "list-devices", false, "List local capture devices and exit")
	flag.Parse()

	if listDevices {
		return printDevices()
	}

	// Flags win over the environment, which wins over the file.
	overrides := map[string]struct {
		env   string
		value func() string
	}{
		"source":         {"SENTRY_SOURCE", func() string { return source }},
		"profile":        {"SENTRY_PROFILE", func() string { return profile }},
		"stop-on-danger": {"SENTRY_STOP_ON_DANGER", func() string { return strconv.FormatBool(stopOnDanger) }},
		"motion":         {"SENTRY_MOTION_ENABLED", func() string { return strconv.FormatBool(motion) }},
		"night":          {"SENTRY_NIGHT_ENABLED", func() string { return strconv.FormatBool(night) }},
		"web":            {"SENTRY_WEB_ENABLED", func() string { return strconv.FormatBool(web) }},
	}
	flag.Visit(func(f *flag.Flag) {
		if o, ok := overrides[f.Name]; ok {
			_ = os.Setenv(o.env, o.value())
		}
	})

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	log.Info("Starting scene sentry",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"source", cfg.Source.Ref,
		"profile", cfg.Profile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, log, app.Options{Version: version})
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		return 1
	}
	defer a.Close()

	if err := a.Run(ctx, shutdownTimeout); err != nil {
		var openErr *video.OpenError
		if errors.As(err, &openErr) {
			log.Error("Could not open source", "source", openErr.Source, "attempts", openErr.Attempts, "error", openErr.Err)
			if video.ParseRef(cfg.Source.Ref).Kind == video.KindDevice {
				if devices, err := (video.DeviceScanner{}).Scan(); err == nil {
					log.Info("Available capture devices", "devices", devices)
				}
			}
			return 1
		}
		log.Error("Error during run", "error", err)
		return 1
	}

	log.Info("Shutdown complete", "reason", a.Pipeline.ExitReason())
	return 0
}

func printDevices() int {
	devices, err := (video.DeviceScanner{}).Scan()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list devices: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, "No capture devices found")
		return 0
	}
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	if err := enc.Encode(devices); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print devices: %v\n", err)
		return 1
	}
	return 0
}
