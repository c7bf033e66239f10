// Command detect-batch runs the detection pipeline over recorded files,
// one after another, and prints a YAML summary of what was found.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vzahanych/scene-sentry/internal/app"
	"github.com/vzahanych/scene-sentry/internal/config"
	"github.com/vzahanych/scene-sentry/internal/events"
	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/pipeline"
	"github.com/vzahanych/scene-sentry/internal/video"
)

// fileSummary is what one input produced.
type fileSummary struct {
	File       string         `yaml:"file"`
	Frames     uint64         `yaml:"frames"`
	Alerts     uint64         `yaml:"alerts"`
	Errors     uint64         `yaml:"errors"`
	Labels     map[string]int `yaml:"labels,omitempty"`
	Saved      []string       `yaml:"saved,omitempty"`
	ExitReason string         `yaml:"exit_reason"`
}

// tally sees every record line the pipeline emits.
type tally struct {
	mu     sync.Mutex
	labels map[string]int
	saved  []string
}

func newTally() *tally { return &tally{labels: make(map[string]int)} }

func (t *tally) Write(p []byte) (int, error) {
	var rec events.Record
	if err := json.Unmarshal(p, &rec); err != nil {
		return len(p), nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case rec.SavedPath != "":
		t.saved = append(t.saved, rec.SavedPath)
	case rec.Status == events.StatusFrame:
		for _, d := range rec.Detections {
			t.labels[d.Label]++
		}
	}
	return len(p), nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath   string
		stopOnDanger bool
		motion       bool
		night        bool
		records      bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&stopOnDanger, "stop-on-danger", false, "Stop at the first dangerous detection in any file")
	flag.BoolVar(&motion, "motion", false, "Enable motion detection")
	flag.BoolVar(&night, "night", false, "Enable night classification")
	flag.BoolVar(&records, "records", false, "Also write the record stream to stdout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] FILE...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	cfg.Web.Enabled = false
	// Frame records carry the detections the summary counts.
	cfg.Pipeline.StreamFrames = true
	cfg.Pipeline.StopOnDanger = stopOnDanger
	cfg.Motion.Enabled = cfg.Motion.Enabled || motion
	cfg.Night.Enabled = cfg.Night.Enabled || night

	log, err := logger.New(logger.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// With -records, stdout belongs to the record stream.
	b := &batch{out: os.Stdout, log: log, exit: os.Exit}
	if records {
		b.out = os.Stderr
	}

	var code int
	for _, file := range flag.Args() {
		if ctx.Err() != nil {
			break
		}
		var out io.Writer = io.Discard
		if records {
			out = os.Stdout
		}
		sum, err := analyze(ctx, cfg, file, out, log, b.stopNow)
		b.add(sum)
		if err != nil {
			log.Error("Failed to analyze file", "file", file, "error", err)
			code = 1
			continue
		}
		if sum.ExitReason == pipeline.ExitStopOnDanger {
			break
		}
	}

	if err := b.write(); err != nil {
		log.Error("Failed to write summary", "error", err)
		return 1
	}
	return code
}

// batch collects per-file summaries until they are written once.
type batch struct {
	out       io.Writer
	log       *logger.Logger
	exit      func(code int)
	summaries []fileSummary
}

func (b *batch) add(sum fileSummary) { b.summaries = append(b.summaries, sum) }

func (b *batch) write() error { return writeSummary(b.out, b.summaries) }

// stopNow reports every file seen so far, the one in progress included,
// and ends the process without draining the pipeline.
func (b *batch) stopNow(current fileSummary) {
	b.add(current)
	if err := b.write(); err != nil {
		b.log.Error("Failed to write summary", "error", err)
	}
	app.SyncedExit(b.log, b.exit)(0)
}

func analyze(ctx context.Context, base *config.Config, file string, out io.Writer, log *logger.Logger, onDanger func(fileSummary)) (fileSummary, error) {
	sum := fileSummary{File: file}
	if ref := video.ParseRef(file); ref.Live() {
		return sum, fmt.Errorf("%s is not a file", file)
	}

	cfg := *base
	cfg.Source.Ref = file
	// A single attempt: a missing file does not appear on retry.
	cfg.Source.OpenAttempts = 1

	var a *app.App
	t := newTally()
	a, err := app.New(&cfg, log.Named("batch"), app.Options{
		Stdin:  os.Stdin,
		Stdout: io.MultiWriter(out, t),
		Exit:   func(int) { onDanger(summarize(file, a, t)) },
	})
	if err != nil {
		return sum, err
	}
	defer a.Close()

	runErr := a.Run(ctx, 30*time.Second)
	return summarize(file, a, t), runErr
}

func summarize(file string, a *app.App, t *tally) fileSummary {
	stats := a.Pipeline.Stats()
	sum := fileSummary{
		File:       file,
		Frames:     stats.Frames,
		Alerts:     stats.Alerts,
		Errors:     stats.Errors,
		ExitReason: a.Pipeline.ExitReason(),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.labels) > 0 {
		sum.Labels = make(map[string]int, len(t.labels))
		for k, v := range t.labels {
			sum.Labels[k] = v
		}
	}
	sum.Saved = append([]string(nil), t.saved...)
	return sum
}

func writeSummary(w io.Writer, summaries []fileSummary) error {
	sort.SliceStable(summaries, func(i, j int) bool { return summaries[i].Alerts > summaries[j].Alerts })
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(map[string]interface{}{"files": summaries})
}
