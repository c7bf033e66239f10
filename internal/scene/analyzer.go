// Package scene derives per-frame signals that need no classifier:
// frame-to-frame motion and low-light detection.
package scene

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Signal is what the heuristics concluded about one frame.
type Signal struct {
	MotionDetected bool    `json:"motion_detected"`
	IsNight        bool    `json:"is_night"`
	Brightness     float64 `json:"brightness"`
}

// Condition is "night" or "day", as reported in status records.
func (s Signal) Condition() string {
	if s.IsNight {
		return "night"
	}
	return "day"
}

// AnalyzerConfig selects which heuristics run.
type AnalyzerConfig struct {
	MotionEnabled  bool
	Motion         MotionConfig
	NightEnabled   bool
	NightThreshold float64
}

// Analyzer runs night classification, then motion detection, on each
// frame. Brightness is always measured; it feeds status reporting even
// when the night rule is off.
type Analyzer struct {
	cfg    AnalyzerConfig
	night  NightClassifier
	motion *MotionDetector
}

func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	a := &Analyzer{cfg: cfg, night: NightClassifier{Threshold: cfg.NightThreshold}}
	if cfg.MotionEnabled {
		a.motion = NewMotionDetector(cfg.Motion)
	}
	return a
}

// Analyze computes the signal for frame. IsNight is only set when the
// night heuristic is enabled; MotionDetected only when motion is.
func (a *Analyzer) Analyze(frame gocv.Mat) (Signal, error) {
	var sig Signal

	night, brightness, err := a.night.Classify(frame)
	if err != nil {
		return sig, fmt.Errorf("night: %w", err)
	}
	sig.Brightness = brightness
	sig.IsNight = a.cfg.NightEnabled && night

	if a.motion != nil {
		moved, err := a.motion.Detect(frame)
		if err != nil {
			return sig, fmt.Errorf("motion: %w", err)
		}
		sig.MotionDetected = moved
	}
	return sig, nil
}

// Close releases the motion detector's retained frame.
func (a *Analyzer) Close() {
	if a.motion != nil {
		a.motion.Close()
	}
}
