// Package alert decides which frames are worth keeping and keeps them.
package alert

import (
	"strings"

	"github.com/vzahanych/scene-sentry/internal/ai"
	"github.com/vzahanych/scene-sentry/internal/scene"
)

// Reason is why a frame was persisted.
type Reason string

const (
	ReasonDangerousObjects Reason = "dangerous_objects"
	ReasonNightMotion      Reason = "night_motion"
)

// PolicyConfig configures NewPolicy.
type PolicyConfig struct {
	DangerousLabels []string
	// CaseInsensitive folds labels before matching.
	CaseInsensitive bool
	// NightMotion is on only when both motion and night detection are
	// enabled.
	NightMotion bool
}

// Policy is the danger policy. It is immutable and safe for concurrent use.
type Policy struct {
	dangerous       map[string]struct{}
	caseInsensitive bool
	nightMotion     bool
}

func NewPolicy(cfg PolicyConfig) *Policy {
	p := &Policy{
		dangerous:       make(map[string]struct{}, len(cfg.DangerousLabels)),
		caseInsensitive: cfg.CaseInsensitive,
		nightMotion:     cfg.NightMotion,
	}
	for _, l := range cfg.DangerousLabels {
		p.dangerous[p.key(l)] = struct{}{}
	}
	return p
}

func (p *Policy) key(label string) string {
	if p.caseInsensitive {
		return strings.ToLower(label)
	}
	return label
}

// IsDangerous reports whether label is in the dangerous set.
func (p *Policy) IsDangerous(label string) bool {
	_, ok := p.dangerous[p.key(label)]
	return ok
}

// NightMotionEnabled reports whether night-motion alerts are armed.
func (p *Policy) NightMotionEnabled() bool { return p.nightMotion }

// Decision is the outcome of evaluating one frame.
type Decision struct {
	ShouldPersist bool
	// Reasons lists dangerous_objects before night_motion.
	Reasons []Reason
	// Dangerous holds the detections that matched the dangerous set.
	Dangerous []ai.Detection
	// NightMotion is set when motion was seen in a dark scene.
	NightMotion bool
}

// Evaluate applies the policy to a frame's detections and scene signal.
func (p *Policy) Evaluate(dets []ai.Detection, sig scene.Signal) Decision {
	var d Decision
	for _, det := range dets {
		if p.IsDangerous(det.Label) {
			d.Dangerous = append(d.Dangerous, det)
		}
	}
	if len(d.Dangerous) > 0 {
		d.Reasons = append(d.Reasons, ReasonDangerousObjects)
	}
	if p.nightMotion && sig.MotionDetected && sig.IsNight {
		d.NightMotion = true
		d.Reasons = append(d.Reasons, ReasonNightMotion)
	}
	d.ShouldPersist = len(d.Reasons) > 0
	return d
}

// Tag joins the reasons with "_", as used in file names.
func (d Decision) Tag() string {
	return strings.Join(d.ReasonStrings(), "_")
}

func (d Decision) ReasonStrings() []string {
	out := make([]string, len(d.Reasons))
	for i, r := range d.Reasons {
		out[i] = string(r)
	}
	return out
}
