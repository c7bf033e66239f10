package ai

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	errNoClass         = errors.New("no class index or name")
	errBadConfidence   = errors.New("confidence outside [0,1]")
	errEmptyFrameShape = errors.New("frame has no pixels")
)

// Filter drops valid detections the caller is not interested in.
type Filter struct {
	MinConfidence  float64
	EnabledClasses []string // empty means all
}

func (f Filter) allows(d Detection) bool {
	if d.Confidence < f.MinConfidence {
		return false
	}
	if len(f.EnabledClasses) == 0 {
		return true
	}
	for _, c := range f.EnabledClasses {
		if strings.EqualFold(c, d.Label) {
			return true
		}
	}
	return false
}

// Normalize turns raw boxes into detections. Boxes whose class cannot be
// resolved through names, or whose confidence is out of range, are
// returned as DetectionErrors and skipped; the rest are clamped to the
// width x height frame and kept in classifier order.
func Normalize(boxes []BoundingBox, names []string, width, height int, filter Filter) ([]Detection, []error) {
	if width <= 0 || height <= 0 {
		return nil, []error{&DetectionError{Index: -1, Err: errEmptyFrameShape}}
	}

	var (
		dets []Detection
		errs []error
	)
	for i, b := range boxes {
		label, err := resolveLabel(b, names)
		if err != nil {
			errs = append(errs, &DetectionError{Index: i, Err: err})
			continue
		}
		if math.IsNaN(b.Confidence) || b.Confidence < 0 || b.Confidence > 1 {
			errs = append(errs, &DetectionError{Index: i, Err: fmt.Errorf("%w: %v", errBadConfidence, b.Confidence)})
			continue
		}

		d := Detection{Label: label, Confidence: b.Confidence, Box: clampBox(b, width, height)}
		if filter.allows(d) {
			dets = append(dets, d)
		}
	}
	return dets, errs
}

func resolveLabel(b BoundingBox, names []string) (string, error) {
	if b.ClassName != "" {
		return b.ClassName, nil
	}
	if b.ClassID == nil {
		return "", errNoClass
	}
	id := *b.ClassID
	if id < 0 || id >= len(names) || names[id] == "" {
		return "", fmt.Errorf("class index %d not in label table of %d", id, len(names))
	}
	return names[id], nil
}

// clampBox rounds coordinates and clamps them to [0,w-1] x [0,h-1],
// swapping corners that arrive reversed.
func clampBox(b BoundingBox, width, height int) Box {
	x1, x2 := clamp(b.X1, width-1), clamp(b.X2, width-1)
	y1, y2 := clamp(b.Y1, height-1), clamp(b.Y2, height-1)
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func clamp(v float64, limit int) int {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v >= float64(limit):
		return limit
	}
	return int(math.Round(v))
}
