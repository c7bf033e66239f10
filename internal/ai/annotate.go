package ai

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	boxColor  = color.RGBA{G: 255, A: 255}
	textColor = color.RGBA{A: 255}
)

const (
	fontScale     = 0.5
	fontThickness = 1
)

// Annotate draws a box and "label conf" caption for every detection onto
// mat. A detection that fails to draw is reported and the rest are still
// drawn.
func Annotate(mat *gocv.Mat, dets []Detection) []error {
	var errs []error
	for i, d := range dets {
		if err := drawDetection(mat, d); err != nil {
			errs = append(errs, fmt.Errorf("annotate detection %d (%s): %w", i, d.Label, err))
		}
	}
	return errs
}

func drawDetection(mat *gocv.Mat, d Detection) error {
	rect := d.Box.Rect()
	if err := gocv.Rectangle(mat, rect, boxColor, 2); err != nil {
		return err
	}

	caption := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
	size := gocv.GetTextSize(caption, gocv.FontHersheySimplex, fontScale, fontThickness)

	// Caption sits above the box, or inside it when the box touches the top edge.
	top := rect.Min.Y - size.Y - 6
	if top < 0 {
		top = rect.Min.Y
	}
	bg := image.Rect(rect.Min.X, top, rect.Min.X+size.X+4, top+size.Y+6)
	if err := gocv.Rectangle(mat, bg, boxColor, -1); err != nil {
		return err
	}
	return gocv.PutText(mat, caption, image.Pt(bg.Min.X+2, bg.Max.Y-3), gocv.FontHersheySimplex, fontScale, textColor, fontThickness)
}
