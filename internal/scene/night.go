package scene

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Brightness is the mean grayscale intensity of frame, 0..255.
func Brightness(frame gocv.Mat) (float64, error) {
	if frame.Empty() {
		return 0, fmt.Errorf("empty frame")
	}
	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray); err != nil {
		return 0, fmt.Errorf("grayscale: %w", err)
	}
	return gray.Mean().Val1, nil
}

// IsNight reports whether brightness is strictly below threshold.
func IsNight(brightness, threshold float64) bool {
	return brightness < threshold
}

// NightClassifier labels frames as night by mean luminance.
type NightClassifier struct {
	Threshold float64
}

// Classify returns whether frame is dark, and its brightness.
func (c NightClassifier) Classify(frame gocv.Mat) (bool, float64, error) {
	b, err := Brightness(frame)
	if err != nil {
		return false, 0, err
	}
	return IsNight(b, c.Threshold), b, nil
}
