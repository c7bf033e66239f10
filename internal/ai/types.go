package ai

import "image"

// InferenceRequest is the body of POST /api/v1/inference.
type InferenceRequest struct {
	Image               string   `json:"image"` // base64 JPEG
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	EnabledClasses      []string `json:"enabled_classes,omitempty"`
}

// BoundingBox is one raw detection as the classifier reports it.
// ClassName may be empty when the classifier only knows indices.
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    *int    `json:"class_id,omitempty"`
	ClassName  string  `json:"class_name,omitempty"`
}

// InferenceResponse is the classifier's answer for one image.
type InferenceResponse struct {
	BoundingBoxes   []BoundingBox `json:"bounding_boxes"`
	InferenceTimeMs float64       `json:"inference_time_ms"`
	FrameShape      []int         `json:"frame_shape,omitempty"` // [height, width]
	DetectionCount  int           `json:"detection_count"`
}

// Box is a pixel rectangle inside the frame, corners inclusive.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Rect converts b to an image.Rectangle covering the same pixels.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2+1, b.Y2+1)
}

// Detection is a normalized classifier hit: known label, confidence in
// [0,1], box clamped to the frame.
type Detection struct {
	Label      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Labels returns the labels of dets in order.
func Labels(dets []Detection) []string {
	out := make([]string, len(dets))
	for i, d := range dets {
		out[i] = d.Label
	}
	return out
}
