package ai

import (
	"fmt"
)

// DetectionError is a classifier failure. Index is the offending
// detection, or -1 when the whole frame failed.
type DetectionError struct {
	Index int
	Err   error
}

func (e *DetectionError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("detection failed: %v", e.Err)
	}
	return fmt.Sprintf("detection %d rejected: %v", e.Index, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// EncodeError means a frame could not be turned into JPEG.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("encode frame: %v", e.Err) }

func (e *EncodeError) Unwrap() error { return e.Err }
