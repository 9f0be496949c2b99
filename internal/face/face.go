package face

import (
	"context"
	"errors"
)

// ErrNoFaceDetected means an image could not be evaluated because no face was
// found in it. Callers must treat it differently from a low-confidence
// mismatch: the comparison never happened.
var ErrNoFaceDetected = errors.New("face: no face detected")

// Result is the outcome of comparing a probe image against a reference.
// Distance is a normalized measure where lower means more similar; Match is
// true iff Distance < Threshold.
type Result struct {
	Match     bool
	Distance  float64
	Threshold float64
}

// Matcher compares a reference image against a probe capture. Any error —
// including ErrNoFaceDetected — means the comparison could not be completed
// and must be treated as a non-match by callers.
type Matcher interface {
	Match(ctx context.Context, reference, probe []byte) (Result, error)
}
