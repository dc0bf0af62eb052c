// Package recognition compares face encodings the way face_recognition does:
// two faces match when the Euclidean distance of their 128-d encodings is
// within a tolerance.
package recognition

import (
	"context"
	"errors"
	"math"
)

// DefaultTolerance is the face_recognition default. Lower is stricter.
const DefaultTolerance = 0.6

// ErrDimensionMismatch is returned when an encoding does not fit the index.
var ErrDimensionMismatch = errors.New("encoding dimension mismatch")

// Encoder turns an image into a face encoding. ok is false when the image
// holds no face.
type Encoder interface {
	Encode(ctx context.Context, image []byte) (vec []float64, ok bool, err error)
}

// Distance returns the Euclidean distance between two encodings, or +Inf
// when their lengths differ.
func Distance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Compare reports whether candidate matches known under tolerance.
func Compare(known, candidate []float64, tolerance float64) bool {
	return Distance(known, candidate) <= tolerance
}
