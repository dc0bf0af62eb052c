// Package liveness implements the blink check used to tell a live subject
// from a photo held up to the camera.
//
// Eye openness is measured with the eye aspect ratio (EAR) over the six
// contour points of each eye in the 68-point landmark scheme:
//
//	EAR = (|p1-p5| + |p2-p4|) / (2 * |p0-p3|)
//
// where p0 and p3 are the eye corners and p1, p2 / p5, p4 the upper and lower
// lid points. An open eye sits around 0.3, a closed one close to 0.
package liveness

import (
	"fmt"
	"math"

	"github.com/andresmejia3/facegate/internal/types"
)

// ContourSize is the number of points describing one eye.
const ContourSize = 6

// Eye contour slices of a 68-point landmark set.
const (
	leftEyeStart  = 36
	rightEyeStart = 42
)

// EyeAspectRatio computes the openness ratio of one eye contour.
// The contour must hold exactly six points with distinct corners.
func EyeAspectRatio(eye []types.Point) (float64, error) {
	if len(eye) != ContourSize {
		return 0, fmt.Errorf("%w: eye contour has %d points, want %d", ErrInvalidLandmarks, len(eye), ContourSize)
	}
	if eye[0] == eye[3] {
		return 0, ErrDegenerateGeometry
	}

	vertical := distance(eye[1], eye[5]) + distance(eye[2], eye[4])
	return vertical / (2 * distance(eye[0], eye[3])), nil
}

// LeftEye returns the left eye contour (points 36-41).
func LeftEye(landmarks []types.Point) ([]types.Point, error) {
	return eyeContour(landmarks, leftEyeStart)
}

// RightEye returns the right eye contour (points 42-47).
func RightEye(landmarks []types.Point) ([]types.Point, error) {
	return eyeContour(landmarks, rightEyeStart)
}

func eyeContour(landmarks []types.Point, start int) ([]types.Point, error) {
	if len(landmarks) != types.LandmarkCount {
		return nil, fmt.Errorf("%w: got %d landmarks, want %d", ErrInvalidLandmarks, len(landmarks), types.LandmarkCount)
	}
	return landmarks[start : start+ContourSize], nil
}

// FaceEAR averages the left and right eye ratios of one face.
// A degenerate eye is left out of the average; the face only fails when
// neither eye yields a ratio.
func FaceEAR(landmarks []types.Point) (float64, error) {
	leftEye, err := LeftEye(landmarks)
	if err != nil {
		return 0, err
	}
	rightEye, err := RightEye(landmarks)
	if err != nil {
		return 0, err
	}

	left, leftErr := EyeAspectRatio(leftEye)
	right, rightErr := EyeAspectRatio(rightEye)

	switch {
	case leftErr == nil && rightErr == nil:
		return (left + right) / 2, nil
	case leftErr == nil:
		return left, nil
	case rightErr == nil:
		return right, nil
	default:
		return 0, leftErr
	}
}

func distance(a, b types.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}
