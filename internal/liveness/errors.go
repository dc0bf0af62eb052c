package liveness

import "errors"

var (
	// ErrNoFaceDetected is reported when a frame holds no face at all.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrInvalidLandmarks is returned for landmark sets or contours of the wrong size.
	ErrInvalidLandmarks = errors.New("invalid landmark input")
	// ErrDegenerateGeometry is returned when an eye's horizontal span is zero.
	ErrDegenerateGeometry = errors.New("degenerate eye geometry")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid liveness config")
)
