package types

// LandmarkCount is the size of a landmark set in the standard 68-point scheme.
const LandmarkCount = 68

// EncodingDim is the length of a face encoding produced by the engine.
const EncodingDim = 128

// Point is a single facial landmark in pixel coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Box is a face bounding region in the engine's [top, right, bottom, left] order.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Area returns the pixel area of the box, 0 for inverted boxes.
func (b Box) Area() int {
	w := b.Right - b.Left
	h := b.Bottom - b.Top
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// FaceResult is one face returned by the engine for a frame.
type FaceResult struct {
	Loc       Box       `json:"loc"`
	Landmarks []Point   `json:"landmarks"`     // 68-point scheme
	Vec       []float64 `json:"vec,omitempty"` // 128-d face encoding, only for encode requests
}

// Largest returns the face with the biggest bounding box, or false for an empty slice.
func Largest(faces []FaceResult) (FaceResult, bool) {
	if len(faces) == 0 {
		return FaceResult{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Loc.Area() > best.Loc.Area() {
			best = f
		}
	}
	return best, true
}
