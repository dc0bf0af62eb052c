package liveness

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/google/uuid"
)

// Defaults for a liveness check.
const (
	DefaultThreshold         = 0.27
	DefaultConsecutiveFrames = 1
	DefaultFrames            = 5
)

// NoFacePolicy decides what a frame without any face does to a session.
type NoFacePolicy string

const (
	// NoFaceFail ends the session unconfirmed on the first empty frame.
	NoFaceFail NoFacePolicy = "fail"
	// NoFaceSkip ignores empty frames and keeps accumulating.
	NoFaceSkip NoFacePolicy = "skip"
)

// Config tunes the blink decision.
type Config struct {
	// Threshold is the EAR below which an eye counts as closed.
	Threshold float64
	// ConsecutiveFrames is how many low-EAR frames in a row confirm a blink.
	ConsecutiveFrames int
	// Frames is the frame budget of one check.
	Frames int
	// NoFace selects the empty-frame behaviour.
	NoFace NoFacePolicy
	// RequireReopen demands an explicit open -> closed -> open cycle instead
	// of accepting a closed run on its own.
	RequireReopen bool
}

// DefaultConfig returns the reference parameters: threshold 0.27, one
// low frame confirms, five frames per check, empty frames fail the check.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ConsecutiveFrames: DefaultConsecutiveFrames,
		Frames:            DefaultFrames,
		NoFace:            NoFaceFail,
	}
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	if c.Threshold <= 0 || math.IsNaN(c.Threshold) {
		return fmt.Errorf("%w: threshold must be positive, got %v", ErrInvalidConfig, c.Threshold)
	}
	if c.ConsecutiveFrames < 1 {
		return fmt.Errorf("%w: consecutive frames must be >= 1, got %d", ErrInvalidConfig, c.ConsecutiveFrames)
	}
	if c.Frames < 1 {
		return fmt.Errorf("%w: frame budget must be >= 1, got %d", ErrInvalidConfig, c.Frames)
	}
	switch c.NoFace {
	case NoFaceFail, NoFaceSkip:
	default:
		return fmt.Errorf("%w: unknown no-face policy %q", ErrInvalidConfig, c.NoFace)
	}
	return nil
}

// State is the position of a session in the blink state machine.
type State int

const (
	// AwaitingBlink is the initial state and the terminal "not confirmed" state.
	AwaitingBlink State = iota
	// BlinkConfirmed is reached once the low-EAR counter hits its target.
	BlinkConfirmed
)

func (s State) String() string {
	switch s {
	case AwaitingBlink:
		return "awaiting_blink"
	case BlinkConfirmed:
		return "blink_confirmed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason explains a frame evaluation or a session outcome.
type Reason string

const (
	ReasonBlink            Reason = "blink"
	ReasonNoBlink          Reason = "no_blink"
	ReasonNoFace           Reason = "no_face"
	ReasonInvalidLandmarks Reason = "invalid_landmarks"
	ReasonDegenerate       Reason = "degenerate_geometry"
	ReasonEyesOpen         Reason = "eyes_open"
	ReasonEyesClosed       Reason = "eyes_closed"
	ReasonFinished         Reason = "finished"
)

// Observation describes what one frame did to a session.
type Observation struct {
	Frame     int
	Faces     int
	EAR       float64 // lowest face EAR of the frame, valid only when Valid is set
	Valid     bool
	Counter   int
	State     State
	Confirmed bool // the transition to BlinkConfirmed happened on this frame
	Reason    Reason
	Err       error
}

// Result is the outcome of a finished session.
type Result struct {
	SessionID string
	Blinked   bool
	Reason    Reason
	Frames    int
	EARs      []float64
}

// Session holds the consecutive low-EAR counter of one liveness check.
// A Session must not be shared between checks or goroutines.
type Session struct {
	ID string

	cfg     Config
	state   State
	counter int
	frames  int
	ears    []float64

	failed  bool
	valid   int
	lastBad Reason

	sawOpen bool
	armed   bool
}

// NewSession starts a fresh session with a zeroed counter.
func NewSession(cfg Config) *Session {
	return &Session{
		ID:    uuid.NewString(),
		cfg:   cfg,
		state: AwaitingBlink,
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Counter returns the current consecutive low-EAR frame count.
func (s *Session) Counter() int { return s.counter }

// Finished reports whether the session reached a decision.
func (s *Session) Finished() bool {
	return s.state == BlinkConfirmed || s.failed
}

// Observe feeds one frame's detected faces into the session.
func (s *Session) Observe(faces []types.FaceResult) Observation {
	if s.Finished() {
		return Observation{Frame: s.frames, State: s.state, Counter: s.counter, Reason: ReasonFinished}
	}

	s.frames++
	obs := Observation{Frame: s.frames, Faces: len(faces)}

	if len(faces) == 0 {
		if s.cfg.NoFace == NoFaceFail {
			s.failed = true
		}
		obs.Reason = ReasonNoFace
		obs.Err = ErrNoFaceDetected
		return s.stamp(obs)
	}

	ear, err := s.frameEAR(faces)
	if err != nil {
		obs.Err = err
		obs.Reason = reasonFor(err)
		s.lastBad = obs.Reason
		return s.stamp(obs)
	}

	s.valid++
	s.ears = append(s.ears, ear)
	obs.EAR = ear
	obs.Valid = true

	if ear < s.cfg.Threshold {
		obs.Reason = ReasonEyesClosed
		s.closed()
	} else {
		obs.Reason = ReasonEyesOpen
		obs.Confirmed = s.opened()
		return s.stamp(obs)
	}

	if !s.cfg.RequireReopen && s.counter >= s.cfg.ConsecutiveFrames {
		s.state = BlinkConfirmed
		obs.Confirmed = true
	}
	return s.stamp(obs)
}

// closed handles a low-EAR frame.
func (s *Session) closed() {
	if s.cfg.RequireReopen && !s.sawOpen {
		return
	}
	s.counter++
	if s.cfg.RequireReopen && s.counter >= s.cfg.ConsecutiveFrames {
		s.armed = true
	}
}

// opened handles an open frame and reports whether it completed a cycle.
func (s *Session) opened() bool {
	s.counter = 0
	if s.cfg.RequireReopen && s.armed {
		s.state = BlinkConfirmed
		return true
	}
	s.sawOpen = true
	return false
}

func (s *Session) stamp(obs Observation) Observation {
	obs.Counter = s.counter
	obs.State = s.state
	return obs
}

// frameEAR returns the lowest EAR among the faces of a frame, skipping faces
// whose ratio is undefined.
func (s *Session) frameEAR(faces []types.FaceResult) (float64, error) {
	best := math.Inf(1)
	var firstErr error
	for _, f := range faces {
		ear, err := FaceEAR(f.Landmarks)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		best = math.Min(best, ear)
	}
	if math.IsInf(best, 1) {
		return 0, firstErr
	}
	return best, nil
}

// Result summarises the session.
func (s *Session) Result() Result {
	res := Result{
		SessionID: s.ID,
		Blinked:   s.state == BlinkConfirmed,
		Frames:    s.frames,
		EARs:      append([]float64(nil), s.ears...),
	}
	switch {
	case res.Blinked:
		res.Reason = ReasonBlink
	case s.failed:
		res.Reason = ReasonNoFace
	case s.valid == 0 && s.lastBad != "":
		res.Reason = s.lastBad
	case s.valid == 0 && s.frames > 0:
		res.Reason = ReasonNoFace
	default:
		res.Reason = ReasonNoBlink
	}
	return res
}

func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, ErrDegenerateGeometry):
		return ReasonDegenerate
	case errors.Is(err, ErrInvalidLandmarks):
		return ReasonInvalidLandmarks
	default:
		return ReasonNoFace
	}
}
