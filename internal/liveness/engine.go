package liveness

import (
	"context"
	"fmt"
	"io"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/sirupsen/logrus"
)

// Detector finds faces and their 68 landmarks in an encoded frame.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]types.FaceResult, error)
}

// Recorder receives per-frame EAR values and check outcomes for telemetry.
type Recorder interface {
	ObserveEAR(ear float64)
	ObserveCheck(reason string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveEAR(float64)  {}
func (nopRecorder) ObserveCheck(string) {}

// Engine runs blink checks over bursts of frames.
// It holds no per-check state; every Check starts a new Session.
type Engine struct {
	detector Detector
	cfg      Config
	log      logrus.FieldLogger
	recorder Recorder
	observe  func(Observation)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for per-frame diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithObserver registers fn to see every frame a Check evaluates.
func WithObserver(fn func(Observation)) Option {
	return func(e *Engine) { e.observe = fn }
}

// NewEngine builds an engine around a detector.
func NewEngine(detector Detector, cfg Config, opts ...Option) (*Engine, error) {
	if detector == nil {
		return nil, fmt.Errorf("%w: nil detector", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	e := &Engine{
		detector: detector,
		cfg:      cfg,
		log:      quiet,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine parameters.
func (e *Engine) Config() Config { return e.cfg }

// NewSession returns a fresh session using the engine parameters.
func (e *Engine) NewSession() *Session { return NewSession(e.cfg) }

// Check evaluates up to Config.Frames frames and stops as soon as the session
// is decided. Landmark and geometry problems never fail the check; the error
// is only set when the context ends or the detector itself breaks, and the
// partial result is still returned.
func (e *Engine) Check(ctx context.Context, frames [][]byte) (Result, error) {
	s := e.NewSession()
	log := e.log.WithField("session", s.ID)

	for i, frame := range frames {
		if i >= e.cfg.Frames {
			break
		}
		if err := ctx.Err(); err != nil {
			return e.finish(s), err
		}

		faces, err := e.detector.Detect(ctx, frame)
		if err != nil {
			return e.finish(s), fmt.Errorf("detect frame %d: %w", i+1, err)
		}

		obs := s.Observe(faces)
		fields := logrus.Fields{
			"frame":   obs.Frame,
			"faces":   obs.Faces,
			"counter": obs.Counter,
			"reason":  obs.Reason,
		}
		if obs.Valid {
			fields["ear"] = fmt.Sprintf("%.3f", obs.EAR)
			e.recorder.ObserveEAR(obs.EAR)
		}
		if obs.Err != nil {
			fields["error"] = obs.Err
		}
		log.WithFields(fields).Debug("frame evaluated")
		if e.observe != nil {
			e.observe(obs)
		}

		if s.Finished() {
			break
		}
	}

	res := e.finish(s)
	log.WithFields(logrus.Fields{
		"blinked": res.Blinked,
		"reason":  res.Reason,
		"frames":  res.Frames,
	}).Info("liveness check finished")
	return res, nil
}

func (e *Engine) finish(s *Session) Result {
	res := s.Result()
	e.recorder.ObserveCheck(string(res.Reason))
	return res
}
