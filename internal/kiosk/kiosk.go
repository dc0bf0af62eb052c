// Package kiosk runs the register and login flows: capture a burst, gate it
// behind the blink check, encode the face and look it up.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andresmejia3/facegate/internal/capture"
	"github.com/andresmejia3/facegate/internal/gallery"
	"github.com/andresmejia3/facegate/internal/liveness"
	"github.com/andresmejia3/facegate/internal/recognition"
	"github.com/sirupsen/logrus"
)

// Outcome is the user-facing result of a login or registration.
type Outcome string

const (
	LoginSuccess   Outcome = "success"
	LoginNoMatch   Outcome = "no_match"
	OutcomeNoFace  Outcome = "no_face"
	OutcomeNotLive Outcome = "not_live"
	Registered     Outcome = "registered"
)

// Recorder receives flow outcomes for telemetry.
type Recorder interface {
	RecordLogin(outcome string)
	RecordRegistration(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string)        {}
func (nopRecorder) RecordRegistration(string) {}

// Deps are the collaborators of a Kiosk.
type Deps struct {
	Source    capture.Source
	Engine    *liveness.Engine
	Encoder   recognition.Encoder
	Gallery   *gallery.Gallery
	AccessLog *gallery.AccessLog
	Index     IdentityIndex
	Recorder  Recorder
	Log       logrus.FieldLogger
	// Now is the clock used for access log entries.
	Now func() time.Time
}

// Settings tune capture and matching.
type Settings struct {
	BurstFrames   int
	FrameInterval time.Duration
	// MaxFrameSide bounds the frames sent for landmark detection; 0 keeps them as captured.
	MaxFrameSide int
	Tolerance    float64
}

type Kiosk struct {
	Deps
	settings Settings
}

// LoginResult describes one login attempt.
type LoginResult struct {
	Outcome  Outcome
	Name     string
	Distance float64
	Liveness liveness.Result
}

// RegisterResult describes one registration attempt.
type RegisterResult struct {
	Outcome   Outcome
	Name      string
	ImagePath string
	Liveness  liveness.Result
}

// New wires a kiosk. Source, Engine, Encoder, Gallery and Index are required.
func New(deps Deps, settings Settings) (*Kiosk, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("kiosk: nil frame source")
	case deps.Engine == nil:
		return nil, errors.New("kiosk: nil liveness engine")
	case deps.Encoder == nil:
		return nil, errors.New("kiosk: nil encoder")
	case deps.Gallery == nil:
		return nil, errors.New("kiosk: nil gallery")
	case deps.Index == nil:
		return nil, errors.New("kiosk: nil identity index")
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		deps.Log = quiet
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if settings.BurstFrames <= 0 {
		settings.BurstFrames = deps.Engine.Config().Frames
	}
	if settings.Tolerance <= 0 {
		settings.Tolerance = recognition.DefaultTolerance
	}
	return &Kiosk{Deps: deps, settings: settings}, nil
}

// capture collects a burst as captured and a copy scaled for landmark detection.
func (k *Kiosk) capture(ctx context.Context) (full, scaled [][]byte, err error) {
	full, err = capture.Burst(ctx, k.Source, k.settings.BurstFrames, k.settings.FrameInterval)
	if err != nil {
		return nil, nil, fmt.Errorf("capture: %w", err)
	}
	scaled = make([][]byte, len(full))
	for i, f := range full {
		if scaled[i], err = capture.Downscale(f, k.settings.MaxFrameSide); err != nil {
			return nil, nil, fmt.Errorf("capture frame %d: %w", i+1, err)
		}
	}
	return full, scaled, nil
}

// Check captures a burst and runs only the blink check.
func (k *Kiosk) Check(ctx context.Context) (liveness.Result, error) {
	_, scaled, err := k.capture(ctx)
	if err != nil {
		return liveness.Result{}, err
	}
	return k.Engine.Check(ctx, scaled)
}

// encodeNewest returns the encoding of the most recent frame that holds a face.
func (k *Kiosk) encodeNewest(ctx context.Context, frames [][]byte) ([]float64, []byte, bool, error) {
	for i := len(frames) - 1; i >= 0; i-- {
		vec, ok, err := k.Encoder.Encode(ctx, frames[i])
		if err != nil {
			return nil, nil, false, fmt.Errorf("encode: %w", err)
		}
		if ok {
			return vec, frames[i], true, nil
		}
	}
	return nil, nil, false, nil
}

// gate maps a failed liveness result onto a flow outcome.
func gate(res liveness.Result) Outcome {
	if res.Reason == liveness.ReasonNoFace {
		return OutcomeNoFace
	}
	return OutcomeNotLive
}

// Login captures a burst, requires a blink and matches the face against the
// registered identities. Successful logins are appended to the access log.
func (k *Kiosk) Login(ctx context.Context) (LoginResult, error) {
	res, err := k.login(ctx)
	if err == nil {
		k.Recorder.RecordLogin(string(res.Outcome))
	}
	return res, err
}

func (k *Kiosk) login(ctx context.Context) (LoginResult, error) {
	full, scaled, err := k.capture(ctx)
	if err != nil {
		return LoginResult{}, err
	}

	live, err := k.Engine.Check(ctx, scaled)
	if err != nil {
		return LoginResult{Liveness: live}, err
	}
	log := k.Log.WithField("session", live.SessionID)
	if !live.Blinked {
		log.WithField("reason", live.Reason).Info("login rejected by liveness check")
		return LoginResult{Outcome: gate(live), Liveness: live}, nil
	}

	vec, _, ok, err := k.encodeNewest(ctx, full)
	if err != nil {
		return LoginResult{Liveness: live}, err
	}
	if !ok {
		log.Info("login rejected: no face to encode")
		return LoginResult{Outcome: OutcomeNoFace, Liveness: live}, nil
	}

	m, ok, err := k.Index.Match(ctx, vec, k.settings.Tolerance)
	if err != nil {
		return LoginResult{Liveness: live}, fmt.Errorf("match: %w", err)
	}
	if !ok {
		log.WithField("distance", fmt.Sprintf("%.3f", m.Distance)).Info("login rejected: no matching user")
		return LoginResult{Outcome: LoginNoMatch, Distance: m.Distance, Liveness: live}, nil
	}

	if k.AccessLog != nil {
		if err := k.AccessLog.Append(m.Name, k.Now()); err != nil {
			return LoginResult{}, fmt.Errorf("access log: %w", err)
		}
	}
	if err := k.Index.RecordLogin(ctx, m, live.SessionID); err != nil {
		// The access log already holds the login.
		log.WithError(err).Warn("failed to record login in the identity index")
	}

	log.WithFields(logrus.Fields{
		"user":     m.Name,
		"distance": fmt.Sprintf("%.3f", m.Distance),
	}).Info("login succeeded")
	return LoginResult{Outcome: LoginSuccess, Name: m.Name, Distance: m.Distance, Liveness: live}, nil
}

// Register captures a burst, requires a blink and stores the newest frame
// holding a face as the reference image of name.
func (k *Kiosk) Register(ctx context.Context, name string) (RegisterResult, error) {
	res, err := k.register(ctx, name)
	if err == nil {
		k.Recorder.RecordRegistration(string(res.Outcome))
	}
	return res, err
}

func (k *Kiosk) register(ctx context.Context, name string) (RegisterResult, error) {
	if err := gallery.ValidateName(name); err != nil {
		return RegisterResult{}, err
	}
	if k.Gallery.Exists(name) {
		return RegisterResult{}, fmt.Errorf("%w: %s", gallery.ErrExists, name)
	}

	full, scaled, err := k.capture(ctx)
	if err != nil {
		return RegisterResult{}, err
	}
	live, err := k.Engine.Check(ctx, scaled)
	if err != nil {
		return RegisterResult{Liveness: live}, err
	}
	log := k.Log.WithFields(logrus.Fields{"session": live.SessionID, "user": name})
	if !live.Blinked {
		log.WithField("reason", live.Reason).Info("registration rejected by liveness check")
		return RegisterResult{Outcome: gate(live), Name: name, Liveness: live}, nil
	}

	vec, frame, ok, err := k.encodeNewest(ctx, full)
	if err != nil {
		return RegisterResult{Liveness: live}, err
	}
	if !ok {
		log.Info("registration rejected: no face to encode")
		return RegisterResult{Outcome: OutcomeNoFace, Name: name, Liveness: live}, nil
	}

	img, err := capture.ToJPEG(frame)
	if err != nil {
		return RegisterResult{Liveness: live}, err
	}
	path, err := k.Gallery.Save(name, img, false)
	if err != nil {
		return RegisterResult{Liveness: live}, err
	}
	if err := k.Index.Add(ctx, name, vec, path); err != nil {
		// Keep gallery and index consistent.
		if rmErr := k.Gallery.Remove(name); rmErr != nil {
			log.WithError(rmErr).Error("failed to roll back reference image")
		}
		return RegisterResult{Liveness: live}, fmt.Errorf("index: %w", err)
	}

	log.WithField("path", path).Info("user registered")
	return RegisterResult{Outcome: Registered, Name: name, ImagePath: path, Liveness: live}, nil
}

// Remove deletes a registered identity from the gallery and the index.
func (k *Kiosk) Remove(ctx context.Context, name string) error {
	return NewRoster(k.Gallery, k.Index, k.Log).Remove(ctx, name)
}

// Rename relabels a registered identity in the gallery and the index.
func (k *Kiosk) Rename(ctx context.Context, oldName, newName string) error {
	return NewRoster(k.Gallery, k.Index, k.Log).Rename(ctx, oldName, newName)
}
