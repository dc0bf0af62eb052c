package liveness

import (
	"errors"
	"testing"

	"github.com/andresmejia3/facegate/internal/types"
)

func faces(lms ...[]types.Point) []types.FaceResult {
	out := make([]types.FaceResult, len(lms))
	for i, lm := range lms {
		out[i] = types.FaceResult{Landmarks: lm}
	}
	return out
}

var (
	openFace   = face(openEye(10), openEye(120))
	closedFace = face(closedEye(10), closedEye(120))
	winkFace   = face(closedEye(10), openEye(120))
	brokenFace = face(eye(10, 200, 0, 3), eye(120, 200, 0, 3))
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero threshold", mutate: func(c *Config) { c.Threshold = 0 }, wantErr: true},
		{name: "zero consecutive frames", mutate: func(c *Config) { c.ConsecutiveFrames = 0 }, wantErr: true},
		{name: "zero frame budget", mutate: func(c *Config) { c.Frames = 0 }, wantErr: true},
		{name: "unknown policy", mutate: func(c *Config) { c.NoFace = "maybe" }, wantErr: true},
		{name: "skip policy", mutate: func(c *Config) { c.NoFace = NoFaceSkip }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestSession(t *testing.T) {
	withConsecutive := func(n int) Config {
		cfg := DefaultConfig()
		cfg.ConsecutiveFrames = n
		return cfg
	}
	skipEmpty := DefaultConfig()
	skipEmpty.NoFace = NoFaceSkip
	reopen := DefaultConfig()
	reopen.RequireReopen = true

	tests := []struct {
		name        string
		cfg         Config
		frames      [][]types.FaceResult
		wantBlinked bool
		wantReason  Reason
		wantFrames  int
	}{
		{
			name:        "single closed frame confirms with defaults",
			cfg:         DefaultConfig(),
			frames:      [][]types.FaceResult{faces(closedFace)},
			wantBlinked: true,
			wantReason:  ReasonBlink,
			wantFrames:  1,
		},
		{
			name:        "all frames open",
			cfg:         DefaultConfig(),
			frames:      [][]types.FaceResult{faces(openFace), faces(openFace), faces(openFace), faces(openFace), faces(openFace)},
			wantBlinked: false,
			wantReason:  ReasonNoBlink,
			wantFrames:  5,
		},
		{
			name:        "no face fails immediately",
			cfg:         DefaultConfig(),
			frames:      [][]types.FaceResult{nil, faces(closedFace)},
			wantBlinked: false,
			wantReason:  ReasonNoFace,
			wantFrames:  1,
		},
		{
			name:        "no face skipped when configured",
			cfg:         skipEmpty,
			frames:      [][]types.FaceResult{nil, faces(closedFace)},
			wantBlinked: true,
			wantReason:  ReasonBlink,
			wantFrames:  2,
		},
		{
			name:        "only empty frames with skip policy",
			cfg:         skipEmpty,
			frames:      [][]types.FaceResult{nil, nil},
			wantBlinked: false,
			wantReason:  ReasonNoFace,
			wantFrames:  2,
		},
		{
			name:        "closed left open right averages below threshold",
			cfg:         DefaultConfig(),
			frames:      [][]types.FaceResult{faces(winkFace)},
			wantBlinked: true,
			wantReason:  ReasonBlink,
			wantFrames:  1,
		},
		{
			name:        "degenerate face does not crash",
			cfg:         DefaultConfig(),
			frames:      [][]types.FaceResult{faces(brokenFace), faces(brokenFace)},
			wantBlinked: false,
			wantReason:  ReasonDegenerate,
			wantFrames:  2,
		},
		{
			name:        "malformed landmarks are skipped",
			cfg:         DefaultConfig(),
			frames:      [][]types.FaceResult{faces(make([]types.Point, 5))},
			wantBlinked: false,
			wantReason:  ReasonInvalidLandmarks,
			wantFrames:  1,
		},
		{
			name:        "bad frame then closed frame still confirms",
			cfg:         DefaultConfig(),
			frames:      [][]types.FaceResult{faces(brokenFace), faces(closedFace)},
			wantBlinked: true,
			wantReason:  ReasonBlink,
			wantFrames:  2,
		},
		{
			name:        "lowest face in frame decides",
			cfg:         DefaultConfig(),
			frames:      [][]types.FaceResult{faces(openFace, closedFace)},
			wantBlinked: true,
			wantReason:  ReasonBlink,
			wantFrames:  1,
		},
		{
			name:        "two consecutive frames required",
			cfg:         withConsecutive(2),
			frames:      [][]types.FaceResult{faces(closedFace), faces(openFace), faces(closedFace), faces(closedFace)},
			wantBlinked: true,
			wantReason:  ReasonBlink,
			wantFrames:  4,
		},
		{
			name:        "interrupted run resets counter",
			cfg:         withConsecutive(2),
			frames:      [][]types.FaceResult{faces(closedFace), faces(openFace), faces(closedFace), faces(openFace)},
			wantBlinked: false,
			wantReason:  ReasonNoBlink,
			wantFrames:  4,
		},
		{
			name:        "reopen required: closed only is not enough",
			cfg:         reopen,
			frames:      [][]types.FaceResult{faces(closedFace), faces(closedFace), faces(closedFace)},
			wantBlinked: false,
			wantReason:  ReasonNoBlink,
			wantFrames:  3,
		},
		{
			name:        "reopen required: full cycle confirms",
			cfg:         reopen,
			frames:      [][]types.FaceResult{faces(openFace), faces(closedFace), faces(openFace)},
			wantBlinked: true,
			wantReason:  ReasonBlink,
			wantFrames:  3,
		},
		{
			name:        "reopen required: open then closed is pending",
			cfg:         reopen,
			frames:      [][]types.FaceResult{faces(openFace), faces(closedFace)},
			wantBlinked: false,
			wantReason:  ReasonNoBlink,
			wantFrames:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(tt.cfg)
			for _, f := range tt.frames {
				s.Observe(f)
			}
			res := s.Result()
			if res.Blinked != tt.wantBlinked {
				t.Errorf("Blinked = %v, want %v", res.Blinked, tt.wantBlinked)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.wantReason)
			}
			if res.Frames != tt.wantFrames {
				t.Errorf("Frames = %d, want %d", res.Frames, tt.wantFrames)
			}
			if res.SessionID == "" {
				t.Error("SessionID is empty")
			}
		})
	}
}

func TestSession_ConfirmsOnce(t *testing.T) {
	s := NewSession(DefaultConfig())

	first := s.Observe(faces(closedFace))
	if !first.Confirmed || first.State != BlinkConfirmed {
		t.Fatalf("first observation = %+v, want confirmed", first)
	}

	for i := 0; i < 3; i++ {
		obs := s.Observe(faces(closedFace))
		if obs.Confirmed {
			t.Fatalf("observation %d confirmed again", i+2)
		}
		if obs.Reason != ReasonFinished {
			t.Errorf("observation %d reason = %q, want %q", i+2, obs.Reason, ReasonFinished)
		}
	}
	if got := s.Result().Frames; got != 1 {
		t.Errorf("Frames = %d, want 1", got)
	}
}

func TestSession_CounterResetsOnOpenFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFrames = 3
	s := NewSession(cfg)

	s.Observe(faces(closedFace))
	s.Observe(faces(closedFace))
	if s.Counter() != 2 {
		t.Fatalf("Counter() = %d, want 2", s.Counter())
	}

	obs := s.Observe(faces(openFace))
	if s.Counter() != 0 || obs.Counter != 0 {
		t.Errorf("Counter() after open frame = %d, want 0", s.Counter())
	}
	if s.State() != AwaitingBlink {
		t.Errorf("State() = %v, want %v", s.State(), AwaitingBlink)
	}
}

func TestSession_ThresholdIsExclusive(t *testing.T) {
	// EAR of exactly the threshold counts as open.
	cfg := DefaultConfig()
	cfg.Threshold = 0.3
	s := NewSession(cfg)

	obs := s.Observe(faces(openFace))
	if !obs.Valid || obs.Reason != ReasonEyesOpen {
		t.Fatalf("observation = %+v, want a valid open frame", obs)
	}
	if s.Finished() {
		t.Error("session finished on an EAR equal to the threshold")
	}
}

func TestSession_IndependentCounters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFrames = 2
	a := NewSession(cfg)
	b := NewSession(cfg)

	a.Observe(faces(closedFace))
	if b.Counter() != 0 {
		t.Fatalf("session b counter = %d after observing session a", b.Counter())
	}
	if a.ID == b.ID {
		t.Error("sessions share an ID")
	}
}

func TestStateString(t *testing.T) {
	if AwaitingBlink.String() != "awaiting_blink" || BlinkConfirmed.String() != "blink_confirmed" {
		t.Errorf("unexpected state names: %s, %s", AwaitingBlink, BlinkConfirmed)
	}
}
