package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/facegate/internal/capture"
	"github.com/andresmejia3/facegate/internal/gallery"
	"github.com/andresmejia3/facegate/internal/kiosk"
	"github.com/andresmejia3/facegate/internal/liveness"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/andresmejia3/facegate/internal/worker"
	"github.com/schollz/progressbar/v3"
)

// station bundles what the capture commands share.
type station struct {
	engine  *worker.PythonWorker
	gallery *gallery.Gallery
	source  capture.Source
	kiosk   *kiosk.Kiosk
}

func (r *station) Close() {
	if r.source != nil {
		r.source.Close()
		r.source = nil
	}
	if r.engine != nil {
		r.engine.Close()
	}
}

// startEngine launches the Python face engine or exits with its crash logs.
func startEngine(ctx context.Context) *worker.PythonWorker {
	fmt.Fprintln(os.Stderr, "⚙️  Starting face engine...")
	w, err := worker.NewPythonWorker(ctx, 0, worker.Config{
		Python:  Cfg.Python,
		Script:  Cfg.WorkerScript,
		Timeout: Cfg.WorkerTimeout,
	})
	if err != nil {
		utils.Die("Worker startup failed", err, nil)
	}
	w.Observer = Metrics
	return w
}

func openGallery() *gallery.Gallery {
	g, err := gallery.Open(Cfg.GalleryDir)
	if err != nil {
		utils.Die("Failed to open gallery", err, nil)
	}
	return g
}

// newLivenessEngine builds the blink check from the config. frames overrides
// the configured frame budget when positive.
func newLivenessEngine(d liveness.Detector, frames int, opts ...liveness.Option) *liveness.Engine {
	cfg := Cfg.Liveness()
	if frames > 0 {
		cfg.Frames = frames
	}
	opts = append([]liveness.Option{
		liveness.WithLogger(Log.WithField("component", "liveness")),
		liveness.WithRecorder(Metrics),
	}, opts...)
	e, err := liveness.NewEngine(d, cfg, opts...)
	if err != nil {
		utils.Die("Invalid liveness settings", err, nil)
	}
	return e
}

// openIndex picks the database index when connected, otherwise encodes the
// gallery in memory.
func openIndex(ctx context.Context, g *gallery.Gallery, w *worker.PythonWorker) kiosk.IdentityIndex {
	if DB != nil {
		return kiosk.NewStoreIndex(DB)
	}

	refs, err := g.List()
	if err != nil {
		utils.Die("Failed to list gallery", err, nil)
	}
	bar := progressbar.NewOptions(len(refs),
		progressbar.OptionSetDescription("🧬 Encoding gallery"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	idx, skipped, err := kiosk.LoadGallery(ctx, g, w, func(string) { bar.Add(1) })
	bar.Finish()
	if err != nil {
		utils.Die("Failed to encode gallery", err, w.Cmd)
	}
	for _, s := range skipped {
		Log.WithField("user", s.Name).Warnf("reference skipped: %s", s.Reason)
	}
	return idx
}

// newStation starts the engine, opens the camera and wires a kiosk.
func newStation(ctx context.Context) *station {
	r := &station{gallery: openGallery()}
	r.engine = startEngine(ctx)

	index := openIndex(ctx, r.gallery, r.engine)

	cam, err := capture.OpenCamera(ctx, Cfg.CameraDevice, Cfg.CameraFormat)
	if err != nil {
		r.Close()
		utils.Die("Failed to open camera", err, nil)
	}
	r.source = cam

	r.kiosk, err = kiosk.New(kiosk.Deps{
		Source:    cam,
		Engine:    newLivenessEngine(r.engine, 0),
		Encoder:   r.engine,
		Gallery:   r.gallery,
		AccessLog: gallery.NewAccessLog(Cfg.AccessLogPath()),
		Index:     index,
		Recorder:  Metrics,
		Log:       Log.WithField("component", "kiosk"),
	}, kiosk.Settings{
		BurstFrames:   Cfg.BurstFrames,
		FrameInterval: Cfg.FrameInterval,
		MaxFrameSide:  Cfg.MaxFrameSide,
		Tolerance:     Cfg.MatchTolerance,
	})
	if err != nil {
		r.Close()
		utils.Die("Failed to start kiosk", err, nil)
	}
	return r
}

// die reports a flow error, attaching the engine's crash logs, or the
// camera's when the engine is still healthy.
func (r *station) die(ctx context.Context, msg string, err error) {
	var s *utils.SafeCommand
	if r.engine != nil {
		s = r.engine.Cmd
		if r.engine.Healthy(ctx) == nil && r.source != nil {
			s = sourceLogs(r.source)
		}
	}
	r.Close()
	utils.Die(msg, err, s)
}

// sourceLogs returns the ffmpeg process behind src, if any.
func sourceLogs(src capture.Source) *utils.SafeCommand {
	if c, ok := src.(interface{ Command() *utils.SafeCommand }); ok {
		return c.Command()
	}
	return nil
}

// openRoster edits identities without starting the engine. Without a
// database the in-memory index is rebuilt at every start, so only the
// gallery needs changing.
func openRoster() *kiosk.Roster {
	var index kiosk.IdentityIndex = kiosk.NewGalleryIndex()
	if DB != nil {
		index = kiosk.NewStoreIndex(DB)
	}
	return kiosk.NewRoster(openGallery(), index, Log.WithField("component", "roster"))
}
