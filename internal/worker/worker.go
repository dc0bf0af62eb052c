package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/utils" // Using the SafeCommand wrapper
)

// Op selects what the engine computes for a frame.
type Op byte

const (
	// OpDetect returns face boxes and landmarks.
	OpDetect Op = 'D'
	// OpEncode additionally returns a 128-d encoding per face.
	OpEncode Op = 'E'
)

func (o Op) String() string {
	switch o {
	case OpDetect:
		return "detect"
	case OpEncode:
		return "encode"
	default:
		return fmt.Sprintf("op(%d)", byte(o))
	}
}

const (
	statusOK    = 0
	statusError = 1

	// Upper bounds used to reject corrupted responses before allocating.
	maxFaces     = 64
	maxLandmarks = 512
)

// ErrTimeout is returned when the engine does not answer within the configured timeout.
var ErrTimeout = errors.New("python worker timed out")

// ErrClosed is returned for requests on a worker that was closed or killed.
var ErrClosed = errors.New("python worker closed")

// Config controls how the engine process is started.
type Config struct {
	Python  string        // interpreter, defaults to python3
	Script  string        // engine script, defaults to python/worker.py
	Timeout time.Duration // per request; 0 disables
}

// Observer receives engine round-trip latencies.
type Observer interface {
	ObserveEngine(op string, d time.Duration)
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	Timeout  time.Duration
	Observer Observer

	mu     sync.Mutex
	broken atomic.Bool
}

// NewPythonWorker starts the face engine. The context bounds the process lifetime.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Script == "" {
		cfg.Script = "python/worker.py"
	}

	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommandContext(ctx, cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		Timeout:  cfg.Timeout,
	}, nil
}

// Communicate sends one length-prefixed request and reads one length-prefixed response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame runs one operation on an encoded frame and parses the faces.
func (w *PythonWorker) ProcessFrame(ctx context.Context, op Op, frame []byte) ([]types.FaceResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken.Load() {
		return nil, ErrClosed
	}

	req := make([]byte, 0, len(frame)+1)
	req = append(req, byte(op))
	req = append(req, frame...)

	start := time.Now()
	resp, err := w.roundTrip(ctx, req)
	if w.Observer != nil {
		w.Observer.ObserveEngine(op.String(), time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	return parseFaces(resp)
}

// roundTrip bounds Communicate by the context and the worker timeout.
// A request that is abandoned leaves the pipe mid-message, so the process is killed.
func (w *PythonWorker) roundTrip(ctx context.Context, req []byte) ([]byte, error) {
	if w.Timeout <= 0 && ctx.Done() == nil {
		body, err := w.Communicate(req)
		if err != nil {
			w.kill()
		}
		return body, err
	}

	type reply struct {
		body []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		body, err := w.Communicate(req)
		done <- reply{body, err}
	}()

	var timeout <-chan time.Time
	if w.Timeout > 0 {
		timer := time.NewTimer(w.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-done:
		if r.err != nil {
			// A short read leaves the pipe out of sync.
			w.kill()
		}
		return r.body, r.err
	case <-timeout:
		w.kill()
		return nil, fmt.Errorf("%w after %s", ErrTimeout, w.Timeout)
	case <-ctx.Done():
		w.kill()
		return nil, ctx.Err()
	}
}

func (w *PythonWorker) kill() {
	w.broken.Store(true)
	if w.Cmd != nil && w.Cmd.Process != nil {
		_ = w.Cmd.Process.Kill()
	}
	w.DataPipe.Close()
}

// Healthy reports ErrClosed once the engine was closed, killed or lost its pipe.
// It does not wait for an in-flight request.
func (w *PythonWorker) Healthy(context.Context) error {
	if w.broken.Load() {
		return ErrClosed
	}
	return nil
}

// Detect implements liveness.Detector.
func (w *PythonWorker) Detect(ctx context.Context, frame []byte) ([]types.FaceResult, error) {
	return w.ProcessFrame(ctx, OpDetect, frame)
}

// Encode implements recognition.Encoder. It encodes the largest face in the
// image and reports false when the image holds no encodable face.
func (w *PythonWorker) Encode(ctx context.Context, image []byte) ([]float64, bool, error) {
	faces, err := w.ProcessFrame(ctx, OpEncode, image)
	if err != nil {
		return nil, false, err
	}

	var withVec []types.FaceResult
	for _, f := range faces {
		if len(f.Vec) > 0 {
			withVec = append(withVec, f)
		}
	}
	best, ok := types.Largest(withVec)
	if !ok {
		return nil, false, nil
	}
	return best.Vec, true, nil
}

func (w *PythonWorker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
	w.broken.Store(true)
}

// parseFaces decodes a response body.
//
//	OK:    [status=0][uint32 nFaces] nFaces x ( [4]int32 box, uint32 nPoints,
//	       nPoints x [2]int32, byte hasVec, hasVec ? [128]float32 )
//	Error: [status=1][uint32 msgLen][msg]
func parseFaces(resp []byte) ([]types.FaceResult, error) {
	r := bytes.NewReader(resp)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty response from python worker: %w", err)
	}

	if status == statusError {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		if int(msgLen) > r.Len() {
			return nil, fmt.Errorf("malformed error response: message length %d exceeds payload", msgLen)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}
	if status != statusOK {
		return nil, fmt.Errorf("unknown python worker status %d", status)
	}

	var numFaces uint32
	if err := binary.Read(r, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if numFaces > maxFaces {
		return nil, fmt.Errorf("malformed response: %d faces", numFaces)
	}

	faces := make([]types.FaceResult, 0, numFaces)
	for i := uint32(0); i < numFaces; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("malformed face %d box: %w", i, err)
		}

		var numPoints uint32
		if err := binary.Read(r, binary.BigEndian, &numPoints); err != nil {
			return nil, fmt.Errorf("malformed face %d landmarks: %w", i, err)
		}
		if numPoints > maxLandmarks {
			return nil, fmt.Errorf("malformed face %d: %d landmarks", i, numPoints)
		}
		raw := make([][2]int32, numPoints)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("malformed face %d landmarks: %w", i, err)
		}
		landmarks := make([]types.Point, numPoints)
		for j, p := range raw {
			landmarks[j] = types.Point{X: int(p[0]), Y: int(p[1])}
		}

		hasVec, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("malformed face %d: %w", i, err)
		}

		face := types.FaceResult{
			Loc:       types.Box{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])},
			Landmarks: landmarks,
		}
		if hasVec == 1 {
			var vec [types.EncodingDim]float32
			if err := binary.Read(r, binary.BigEndian, &vec); err != nil {
				return nil, fmt.Errorf("malformed face %d encoding: %w", i, err)
			}
			face.Vec = make([]float64, types.EncodingDim)
			for j, v := range vec {
				face.Vec[j] = float64(v)
			}
		}
		faces = append(faces, face)
	}
	return faces, nil
}
