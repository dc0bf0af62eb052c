package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/andresmejia3/facegate/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

type fakeFace struct {
	box    [4]int32
	points int
	vec    []float32
}

// encodeResponse builds a framed OK response the way python/worker.py does.
func encodeResponse(faces ...fakeFace) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)                                         // Status OK
	binary.Write(payload, binary.BigEndian, uint32(len(faces))) // Face count

	for _, f := range faces {
		binary.Write(payload, binary.BigEndian, f.box)
		binary.Write(payload, binary.BigEndian, uint32(f.points))
		for i := 0; i < f.points; i++ {
			binary.Write(payload, binary.BigEndian, [2]int32{int32(i), int32(2 * i)})
		}
		if f.vec == nil {
			payload.WriteByte(0)
			continue
		}
		payload.WriteByte(1)
		var vec [types.EncodingDim]float32
		copy(vec[:], f.vec)
		binary.Write(payload, binary.BigEndian, vec)
	}
	return frame(payload.Bytes())
}

func encodeError(msg string) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(1) // Status ERROR
	binary.Write(payload, binary.BigEndian, uint32(len(msg)))
	payload.WriteString(msg)
	return frame(payload.Bytes())
}

// frame prepends the Big Endian uint32 length header.
func frame(body []byte) []byte {
	out := new(bytes.Buffer)
	binary.Write(out, binary.BigEndian, uint32(len(body)))
	out.Write(body)
	return out.Bytes()
}

func newMockWorker(response []byte) (*PythonWorker, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: bytes.NewBuffer(response)}
	return &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}, stdinMock
}

func TestProcessFrame(t *testing.T) {
	vec := make([]float32, types.EncodingDim)
	vec[0] = 0.5
	w, stdinMock := newMockWorker(encodeResponse(
		fakeFace{box: [4]int32{10, 60, 70, 5}, points: types.LandmarkCount, vec: vec},
	))

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	resp, err := w.ProcessFrame(context.Background(), OpEncode, inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Verify Go sent the correct data TO Python: [len][op][frame]
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+1+len(inputFrame) {
		t.Fatalf("Expected %d bytes sent, got %d", 4+1+len(inputFrame), len(sentData))
	}
	if got := binary.BigEndian.Uint32(sentData[:4]); got != uint32(1+len(inputFrame)) {
		t.Errorf("Expected length header %d, got %d", 1+len(inputFrame), got)
	}
	if Op(sentData[4]) != OpEncode {
		t.Errorf("Expected op %v, got %v", OpEncode, Op(sentData[4]))
	}
	if !bytes.Equal(sentData[5:], inputFrame) {
		t.Errorf("Expected frame %X, got %X", inputFrame, sentData[5:])
	}

	// Verify Go read the correct data FROM Python
	if len(resp) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(resp))
	}
	face := resp[0]
	if face.Loc != (types.Box{Top: 10, Right: 60, Bottom: 70, Left: 5}) {
		t.Errorf("Unexpected box %+v", face.Loc)
	}
	if len(face.Landmarks) != types.LandmarkCount {
		t.Fatalf("Expected %d landmarks, got %d", types.LandmarkCount, len(face.Landmarks))
	}
	if face.Landmarks[36] != (types.Point{X: 36, Y: 72}) {
		t.Errorf("Unexpected landmark 36: %+v", face.Landmarks[36])
	}
	// Use epsilon for float comparison
	if len(face.Vec) != types.EncodingDim || math.Abs(face.Vec[0]-0.5) > 1e-9 {
		t.Errorf("Expected vector[0] approx 0.5, got %v", face.Vec)
	}
}

func TestProcessFrame_DetectOnly(t *testing.T) {
	w, _ := newMockWorker(encodeResponse(
		fakeFace{box: [4]int32{0, 10, 10, 0}, points: types.LandmarkCount},
		fakeFace{box: [4]int32{0, 30, 30, 0}, points: types.LandmarkCount},
	))

	faces, err := w.Detect(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(faces))
	}
	for i, f := range faces {
		if f.Vec != nil {
			t.Errorf("Face %d: expected no encoding on detect, got %d values", i, len(f.Vec))
		}
	}
}

func TestProcessFrame_NoFaces(t *testing.T) {
	w, _ := newMockWorker(encodeResponse())

	faces, err := w.Detect(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(faces))
	}
}

func TestProcessFrame_Error(t *testing.T) {
	errMsg := "Python Exception: Import Error"
	w, _ := newMockWorker(encodeError(errMsg))

	_, err := w.ProcessFrame(context.Background(), OpDetect, []byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestProcessFrame_Malformed(t *testing.T) {
	tooMany := new(bytes.Buffer)
	tooMany.WriteByte(0)
	binary.Write(tooMany, binary.BigEndian, uint32(maxFaces+1))

	truncated := encodeResponse(fakeFace{points: types.LandmarkCount})
	truncated = truncated[:len(truncated)-10]
	binary.BigEndian.PutUint32(truncated, uint32(len(truncated)-4))

	tests := []struct {
		name     string
		response []byte
	}{
		{name: "empty body", response: frame(nil)},
		{name: "unknown status", response: frame([]byte{7})},
		{name: "absurd face count", response: frame(tooMany.Bytes())},
		{name: "truncated landmarks", response: truncated},
		{name: "error length past payload", response: frame([]byte{1, 0, 0, 0, 99, 'x'})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := newMockWorker(tt.response)
			if _, err := w.Detect(context.Background(), []byte("frame")); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestProcessFrame_PipeClosed(t *testing.T) {
	// Python died before answering: the header read hits EOF.
	w, _ := newMockWorker(nil)
	if err := w.Healthy(context.Background()); err != nil {
		t.Fatalf("Expected a fresh worker to be healthy, got %v", err)
	}
	_, err := w.Detect(context.Background(), []byte("frame"))
	if !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
	if err := w.Healthy(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after a broken pipe, got %v", err)
	}
}

func TestEncode_LargestFace(t *testing.T) {
	small := make([]float32, types.EncodingDim)
	small[0] = 0.1
	big := make([]float32, types.EncodingDim)
	big[0] = 0.9

	w, _ := newMockWorker(encodeResponse(
		fakeFace{box: [4]int32{0, 10, 10, 0}, points: types.LandmarkCount, vec: small},
		fakeFace{box: [4]int32{0, 100, 100, 0}, points: types.LandmarkCount, vec: big},
		fakeFace{box: [4]int32{0, 500, 500, 0}, points: types.LandmarkCount}, // no encoding
	))

	vec, ok, err := w.Encode(context.Background(), []byte("image"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected a face")
	}
	if math.Abs(vec[0]-0.9) > 1e-6 {
		t.Errorf("Expected the largest encoded face, got vector[0] = %f", vec[0])
	}
}

func TestEncode_NoFace(t *testing.T) {
	w, _ := newMockWorker(encodeResponse())
	vec, ok, err := w.Encode(context.Background(), []byte("image"))
	if err != nil || ok || vec != nil {
		t.Errorf("Encode() = %v, %v, %v; want nil, false, nil", vec, ok, err)
	}
}

// blockingPipe never returns data, like an engine stuck on a frame.
type blockingPipe struct {
	closed chan struct{}
}

func (p *blockingPipe) Read([]byte) (int, error) {
	<-p.closed
	return 0, io.ErrClosedPipe
}

func (p *blockingPipe) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

func TestProcessFrame_Timeout(t *testing.T) {
	w := &PythonWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &blockingPipe{closed: make(chan struct{})},
		Timeout:  20 * time.Millisecond,
	}

	_, err := w.Detect(context.Background(), []byte("frame"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	// The pipe is mid-message now, so the worker refuses further requests.
	if _, err := w.Detect(context.Background(), []byte("frame")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after timeout, got %v", err)
	}
}

func TestProcessFrame_Cancelled(t *testing.T) {
	w := &PythonWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &blockingPipe{closed: make(chan struct{})},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := w.Detect(ctx, []byte("frame")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

type latencyRecorder struct{ ops []string }

func (r *latencyRecorder) ObserveEngine(op string, _ time.Duration) { r.ops = append(r.ops, op) }

func TestProcessFrame_ObservesLatency(t *testing.T) {
	w, _ := newMockWorker(encodeResponse())
	rec := &latencyRecorder{}
	w.Observer = rec

	if _, err := w.Detect(context.Background(), []byte("frame")); err != nil {
		t.Fatal(err)
	}
	if len(rec.ops) != 1 || rec.ops[0] != "detect" {
		t.Errorf("Observed ops %v, want [detect]", rec.ops)
	}
}

func TestOpString(t *testing.T) {
	if OpDetect.String() != "detect" || OpEncode.String() != "encode" || Op(9).String() != "op(9)" {
		t.Errorf("Unexpected op names: %s %s %s", OpDetect, OpEncode, Op(9))
	}
}
