// Package capture turns a camera or recorded input into JPEG frames.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/facegate/internal/utils"
)

// maxFrameBytes bounds a single JPEG coming out of ffmpeg.
const maxFrameBytes = 16 << 20

// Source yields encoded JPEG frames. Frame returns io.EOF once the source is exhausted.
type Source interface {
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}

// CameraSource reads a live device through ffmpeg and keeps only the most
// recent frame, so a slow consumer never works on a stale backlog.
type CameraSource struct {
	cmd    *utils.SafeCommand
	cancel context.CancelFunc

	mu      sync.Mutex
	latest  []byte
	seq     uint64
	served  uint64
	updated chan struct{} // closed and replaced on every new frame
	err     error
	done    chan struct{}
}

// OpenCamera starts ffmpeg on device. format is the ffmpeg input format, e.g. v4l2.
func OpenCamera(ctx context.Context, device, format string) (*CameraSource, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewCameraCmd(ctx, device, format)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg on %s: %w", device, err)
	}

	c := newCameraSource(stdout)
	c.cmd = cmd
	c.cancel = cancel
	return c, nil
}

func newCameraSource(r io.Reader) *CameraSource {
	c := &CameraSource{
		updated: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.read(r)
	return c
}

func (c *CameraSource) read(r io.Reader) {
	defer close(c.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxFrameBytes)
	scanner.Split(utils.SplitJpeg)

	for scanner.Scan() {
		frame := append([]byte(nil), scanner.Bytes()...)
		c.mu.Lock()
		c.latest = frame
		c.seq++
		close(c.updated)
		c.updated = make(chan struct{})
		c.mu.Unlock()
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.mu.Lock()
	c.err = err
	close(c.updated)
	c.mu.Unlock()
}

// Frame blocks until a frame newer than the previously returned one arrives.
func (c *CameraSource) Frame(ctx context.Context) ([]byte, error) {
	for {
		c.mu.Lock()
		if c.seq > c.served {
			c.served = c.seq
			frame := c.latest
			c.mu.Unlock()
			return frame, nil
		}
		if c.err != nil {
			err := c.err
			c.mu.Unlock()
			return nil, err
		}
		wait := c.updated
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Command exposes the ffmpeg process for crash reports.
func (c *CameraSource) Command() *utils.SafeCommand { return c.cmd }

// Close stops ffmpeg and waits for the reader to drain.
func (c *CameraSource) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
	if c.cmd != nil {
		// Killed by our own cancel; the exit status carries no information.
		_ = c.cmd.Wait()
	}
	return nil
}

// ClipSource replays every frame of a recorded clip in order.
type ClipSource struct {
	cmd     *utils.SafeCommand
	cancel  context.CancelFunc
	scanner *bufio.Scanner
}

// OpenClip decodes path through ffmpeg.
func OpenClip(ctx context.Context, path string) (*ClipSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewFFmpegCmd(ctx, path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg on %s: %w", path, err)
	}

	return &ClipSource{cmd: cmd, cancel: cancel, scanner: newFrameScanner(stdout)}, nil
}

func newFrameScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxFrameBytes)
	scanner.Split(utils.SplitJpeg)
	return scanner
}

func (s *ClipSource) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return append([]byte(nil), s.scanner.Bytes()...), nil
}

// Command exposes the ffmpeg process for crash reports.
func (s *ClipSource) Command() *utils.SafeCommand { return s.cmd }

func (s *ClipSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cmd != nil {
		_ = s.cmd.Wait()
	}
	return nil
}

// FileSource replays still images from disk, one file per frame.
type FileSource struct {
	paths []string
	next  int
}

func NewFileSource(paths ...string) *FileSource {
	return &FileSource{paths: paths}
}

func (f *FileSource) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.next >= len(f.paths) {
		return nil, io.EOF
	}
	path := f.paths[f.next]
	f.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", path, err)
	}
	return data, nil
}

func (f *FileSource) Close() error { return nil }

// Burst collects n frames from src, interval apart. The first frame is taken
// immediately. A source that runs dry ends the burst early; io.EOF is only
// returned when no frame was collected at all.
func Burst(ctx context.Context, src Source, n int, interval time.Duration) ([][]byte, error) {
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return frames, ctx.Err()
			}
		}

		frame, err := src.Frame(ctx)
		if errors.Is(err, io.EOF) {
			if len(frames) == 0 {
				return nil, io.EOF
			}
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
