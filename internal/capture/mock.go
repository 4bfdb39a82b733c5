package capture

import (
	"fmt"
	"io"
	"sync"

	"gocv.io/x/gocv"
)

// MockSource plays back a fixed list of frames, then reports io.EOF.
// nil entries are returned as nil frames, which lets tests drive a pipeline
// with a mock detector without decoding any pixels.
type MockSource struct {
	mu     sync.Mutex
	frames []*gocv.Mat
	index  int
	closed bool
}

// NewMockSource returns a source over frames.
func NewMockSource(frames []*gocv.Mat) *MockSource {
	return &MockSource{frames: frames}
}

// NewBlankSource returns a source of n nil frames.
func NewBlankSource(n int) *MockSource {
	return NewMockSource(make([]*gocv.Mat, n))
}

func (s *MockSource) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("source closed")
	}
	if s.index >= len(s.frames) {
		return nil, io.EOF
	}

	frame := s.frames[s.index]
	s.index++
	if frame == nil {
		return nil, nil
	}

	// Clone the frame so the original isn't modified
	clone := frame.Clone()
	return &clone, nil
}

func (s *MockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MockSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MockCamera plays back pre-recorded frames for testing
type MockCamera struct {
	frames  []*gocv.Mat
	index   int
	loop    bool
	mu      sync.Mutex
	running bool
}

func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
	}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.frames) == 0 {
		return nil, fmt.Errorf("no frames available")
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, io.EOF
		}
		c.index = 0
	}

	frame := c.frames[c.index]
	c.index++
	if frame == nil {
		return nil, nil
	}

	clone := frame.Clone()
	return &clone, nil
}

func (c *MockCamera) SetFPS(fps int) {}
func (c *MockCamera) FPS() int       { return DefaultFPS }
func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
