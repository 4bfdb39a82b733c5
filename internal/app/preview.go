package app

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// preview keeps the latest camera frame as JPEG for the MJPEG stream.
type preview struct {
	interval time.Duration

	mu      sync.RWMutex
	jpeg    []byte
	encoded time.Time
}

func newPreview(interval time.Duration) *preview {
	return &preview{interval: interval}
}

// update encodes frame unless the last encoding is more recent than interval.
func (p *preview) update(frame *gocv.Mat) {
	if frame.Empty() {
		return
	}

	p.mu.RLock()
	fresh := time.Since(p.encoded) < p.interval
	p.mu.RUnlock()
	if fresh {
		return
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	p.mu.Lock()
	p.jpeg = data
	p.encoded = time.Now()
	p.mu.Unlock()
}

// LatestJPEG implements server.FrameSource.
func (p *preview) LatestJPEG() ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.jpeg, p.jpeg != nil
}
