package capture

import (
	"fmt"
	"io"

	"gocv.io/x/gocv"
)

// VideoFile reads every frame of a video file in order.
type VideoFile struct {
	path    string
	capture *gocv.VideoCapture
}

// OpenVideo opens path for decoding.
func OpenVideo(path string) (*VideoFile, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("open video %s: not readable", path)
	}
	return &VideoFile{path: path, capture: capture}, nil
}

// OpenSource opens path as a Source.
func OpenSource(path string) (Source, error) {
	return OpenVideo(path)
}

// Path returns the file path.
func (v *VideoFile) Path() string {
	return v.path
}

// FrameCount returns the container's reported frame count, which may be approximate.
func (v *VideoFile) FrameCount() int {
	return int(v.capture.Get(gocv.VideoCaptureFrameCount))
}

// FPS returns the container's reported frame rate.
func (v *VideoFile) FPS() float64 {
	return v.capture.Get(gocv.VideoCaptureFPS)
}

// ReadFrame returns the next decoded frame, or io.EOF at the end of the file.
func (v *VideoFile) ReadFrame() (*gocv.Mat, error) {
	mat := gocv.NewMat()
	if ok := v.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, io.EOF
	}
	return &mat, nil
}

// Close releases the decoder.
func (v *VideoFile) Close() error {
	return v.capture.Close()
}
