package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ayusman/headnod/internal/capture"
	"github.com/ayusman/headnod/internal/detector"
	"github.com/ayusman/headnod/internal/features"
	"github.com/ayusman/headnod/internal/sequence"
)

// ErrInsufficientData marks a video that yielded no sequence.
var ErrInsufficientData = errors.New("insufficient data")

// videoExtensions are the accepted corpus file types, compared lower-cased.
var videoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
}

// ListVideos returns the video files directly inside dir, sorted by path.
// Names differing only in case are counted once. A missing dir yields no videos.
func ListVideos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list videos in %s: %w", dir, err)
	}

	seen := make(map[string]bool)
	var videos []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !videoExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		videos = append(videos, filepath.Join(dir, name))
	}

	sort.Strings(videos)
	return videos, nil
}

// VideoResult is the extraction outcome of one video.
type VideoResult struct {
	Path           string
	Category       string
	Label          int
	Frames         int
	FramesWithFace int
	Sequences      []sequence.Sequence
	// DetectionRate is FramesWithFace / Frames, 0 for an empty video.
	DetectionRate float64
	// Err is set when the video could not be read or yielded no sequence.
	Err error
}

// Processor runs the batch windower over one video.
type Processor struct {
	Extractor      *features.Extractor
	SequenceLength int
	Stride         int
}

// ProcessVideo reads src to the end, detecting a face in every frame and
// windowing the descriptors of detected frames. A video that yields no
// sequence returns a result whose Err wraps ErrInsufficientData; the error
// return is reserved for read, detection and cancellation failures.
func (p Processor) ProcessVideo(ctx context.Context, src capture.Source, det detector.Detector) (*VideoResult, error) {
	w, err := sequence.NewWindower(p.SequenceLength, p.Stride)
	if err != nil {
		return nil, err
	}

	res := &VideoResult{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := src.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read frame %d: %w", res.Frames, err)
		}

		face, err := det.Detect(frame)
		if frame != nil {
			frame.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("detect frame %d: %w", res.Frames, err)
		}

		res.Frames++
		d := p.Extractor.Extract(face)
		if d == nil {
			continue
		}
		res.FramesWithFace++
		if seq := w.Push(d); seq != nil {
			res.Sequences = append(res.Sequences, seq)
		}
	}

	if seq, err := w.Flush(); err == nil && seq != nil {
		res.Sequences = append(res.Sequences, seq)
	}

	if res.Frames > 0 {
		res.DetectionRate = float64(res.FramesWithFace) / float64(res.Frames)
	}
	if len(res.Sequences) == 0 {
		res.Err = fmt.Errorf("%w: %d of %d frames had a face, need more than %d",
			ErrInsufficientData, res.FramesWithFace, res.Frames, p.SequenceLength/2)
	}

	return res, nil
}
