package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/headnod/internal/capture"
	"github.com/ayusman/headnod/internal/detector"
	"github.com/ayusman/headnod/internal/sequence"
	"github.com/ayusman/headnod/internal/store"
)

// ErrEmptyCorpus is returned when the whole corpus produced no sequence.
var ErrEmptyCorpus = errors.New("no sequences extracted from corpus")

// Example is one labeled training sequence.
type Example struct {
	Sequence sequence.Sequence
	Label    int
}

// Dataset is the flat training set produced by the builder.
type Dataset struct {
	Layout         string
	SequenceLength int
	DescriptorDim  int
	Labels         Labels
	Examples       []Example
}

// ClassCounts returns the number of examples per label index.
func (d *Dataset) ClassCounts() map[int]int {
	counts := make(map[int]int)
	for _, ex := range d.Examples {
		counts[ex.Label]++
	}
	return counts
}

// VideoRecorder persists per-video extraction results.
type VideoRecorder interface {
	Upsert(v *store.Video) error
}

// Builder extracts a Dataset from a corpus laid out as root/<category>/<video>.
type Builder struct {
	Processor

	// Workers is the number of videos processed concurrently. Each worker
	// owns one detector. Values below 1 mean 1.
	Workers int

	// OpenVideo opens a corpus file. Defaults to capture.OpenSource.
	OpenVideo func(path string) (capture.Source, error)

	// NewDetector creates a detector for one worker.
	NewDetector func() (detector.Detector, error)

	// Videos records each processed video when set.
	Videos VideoRecorder

	// Progress receives a progress bar when set.
	Progress io.Writer

	Logger logrus.FieldLogger
}

type job struct {
	index    int
	path     string
	category Category
}

// Build processes every category of the corpus. Results are assembled in
// category then path order, independent of the number of workers.
func (b *Builder) Build(ctx context.Context, root string) (*Dataset, *Stats, error) {
	if b.NewDetector == nil {
		return nil, nil, errors.New("dataset builder needs a detector factory")
	}
	open := b.OpenVideo
	if open == nil {
		open = capture.OpenSource
	}
	log := b.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	start := time.Now()

	var jobs []job
	perCategory := make(map[string]int)
	for _, c := range Categories {
		videos, err := ListVideos(filepath.Join(root, c.Dir))
		if err != nil {
			return nil, nil, err
		}
		if len(videos) == 0 {
			log.WithField("category", c.Dir).Warn("no videos found")
		}
		perCategory[c.Dir] = len(videos)
		for _, v := range videos {
			jobs = append(jobs, job{index: len(jobs), path: v, category: c})
		}
	}

	results, err := b.run(ctx, jobs, open, log)
	if err != nil {
		return nil, nil, err
	}

	ds := &Dataset{
		Layout:         b.Extractor.Layout().ID,
		SequenceLength: b.SequenceLength,
		DescriptorDim:  b.Extractor.Dim(),
		Labels:         DefaultLabels(),
	}
	stats := newStats(b.SequenceLength)

	for _, c := range Categories {
		stats.add(c.Dir, perCategory[c.Dir])
	}
	for _, res := range results {
		stats.record(res)
		for _, seq := range res.Sequences {
			ds.Examples = append(ds.Examples, Example{Sequence: seq, Label: res.Label})
		}
	}
	stats.finish(time.Since(start))

	for _, c := range Categories {
		cs := stats.Categories[c.Dir]
		log.WithFields(logrus.Fields{
			"category":       c.Dir,
			"videos":         cs.Videos,
			"sequences":      cs.Sequences,
			"detection_rate": fmt.Sprintf("%.1f%%", cs.AvgFaceDetectionRate*100),
		}).Info("category extracted")
	}

	if len(ds.Examples) == 0 {
		return nil, stats, ErrEmptyCorpus
	}
	return ds, stats, nil
}

func (b *Builder) run(ctx context.Context, jobs []job, open func(string) (capture.Source, error), log logrus.FieldLogger) ([]*VideoResult, error) {
	workers := b.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = max(1, len(jobs))
	}

	var bar *progressbar.ProgressBar
	if b.Progress != nil {
		bar = progressbar.NewOptions(len(jobs),
			progressbar.OptionSetDescription("extracting"),
			progressbar.OptionSetWriter(b.Progress),
			progressbar.OptionShowCount(),
		)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobCh := make(chan job)
	results := make([]*VideoResult, len(jobs))

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			det, err := b.NewDetector()
			if err != nil {
				fail(fmt.Errorf("worker %d: create detector: %w", workerID, err))
				return
			}
			defer det.Close()

			for j := range jobCh {
				res, err := b.processOne(ctx, j, open, det, log)
				if err != nil {
					fail(err)
					continue
				}
				results[j.index] = res
				if bar != nil {
					bar.Add(1)
				}
			}
		}(w)
	}

feed:
	for _, j := range jobs {
		select {
		case jobCh <- j:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobCh)
	wg.Wait()

	if bar != nil {
		bar.Finish()
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func (b *Builder) processOne(ctx context.Context, j job, open func(string) (capture.Source, error), det detector.Detector, log logrus.FieldLogger) (*VideoResult, error) {
	entry := log.WithFields(logrus.Fields{"video": j.path, "category": j.category.Dir})

	src, err := open(j.path)
	if err != nil {
		// An unreadable file is skipped; it still counts toward the category average.
		entry.WithError(err).Warn("cannot open video")
		return &VideoResult{Path: j.path, Category: j.category.Dir, Label: j.category.Index, Err: err}, nil
	}
	defer src.Close()

	res, err := b.ProcessVideo(ctx, src, det)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("process %s: %w", j.path, err)
	}
	res.Path = j.path
	res.Category = j.category.Dir
	res.Label = j.category.Index

	if res.Err != nil {
		entry.WithError(res.Err).Warn("video skipped")
	} else {
		entry.WithFields(logrus.Fields{
			"frames":    res.Frames,
			"sequences": len(res.Sequences),
		}).Debug("video extracted")
	}

	if b.Videos != nil {
		rec := &store.Video{
			Path:           res.Path,
			Category:       res.Category,
			Frames:         res.Frames,
			FramesWithFace: res.FramesWithFace,
			Sequences:      len(res.Sequences),
			DetectionRate:  res.DetectionRate,
		}
		if err := b.Videos.Upsert(rec); err != nil {
			entry.WithError(err).Warn("failed to record video")
		}
	}

	return res, nil
}
