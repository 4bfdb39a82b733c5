package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/headnod/internal/dataset"
	"github.com/ayusman/headnod/internal/detector"
	"github.com/ayusman/headnod/internal/features"
)

var noProgress bool

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract landmark sequences from the video corpus",
	Long: `Reads <corpus>/yes, <corpus>/no and <corpus>/neutral, detects a face in
every frame, and writes the windowed motion descriptors to the data directory.`,
	RunE: runExtract,
}

func init() {
	def := cfg
	f := extractCmd.Flags()
	f.StringVar(&cfg.CorpusDir, "corpus", def.CorpusDir, "corpus root with yes/, no/ and neutral/")
	f.IntVar(&cfg.Stride, "stride", def.Stride, "frames between sequence starts")
	f.IntVar(&cfg.Workers, "workers", def.Workers, "videos processed concurrently")
	f.BoolVar(&noProgress, "no-progress", false, "hide the progress bar")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	b := &dataset.Builder{
		Processor: dataset.Processor{
			Extractor:      features.NewExtractor(features.MotionLayout()),
			SequenceLength: cfg.SequenceLength,
			Stride:         cfg.Stride,
		},
		Workers: cfg.Workers,
		NewDetector: func() (detector.Detector, error) {
			return detector.NewMediaPipeDetector(detector.DefaultConfig())
		},
		Videos: st.Videos(),
		Logger: logger,
	}
	if !noProgress {
		b.Progress = os.Stderr
	}

	logger.WithFields(logrus.Fields{
		"corpus":          cfg.CorpusDir,
		"sequence_length": cfg.SequenceLength,
		"stride":          cfg.Stride,
		"workers":         cfg.Workers,
	}).Info("extraction started")

	ds, stats, err := b.Build(cmd.Context(), cfg.CorpusDir)
	if stats != nil {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		if werr := dataset.WriteStats(filepath.Join(cfg.DataDir, dataset.StatsFile), stats); werr != nil {
			logger.WithError(werr).Warn("failed to write extraction stats")
		}
	}
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.DataDir, dataset.ArtifactFile)
	if err := dataset.Save(path, ds); err != nil {
		return err
	}

	counts := ds.ClassCounts()
	fields := logrus.Fields{"path": path, "sequences": len(ds.Examples)}
	for _, idx := range ds.Labels.Indices() {
		fields[ds.Labels.Name(idx)] = counts[idx]
	}
	logger.WithFields(fields).Info("dataset saved")
	return nil
}
