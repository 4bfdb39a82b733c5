package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/headnod/internal/config"
	"github.com/ayusman/headnod/internal/features"
	"github.com/ayusman/headnod/internal/logging"
	"github.com/ayusman/headnod/internal/model"
	"github.com/ayusman/headnod/internal/store"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg holds the defaults until flags are parsed, then the merged settings.
	cfg    = config.Default()
	logger *logrus.Logger

	envFile  string
	verbose  bool
	noColors bool
)

var rootCmd = &cobra.Command{
	Use:           "headnod",
	Short:         "Head gesture recognition from face mesh landmarks",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		flagged := cfg
		loaded, err := config.Load(envFile)
		if err != nil {
			return err
		}
		cfg = mergeFlags(cmd, loaded, flagged)
		if verbose {
			cfg.LogLevel = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(logging.Options{
			Level:    cfg.LogLevel,
			File:     cfg.LogFile,
			NoColors: noColors,
			Caller:   verbose,
		})
		return err
	},
}

func init() {
	def := cfg
	f := rootCmd.PersistentFlags()
	f.StringVar(&envFile, "env-file", ".env", "dotenv file with HEADNOD_* settings")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	f.BoolVar(&noColors, "no-colors", false, "disable colored log output")
	f.StringVar(&cfg.LogFile, "log-file", def.LogFile, "also write logs to this rotating file")
	f.StringVar(&cfg.DataDir, "data-dir", def.DataDir, "directory of the dataset artifact")
	f.StringVar(&cfg.ModelDir, "model-dir", def.ModelDir, "directory of the model artifact")
	f.StringVar(&cfg.DBPath, "db", def.DBPath, "SQLite database path")
	f.IntVar(&cfg.SequenceLength, "sequence-length", def.SequenceLength, "frames per sequence")
}

// mergeFlags applies explicitly set flags on top of the loaded config.
func mergeFlags(cmd *cobra.Command, loaded, flagged config.Config) config.Config {
	out := loaded
	set := func(name string, apply func()) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	set("log-file", func() { out.LogFile = flagged.LogFile })
	set("data-dir", func() { out.DataDir = flagged.DataDir })
	set("model-dir", func() { out.ModelDir = flagged.ModelDir })
	set("db", func() { out.DBPath = flagged.DBPath })
	set("sequence-length", func() { out.SequenceLength = flagged.SequenceLength })
	set("corpus", func() { out.CorpusDir = flagged.CorpusDir })
	set("stride", func() { out.Stride = flagged.Stride })
	set("workers", func() { out.Workers = flagged.Workers })
	set("epochs", func() { out.Epochs = flagged.Epochs })
	set("batch-size", func() { out.BatchSize = flagged.BatchSize })
	set("learning-rate", func() { out.LearningRate = flagged.LearningRate })
	set("validation-split", func() { out.ValidationSplit = flagged.ValidationSplit })
	set("seed", func() { out.Seed = flagged.Seed })
	set("camera", func() { out.CameraID = flagged.CameraID })
	set("threshold", func() { out.Threshold = flagged.Threshold })
	set("reset-on-decision", func() { out.ResetOnDecision = flagged.ResetOnDecision })
	set("fps", func() { out.FPS = flagged.FPS })
	set("hooks", func() { out.HookDir = flagged.HookDir })
	set("addr", func() { out.Addr = flagged.Addr })
	set("static", func() { out.StaticDir = flagged.StaticDir })
	return out
}

func openStore() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	st, err := store.New(cfg.DBPath, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// loadModel reads the model artifact in dir and rejects models trained on
// another descriptor layout.
func loadModel(dir string) (*model.Model, error) {
	m, err := model.LoadArtifact(dir)
	if err != nil {
		return nil, err
	}
	if err := m.CheckCompatible(features.MotionLayout(), m.Metadata().SequenceLength); err != nil {
		return nil, fmt.Errorf("model in %s: %w", dir, err)
	}
	return m, nil
}

// findWebDir searches for the web directory in common locations.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	homeWebDir := filepath.Join(homeDir, ".headnod", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}
	return ""
}
