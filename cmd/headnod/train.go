package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/headnod/internal/dataset"
	"github.com/ayusman/headnod/internal/features"
	"github.com/ayusman/headnod/internal/model"
	"github.com/ayusman/headnod/internal/store"
)

var noPlots bool

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the gesture classifier on the extracted dataset",
	RunE:  runTrain,
}

func init() {
	def := cfg
	f := trainCmd.Flags()
	f.IntVar(&cfg.Epochs, "epochs", def.Epochs, "maximum training epochs")
	f.IntVar(&cfg.BatchSize, "batch-size", def.BatchSize, "examples per gradient step")
	f.Float64Var(&cfg.LearningRate, "learning-rate", def.LearningRate, "initial Adam learning rate")
	f.Float64Var(&cfg.ValidationSplit, "validation-split", def.ValidationSplit, "fraction of each class held out")
	f.Uint64Var(&cfg.Seed, "seed", def.Seed, "seed for splitting, initialization and shuffling")
	f.BoolVar(&noPlots, "no-plots", false, "skip the training history plots")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	ds, err := dataset.Load(filepath.Join(cfg.DataDir, dataset.ArtifactFile), features.MotionLayout())
	if err != nil {
		return err
	}
	if ds.SequenceLength != cfg.SequenceLength {
		logger.WithFields(logrus.Fields{
			"dataset":    ds.SequenceLength,
			"configured": cfg.SequenceLength,
		}).Warn("dataset sequence length differs from config, using the dataset's")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	tc := model.DefaultTrainConfig()
	tc.Epochs = cfg.Epochs
	tc.BatchSize = cfg.BatchSize
	tc.LearningRate = cfg.LearningRate
	tc.ValidationSplit = cfg.ValidationSplit
	tc.Seed = cfg.Seed

	runID := uuid.NewString()
	run := &store.Run{
		ID:             runID,
		Layout:         ds.Layout,
		SequenceLength: ds.SequenceLength,
		Samples:        len(ds.Examples),
		MaxEpochs:      tc.Epochs,
	}
	if err := st.Runs().Create(run); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	trainer := &model.Trainer{
		Config: tc,
		Logger: logger,
		RunID:  runID,
		OnEpoch: func(s model.EpochStats) {
			logger.WithFields(logrus.Fields{
				"epoch":        s.Epoch,
				"loss":         fmt.Sprintf("%.4f", s.Loss),
				"accuracy":     fmt.Sprintf("%.4f", s.Accuracy),
				"val_loss":     fmt.Sprintf("%.4f", s.ValLoss),
				"val_accuracy": fmt.Sprintf("%.4f", s.ValAccuracy),
			}).Info("epoch")
		},
	}

	m, report, err := trainer.Fit(cmd.Context(), ds)
	if err != nil {
		failRun(st.Runs(), runID, err)
		return err
	}

	if err := model.SaveArtifact(cfg.ModelDir, m); err != nil {
		failRun(st.Runs(), runID, err)
		return err
	}
	if !noPlots {
		if err := model.SaveHistoryPlots(cfg.ModelDir, report.History); err != nil {
			logger.WithError(err).Warn("failed to save training plots")
		}
	}

	meta := m.Metadata()
	if err := st.Runs().Complete(runID, store.RunResult{
		Epochs:        meta.EpochsTrained,
		TrainAccuracy: meta.TrainAccuracy,
		ValAccuracy:   meta.ValAccuracy,
		TrainLoss:     meta.TrainLoss,
		ValLoss:       meta.ValLoss,
		ArtifactDir:   cfg.ModelDir,
	}); err != nil {
		logger.WithError(err).Warn("failed to record run completion")
	}

	logger.WithFields(logrus.Fields{
		"model_dir":    cfg.ModelDir,
		"best_epoch":   report.BestEpoch,
		"val_accuracy": fmt.Sprintf("%.4f", meta.ValAccuracy),
	}).Info("model saved")

	fmt.Fprintln(cmd.OutOrStdout(), report.Val.String())
	return nil
}

// failRun marks the run failed, logging when that cannot be recorded.
func failRun(runs *store.RunRepository, id string, cause error) {
	if err := runs.Fail(id, cause); err != nil {
		logger.WithError(err).WithField("run_id", id).Warn("failed to record run failure")
	}
}
