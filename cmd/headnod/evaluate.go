package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ayusman/headnod/internal/dataset"
	"github.com/ayusman/headnod/internal/features"
	"github.com/ayusman/headnod/internal/model"
)

var valOnly bool

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score the saved model on the extracted dataset",
	RunE:  runEvaluate,
}

func init() {
	def := cfg
	f := evaluateCmd.Flags()
	f.BoolVar(&valOnly, "val-only", false, "score only the validation split used by train")
	f.Float64Var(&cfg.ValidationSplit, "validation-split", def.ValidationSplit, "fraction of each class held out")
	f.Uint64Var(&cfg.Seed, "seed", def.Seed, "split seed")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	m, err := loadModel(cfg.ModelDir)
	if err != nil {
		return err
	}
	layout := features.MotionLayout()
	ds, err := dataset.Load(filepath.Join(cfg.DataDir, dataset.ArtifactFile), layout)
	if err != nil {
		return err
	}
	if err := m.CheckDataset(layout, ds); err != nil {
		return err
	}

	examples := ds.Examples
	if valOnly {
		_, examples = model.Split(ds.Examples, cfg.ValidationSplit, cfg.Seed)
	}

	meta := m.Metadata()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "model %s trained %s, best epoch %d of %d\n\n",
		meta.RunID, meta.TrainedAt.Format("2006-01-02 15:04"), meta.BestEpoch, meta.EpochsTrained)
	ev, err := model.Evaluate(m, examples)
	if err != nil {
		return err
	}
	fmt.Fprint(out, ev.String())
	return nil
}
