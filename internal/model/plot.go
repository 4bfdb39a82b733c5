package model

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// History plot file names inside the model directory.
const (
	AccuracyPlotFile = "training_history_accuracy.png"
	LossPlotFile     = "training_history_loss.png"
)

// SaveHistoryPlots renders the accuracy and loss curves of history into dir.
func SaveHistoryPlots(dir string, history []EpochStats) error {
	if len(history) == 0 {
		return fmt.Errorf("empty training history")
	}

	train := make(plotter.XYs, len(history))
	val := make(plotter.XYs, len(history))
	for i, h := range history {
		train[i] = plotter.XY{X: float64(h.Epoch), Y: h.Accuracy}
		val[i] = plotter.XY{X: float64(h.Epoch), Y: h.ValAccuracy}
	}
	if err := savePlot(filepath.Join(dir, AccuracyPlotFile), "Model Accuracy", "Accuracy", train, val); err != nil {
		return err
	}

	for i, h := range history {
		train[i].Y = h.Loss
		val[i].Y = h.ValLoss
	}
	return savePlot(filepath.Join(dir, LossPlotFile), "Model Loss", "Loss", train, val)
}

func savePlot(path, title, ylabel string, train, val plotter.XYs) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	trainLine, err := plotter.NewLine(train)
	if err != nil {
		return fmt.Errorf("train line: %w", err)
	}
	trainLine.Width = vg.Points(1.5)
	trainLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}

	valLine, err := plotter.NewLine(val)
	if err != nil {
		return fmt.Errorf("validation line: %w", err)
	}
	valLine.Width = vg.Points(1.5)
	valLine.Color = color.RGBA{R: 255, G: 127, B: 14, A: 255}

	p.Add(trainLine, valLine)
	p.Legend.Add("Train", trainLine)
	p.Legend.Add("Validation", valLine)
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return nil
}
