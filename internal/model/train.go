package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/headnod/internal/dataset"
)

// TrainConfig holds the architecture and optimization settings.
type TrainConfig struct {
	LSTMUnits    []int
	DenseUnits   []int
	LSTMDropout  float64
	DenseDropout float64

	Epochs       int
	BatchSize    int
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	// ClipNorm bounds the global gradient norm of each batch. Zero disables clipping.
	ClipNorm float64

	// ValidationSplit is the fraction of every class held out for validation.
	ValidationSplit float64
	Seed            uint64

	// EarlyStopPatience stops training after that many epochs without a
	// validation loss improvement. Zero disables it.
	EarlyStopPatience int
	// LRPatience epochs without a validation loss improvement multiply the
	// learning rate by LRFactor, down to MinLR.
	LRPatience int
	LRFactor   float64
	MinLR      float64
}

// DefaultTrainConfig returns the reference training protocol.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LSTMUnits:         []int{128, 64, 32},
		DenseUnits:        []int{64, 32},
		LSTMDropout:       0.3,
		DenseDropout:      0.2,
		Epochs:            50,
		BatchSize:         32,
		LearningRate:      1e-3,
		Beta1:             0.9,
		Beta2:             0.999,
		Epsilon:           1e-7,
		ClipNorm:          5,
		ValidationSplit:   0.2,
		Seed:              42,
		EarlyStopPatience: 10,
		LRPatience:        5,
		LRFactor:          0.5,
		MinLR:             1e-5,
	}
}

// EpochStats is one row of the training history.
type EpochStats struct {
	Epoch        int     `json:"epoch"`
	Loss         float64 `json:"loss"`
	Accuracy     float64 `json:"accuracy"`
	ValLoss      float64 `json:"val_loss"`
	ValAccuracy  float64 `json:"val_accuracy"`
	LearningRate float64 `json:"learning_rate"`
}

// Report summarizes a finished training run.
type Report struct {
	History      []EpochStats
	BestEpoch    int
	StoppedEarly bool
	Duration     time.Duration
	Train        *Evaluation
	Val          *Evaluation
}

// Trainer fits a classifier to a dataset.
type Trainer struct {
	Config TrainConfig
	Logger logrus.FieldLogger
	// RunID is recorded in the model metadata. A random ID is used when empty.
	RunID string
	// OnEpoch is called after every epoch when set.
	OnEpoch func(EpochStats)
}

// Split partitions examples per class into a training and a validation set.
// Each class with at least two examples contributes at least one to each side.
func Split(examples []dataset.Example, fraction float64, seed uint64) (train, val []dataset.Example) {
	byClass := make(map[int][]int)
	for i, ex := range examples {
		byClass[ex.Label] = append(byClass[ex.Label], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewPCG(seed, seed))
	var trainIdx, valIdx []int
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nVal := int(math.Round(float64(len(idx)) * fraction))
		if len(idx) >= 2 {
			nVal = min(max(nVal, 1), len(idx)-1)
		} else {
			nVal = 0
		}
		valIdx = append(valIdx, idx[:nVal]...)
		trainIdx = append(trainIdx, idx[nVal:]...)
	}

	// Interleave classes so batches are mixed and the order is reproducible.
	rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })
	rng.Shuffle(len(valIdx), func(i, j int) { valIdx[i], valIdx[j] = valIdx[j], valIdx[i] })

	for _, i := range trainIdx {
		train = append(train, examples[i])
	}
	for _, i := range valIdx {
		val = append(val, examples[i])
	}
	return train, val
}

// Fit trains a new model on ds. The returned model carries the weights of
// the epoch with the best validation accuracy.
func (t *Trainer) Fit(ctx context.Context, ds *dataset.Dataset) (*Model, *Report, error) {
	cfg := t.Config
	log := t.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Epochs <= 0 || cfg.BatchSize <= 0 || cfg.LearningRate <= 0 {
		return nil, nil, errors.New("epochs, batch size and learning rate must be positive")
	}
	if cfg.ValidationSplit <= 0 || cfg.ValidationSplit >= 1 {
		return nil, nil, fmt.Errorf("validation split %v must be in (0,1)", cfg.ValidationSplit)
	}
	if len(ds.Examples) == 0 {
		return nil, nil, dataset.ErrEmptyCorpus
	}
	if err := ds.Labels.Validate(); err != nil {
		return nil, nil, err
	}
	for i, ex := range ds.Examples {
		if err := ex.Sequence.Validate(ds.SequenceLength, ds.DescriptorDim); err != nil {
			return nil, nil, fmt.Errorf("example %d: %w", i, err)
		}
		if _, ok := ds.Labels[ex.Label]; !ok {
			return nil, nil, fmt.Errorf("example %d has unknown label %d", i, ex.Label)
		}
	}

	train, val := Split(ds.Examples, cfg.ValidationSplit, cfg.Seed)
	if len(train) == 0 || len(val) == 0 {
		return nil, nil, fmt.Errorf("%w: %d examples cannot be split into training and validation sets",
			dataset.ErrInsufficientData, len(ds.Examples))
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	net, err := NewNetwork(Architecture{
		SequenceLength: ds.SequenceLength,
		InputDim:       ds.DescriptorDim,
		LSTMUnits:      cfg.LSTMUnits,
		DenseUnits:     cfg.DenseUnits,
		NumClasses:     len(ds.Labels),
		LSTMDropout:    cfg.LSTMDropout,
		DenseDropout:   cfg.DenseDropout,
	}, rng)
	if err != nil {
		return nil, nil, err
	}
	seqs := make([][][]float64, len(train))
	for i, ex := range train {
		seqs[i] = ex.Sequence
	}
	net.fitNormalization(seqs)

	runID := t.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log = log.WithField("run_id", runID)
	log.WithFields(logrus.Fields{
		"train":      len(train),
		"val":        len(val),
		"parameters": net.ParamCount(),
	}).Info("training started")

	opt := &adam{
		lr:    cfg.LearningRate,
		beta1: cfg.Beta1,
		beta2: cfg.Beta2,
		eps:   cfg.Epsilon,
		clip:  cfg.ClipNorm,
	}
	params := net.params()

	report := &Report{}
	start := time.Now()

	var (
		bestAcc  = math.Inf(-1)
		bestSnap [][]float64
		stopper  = newMonitor(cfg.EarlyStopPatience)
		plateau  = newMonitor(cfg.LRPatience)
	)

	order := make([]int, len(train))
	for i := range order {
		order[i] = i
	}

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		var correct int
		for b := 0; b < len(order); b += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			end := min(b+cfg.BatchSize, len(order))
			for _, i := range order[b:end] {
				ex := train[i]
				tr := net.run(ex.Sequence, rng)
				lossSum += crossEntropy(tr.probs, ex.Label)
				if argmax(tr.probs) == ex.Label {
					correct++
				}
				net.backward(tr, ex.Label)
			}
			opt.step(params, 1/float64(end-b))
		}

		valLoss, valAcc := lossAccuracy(net, val)
		stats := EpochStats{
			Epoch:        epoch,
			Loss:         lossSum / float64(len(train)),
			Accuracy:     float64(correct) / float64(len(train)),
			ValLoss:      valLoss,
			ValAccuracy:  valAcc,
			LearningRate: opt.lr,
		}
		report.History = append(report.History, stats)
		log.WithFields(logrus.Fields{
			"epoch":        epoch,
			"loss":         fmt.Sprintf("%.4f", stats.Loss),
			"accuracy":     fmt.Sprintf("%.4f", stats.Accuracy),
			"val_loss":     fmt.Sprintf("%.4f", stats.ValLoss),
			"val_accuracy": fmt.Sprintf("%.4f", stats.ValAccuracy),
		}).Debug("epoch finished")
		if t.OnEpoch != nil {
			t.OnEpoch(stats)
		}

		if valAcc > bestAcc {
			bestAcc = valAcc
			bestSnap = net.snapshot()
			report.BestEpoch = epoch
		}

		if plateau.observe(valLoss) && opt.lr > cfg.MinLR {
			opt.lr = math.Max(opt.lr*cfg.LRFactor, cfg.MinLR)
			log.WithField("learning_rate", opt.lr).Info("reducing learning rate")
		}
		if stopper.observe(valLoss) {
			report.StoppedEarly = true
			log.WithField("epoch", epoch).Info("early stopping")
			break
		}
	}

	net.restore(bestSnap)
	report.Duration = time.Since(start)

	m, err := New(net, Metadata{
		RunID:           runID,
		Layout:          ds.Layout,
		SequenceLength:  ds.SequenceLength,
		DescriptorDim:   ds.DescriptorDim,
		NumClasses:      len(ds.Labels),
		Labels:          ds.Labels,
		TrainedAt:       time.Now().UTC(),
		BestEpoch:       report.BestEpoch,
		EpochsTrained:   len(report.History),
		MaxEpochs:       cfg.Epochs,
		BatchSize:       cfg.BatchSize,
		TrainingSeconds: report.Duration.Seconds(),
	})
	if err != nil {
		return nil, nil, err
	}

	if report.Train, err = Evaluate(m, train); err != nil {
		return nil, nil, err
	}
	if report.Val, err = Evaluate(m, val); err != nil {
		return nil, nil, err
	}
	m.meta.TrainAccuracy = report.Train.Accuracy
	m.meta.TrainLoss = report.Train.Loss
	m.meta.ValAccuracy = report.Val.Accuracy
	m.meta.ValLoss = report.Val.Loss

	log.WithFields(logrus.Fields{
		"epochs":       len(report.History),
		"best_epoch":   report.BestEpoch,
		"val_accuracy": fmt.Sprintf("%.4f", report.Val.Accuracy),
		"duration":     report.Duration.Round(time.Millisecond),
	}).Info("training finished")

	return m, report, nil
}

// monitor counts epochs without improvement of a minimized metric.
type monitor struct {
	best     float64
	wait     int
	patience int
}

func newMonitor(patience int) *monitor {
	return &monitor{best: math.Inf(1), patience: patience}
}

// observe records v and reports whether patience ran out, restarting the
// count when it does. A patience of zero never triggers.
func (m *monitor) observe(v float64) bool {
	if v < m.best {
		m.best = v
		m.wait = 0
		return false
	}
	m.wait++
	if m.patience > 0 && m.wait >= m.patience {
		m.wait = 0
		return true
	}
	return false
}

func lossAccuracy(net *Network, examples []dataset.Example) (float64, float64) {
	if len(examples) == 0 {
		return 0, 0
	}
	var loss float64
	var correct int
	for _, ex := range examples {
		probs := net.run(ex.Sequence, nil).probs
		loss += crossEntropy(probs, ex.Label)
		if argmax(probs) == ex.Label {
			correct++
		}
	}
	n := float64(len(examples))
	return loss / n, float64(correct) / n
}

func argmax(xs []float64) int {
	best := 0
	for i, v := range xs {
		if v > xs[best] {
			best = i
		}
	}
	return best
}
