package model

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/headnod/internal/dataset"
	"github.com/ayusman/headnod/internal/features"
	"github.com/ayusman/headnod/internal/sequence"
)

func randomSequence(rng *rand.Rand, length, dim int) sequence.Sequence {
	seq := make(sequence.Sequence, length)
	for t := range seq {
		seq[t] = make([]float64, dim)
		for j := range seq[t] {
			seq[t][j] = rng.NormFloat64()
		}
	}
	return seq
}

// toyDataset builds three linearly distinguishable classes: a rising ramp,
// a falling ramp and a flat line, all on the first feature.
func toyDataset(perClass, length, dim int, seed uint64) *dataset.Dataset {
	rng := rand.New(rand.NewPCG(seed, 1))
	ds := &dataset.Dataset{
		Layout:         features.MotionLayoutID,
		SequenceLength: length,
		DescriptorDim:  dim,
		Labels:         dataset.DefaultLabels(),
	}
	for label := 0; label < 3; label++ {
		for n := 0; n < perClass; n++ {
			seq := make(sequence.Sequence, length)
			for t := range seq {
				frac := float64(t) / float64(length-1)
				frame := make([]float64, dim)
				for j := range frame {
					frame[j] = 0.5 + rng.NormFloat64()*0.02
				}
				switch label {
				case 0:
					frame[0] += 0.2 * frac
				case 1:
					frame[0] -= 0.2 * frac
				}
				seq[t] = frame
			}
			ds.Examples = append(ds.Examples, dataset.Example{Sequence: seq, Label: label})
		}
	}
	return ds
}

func smallConfig() TrainConfig {
	cfg := DefaultTrainConfig()
	cfg.LSTMUnits = []int{8}
	cfg.DenseUnits = []int{8}
	cfg.LSTMDropout = 0
	cfg.DenseDropout = 0
	cfg.Epochs = 60
	cfg.BatchSize = 8
	cfg.LearningRate = 0.01
	cfg.EarlyStopPatience = 0
	return cfg
}

func newTestModel(t *testing.T, arch Architecture) *Model {
	t.Helper()
	net, err := NewNetwork(arch, rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	m, err := New(net, Metadata{Layout: features.MotionLayoutID, Labels: dataset.DefaultLabels()})
	require.NoError(t, err)
	return m
}

func testArch() Architecture {
	return Architecture{
		SequenceLength: 15,
		InputDim:       9,
		LSTMUnits:      []int{6, 4},
		DenseUnits:     []int{5},
		NumClasses:     3,
		LSTMDropout:    0.3,
		DenseDropout:   0.2,
	}
}

func TestSoftmax(t *testing.T) {
	probs := softmax([]float64{1000, 1001, 999})
	var sum float64
	for _, p := range probs {
		assert.False(t, math.IsNaN(p))
		sum += p
	}
	assert.InDelta(t, 1, sum, 1e-12)
	assert.Greater(t, probs[1], probs[0])
}

func TestPredict(t *testing.T) {
	m := newTestModel(t, testArch())
	rng := rand.New(rand.NewPCG(5, 6))

	t.Run("probabilities sum to one", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			probs, err := m.Predict(randomSequence(rng, 15, 9))
			require.NoError(t, err)
			require.Len(t, probs, 3)
			var sum float64
			for _, p := range probs {
				assert.GreaterOrEqual(t, p, 0.0)
				sum += p
			}
			assert.InDelta(t, 1, sum, 1e-9)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		seq := randomSequence(rng, 15, 9)
		a, err := m.Predict(seq)
		require.NoError(t, err)
		b, err := m.Predict(seq)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("shape errors", func(t *testing.T) {
		_, err := m.Predict(randomSequence(rng, 14, 9))
		assert.Error(t, err)
		_, err = m.Predict(randomSequence(rng, 15, 24))
		assert.Error(t, err)

		seq := randomSequence(rng, 15, 9)
		seq[3][2] = math.NaN()
		_, err = m.Predict(seq)
		assert.Error(t, err)
	})
}

func TestGate(t *testing.T) {
	tests := []struct {
		name      string
		probs     []float64
		threshold float64
		wantIdx   int
		wantOK    bool
	}{
		{"above", []float64{0.7, 0.2, 0.1}, 0.5, 0, true},
		{"at threshold", []float64{0.25, 0.5, 0.25}, 0.5, 1, true},
		{"below", []float64{0.4, 0.35, 0.25}, 0.5, 0, false},
		{"tie resolves low", []float64{0.1, 0.45, 0.45}, 0.4, 1, true},
		{"empty", nil, 0.5, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, _, ok := Gate(tt.probs, tt.threshold)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantIdx, idx)
			}
		})
	}

	m := newTestModel(t, testArch())
	d, ok := m.Decide([]float64{0.1, 0.8, 0.1}, DefaultThreshold)
	require.True(t, ok)
	assert.Equal(t, Decision{Index: 1, Label: "NO", Confidence: 0.8}, d)

	_, ok = m.Decide([]float64{0.34, 0.33, 0.33}, DefaultThreshold)
	assert.False(t, ok)
}

func TestGradients(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	net, err := NewNetwork(Architecture{
		SequenceLength: 4,
		InputDim:       3,
		LSTMUnits:      []int{5, 4},
		DenseUnits:     []int{6},
		NumClasses:     3,
	}, rng)
	require.NoError(t, err)

	seq := randomSequence(rng, 4, 3)
	const label = 1
	net.backward(net.run(seq, nil), label)

	const h = 1e-5
	for _, p := range net.params() {
		for i := range p.w {
			orig := p.w[i]
			p.w[i] = orig + h
			lp := crossEntropy(net.run(seq, nil).probs, label)
			p.w[i] = orig - h
			lm := crossEntropy(net.run(seq, nil).probs, label)
			p.w[i] = orig

			num := (lp - lm) / (2 * h)
			if math.Abs(p.g[i]-num) > 1e-6+1e-4*math.Abs(num) {
				t.Fatalf("%s[%d]: analytic %g, numeric %g", p.name, i, p.g[i], num)
			}
		}
	}
}

func TestAdamFirstStep(t *testing.T) {
	p := newParam("w", 1, 2)
	p.g[0], p.g[1] = 300, 400
	opt := &adam{lr: 0.1, beta1: 0.9, beta2: 0.999, eps: 1e-7, clip: 5}
	opt.step([]*param{p}, 1)

	// The first Adam step moves every weight by about lr against its gradient sign.
	assert.InDelta(t, -0.1, p.w[0], 1e-6)
	assert.InDelta(t, -0.1, p.w[1], 1e-6)
	assert.Equal(t, []float64{0, 0}, p.g)
}

func TestSplit(t *testing.T) {
	ds := toyDataset(10, 5, 2, 1)
	ds.Examples = append(ds.Examples, dataset.Example{Sequence: ds.Examples[0].Sequence, Label: 2})

	train, val := Split(ds.Examples, 0.2, 42)
	assert.Len(t, train, 25)
	assert.Len(t, val, 6)

	counts := func(exs []dataset.Example) map[int]int {
		c := make(map[int]int)
		for _, ex := range exs {
			c[ex.Label]++
		}
		return c
	}
	assert.Equal(t, map[int]int{0: 2, 1: 2, 2: 2}, counts(val))
	assert.Equal(t, map[int]int{0: 8, 1: 8, 2: 9}, counts(train))

	train2, val2 := Split(ds.Examples, 0.2, 42)
	assert.Empty(t, cmp.Diff(train, train2))
	assert.Empty(t, cmp.Diff(val, val2))
}

func TestSplitSingletonClassStaysInTraining(t *testing.T) {
	ds := toyDataset(5, 5, 2, 1)
	ds.Examples = ds.Examples[:11]

	train, val := Split(ds.Examples, 0.2, 42)
	for _, ex := range val {
		assert.NotEqual(t, 2, ex.Label)
	}
	assert.Len(t, train, 9)
}

func TestFit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training in short mode")
	}
	ds := toyDataset(30, 10, 3, 11)
	logger, hook := test.NewNullLogger()

	var epochs int
	tr := &Trainer{Config: smallConfig(), Logger: logger, RunID: "run-1", OnEpoch: func(EpochStats) { epochs++ }}
	m, report, err := tr.Fit(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, 60, epochs)
	assert.Len(t, report.History, 60)
	assert.False(t, report.StoppedEarly)
	assert.GreaterOrEqual(t, report.Val.Accuracy, 0.9)

	t.Run("best validation accuracy is kept", func(t *testing.T) {
		best := math.Inf(-1)
		bestEpoch := 0
		for _, h := range report.History {
			if h.ValAccuracy > best {
				best, bestEpoch = h.ValAccuracy, h.Epoch
			}
		}
		assert.Equal(t, bestEpoch, report.BestEpoch)
		assert.Equal(t, best, report.Val.Accuracy)
	})

	t.Run("metadata", func(t *testing.T) {
		meta := m.Metadata()
		assert.Equal(t, "run-1", meta.RunID)
		assert.Equal(t, features.MotionLayoutID, meta.Layout)
		assert.Equal(t, [2]int{10, 3}, meta.InputShape)
		assert.Equal(t, 3, meta.NumClasses)
		assert.Equal(t, 60, meta.EpochsTrained)
		assert.Equal(t, m.Network().ParamCount(), meta.TotalParameters)
		assert.Equal(t, report.Val.Accuracy, meta.ValAccuracy)
		assert.True(t, meta.Labels.Equal(dataset.DefaultLabels()))
	})

	t.Run("logs", func(t *testing.T) {
		var started, finished bool
		for _, e := range hook.AllEntries() {
			switch e.Message {
			case "training started":
				started = true
			case "training finished":
				finished = true
				assert.Equal(t, "run-1", e.Data["run_id"])
			}
		}
		assert.True(t, started)
		assert.True(t, finished)
	})

	t.Run("reproducible", func(t *testing.T) {
		cfg := smallConfig()
		cfg.Epochs = 3
		a, _, err := (&Trainer{Config: cfg, Logger: logger}).Fit(context.Background(), ds)
		require.NoError(t, err)
		b, _, err := (&Trainer{Config: cfg, Logger: logger}).Fit(context.Background(), ds)
		require.NoError(t, err)

		pa, err := a.Predict(ds.Examples[0].Sequence)
		require.NoError(t, err)
		pb, err := b.Predict(ds.Examples[0].Sequence)
		require.NoError(t, err)
		assert.Equal(t, pa, pb)
	})
}

func TestMonitor(t *testing.T) {
	m := newMonitor(2)
	assert.False(t, m.observe(1.0))
	assert.False(t, m.observe(0.9))
	assert.False(t, m.observe(0.9))
	assert.True(t, m.observe(1.2))
	// The count restarts after triggering.
	assert.False(t, m.observe(1.0))
	assert.True(t, m.observe(1.0))
	assert.False(t, m.observe(0.5))

	never := newMonitor(0)
	for i := 0; i < 20; i++ {
		assert.False(t, never.observe(1))
	}
}

func TestFitEarlyStopping(t *testing.T) {
	ds := toyDataset(6, 5, 2, 3)
	logger, _ := test.NewNullLogger()

	cfg := smallConfig()
	cfg.Epochs = 200
	cfg.LearningRate = 0
	_, _, err := (&Trainer{Config: cfg, Logger: logger}).Fit(context.Background(), ds)
	require.Error(t, err)

	// A vanishing learning rate leaves the validation loss constant after
	// the first epoch.
	cfg.LearningRate = 1e-300
	cfg.EarlyStopPatience = 3
	cfg.LRPatience = 1
	cfg.MinLR = 0
	_, report, err := (&Trainer{Config: cfg, Logger: logger}).Fit(context.Background(), ds)
	require.NoError(t, err)
	assert.True(t, report.StoppedEarly)
	assert.Len(t, report.History, 4)
	assert.Equal(t, 1, report.BestEpoch)

	first, last := report.History[0], report.History[len(report.History)-1]
	assert.Less(t, last.LearningRate, first.LearningRate)
}

func TestFitErrors(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tr := &Trainer{Config: smallConfig(), Logger: logger}

	t.Run("empty", func(t *testing.T) {
		_, _, err := tr.Fit(context.Background(), &dataset.Dataset{Labels: dataset.DefaultLabels()})
		assert.ErrorIs(t, err, dataset.ErrEmptyCorpus)
	})

	t.Run("too few to split", func(t *testing.T) {
		ds := toyDataset(1, 5, 2, 1)
		_, _, err := tr.Fit(context.Background(), ds)
		assert.ErrorIs(t, err, dataset.ErrInsufficientData)
	})

	t.Run("bad shape", func(t *testing.T) {
		ds := toyDataset(3, 5, 2, 1)
		ds.Examples[2].Sequence = ds.Examples[2].Sequence[:4]
		_, _, err := tr.Fit(context.Background(), ds)
		assert.Error(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := tr.Fit(ctx, toyDataset(3, 5, 2, 1))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestArtifact(t *testing.T) {
	m := newTestModel(t, testArch())
	m.net.mean[0], m.net.std[0] = 0.5, 0.1
	dir := t.TempDir()
	require.NoError(t, SaveArtifact(dir, m))

	loaded, err := LoadArtifact(dir)
	require.NoError(t, err)

	meta := loaded.Metadata()
	assert.Len(t, meta.WeightsSHA256, 64)
	assert.True(t, meta.Labels.Equal(dataset.DefaultLabels()))
	assert.Equal(t, m.Metadata().TotalParameters, meta.TotalParameters)

	rng := rand.New(rand.NewPCG(9, 10))
	for i := 0; i < 5; i++ {
		seq := randomSequence(rng, 15, 9)
		want, err := m.Predict(seq)
		require.NoError(t, err)
		got, err := loaded.Predict(seq)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-12)
	}

	t.Run("missing", func(t *testing.T) {
		_, err := LoadArtifact(t.TempDir())
		assert.ErrorIs(t, err, ErrArtifactMissing)

		partial := t.TempDir()
		require.NoError(t, SaveArtifact(partial, m))
		require.NoError(t, os.Remove(filepath.Join(partial, MetadataFile)))
		_, err = LoadArtifact(partial)
		assert.ErrorIs(t, err, ErrArtifactMissing)
	})

	t.Run("checksum", func(t *testing.T) {
		path := filepath.Join(dir, WeightsFile)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, append(data, ' '), 0o644))

		_, err = LoadArtifact(dir)
		assert.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("class count", func(t *testing.T) {
		other := t.TempDir()
		require.NoError(t, SaveArtifact(other, m))
		path := filepath.Join(other, MetadataFile)

		var raw map[string]any
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &raw))
		raw["num_classes"] = 4
		data, err = json.Marshal(raw)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o644))

		_, err = LoadArtifact(other)
		assert.ErrorIs(t, err, ErrSchemaMismatch)
	})
}

func TestCheckCompatible(t *testing.T) {
	m := newTestModel(t, testArch())

	assert.NoError(t, m.CheckCompatible(features.MotionLayout(), 15))

	err := m.CheckCompatible(features.MotionLayout(), 20)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	legacy := newTestModel(t, Architecture{SequenceLength: 15, InputDim: features.LegacyDim, LSTMUnits: []int{4}, NumClasses: 3})
	legacy.meta.Layout = features.LegacyLayoutID
	err = legacy.CheckCompatible(features.MotionLayout(), 15)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
	assert.True(t, errors.Is(err, features.ErrLayoutMismatch))
}

func TestNewRejectsMismatchedMetadata(t *testing.T) {
	net, err := NewNetwork(testArch(), nil)
	require.NoError(t, err)

	_, err = New(net, Metadata{Labels: dataset.Labels{0: "YES", 1: "NO"}})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = New(net, Metadata{SequenceLength: 10, Labels: dataset.DefaultLabels()})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestScore(t *testing.T) {
	labels := dataset.DefaultLabels()

	t.Run("union of classes", func(t *testing.T) {
		ev := Score([]int{0, 0, 1, 1}, []int{0, 1, 1, 1}, labels)
		assert.Equal(t, []int{0, 1}, ev.Classes)
		assert.Equal(t, [][]int{{1, 1}, {0, 2}}, ev.Confusion)
		assert.InDelta(t, 0.75, ev.Accuracy, 1e-12)

		yes, no := ev.PerClass[0], ev.PerClass[1]
		assert.Equal(t, "YES", yes.Label)
		assert.InDelta(t, 1.0, yes.Precision, 1e-12)
		assert.InDelta(t, 0.5, yes.Recall, 1e-12)
		assert.InDelta(t, 2.0/3, yes.F1, 1e-12)
		assert.Equal(t, 2, yes.Support)
		assert.InDelta(t, 2.0/3, no.Precision, 1e-12)
		assert.InDelta(t, 1.0, no.Recall, 1e-12)
	})

	t.Run("predicted only class", func(t *testing.T) {
		ev := Score([]int{0, 0}, []int{0, 2}, labels)
		assert.Equal(t, []int{0, 2}, ev.Classes)
		neutral := ev.PerClass[1]
		assert.Equal(t, 0, neutral.Support)
		assert.Zero(t, neutral.Precision)
		assert.Zero(t, neutral.Recall)
		assert.Zero(t, neutral.F1)
		assert.Contains(t, ev.String(), "NEUTRAL")
	})

	t.Run("empty", func(t *testing.T) {
		ev := Score(nil, nil, labels)
		assert.Empty(t, ev.Classes)
		assert.Zero(t, ev.Accuracy)
	})
}

func TestEvaluate(t *testing.T) {
	m := newTestModel(t, testArch())
	rng := rand.New(rand.NewPCG(1, 1))
	examples := []dataset.Example{
		{Sequence: randomSequence(rng, 15, 9), Label: 0},
		{Sequence: randomSequence(rng, 15, 9), Label: 1},
	}
	ev, err := Evaluate(m, examples)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Examples)
	assert.Greater(t, ev.Loss, 0.0)

	t.Run("wrong shape fails", func(t *testing.T) {
		bad := append(examples, dataset.Example{Sequence: randomSequence(rng, 20, 9), Label: 2})
		ev, err := Evaluate(m, bad)
		assert.ErrorIs(t, err, ErrSchemaMismatch)
		assert.Nil(t, ev)
	})
}

func TestModel_CheckDataset(t *testing.T) {
	m := newTestModel(t, testArch())
	layout := features.MotionLayout()
	ds := func() *dataset.Dataset {
		return &dataset.Dataset{
			Layout:         features.MotionLayoutID,
			SequenceLength: 15,
			DescriptorDim:  9,
			Labels:         dataset.DefaultLabels(),
		}
	}

	require.NoError(t, m.CheckDataset(layout, ds()))

	longer := ds()
	longer.SequenceLength = 20
	assert.ErrorIs(t, m.CheckDataset(layout, longer), ErrSchemaMismatch)

	wider := ds()
	wider.DescriptorDim = 24
	assert.ErrorIs(t, m.CheckDataset(layout, wider), ErrSchemaMismatch)

	relabeled := ds()
	relabeled.Labels = dataset.Labels{0: "NO", 1: "YES", 2: "NEUTRAL"}
	assert.ErrorIs(t, m.CheckDataset(layout, relabeled), ErrSchemaMismatch)
}

func TestSaveHistoryPlots(t *testing.T) {
	dir := t.TempDir()
	history := []EpochStats{
		{Epoch: 1, Loss: 1.1, Accuracy: 0.4, ValLoss: 1.0, ValAccuracy: 0.45},
		{Epoch: 2, Loss: 0.8, Accuracy: 0.6, ValLoss: 0.9, ValAccuracy: 0.55},
		{Epoch: 3, Loss: 0.5, Accuracy: 0.8, ValLoss: 0.7, ValAccuracy: 0.7},
	}
	require.NoError(t, SaveHistoryPlots(dir, history))

	for _, name := range []string{AccuracyPlotFile, LossPlotFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}

	assert.Error(t, SaveHistoryPlots(dir, nil))
}
