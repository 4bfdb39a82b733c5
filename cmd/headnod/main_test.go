package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/headnod/internal/config"
	"github.com/ayusman/headnod/internal/dataset"
	"github.com/ayusman/headnod/internal/features"
	"github.com/ayusman/headnod/internal/model"
	"github.com/ayusman/headnod/internal/store"
)

func TestMergeFlags(t *testing.T) {
	loaded := config.Default()
	loaded.DBPath = "/from/env.db"
	loaded.Threshold = 0.6

	flagged := config.Default()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&flagged.DBPath, "db", flagged.DBPath, "")
	cmd.Flags().Float64Var(&flagged.Threshold, "threshold", flagged.Threshold, "")
	require.NoError(t, cmd.ParseFlags([]string{"--threshold", "0.8"}))

	got := mergeFlags(cmd, loaded, flagged)
	assert.Equal(t, 0.8, got.Threshold, "explicit flag wins")
	assert.Equal(t, "/from/env.db", got.DBPath, "unset flag keeps the loaded value")
}

func TestConfusions(t *testing.T) {
	assert.Equal(t, "-", confusions(nil))
	assert.Equal(t, "NEUTRAL:1, NO:3", confusions(map[string]int{"NO": 3, "NEUTRAL": 1}))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "0123abcd", shortID("0123abcd-ffff"))
}

func TestLabelNames(t *testing.T) {
	assert.Equal(t, []string{"YES", "NO", "NEUTRAL"}, labelNames(dataset.DefaultLabels()))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"extract", "train", "evaluate", "live", "serve", "trials", "stats"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func saveModel(t *testing.T, layout string, dim int) string {
	t.Helper()
	net, err := model.NewNetwork(model.Architecture{
		SequenceLength: 15,
		InputDim:       dim,
		LSTMUnits:      []int{4},
		DenseUnits:     []int{4},
		NumClasses:     3,
	}, nil)
	require.NoError(t, err)
	m, err := model.New(net, model.Metadata{RunID: "run-1", Layout: layout, Labels: dataset.DefaultLabels()})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, model.SaveArtifact(dir, m))
	return dir
}

func TestLoadModel(t *testing.T) {
	t.Run("motion layout", func(t *testing.T) {
		m, err := loadModel(saveModel(t, features.MotionLayoutID, features.MotionLayout().Dim()))
		require.NoError(t, err)
		assert.Equal(t, "run-1", m.Metadata().RunID)
	})

	t.Run("legacy layout is rejected", func(t *testing.T) {
		_, err := loadModel(saveModel(t, features.LegacyLayoutID, features.LegacyDim))
		assert.ErrorIs(t, err, model.ErrSchemaMismatch)
		assert.ErrorIs(t, err, features.ErrLayoutMismatch)
	})

	t.Run("missing artifact", func(t *testing.T) {
		_, err := loadModel(t.TempDir())
		assert.ErrorIs(t, err, model.ErrArtifactMissing)
	})
}

func TestFailRun(t *testing.T) {
	var hook *test.Hook
	logger, hook = test.NewNullLogger()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Runs().Create(&store.Run{ID: "run-1", Layout: features.MotionLayoutID, SequenceLength: 15}))
	failRun(st.Runs(), "run-1", errors.New("disk full"))

	run, err := st.Runs().GetByID("run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
	assert.Equal(t, "disk full", run.Error)
	assert.Empty(t, hook.AllEntries())

	failRun(st.Runs(), "missing", errors.New("disk full"))
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
