package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"gocv.io/x/gocv"

	"github.com/ayusman/headnod/internal/capture"
	"github.com/ayusman/headnod/internal/dataset"
	"github.com/ayusman/headnod/internal/detector"
	"github.com/ayusman/headnod/internal/features"
	"github.com/ayusman/headnod/internal/hook"
	"github.com/ayusman/headnod/internal/model"
	"github.com/ayusman/headnod/internal/store"
)

// uniformModel scores every window 1/3 per class, so with a threshold of
// 0.3 every full window decides YES.
func uniformModel(t *testing.T) *model.Model {
	t.Helper()
	net, err := model.NewNetwork(model.Architecture{
		SequenceLength: 15,
		InputDim:       features.MotionLayout().Dim(),
		LSTMUnits:      []int{4},
		DenseUnits:     []int{4},
		NumClasses:     3,
	}, nil)
	if err != nil {
		t.Fatalf("NewNetwork() error = %v", err)
	}
	m, err := model.New(net, model.Metadata{
		RunID:  "run-1",
		Layout: features.MotionLayoutID,
		Labels: dataset.DefaultLabels(),
	})
	if err != nil {
		t.Fatalf("model.New() error = %v", err)
	}
	return m
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestApp(t *testing.T, config Config) (*App, *detector.MockDetector) {
	t.Helper()
	det := detector.NewMockDetector()
	det.SetFace(detector.NeutralFace())
	config.Detector = det
	if config.Model == nil {
		config.Model = uniformModel(t)
	}
	if config.Logger == nil {
		config.Logger, _ = test.NewNullLogger()
	}
	a, err := New(config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a, det
}

func feed(t *testing.T, a *App, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := a.processFrame(context.Background(), nil); err != nil {
			t.Fatalf("processFrame() error = %v", err)
		}
	}
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New(Config{Detector: detector.NewMockDetector()}); err == nil {
		t.Fatal("expected error without a model")
	}
}

func TestNew_RequiresFaceMeshService(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := New(Config{
		Model:     uniformModel(t),
		MediaPipe: detector.Config{ScriptPath: filepath.Join(t.TempDir(), "missing.py")},
		Logger:    logger,
	})
	if err == nil {
		t.Fatal("expected error when the face mesh service is unavailable")
	}
}

func TestNew_RejectsThreshold(t *testing.T) {
	_, err := New(Config{Model: uniformModel(t), Detector: detector.NewMockDetector(), Threshold: 2})
	if err == nil {
		t.Fatal("expected error for threshold above 1")
	}
}

func TestApp_ProcessFrame_RecordsDecision(t *testing.T) {
	s := newTestStore(t)

	var decisions []model.Decision
	a, _ := newTestApp(t, Config{
		Store:      s,
		Threshold:  0.3,
		OnDecision: func(dec model.Decision) { decisions = append(decisions, dec) },
	})

	feed(t, a, 14)
	if len(decisions) != 0 {
		t.Fatalf("decided before the window was full: %v", decisions)
	}
	status := a.LiveStatus()
	if status.State != "BUFFERING" || status.Buffered != 14 {
		t.Fatalf("status = %s %d, want BUFFERING 14", status.State, status.Buffered)
	}

	feed(t, a, 1)
	if len(decisions) != 1 || decisions[0].Label != "YES" {
		t.Fatalf("decisions = %v, want one YES", decisions)
	}

	predictions, err := s.Predictions().ListBySession(a.SessionID())
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(predictions) != 1 {
		t.Fatalf("stored %d predictions, want 1", len(predictions))
	}
	p := predictions[0]
	if p.Gesture != "YES" || p.RunID != "run-1" || len(p.Probabilities) != 3 {
		t.Errorf("unexpected prediction %+v", p)
	}

	status = a.LiveStatus()
	if status.State != "READY" || status.LastDecision == nil || status.Stats.Predictions != 1 {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestApp_HeldGestureFiresOnce(t *testing.T) {
	s := newTestStore(t)

	var decisions []model.Decision
	a, det := newTestApp(t, Config{
		Store:      s,
		Threshold:  0.3,
		OnDecision: func(dec model.Decision) { decisions = append(decisions, dec) },
	})
	stored := func() int {
		t.Helper()
		predictions, err := s.Predictions().ListBySession(a.SessionID())
		if err != nil {
			t.Fatalf("ListBySession() error = %v", err)
		}
		return len(predictions)
	}

	feed(t, a, 30)
	if len(decisions) != 1 || stored() != 1 {
		t.Fatalf("after 30 frames: %d decisions, %d stored; want 1 and 1", len(decisions), stored())
	}
	if got := a.LiveStatus().Stats.Predictions; got != 16 {
		t.Errorf("session predictions = %d, want 16", got)
	}

	t.Run("missed detections keep the gesture held", func(t *testing.T) {
		det.SetFace(nil)
		feed(t, a, 3)
		det.SetFace(detector.NeutralFace())
		feed(t, a, 3)
		if len(decisions) != 1 {
			t.Errorf("decisions = %d, want 1", len(decisions))
		}
	})

	t.Run("reset re-arms", func(t *testing.T) {
		a.Reset()
		feed(t, a, 15)
		if len(decisions) != 2 || stored() != 2 {
			t.Errorf("after reset: %d decisions, %d stored; want 2 and 2", len(decisions), stored())
		}
	})
}

func TestApp_ResetOnDecision(t *testing.T) {
	a, _ := newTestApp(t, Config{Threshold: 0.3, ResetOnDecision: true})

	feed(t, a, 15)
	status := a.LiveStatus()
	if status.State != "BUFFERING" || status.Buffered != 0 {
		t.Fatalf("status = %s %d, want BUFFERING 0", status.State, status.Buffered)
	}
	if status.Stats.Decisions["YES"] != 1 {
		t.Errorf("decisions = %v, want one YES", status.Stats.Decisions)
	}
}

func TestApp_RecordTrial(t *testing.T) {
	s := newTestStore(t)
	a, _ := newTestApp(t, Config{Store: s, Threshold: 0.3})

	if _, err := a.RecordTrial("YES"); !errors.Is(err, ErrNoDecision) {
		t.Fatalf("RecordTrial() before decision error = %v, want ErrNoDecision", err)
	}

	feed(t, a, 15)

	trial, err := a.RecordTrial("YES")
	if err != nil {
		t.Fatalf("RecordTrial() error = %v", err)
	}
	if !trial.Correct || trial.PredictionID == nil {
		t.Errorf("unexpected trial %+v", trial)
	}

	trial, err = a.RecordTrial("NO")
	if err != nil {
		t.Fatalf("RecordTrial() error = %v", err)
	}
	if trial.Correct || trial.Predicted != "YES" {
		t.Errorf("unexpected trial %+v", trial)
	}

	if _, err := a.RecordTrial("MAYBE"); err == nil {
		t.Error("expected error for unknown gesture")
	}

	summary, err := s.Trials().Summary()
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("summary has %d gestures, want 2", len(summary))
	}
}

func TestApp_RecordTrial_NoStore(t *testing.T) {
	a, _ := newTestApp(t, Config{Threshold: 0.3})
	if _, err := a.RecordTrial("YES"); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestApp_SetEnabled_ResetsBuffer(t *testing.T) {
	a, _ := newTestApp(t, Config{})

	feed(t, a, 5)
	a.SetEnabled(false)
	if a.IsEnabled() {
		t.Fatal("expected recognition disabled")
	}
	status := a.LiveStatus()
	if status.Buffered != 0 || status.Stats.Resets != 1 {
		t.Errorf("status = %+v, want empty buffer after one reset", status)
	}

	a.SetEnabled(true)
	if !a.IsEnabled() {
		t.Fatal("expected recognition enabled")
	}
}

func TestApp_ProcessFrame_DetectorError(t *testing.T) {
	a, det := newTestApp(t, Config{})
	det.SetError(errors.New("mesh crashed"))

	if err := a.processFrame(context.Background(), nil); err == nil {
		t.Fatal("expected detector error")
	}
	if a.LiveStatus().Stats.Frames != 0 {
		t.Error("failed detection should not reach the session")
	}
}

func TestApp_Hooks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	hookRoot := t.TempDir()
	out := filepath.Join(t.TempDir(), "event.json")
	hookDir := filepath.Join(hookRoot, "record")
	if err := os.MkdirAll(hookDir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest, _ := json.Marshal(hook.Manifest{Name: "record", Executable: "run.sh", Gestures: []string{"YES"}})
	if err := os.WriteFile(filepath.Join(hookDir, hook.ManifestFile), manifest, 0o644); err != nil {
		t.Fatal(err)
	}
	runs := filepath.Join(t.TempDir(), "runs.log")
	script := "#!/bin/sh\necho run >> " + runs + "\ncat > " + out + ".tmp\nmv " + out + ".tmp " + out + "\necho '{\"success\":true}'\n"
	if err := os.WriteFile(filepath.Join(hookDir, "run.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	a, _ := newTestApp(t, Config{HookDir: hookRoot, Threshold: 0.3})
	feed(t, a, 30)

	deadline := time.Now().Add(5 * time.Second)
	var data []byte
	for time.Now().Before(deadline) {
		var err error
		if data, err = os.ReadFile(out); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if data == nil {
		t.Fatal("hook was not run")
	}

	var ev hook.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("hook received invalid JSON: %v", err)
	}
	if ev.Gesture != "YES" || ev.SessionID != a.SessionID() {
		t.Errorf("unexpected event %+v", ev)
	}

	// Give any extra dispatches time to show up.
	time.Sleep(300 * time.Millisecond)
	log, err := os.ReadFile(runs)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if n := strings.Count(string(log), "run\n"); n != 1 {
		t.Errorf("hook ran %d times for one held gesture, want 1", n)
	}
}

func TestApp_Pipeline_MockCamera(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	faces := detector.Synthesize(detector.MotionNod, 20, nil, detector.DefaultMotionParams(), nil)
	det := detector.NewMockDetector()
	det.SetSequence(faces)

	logger, _ := test.NewNullLogger()
	var fired int
	a, err := New(Config{
		Model:      uniformModel(t),
		Camera:     capture.NewMockCamera(make([]*gocv.Mat, len(faces)), false),
		Detector:   det,
		Threshold:  0.3,
		FPS:        200,
		OnDecision: func(model.Decision) { fired++ },
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}

	status := a.LiveStatus()
	if status.Running {
		t.Error("pipeline should report stopped after the camera is exhausted")
	}
	if status.Stats.Frames != 20 || status.Stats.Predictions != 6 {
		t.Errorf("stats = %+v, want 20 frames and 6 predictions", status.Stats)
	}
	if status.Stats.Decisions["YES"] != 6 {
		t.Errorf("decisions = %v, want 6 YES", status.Stats.Decisions)
	}
	if fired != 1 {
		t.Errorf("OnDecision fired %d times for one held YES, want 1", fired)
	}

	a.Stop()
	if a.IsRunning() {
		t.Error("expected stopped app")
	}
}
