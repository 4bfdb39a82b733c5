// Package app runs the live head gesture recognizer: camera frames flow
// through the face detector into an inference session, and gated decisions
// are recorded, broadcast and handed to hooks.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/headnod/internal/capture"
	"github.com/ayusman/headnod/internal/detector"
	"github.com/ayusman/headnod/internal/features"
	"github.com/ayusman/headnod/internal/hook"
	"github.com/ayusman/headnod/internal/inference"
	"github.com/ayusman/headnod/internal/model"
	"github.com/ayusman/headnod/internal/server"
	"github.com/ayusman/headnod/internal/store"
)

// Pipeline defaults.
const (
	// DefaultFPS is the camera polling rate.
	DefaultFPS = 30
	// DefaultPreviewInterval limits how often a preview JPEG is encoded.
	DefaultPreviewInterval = 100 * time.Millisecond
)

// ErrNoDecision is returned by RecordTrial before the first decision.
var ErrNoDecision = errors.New("no decision to record")

// Config holds configuration options for the application.
type Config struct {
	Model *model.Model
	// Store records decisions and trials when set.
	Store *store.Store
	// HookDir is scanned for hooks when set.
	HookDir  string
	CameraID int
	// Camera overrides the device opened from CameraID.
	Camera capture.Camera
	// Detector overrides the MediaPipe detector.
	Detector detector.Detector
	// MediaPipe configures the face mesh detector started when Detector is
	// nil. The zero value uses detector.DefaultConfig.
	MediaPipe       detector.Config
	Threshold       float64
	ResetOnDecision bool
	FPS             int
	// Hub receives every decision when set.
	Hub *server.Hub
	// PreviewInterval enables JPEG preview encoding when positive.
	PreviewInterval time.Duration
	// OnDecision is called from the pipeline goroutine after each decision.
	OnDecision func(dec model.Decision)
	// OnStatus is called from the pipeline goroutine after each frame.
	OnStatus func(status server.LiveStatus)
	Logger   logrus.FieldLogger
}

// App is the live pipeline.
type App struct {
	config     Config
	log        logrus.FieldLogger
	camera     capture.Camera
	detector   detector.Detector
	dispatcher *hook.Dispatcher
	preview    *preview
	sessionID  string

	// mu guards the session and the fields below it.
	mu             sync.Mutex
	session        *inference.Session
	lastPrediction *int64
	// held is the label of the decision currently being held, if any.
	held string

	enabledMu sync.RWMutex
	enabled   bool

	runMu  sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// New checks the model against the motion layout and wires the pipeline.
func New(config Config) (*App, error) {
	if config.Model == nil {
		return nil, errors.New("app needs a model")
	}
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if config.FPS <= 0 {
		config.FPS = DefaultFPS
	}

	session, err := inference.NewSession(config.Model, features.NewExtractor(features.MotionLayout()), inference.Options{
		Threshold:       config.Threshold,
		ResetOnDecision: config.ResetOnDecision,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		config:    config,
		log:       log,
		camera:    config.Camera,
		detector:  config.Detector,
		session:   session,
		sessionID: uuid.NewString(),
		enabled:   true,
	}
	a.log = log.WithField("session_id", a.sessionID)

	if a.camera == nil {
		a.camera = capture.NewCamera(config.CameraID)
	}

	if a.detector == nil {
		mpConfig := config.MediaPipe
		if mpConfig == (detector.Config{}) {
			mpConfig = detector.DefaultConfig()
		}
		mp, err := detector.NewMediaPipeDetector(mpConfig)
		if err != nil {
			return nil, fmt.Errorf("face mesh detector: %w", err)
		}
		a.detector = mp
		a.log.Info("using MediaPipe face mesh")
	}

	if config.HookDir != "" {
		manager := hook.NewManager(config.HookDir, a.log)
		if err := manager.Discover(); err != nil {
			return nil, fmt.Errorf("discover hooks: %w", err)
		}
		a.dispatcher = hook.NewDispatcher(manager, hook.NewExecutor(hook.DefaultTimeout), a.log)
		a.log.WithField("hooks", len(manager.List())).Info("hooks loaded")
	}

	if config.PreviewInterval > 0 {
		a.preview = newPreview(config.PreviewInterval)
	}

	return a, nil
}

// SessionID identifies this live session in the store.
func (a *App) SessionID() string { return a.sessionID }

// Preview returns the preview frame source, or nil when disabled.
func (a *App) Preview() server.FrameSource {
	if a.preview == nil {
		return nil
	}
	return a.preview
}

// SetEnabled enables or disables recognition. Disabling also resets the
// buffer so stale frames never complete a window.
func (a *App) SetEnabled(enabled bool) {
	a.enabledMu.Lock()
	a.enabled = enabled
	a.enabledMu.Unlock()
	if !enabled {
		a.Reset()
	}
	a.log.WithField("enabled", enabled).Info("recognition toggled")
}

// IsEnabled returns whether recognition is currently enabled.
func (a *App) IsEnabled() bool {
	a.enabledMu.RLock()
	defer a.enabledMu.RUnlock()
	return a.enabled
}

// Reset clears the live buffer.
func (a *App) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session.Reset()
	a.held = ""
}

// Start opens the camera and begins the detection pipeline.
func (a *App) Start() error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	if a.stopCh != nil {
		return nil
	}

	if err := a.camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	a.camera.SetFPS(a.config.FPS)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	go a.runPipeline(a.stopCh, a.done)

	a.log.WithField("fps", a.config.FPS).Info("detection pipeline started")
	return nil
}

// Stop halts the pipeline and closes the camera. The detector stays open.
func (a *App) Stop() {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	if a.stopCh == nil {
		return
	}
	close(a.stopCh)
	<-a.done
	a.cancel()
	a.stopCh = nil

	if err := a.camera.Close(); err != nil {
		a.log.WithError(err).Warn("close camera")
	}
	a.log.Info("detection pipeline stopped")
}

// Done is closed when the pipeline goroutine exits, including when a finite
// camera runs out of frames. It is nil before Start.
func (a *App) Done() <-chan struct{} {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.done
}

// Close stops the pipeline and releases the detector.
func (a *App) Close() error {
	a.Stop()
	return a.detector.Close()
}

// IsRunning reports whether the pipeline goroutine is active.
func (a *App) IsRunning() bool {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.stopCh == nil {
		return false
	}
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}

// LiveStatus implements server.StatusProvider.
func (a *App) LiveStatus() server.LiveStatus {
	running := a.IsRunning()
	enabled := a.IsEnabled()

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked(running, enabled)
}

func (a *App) statusLocked(running, enabled bool) server.LiveStatus {
	return server.LiveStatus{
		Running:        running,
		Enabled:        enabled,
		SessionID:      a.sessionID,
		State:          a.session.State().String(),
		Buffered:       a.session.Buffered(),
		SequenceLength: a.session.SequenceLength(),
		LastDecision:   a.session.LastDecision(),
		Stats:          a.session.Stats(),
	}
}

// RecordTrial stores an accuracy trial comparing the last decision with the
// gesture the operator performed.
func (a *App) RecordTrial(expected string) (*store.Trial, error) {
	if a.config.Store == nil {
		return nil, errors.New("no store configured")
	}
	if _, ok := a.config.Model.Metadata().Labels.Index(expected); !ok {
		return nil, fmt.Errorf("unknown gesture %q", expected)
	}

	a.mu.Lock()
	last := a.session.LastDecision()
	predictionID := a.lastPrediction
	a.mu.Unlock()

	if last == nil {
		return nil, ErrNoDecision
	}

	trial := &store.Trial{
		SessionID:    a.sessionID,
		PredictionID: predictionID,
		Expected:     expected,
		Predicted:    last.Label,
		Confidence:   last.Confidence,
	}
	if err := a.config.Store.Trials().Create(trial); err != nil {
		return nil, fmt.Errorf("record trial: %w", err)
	}
	a.log.WithFields(logrus.Fields{
		"expected":  expected,
		"predicted": last.Label,
		"correct":   trial.Correct,
	}).Info("trial recorded")
	return trial, nil
}
