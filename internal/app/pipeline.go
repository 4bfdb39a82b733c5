package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/headnod/internal/hook"
	"github.com/ayusman/headnod/internal/inference"
	"github.com/ayusman/headnod/internal/store"
)

// DecisionEvent is broadcast to WebSocket clients for every decision.
type DecisionEvent struct {
	Type          string             `json:"type"`
	SessionID     string             `json:"session_id"`
	Gesture       string             `json:"gesture"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	Timestamp     time.Time          `json:"timestamp"`
}

// runPipeline polls the camera until stop is closed or the camera is
// exhausted.
//
// Per frame:
//  1. Read a frame, skip it while recognition is disabled
//  2. Detect the face and feed the preview
//  3. Push the descriptor through the session
//  4. On a new decision, record it, broadcast it and dispatch hooks
func (a *App) runPipeline(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(a.config.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame, err := a.camera.ReadFrame()
			if errors.Is(err, io.EOF) {
				a.log.Info("camera exhausted")
				return
			}
			if err != nil {
				a.log.WithError(err).Warn("error reading frame")
				continue
			}

			if !a.IsEnabled() {
				if frame != nil {
					frame.Close()
				}
				continue
			}

			if err := a.processFrame(a.ctx, frame); err != nil {
				a.log.WithError(err).Warn("frame dropped")
			}
		}
	}
}

// processFrame runs one frame through detection and inference. It closes frame.
func (a *App) processFrame(ctx context.Context, frame *gocv.Mat) error {
	face, err := a.detector.Detect(frame)
	if frame != nil {
		if a.preview != nil {
			a.preview.update(frame)
		}
		frame.Close()
	}
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	a.mu.Lock()
	res, err := a.session.Process(face)
	fire := err == nil && a.edgeLocked(res)
	var status func()
	if a.config.OnStatus != nil {
		st := a.statusLocked(true, true)
		status = func() { a.config.OnStatus(st) }
	}
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if status != nil {
		status()
	}

	if fire {
		a.handleDecision(ctx, res)
	}
	return nil
}

// edgeLocked reports whether res carries a decision that should be acted on.
// A gesture held across consecutive frames fires once; it fires again only
// after a frame without a decision, a change of label, or a buffer reset.
// Frames without a face keep the held gesture.
func (a *App) edgeLocked(res inference.Result) bool {
	if res.Decision == nil {
		if res.Detected {
			a.held = ""
		}
		return false
	}
	if res.Decision.Label == a.held {
		return false
	}
	a.held = res.Decision.Label
	if res.State == inference.Buffering {
		// ResetOnDecision cleared the buffer; the refill starts a new gesture.
		a.held = ""
	}
	return true
}

func (a *App) handleDecision(ctx context.Context, res inference.Result) {
	dec := *res.Decision
	probs := a.config.Model.Probabilities(res.Probabilities)
	now := time.Now()

	a.log.WithFields(logrus.Fields{
		"gesture":    dec.Label,
		"confidence": fmt.Sprintf("%.3f", dec.Confidence),
	}).Info("gesture decided")

	if a.config.Store != nil {
		p := &store.Prediction{
			SessionID:     a.sessionID,
			RunID:         a.config.Model.Metadata().RunID,
			Gesture:       dec.Label,
			Confidence:    dec.Confidence,
			Probabilities: probs,
			CreatedAt:     now,
		}
		if err := a.config.Store.Predictions().Create(p); err != nil {
			a.log.WithError(err).Warn("failed to record prediction")
		} else {
			id := p.ID
			a.mu.Lock()
			a.lastPrediction = &id
			a.mu.Unlock()
		}
	}

	if a.config.Hub != nil {
		a.config.Hub.Broadcast(DecisionEvent{
			Type:          "decision",
			SessionID:     a.sessionID,
			Gesture:       dec.Label,
			Confidence:    dec.Confidence,
			Probabilities: probs,
			Timestamp:     now,
		})
	}

	if a.dispatcher != nil && dec.Label != inference.NeutralLabel {
		if ctx == nil {
			ctx = context.Background()
		}
		go a.dispatcher.Dispatch(ctx, hook.Event{
			Gesture:       dec.Label,
			Confidence:    dec.Confidence,
			Probabilities: probs,
			SessionID:     a.sessionID,
			Timestamp:     now,
		})
	}

	if a.config.OnDecision != nil {
		a.config.OnDecision(dec)
	}
}

