// Package server provides the HTTP API of headnod: health and status,
// sequence prediction, the training run registry, accuracy trials, a
// WebSocket stream of live decisions and an MJPEG camera preview.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/headnod/internal/inference"
	"github.com/ayusman/headnod/internal/model"
	"github.com/ayusman/headnod/internal/server/api"
	"github.com/ayusman/headnod/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LiveStatus describes the live pipeline for /api/status.
type LiveStatus struct {
	Running        bool            `json:"running"`
	Enabled        bool            `json:"enabled"`
	SessionID      string          `json:"session_id,omitempty"`
	State          string          `json:"state"`
	Buffered       int             `json:"buffered"`
	SequenceLength int             `json:"sequence_length"`
	LastDecision   *model.Decision `json:"last_decision,omitempty"`
	Stats          inference.Stats `json:"stats"`
}

// StatusProvider reports the live pipeline state.
type StatusProvider interface {
	LiveStatus() LiveStatus
}

// Config holds the server configuration.
type Config struct {
	// Model serves /api/predict. Without it predictions answer 503.
	Model     *model.Model
	Threshold float64
	// Store enables /api/runs and /api/trials.
	Store *store.Store
	// Live enables the live section of /api/status.
	Live StatusProvider
	// Hub enables /api/decisions.
	Hub *Hub
	// Preview enables /api/stream.
	Preview   FrameSource
	StaticDir string
	Logger    logrus.FieldLogger
}

// Server is the headnod HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	log    logrus.FieldLogger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    log,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.Handle("/api/predict", api.NewPredictHandler(s.config.Model, s.config.Threshold, s.log))

	if s.config.Store != nil {
		runs := api.NewRunsHandler(s.config.Store)
		s.mux.Handle("/api/runs", runs)
		s.mux.Handle("/api/runs/", runs)

		trials := api.NewTrialsHandler(s.config.Store)
		s.mux.Handle("/api/trials", trials)
		s.mux.Handle("/api/trials/", trials)
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/decisions", s.config.Hub)
	}

	if s.config.Preview != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Preview))
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

type modelStatus struct {
	RunID          string  `json:"run_id"`
	Layout         string  `json:"layout"`
	SequenceLength int     `json:"sequence_length"`
	DescriptorDim  int     `json:"descriptor_dim"`
	ValAccuracy    float64 `json:"val_accuracy"`
	TrainedAt      string  `json:"training_date"`
}

type statusResponse struct {
	ModelLoaded bool         `json:"model_loaded"`
	Model       *modelStatus `json:"model,omitempty"`
	Threshold   float64      `json:"threshold"`
	Live        *LiveStatus  `json:"live,omitempty"`
}

// handleStatus handles GET requests to /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{Threshold: s.config.Threshold}
	if m := s.config.Model; m != nil {
		meta := m.Metadata()
		resp.ModelLoaded = true
		resp.Model = &modelStatus{
			RunID:          meta.RunID,
			Layout:         meta.Layout,
			SequenceLength: meta.SequenceLength,
			DescriptorDim:  meta.DescriptorDim,
			ValAccuracy:    meta.ValAccuracy,
			TrainedAt:      meta.TrainedAt.Format(time.RFC3339),
		}
	}
	if s.config.Live != nil {
		live := s.config.Live.LiveStatus()
		resp.Live = &live
	}
	writeJSON(w, resp)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.config.Hub != nil {
		s.config.Hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
