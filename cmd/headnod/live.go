package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ayusman/headnod/internal/app"
	"github.com/ayusman/headnod/internal/dataset"
	"github.com/ayusman/headnod/internal/inference"
	"github.com/ayusman/headnod/internal/model"
	"github.com/ayusman/headnod/internal/server"
	"github.com/ayusman/headnod/internal/tray"
)

var (
	liveServe bool
	liveTray  bool
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Recognize head gestures from the camera",
	RunE:  runLive,
}

func init() {
	def := cfg
	f := liveCmd.Flags()
	f.IntVar(&cfg.CameraID, "camera", def.CameraID, "camera device index")
	f.Float64Var(&cfg.Threshold, "threshold", def.Threshold, "confidence needed to report a decision")
	f.BoolVar(&cfg.ResetOnDecision, "reset-on-decision", def.ResetOnDecision, "clear the buffer after a YES or NO")
	f.IntVar(&cfg.FPS, "fps", def.FPS, "camera polling rate")
	f.StringVar(&cfg.HookDir, "hooks", def.HookDir, "directory of gesture hooks")
	f.StringVar(&cfg.Addr, "addr", def.Addr, "status server listen address")
	f.StringVar(&cfg.StaticDir, "static", def.StaticDir, "directory of static web files")
	f.BoolVar(&liveServe, "serve", true, "serve status, decisions and preview over HTTP")
	f.BoolVar(&liveTray, "tray", true, "show the system tray menu")
	rootCmd.AddCommand(liveCmd)
}

func runLive(cmd *cobra.Command, args []string) error {
	m, err := loadModel(cfg.ModelDir)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var (
		a   *app.App
		hub *server.Hub
		tr  *tray.Tray
	)
	if liveServe {
		hub = server.NewHub(logger)
	}
	if liveTray {
		tr = tray.New(labelNames(m.Metadata().Labels), tray.Callbacks{
			OnToggle: func(enabled bool) { a.SetEnabled(enabled) },
			OnReset:  func() { a.Reset() },
			OnTrial: func(expected string) {
				if _, err := a.RecordTrial(expected); err != nil {
					logger.WithError(err).Warn("trial not recorded")
				}
			},
			OnSettings: func() {
				if err := openBrowser("http://" + cfg.Addr); err != nil {
					logger.WithError(err).Warn("cannot open browser")
				}
			},
			OnQuit: cancel,
		})
	}

	appCfg := app.Config{
		Model:           m,
		Store:           st,
		HookDir:         cfg.HookDir,
		CameraID:        cfg.CameraID,
		Threshold:       cfg.Threshold,
		ResetOnDecision: cfg.ResetOnDecision,
		FPS:             cfg.FPS,
		Hub:             hub,
		Logger:          logger,
	}
	if liveServe {
		appCfg.PreviewInterval = app.DefaultPreviewInterval
	}
	if liveTray {
		appCfg.OnDecision = func(dec model.Decision) {
			if dec.Label != inference.NeutralLabel {
				tr.SetLastGesture(dec.Label, dec.Confidence)
			}
		}
		appCfg.OnStatus = func(s server.LiveStatus) {
			tr.SetState(s.State, s.Buffered, s.SequenceLength)
		}
	}

	a, err = app.New(appCfg)
	if err != nil {
		return err
	}
	defer a.Close()

	serverErr := make(chan error, 1)
	serverDone := make(chan struct{})
	defer func() {
		cancel()
		<-serverDone
	}()
	if !liveServe {
		close(serverDone)
	} else {
		staticDir := cfg.StaticDir
		if staticDir == "" {
			staticDir = findWebDir()
		}
		srv := server.New(server.Config{
			Model:     m,
			Threshold: cfg.Threshold,
			Store:     st,
			Live:      a,
			Hub:       hub,
			Preview:   a.Preview(),
			StaticDir: staticDir,
			Logger:    logger,
		})
		go func() {
			defer close(serverDone)
			serverErr <- srv.Run(ctx, cfg.Addr)
		}()
	}

	if err := a.Start(); err != nil {
		return err
	}

	if !liveTray {
		select {
		case <-ctx.Done():
		case <-a.Done():
		case err := <-serverErr:
			if err != nil {
				return err
			}
		}
		return nil
	}

	go func() {
		select {
		case <-ctx.Done():
		case err := <-serverErr:
			if err != nil {
				logger.WithError(err).Error("http server failed")
			}
		}
		tr.Quit()
	}()
	tr.Run()
	return nil
}

func openBrowser(url string) error {
	var c *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		c = exec.Command("open", url)
	case "windows":
		c = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		c = exec.Command("xdg-open", url)
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	return nil
}

func labelNames(labels dataset.Labels) []string {
	names := make([]string, 0, len(labels))
	for _, idx := range labels.Indices() {
		names = append(names, labels.Name(idx))
	}
	return names
}
