package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ayusman/headnod/internal/model"
	"github.com/ayusman/headnod/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the prediction, run and trial API",
	RunE:  runServe,
}

func init() {
	def := cfg
	f := serveCmd.Flags()
	f.StringVar(&cfg.Addr, "addr", def.Addr, "listen address")
	f.StringVar(&cfg.StaticDir, "static", def.StaticDir, "directory of static web files")
	f.Float64Var(&cfg.Threshold, "threshold", def.Threshold, "confidence needed to report a decision")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	m, err := loadModel(cfg.ModelDir)
	switch {
	case errors.Is(err, model.ErrArtifactMissing):
		logger.WithError(err).Warn("no model, predictions are disabled")
		m = nil
	case err != nil:
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	staticDir := cfg.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	if staticDir != "" {
		logger.WithField("dir", staticDir).Info("serving static files")
	}

	srv := server.New(server.Config{
		Model:     m,
		Threshold: cfg.Threshold,
		Store:     st,
		StaticDir: staticDir,
		Logger:    logger,
	})
	return srv.Run(cmd.Context(), cfg.Addr)
}
