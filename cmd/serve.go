package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verifin/recon-cli/internal/api"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for uploads and discrepancy checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		env, err := initEnv(ctx, "serve", true)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitor.WebhookURL != "" {
			go newChecker(env).Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newAPIHandler(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newAPIHandler(env *appEnv) http.Handler {
	hc := api.Config{
		Store:       env.Store,
		Reconciler:  env.Reconcile,
		Breakers:    env.Breakers.States,
		UploadDir:   cfg.Server.UploadDir,
		MaxUploadMB: cfg.Server.MaxUploadMB,
	}
	// Keep the interfaces nil when no model is configured.
	if env.Ingestor != nil {
		hc.Ingestor = env.Ingestor
	}
	if env.Auditor != nil {
		hc.Auditor = env.Auditor
	}
	return api.NewRouter(api.NewHandlers(hc), api.RouterOptions{CORSOrigins: cfg.Server.CORSOrigins})
}
