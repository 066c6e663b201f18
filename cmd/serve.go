package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/mp3rec/internal/server"
	"github.com/audiolibrelab/mp3rec/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the mp3rec web server to control recording over HTTP.
This allows you to start and stop takes from a phone or any device on the same network.

Prometheus metrics are exposed on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.Server.Port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := slog.Default()
		svc := service.New(cfg, logger)
		srv := server.New(svc, port, logger)

		logger.Info("mp3rec web server starting", "port", port, "config", cfgFile, "profile", cfg.Profile)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Run(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Shutting down, finishing any take in progress")
			return svc.Close()
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "port for the web server (default from config)")
}
