package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"simulate-now/internal/config"
	httpapi "simulate-now/internal/http"
	"simulate-now/internal/logging"
)

var version = "dev"

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "simulate-now-api",
		Short:         "Accepts configuration uploads and runs them through inFACTS Studio.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	cmd.Flags().String("listen", "", "Listen address (overrides APP_LISTEN_ADDR).")
	cmd.Flags().String("log-level", "", "Log level (overrides APP_LOG_LEVEL).")
	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.FromEnv()
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	logging.Configure(cfg.LogLevel, cfg.LogFormat)

	srv, err := httpapi.NewServer(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to initialize server")
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		log.WithFields(log.Fields{
			"version":    version,
			"addr":       cfg.ListenAddr,
			"executable": cfg.SimExecutable,
			"upload_dir": cfg.UploadDir,
		}).Info("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Cancel the errgroup context on SIGINT and SIGTERM, then drain.
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case sig := <-stopSignal:
			log.WithField("signal", sig.String()).Info("shutting down")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Error("api server exited")
		os.Exit(1)
	}
}
