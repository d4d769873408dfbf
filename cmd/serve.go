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

	"github.com/sells-group/petscan/internal/api"
	"github.com/sells-group/petscan/internal/monitoring"
)

var servePort int

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scan HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScanEnv(ctx)
		if err != nil {
			return err
		}

		if _, err := env.Service.RecoverInterrupted(ctx); err != nil {
			zap.L().Warn("recover interrupted scans", zap.Error(err))
		}

		if cfg.Monitoring.WebhookURL != "" {
			collector := monitoring.NewCollector(env.Store, time.Duration(cfg.Monitoring.StuckAfterMins)*time.Minute)
			go monitoring.NewWatcher(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring).Run(ctx)
		}

		srv := newServer(resolvePort(), env)

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("starting server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- eris.Wrap(err, "server listen")
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			env.Close(context.Background())
			return err
		case <-ctx.Done():
		}

		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
		env.Close(shutdownCtx)
		return <-errCh
	},
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort() int {
	if servePort != 0 {
		return servePort
	}
	return cfg.Server.Port
}

func newServer(port int, env *scanEnv) *http.Server {
	return &http.Server{
		Addr: fmt.Sprintf(":%d", port),
		Handler: api.NewRouter(env.Service, env.Store, api.Options{
			CORSOrigins: cfg.Server.CORSOrigins,
			EventBuffer: cfg.Events.Buffer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
