package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"reconflow/api/routes"
	"reconflow/cmd/reconflow/app"
)

const shutdownTimeout = 30 * time.Second

type ServerOpts struct {
	Port int
	Ip   string
}

func NewServerCommand(opts *app.Options) *cobra.Command {
	serverConfig := &ServerOpts{}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the Reconflow server",
		Long:  `Start the Reconflow server to run scans in the background and serve results over HTTP`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context(), cmd, opts, serverConfig)
		},
	}

	serverCmd.Flags().IntVarP(&serverConfig.Port, "port", "p", 0, "Port to run the server on (overrides server.port)")
	serverCmd.Flags().StringVarP(&serverConfig.Ip, "ip", "i", "", "IP address to bind the server to (overrides server.host)")

	return serverCmd
}

func run(ctx context.Context, cmd *cobra.Command, opts *app.Options, serverConfig *ServerOpts) error {
	a, err := app.New(ctx, opts)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("port") {
		a.Config.Server.Port = serverConfig.Port
	}
	if cmd.Flags().Changed("ip") {
		a.Config.Server.Host = serverConfig.Ip
	}

	if err := a.Scans.RecoverInterrupted(ctx); err != nil {
		_ = a.Close(context.Background())
		return fmt.Errorf("failed to recover interrupted scans: %w", err)
	}
	a.WatchConfig()

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: a.Config.Server.Addr(),
		Handler: routes.InitRouter(routes.Deps{
			ScanService:   a.Scans,
			ConfigService: a.Configs,
			Metrics:       a.Metrics,
			Logger:        a.Logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		a.Logger.WithField("addr", srv.Addr).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	var serveErr error
	select {
	case serveErr = <-errChan:
	case <-ctx.Done():
		a.Logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	if err := a.Close(shutdownCtx); err != nil {
		a.Logger.WithError(err).Warn("Background tasks did not stop cleanly")
	}
	return serveErr
}
