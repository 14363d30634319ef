package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/vellora"
	"github.com/aretw0/vellora/internal/cli"
	"github.com/aretw0/vellora/pkg/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Serves the checkout API, the messaging and payment webhooks, the API
document and the metrics endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		app, logger, err := buildApp(sigCtx, cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			app.Config.Addr = addr
		}

		shutdownTracing, err := observability.SetupTracing(sigCtx, "vellora", strings.TrimSpace(vellora.Version), app.Config.OTelEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				logger.Warn("Tracing shutdown failed", "err", err)
			}
		}()

		handler, err := app.HTTPHandler()
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              app.Config.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("Vellora server listening", "address", srv.Addr, "store", app.Config.Store)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case <-sigCtx.Done():
			logger.Info("Shutting down", "signal", sigCtx.Signal())

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("Graceful shutdown did not complete", "err", err)
				return srv.Close()
			}
			logger.Info("Vellora server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (VELLORA_ADDR)")
}
