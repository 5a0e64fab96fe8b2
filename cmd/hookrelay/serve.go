package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/germanamz/hookrelay/pkg/relaytest"
)

var (
	serveAddr string
	servePing time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local relay server for development",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           relaytest.NewServer(relaytest.WithPingInterval(servePing)),
			ReadHeaderTimeout: 10 * time.Second,
			// No write timeout: event streams stay open indefinitely.
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		log.WithField("addr", serveAddr).Info("relay listening")

		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:9123", "listen address")
	serveCmd.Flags().DurationVar(&servePing, "ping", 30*time.Second, "liveness ping interval")
}
