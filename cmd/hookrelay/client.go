package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/germanamz/hookrelay/pkg/events"
	"github.com/germanamz/hookrelay/pkg/forwarder"
	"github.com/germanamz/hookrelay/pkg/relay"
)

var (
	clientURL     string
	clientTarget  string
	clientWorkers int
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect a channel and forward incoming webhooks to a local target",
	RunE: func(cmd *cobra.Command, _ []string) error {
		channel := firstNonEmpty(clientURL, cfg.Channel)
		if channel == "" {
			return errors.New("channel URL required (--url flag or channel in config)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess := relay.New(channel, relay.WithLogger(log))
		sess.Subscribe(events.Open, func(events.Event) {
			log.WithField("channel", sess.Channel()).Info("connected")
		}).Subscribe(events.Close, func(events.Event) {
			log.Info("disconnected")
		}).Subscribe(events.Ping, func(events.Event) {
			log.Debug("ping")
		}).Subscribe(events.Error, func(ev events.Event) {
			log.WithError(ev.Err).Warn("stream error")
		}).Subscribe(events.Message, func(ev events.Event) {
			log.WithFields(logrus.Fields{
				"event": ev.Message.Headers["x-github-event"],
				"bytes": len(ev.Message.RawBody),
			}).Info("webhook received")
		})

		if err := sess.Start(ctx); err != nil {
			return err
		}
		defer sess.Stop()

		target := firstNonEmpty(clientTarget, cfg.Target)
		if target == "" {
			log.Warn("no forward target configured; logging events only")
			<-ctx.Done()
			return nil
		}

		workers := clientWorkers
		if workers == 0 {
			workers = cfg.Workers
		}

		fwd := forwarder.New(target, forwarder.WithWorkers(workers), forwarder.WithLogger(log))
		return fwd.Run(ctx, sess)
	},
}

func init() {
	clientCmd.Flags().StringVar(&clientURL, "url", "", "channel URL to connect")
	clientCmd.Flags().StringVar(&clientTarget, "target", "", "local URL to forward webhooks to")
	clientCmd.Flags().IntVar(&clientWorkers, "workers", 0, "concurrent deliveries (default 1)")
}
