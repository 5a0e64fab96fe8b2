package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/germanamz/hookrelay/pkg/events"
	"github.com/germanamz/hookrelay/pkg/relay"
)

var tapURL string

var tapCmd = &cobra.Command{
	Use:   "tap",
	Short: "Watch a channel's events live in the terminal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		channel := firstNonEmpty(tapURL, cfg.Channel)
		if channel == "" {
			return errors.New("channel URL required (--url flag or channel in config)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The TUI owns the terminal; route log output away from it.
		log.SetOutput(io.Discard)

		sess := relay.New(channel, relay.WithLogger(log))
		p := tea.NewProgram(newTapModel(channel), tea.WithAltScreen(), tea.WithContext(ctx))

		sess.Subscribe(events.Open, func(events.Event) {
			p.Send(tapStatusMsg{connected: true})
		}).Subscribe(events.Close, func(events.Event) {
			p.Send(tapStatusMsg{connected: false})
		}).Subscribe(events.Error, func(ev events.Event) {
			p.Send(tapLineMsg{line: styleError.Render(fmt.Sprintf("%s  error  %v", timestamp(), ev.Err))})
			p.Send(tapStatusMsg{connected: false})
		}).Subscribe(events.Ping, func(events.Event) {
			p.Send(tapLineMsg{line: stylePing.Render(fmt.Sprintf("%s  ping", timestamp()))})
		}).Subscribe(events.Message, func(ev events.Event) {
			p.Send(tapLineMsg{line: formatMessage(ev)})
		})

		if err := sess.Start(ctx); err != nil {
			return err
		}
		defer sess.Stop()

		_, err := p.Run()
		if err != nil && ctx.Err() != nil {
			return nil // Interrupted, not failed.
		}
		return err
	},
}

func init() {
	tapCmd.Flags().StringVar(&tapURL, "url", "", "channel URL to connect")
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}

func formatMessage(ev events.Event) string {
	name := ev.Message.Headers["x-github-event"]
	if name == "" {
		name = "webhook"
	}

	line := fmt.Sprintf("%s  %s  %d bytes", timestamp(), styleEvent.Render(name), len(ev.Message.RawBody))
	if body := ev.Message.RawBody; body != "" {
		const maxPreview = 160
		if len(body) > maxPreview {
			body = body[:maxPreview] + "…"
		}
		line += "\n" + styleBody.Render("  "+body)
	}
	return line
}
