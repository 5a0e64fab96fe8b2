package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/germanamz/hookrelay/pkg/relay"
)

var newRelayBase string

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Provision a fresh relay channel and print its URL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		base := firstNonEmpty(newRelayBase, cfg.Relay, relay.DefaultRelay)

		channel, err := relay.CreateChannel(cmd.Context(), nil, base)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), channel)
		return nil
	},
}

func init() {
	newCmd.Flags().StringVar(&newRelayBase, "relay", "", "relay server base URL (default "+relay.DefaultRelay+")")
}
