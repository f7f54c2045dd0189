package main

import (
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	server  string
	origin  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "signalctl",
		Short:         "Debug client for the aero WebRTC signaling relay",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", "http://127.0.0.1:8080", "signaling relay base URL (http, https, ws or wss)")
	root.PersistentFlags().StringVar(&opts.origin, "origin", "", "Origin header to send (for servers with an allowlist)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "connect/request timeout")

	root.AddCommand(newJoinCmd(opts), newICECmd(opts))
	return root
}
